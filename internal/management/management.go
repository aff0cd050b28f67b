// Package management provides a lightweight, loopback-bound HTTP API for
// runtime introspection of the running proxy. It is embedder tooling, not
// part of the core's required API surface, and is off by default.
//
// Endpoints:
//
//	GET /status   - listen address, intercept-https flag, flow count, CA trust status
//	GET /metrics  - request/flow counters and latency stats
package management

import (
	"crypto/subtle"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/laplaque/mitmcore/internal/ca"
	"github.com/laplaque/mitmcore/internal/config"
	"github.com/laplaque/mitmcore/internal/metrics"
)

// StatusSource supplies the values the /status endpoint reports. Narrowed
// to what management needs so it doesn't depend on *flowstore.Store
// directly in its test surface.
type StatusSource interface {
	Len() int
}

// Server is the management API server.
type Server struct {
	cfg       *config.Options
	startTime time.Time
	store     StatusSource
	caInst    *ca.CA
	token     string           // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics // nil = no metrics
}

// New creates a management server over the given flow store, CA, and
// metrics. m may be nil, in which case /metrics reports unavailable.
func New(cfg *config.Options, store StatusSource, caInst *ca.CA, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		store:     store,
		caInst:    caInst,
		token:     cfg.ManagementToken,
		metrics:   m,
	}
	if s.token != "" {
		log.Printf("[MANAGEMENT] Bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			log.Printf("[MANAGEMENT] Unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status         string `json:"status"`
		Uptime         string `json:"uptime"`
		ListenAddress  string `json:"listenAddress"`
		ListenPort     int    `json:"listenPort"`
		InterceptHTTPS bool   `json:"interceptHttps"`
		FlowCount      int    `json:"flowCount"`
		CATrusted      bool   `json:"caTrusted"`
		CAError        string `json:"caError,omitempty"`
	}

	resp := response{
		Status:         "running",
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		ListenAddress:  s.cfg.ListenAddress,
		ListenPort:     s.cfg.ListenPort,
		InterceptHTTPS: s.cfg.InterceptHTTPS,
	}
	if s.store != nil {
		resp.FlowCount = s.store.Len()
	}
	if s.caInst != nil {
		trusted, err := s.caInst.IsRootTrusted()
		resp.CATrusted = trusted
		if err != nil {
			resp.CAError = err.Error()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[MANAGEMENT] JSON encode error: %v", err)
	}
}

// ListenAndServe starts the management HTTP server, bound to loopback only
// regardless of the proxy's own listen address.
func (s *Server) ListenAndServe() error {
	addr := "127.0.0.1:" + strconv.Itoa(s.cfg.ManagementPort)
	log.Printf("[MANAGEMENT] Listening on %s", addr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
