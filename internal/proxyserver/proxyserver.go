// Package proxyserver owns the proxy's listening socket and accept loop
// (spec §4.6 / C6): Start binds and begins accepting, Stop shuts down
// gracefully, and FlowEvents exposes the flow store's broadcast stream.
// Grounded on the teacher's cmd/proxy/main.go graceful-shutdown pattern
// (signal-driven context cancellation, bounded shutdown grace period),
// generalized from an http.Server to a raw net.Listener owning
// connhandler.Handle per accepted connection.
package proxyserver

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/laplaque/mitmcore/internal/ca"
	"github.com/laplaque/mitmcore/internal/connhandler"
	"github.com/laplaque/mitmcore/internal/corelog"
	"github.com/laplaque/mitmcore/internal/flowstore"
	"github.com/laplaque/mitmcore/internal/httpcodec"
	"github.com/laplaque/mitmcore/internal/intercept"
	"github.com/laplaque/mitmcore/internal/metrics"
)

// ErrAlreadyRunning is returned by Start when the server is already
// listening (spec §4.6 "Idempotent-by-rejection").
var ErrAlreadyRunning = errors.New("proxyserver: already running")

// Options configures a Server (spec §4.6 configuration table).
type Options struct {
	ListenAddress            string
	ListenPort               int
	InterceptHTTPS           bool
	EnableLogging            bool
	MaxConcurrentConnections int
	IdleTimeout              time.Duration
	FirstLineTimeout         time.Duration
	MaxBodyBytes             int64
}

// Server is the proxy's accept loop and lifecycle owner.
type Server struct {
	ca       *ca.CA
	pipeline *intercept.Pipeline
	store    *flowstore.Store
	logger   corelog.Port
	metrics  *metrics.Metrics

	mu       sync.Mutex
	running  bool
	listener net.Listener
	wg       sync.WaitGroup
	stopCh   chan struct{}
}

// New creates a Server over the given CA, interceptor pipeline, flow store,
// logger port, and metrics sink. All five are shared with the connections
// it spawns. m may be nil, in which case no counters are recorded.
func New(caInstance *ca.CA, pipeline *intercept.Pipeline, store *flowstore.Store, logger corelog.Port, m *metrics.Metrics) *Server {
	return &Server{ca: caInstance, pipeline: pipeline, store: store, logger: logger, metrics: m}
}

// Start binds the listener and begins accepting connections, each handed
// off to connhandler.Handle on its own goroutine. Returns once the
// listener is bound; the accept loop runs in the background.
func (s *Server) Start(opts Options) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	addr := fmt.Sprintf("%s:%d", opts.ListenAddress, opts.ListenPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("proxyserver: listen %s: %w", addr, err)
	}

	s.listener = ln
	s.stopCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	if s.pipeline != nil {
		s.pipeline.Start()
	}

	sem := newSemaphore(opts.MaxConcurrentConnections)

	s.wg.Add(1)
	go s.acceptLoop(ln, opts, sem)

	if s.logger != nil {
		s.logger.LogInfo("proxyserver: listening on %s", addr)
	}
	return nil
}

func (s *Server) acceptLoop(ln net.Listener, opts Options, sem *semaphore) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return // expected: Stop() closed the listener
			default:
				if s.logger != nil {
					s.logger.LogWarn("proxyserver: accept error: %v", err)
				}
				return
			}
		}

		sem.acquire()
		if s.metrics != nil {
			s.metrics.ConnectionOpened()
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer sem.release()
			defer func() {
				if s.metrics != nil {
					s.metrics.ConnectionClosed()
				}
			}()
			connhandler.Handle(conn, conn.RemoteAddr().String(), connhandler.Options{
				InterceptHTTPS:   opts.InterceptHTTPS,
				FirstLineTimeout: opts.FirstLineTimeout,
				IdleTimeout:      opts.IdleTimeout,
				Limits:           httpcodec.Limits{MaxBodyBytes: opts.MaxBodyBytes},
				CA:               s.ca,
				Pipeline:         s.pipeline,
				Store:            s.store,
				Logger:           loggerOrNil(s.logger, opts.EnableLogging),
				Metrics:          s.metrics,
			})
		}()
	}
}

func loggerOrNil(l corelog.Port, enabled bool) corelog.Port {
	if !enabled {
		return nil
	}
	return l
}

// Stop closes the listener and waits (bounded by grace) for in-flight
// connections to finish; remaining ones are abandoned cooperatively (their
// sockets are not forcibly closed, but Stop returns regardless). Idempotent.
func (s *Server) Stop(grace time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	close(s.stopCh)
	ln := s.listener
	s.running = false
	s.mu.Unlock()

	if err := ln.Close(); err != nil {
		return fmt.Errorf("proxyserver: close listener: %w", err)
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		if s.logger != nil {
			s.logger.LogWarn("proxyserver: stop grace period elapsed, remaining connections abandoned")
		}
	}
	return nil
}

// FlowEvents returns a subscription to the flow store's broadcast stream
// (spec §4.3 / §4.6 "flow_events()").
func (s *Server) FlowEvents() *flowstore.Subscription {
	return s.store.Subscribe()
}

// semaphore bounds concurrent connection handlers (spec §4.6
// "max_concurrent_connections"). A zero or negative limit means unbounded.
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(limit int) *semaphore {
	if limit <= 0 {
		return &semaphore{}
	}
	return &semaphore{ch: make(chan struct{}, limit)}
}

func (s *semaphore) acquire() {
	if s.ch != nil {
		s.ch <- struct{}{}
	}
}

func (s *semaphore) release() {
	if s.ch != nil {
		<-s.ch
	}
}
