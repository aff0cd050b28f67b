// Package connhandler drives a single accepted client connection through
// the proxy's state machine (spec §4.5): read the first request line,
// dispatch to a blind CONNECT tunnel or a plain-HTTP/intercepted-HTTPS flow
// loop, and emit flows as request/response pairs complete. Grounded on the
// teacher's internal/proxy/proxy.go (tunnel bridging, hop-by-hop header
// stripping) and internal/mitm/mitm.go (TLS server termination on a
// hijacked connection), generalized from net/http handlers to the raw
// codec this module owns.
package connhandler

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/laplaque/mitmcore/internal/ca"
	"github.com/laplaque/mitmcore/internal/corelog"
	"github.com/laplaque/mitmcore/internal/coreerr"
	"github.com/laplaque/mitmcore/internal/flow"
	"github.com/laplaque/mitmcore/internal/flowstore"
	"github.com/laplaque/mitmcore/internal/httpcodec"
	"github.com/laplaque/mitmcore/internal/intercept"
	"github.com/laplaque/mitmcore/internal/metrics"
)

// Options configures one connection handler invocation (spec §4.6 table,
// the subset relevant per-connection).
type Options struct {
	InterceptHTTPS   bool
	FirstLineTimeout time.Duration
	IdleTimeout      time.Duration
	Limits           httpcodec.Limits

	CA       *ca.CA
	Pipeline *intercept.Pipeline
	Store    *flowstore.Store
	Logger   corelog.Port
	Metrics  *metrics.Metrics

	// Dial opens the upstream TCP connection for a host:port target.
	// Overridable in tests to point at an in-process listener; nil uses a
	// plain net.Dialer.
	Dial func(addr string) (net.Conn, error)
}

// Handle drives conn to completion: the connection is fully consumed and
// closed by the time Handle returns. Handle never panics or returns an
// error to the caller — all failures are recorded as Failed flows or
// logged, per spec §4.5 "Errors never propagate to the proxy server".
func Handle(conn net.Conn, clientAddr string, opts Options) {
	defer conn.Close() //nolint:errcheck // best-effort; client may already have gone away

	r := bufio.NewReader(conn)
	if opts.FirstLineTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(opts.FirstLineTimeout)) //nolint:errcheck
	}

	req, err := httpcodec.ParseRequest(r, opts.Limits)
	if err != nil {
		opts.logWarn("connhandler: first request parse failed for %s: %v", clientAddr, err)
		return
	}
	conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	if req.Method == "CONNECT" {
		handleConnect(conn, r, clientAddr, req, opts)
		return
	}
	handlePlainHTTP(conn, r, clientAddr, req, opts)
}

func (o *Options) logWarn(format string, args ...any) {
	if o.Logger != nil {
		o.Logger.LogWarn(format, args...)
	}
}

// --- S1 Tunnel-Setup / S3 Intercepted-HTTPS ---

func handleConnect(clientConn net.Conn, clientR *bufio.Reader, clientAddr string, req *httpcodec.Request, opts Options) {
	host, port, err := splitHostPort(req.RequestTarget)
	if err != nil {
		writeStatusLine(clientConn, 400, "Bad Request")
		return
	}

	if !opts.InterceptHTTPS {
		if _, err := fmt.Fprintf(clientConn, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
			return
		}
		originConn, err := dialUpstream(opts, host, port)
		if err != nil {
			opts.logWarn("connhandler: dial origin %s:%s failed: %v", host, port, err)
			opts.recordDialFailure(clientAddr, req)
			return
		}
		defer originConn.Close() //nolint:errcheck
		bridge(clientConn, clientR, originConn)
		return
	}

	leaf, err := opts.CA.GetCertForHost(host)
	if err != nil {
		opts.logWarn("connhandler: mint leaf for %s failed: %v", host, err)
		writeStatusLine(clientConn, 502, "Bad Gateway")
		return
	}

	if _, err := fmt.Fprintf(clientConn, "HTTP/1.1 200 Connection established\r\n\r\n"); err != nil {
		return
	}

	tlsServerConn := tls.Server(clientConn, &tls.Config{
		Certificates: []tls.Certificate{*leaf},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"http/1.1"}, // HTTP/2 is a non-goal (spec §1)
	})
	if err := tlsServerConn.Handshake(); err != nil {
		opts.logWarn("connhandler: client TLS handshake for %s failed: %v", host, err)
		return
	}
	defer tlsServerConn.Close() //nolint:errcheck

	originConn, err := dialUpstream(opts, host, port)
	if err != nil {
		opts.logWarn("connhandler: dial origin %s:%s failed: %v", host, port, err)
		writeStatusLine(tlsServerConn, 502, "Bad Gateway")
		opts.recordDialFailure(clientAddr, req)
		return
	}
	defer originConn.Close() //nolint:errcheck

	tlsOriginConn := tls.Client(originConn, &tls.Config{
		ServerName: host,
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
	})
	if err := tlsOriginConn.Handshake(); err != nil {
		opts.logWarn("connhandler: origin TLS handshake for %s failed: %v", host, err)
		writeStatusLine(tlsServerConn, 502, "Bad Gateway")
		return
	}
	defer tlsOriginConn.Close() //nolint:errcheck

	runFlowLoop(tlsServerConn, bufio.NewReader(tlsServerConn), tlsOriginConn, clientAddr, host, "https", opts)
}

// --- S2 Plain-HTTP ---

func handlePlainHTTP(clientConn net.Conn, clientR *bufio.Reader, clientAddr string, first *httpcodec.Request, opts Options) {
	host, port := requestAuthority(first)
	if host == "" {
		opts.logWarn("connhandler: no usable host for %s %s", first.Method, first.RequestTarget)
		writeStatusLine(clientConn, 400, "Bad Request")
		return
	}

	originConn, err := dialUpstream(opts, host, port)
	if err != nil {
		opts.logWarn("connhandler: dial origin %s:%s failed: %v", host, port, err)
		writeStatusLine(clientConn, 502, "Bad Gateway")
		opts.recordDialFailure(clientAddr, first)
		return
	}
	defer originConn.Close() //nolint:errcheck

	originR := bufio.NewReader(originConn)
	runFlowLoopFirst(clientConn, clientR, originConn, originR, clientAddr, host, "http", first, opts)
}

// --- Flow loop (spec §4.5 "Flow loop") ---

// runFlowLoop parses requests as they arrive; used for the post-handshake
// TLS path, where the first inner request hasn't been read yet.
func runFlowLoop(clientConn net.Conn, clientR *bufio.Reader, originConn net.Conn, clientAddr, host, scheme string, opts Options) {
	originR := bufio.NewReader(originConn)
	for {
		if opts.IdleTimeout > 0 {
			clientConn.SetReadDeadline(time.Now().Add(opts.IdleTimeout)) //nolint:errcheck
		}
		req, err := httpcodec.ParseRequest(clientR, opts.Limits)
		if err != nil {
			return
		}
		clientConn.SetReadDeadline(time.Time{}) //nolint:errcheck

		if !runOneExchange(clientConn, originConn, originR, clientAddr, host, scheme, req, opts) {
			return
		}
	}
}

// runFlowLoopFirst is runFlowLoop but the first request has already been
// parsed (the plain-HTTP path reads it to decide there's no CONNECT).
func runFlowLoopFirst(clientConn net.Conn, clientR *bufio.Reader, originConn net.Conn, originR *bufio.Reader, clientAddr, host, scheme string, first *httpcodec.Request, opts Options) {
	req := first
	for {
		if !runOneExchange(clientConn, originConn, originR, clientAddr, host, scheme, req, opts) {
			return
		}
		if opts.IdleTimeout > 0 {
			clientConn.SetReadDeadline(time.Now().Add(opts.IdleTimeout)) //nolint:errcheck
		}
		var err error
		req, err = httpcodec.ParseRequest(clientR, opts.Limits)
		if err != nil {
			return
		}
		clientConn.SetReadDeadline(time.Time{}) //nolint:errcheck
	}
}

// runOneExchange performs steps 2-9 of the spec's Flow loop for one
// request/response pair, returning whether the connection should continue
// (keep-alive) or be torn down.
func runOneExchange(clientConn, originConn net.Conn, originR *bufio.Reader, clientAddr, host, scheme string, req *httpcodec.Request, opts Options) bool {
	f := flow.NewPending(clientAddr, req)
	ctx := &flow.Context{FlowID: f.ID, ClientAddr: clientAddr, Host: host}

	normalizeRequestURL(req, host, scheme)

	if opts.Pipeline != nil {
		opts.Pipeline.ApplyRequest(ctx, req)
	}

	originStart := time.Now()

	if _, err := req.WriteTo(originConn); err != nil {
		f.Fail(string(coreerr.TcpWrite))
		opts.appendFlow(f)
		return false
	}

	resp, err := httpcodec.ParseResponse(originR, opts.Limits, req.Method == "HEAD")
	if err != nil {
		f.Fail(string(classifyReadErr(err)))
		opts.appendFlow(f)
		return false
	}

	if opts.Metrics != nil {
		opts.Metrics.RecordOriginLatency(time.Since(originStart))
	}

	if opts.Pipeline != nil {
		opts.Pipeline.ApplyResponse(ctx, resp)
	}

	if _, err := resp.WriteTo(clientConn); err != nil {
		f.Fail(string(coreerr.TcpWrite))
		opts.appendFlow(f)
		return false
	}

	f.Complete(resp)
	opts.appendFlow(f)

	return keepAlive(req, resp)
}

// recordDialFailure emits a Failed flow for req (spec S6 "Origin unreachable
// ... flow status Failed with kind TcpConnectFailed"), covering the blind
// tunnel, intercepted-CONNECT, and plain-HTTP dial-failure branches alike.
func (o Options) recordDialFailure(clientAddr string, req *httpcodec.Request) {
	f := flow.NewPending(clientAddr, req)
	f.Fail(string(coreerr.TcpConnectFailed))
	o.appendFlow(f)
}

func (o Options) appendFlow(f *flow.Flow) {
	if o.Store != nil {
		o.Store.Append(f)
	}
	if o.Logger != nil {
		o.Logger.LogFlow(f)
	}
	if o.Metrics != nil {
		o.Metrics.FlowsTotal.Add(1)
		o.Metrics.RecordFlowLatency(f.Duration)
		if f.Status == flow.Failed {
			if isCodecFailure(coreerr.Kind(f.FailureKind)) {
				o.Metrics.ErrorsCodec.Add(1)
			} else {
				o.Metrics.ErrorsOrigin.Add(1)
			}
		}
	}
}

// isCodecFailure reports whether kind originates from the HTTP/1.1 codec
// (a malformed message) rather than the transport to the origin.
func isCodecFailure(kind coreerr.Kind) bool {
	switch kind {
	case coreerr.HttpBadRequestLine, coreerr.HttpBadHeader, coreerr.HttpInvalidChunk,
		coreerr.HttpBodyTooLarge, coreerr.HttpUnexpectedEof:
		return true
	default:
		return false
	}
}

// classifyReadErr maps a response-parse failure to the Kind recorded on the
// Failed flow: the codec's own Kind when it's a protocol error, otherwise a
// generic transport read failure.
func classifyReadErr(err error) coreerr.Kind {
	for _, k := range []coreerr.Kind{
		coreerr.HttpBadRequestLine, coreerr.HttpBadHeader,
		coreerr.HttpInvalidChunk, coreerr.HttpBodyTooLarge, coreerr.HttpUnexpectedEof,
	} {
		if coreerr.Is(err, k) {
			return k
		}
	}
	return coreerr.TcpRead
}

// normalizeRequestURL ensures req.URL is absolute and the Host header
// matches the target, per spec §4.5 step 2.
func normalizeRequestURL(req *httpcodec.Request, host, scheme string) {
	if req.URL == nil {
		return
	}
	if req.URL.Scheme == "" {
		req.URL.Scheme = scheme
	}
	if req.URL.Host == "" {
		req.URL.Host = host
	}
	if !req.Headers.Has("Host") {
		req.Headers.Set("Host", host)
	}
}

func keepAlive(req *httpcodec.Request, resp *httpcodec.Response) bool {
	if v, ok := req.Headers.Get("Connection"); ok && strings.EqualFold(strings.TrimSpace(v), "close") {
		return false
	}
	if v, ok := resp.Headers.Get("Connection"); ok && strings.EqualFold(strings.TrimSpace(v), "close") {
		return false
	}
	if req.Proto == "HTTP/1.0" {
		v, ok := req.Headers.Get("Connection")
		return ok && strings.EqualFold(strings.TrimSpace(v), "keep-alive")
	}
	return true
}

// --- tunnel bridging (interception disabled) ---

// bridge copies bytes bidirectionally until either side closes, grounded on
// the teacher's handleTunnel bidirectional io.Copy pattern.
func bridge(clientConn net.Conn, clientR *bufio.Reader, originConn net.Conn) {
	done := make(chan struct{}, 2)
	go func() { io.Copy(originConn, clientR); done <- struct{}{} }() //nolint:errcheck
	go func() { io.Copy(clientConn, originConn); done <- struct{}{} }() //nolint:errcheck
	<-done
}

// --- helpers ---

func dialUpstream(opts Options, host, port string) (net.Conn, error) {
	addr := net.JoinHostPort(host, port)
	if opts.Dial != nil {
		return opts.Dial(addr)
	}
	d := &net.Dialer{Timeout: 20 * time.Second}
	return d.Dial("tcp", addr)
}

func splitHostPort(authority string) (host, port string, err error) {
	host, port, err = net.SplitHostPort(authority)
	if err != nil {
		return "", "", coreerr.New(coreerr.HttpBadRequestLine, "connhandler.split_authority", err)
	}
	if host == "" || port == "" {
		return "", "", coreerr.New(coreerr.HttpBadRequestLine, "connhandler.split_authority", nil)
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", "", coreerr.New(coreerr.HttpBadRequestLine, "connhandler.split_authority", err)
	}
	return host, port, nil
}

// requestAuthority derives (host, port) for a plain-HTTP request from its
// absolute-form URL, falling back to the Host header for origin-form
// requests (spec §4.5 S2).
func requestAuthority(req *httpcodec.Request) (host, port string) {
	if req.URL != nil && req.URL.Host != "" {
		return hostPortOf(req.URL)
	}
	h, _ := req.Headers.Get("Host")
	if h == "" {
		return "", ""
	}
	if host, port, err := net.SplitHostPort(h); err == nil {
		return host, port
	}
	return h, "80"
}

func hostPortOf(u *url.URL) (host, port string) {
	host = u.Hostname()
	port = u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return host, port
}

func writeStatusLine(w io.Writer, code int, reason string) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\nConnection: close\r\n\r\n", code, reason) //nolint:errcheck
}
