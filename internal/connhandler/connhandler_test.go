package connhandler

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/laplaque/mitmcore/internal/flow"
	"github.com/laplaque/mitmcore/internal/flowstore"
	"github.com/laplaque/mitmcore/internal/httpcodec"
	"github.com/laplaque/mitmcore/internal/metrics"
)

func testOptions(store *flowstore.Store, dial func(addr string) (net.Conn, error)) Options {
	return Options{
		InterceptHTTPS:   false,
		FirstLineTimeout: 5 * time.Second,
		IdleTimeout:      5 * time.Second,
		Limits:           httpcodec.DefaultLimits(),
		Store:            store,
		Dial:             dial,
	}
}

func TestHandle_PlainHTTPSingleExchange(t *testing.T) {
	clientSide, proxySide := net.Pipe()
	originProxySide, originTestSide := net.Pipe()

	store := flowstore.New(10, 4)
	opts := testOptions(store, func(string) (net.Conn, error) { return originProxySide, nil })

	done := make(chan struct{})
	go func() {
		Handle(proxySide, "198.51.100.1:9000", opts)
		close(done)
	}()

	go func() {
		_, err := clientSide.Write([]byte("GET http://origin.test/a HTTP/1.1\r\nHost: origin.test\r\n\r\n"))
		if err != nil {
			t.Errorf("client write: %v", err)
		}
	}()

	go func() {
		r := bufio.NewReader(originTestSide)
		req, err := httpcodec.ParseRequest(r, httpcodec.DefaultLimits())
		if err != nil {
			t.Errorf("origin parse request: %v", err)
			return
		}
		if req.Method != "GET" {
			t.Errorf("method: got %s, want GET", req.Method)
		}
		resp := &httpcodec.Response{
			Proto:      "HTTP/1.1",
			StatusCode: 200,
			Reason:     "OK",
			Headers:    httpcodec.Headers{{Name: "Content-Length", Value: "3"}},
			Body:       []byte("hi!"),
		}
		if _, err := resp.WriteTo(originTestSide); err != nil {
			t.Errorf("origin write response: %v", err)
		}
	}()

	r := bufio.NewReader(clientSide)
	resp, err := httpcodec.ParseResponse(r, httpcodec.DefaultLimits(), false)
	if err != nil {
		t.Fatalf("client parse response: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != "hi!" {
		t.Errorf("body: got %q, want %q", resp.Body, "hi!")
	}

	clientSide.Close()
	originTestSide.Close()
	<-done

	if store.Len() != 1 {
		t.Fatalf("store.Len(): got %d, want 1", store.Len())
	}
}

func TestHandle_ConnectWithInterceptionDisabled(t *testing.T) {
	clientSide, proxySide := net.Pipe()
	originProxySide, originTestSide := net.Pipe()

	store := flowstore.New(10, 4)
	opts := testOptions(store, func(string) (net.Conn, error) { return originProxySide, nil })
	opts.InterceptHTTPS = false

	done := make(chan struct{})
	go func() {
		Handle(proxySide, "198.51.100.1:9000", opts)
		close(done)
	}()

	go func() {
		clientSide.Write([]byte("CONNECT origin.test:443 HTTP/1.1\r\n\r\n")) //nolint:errcheck
	}()

	r := bufio.NewReader(clientSide)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read connect response: %v", err)
	}
	if line != "HTTP/1.1 200 Connection established\r\n" {
		t.Fatalf("connect response line: got %q", line)
	}
	// consume the trailing CRLF
	if _, err := r.ReadString('\n'); err != nil {
		t.Fatalf("read trailing crlf: %v", err)
	}

	// Bytes written past the CONNECT response should be blindly bridged to
	// the origin side, with no HTTP parsing.
	go func() { clientSide.Write([]byte("raw-bytes")) }() //nolint:errcheck
	buf := make([]byte, len("raw-bytes"))
	if _, err := io.ReadFull(originTestSide, buf); err != nil {
		t.Fatalf("read bridged bytes: %v", err)
	}
	if string(buf) != "raw-bytes" {
		t.Errorf("bridged bytes: got %q", buf)
	}

	clientSide.Close()
	originTestSide.Close()
	<-done

	if store.Len() != 0 {
		t.Errorf("store.Len(): got %d, want 0 (no inner flow for a blind tunnel)", store.Len())
	}
}

func TestHandle_ConnectBadAuthorityRejected(t *testing.T) {
	clientSide, proxySide := net.Pipe()
	store := flowstore.New(10, 4)
	opts := testOptions(store, nil)

	done := make(chan struct{})
	go func() {
		Handle(proxySide, "198.51.100.1:9000", opts)
		close(done)
	}()

	go func() {
		clientSide.Write([]byte("CONNECT not-a-valid-authority HTTP/1.1\r\n\r\n")) //nolint:errcheck
	}()

	r := bufio.NewReader(clientSide)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if line != "HTTP/1.1 400 Bad Request\r\n" {
		t.Fatalf("response line: got %q, want 400", line)
	}

	clientSide.Close()
	<-done
}

func TestKeepAlive_ExplicitClose(t *testing.T) {
	req := &httpcodec.Request{Proto: "HTTP/1.1", Headers: httpcodec.Headers{{Name: "Connection", Value: "close"}}}
	resp := &httpcodec.Response{Proto: "HTTP/1.1"}
	if keepAlive(req, resp) {
		t.Error("expected keepAlive=false when request sends Connection: close")
	}
}

func TestKeepAlive_HTTP11Default(t *testing.T) {
	req := &httpcodec.Request{Proto: "HTTP/1.1"}
	resp := &httpcodec.Response{Proto: "HTTP/1.1"}
	if !keepAlive(req, resp) {
		t.Error("expected keepAlive=true by default on HTTP/1.1")
	}
}

func TestKeepAlive_HTTP10RequiresExplicitHeader(t *testing.T) {
	req := &httpcodec.Request{Proto: "HTTP/1.0"}
	resp := &httpcodec.Response{Proto: "HTTP/1.0"}
	if keepAlive(req, resp) {
		t.Error("expected keepAlive=false by default on HTTP/1.0")
	}
}

func TestHandle_PlainHTTPDialFailure_RecordsFailedFlow(t *testing.T) {
	clientSide, proxySide := net.Pipe()
	store := flowstore.New(10, 4)
	m := metrics.New()
	opts := testOptions(store, func(string) (net.Conn, error) { return nil, errors.New("dial refused") })
	opts.Metrics = m

	done := make(chan struct{})
	go func() {
		Handle(proxySide, "198.51.100.1:9000", opts)
		close(done)
	}()

	go func() {
		clientSide.Write([]byte("GET http://origin.test/a HTTP/1.1\r\nHost: origin.test\r\n\r\n")) //nolint:errcheck
	}()

	r := bufio.NewReader(clientSide)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if line != "HTTP/1.1 502 Bad Gateway\r\n" {
		t.Fatalf("response line: got %q, want 502", line)
	}

	clientSide.Close()
	<-done

	if store.Len() != 1 {
		t.Fatalf("store.Len(): got %d, want 1 failed flow", store.Len())
	}
	snap := m.Snapshot()
	if snap.Errors.Origin != 1 {
		t.Errorf("ErrorsOrigin: got %d, want 1", snap.Errors.Origin)
	}
	if snap.Flows.Total != 1 {
		t.Errorf("FlowsTotal: got %d, want 1", snap.Flows.Total)
	}
}

type recordingSink struct{ recorded []*flow.Flow }

func (r *recordingSink) Record(f *flow.Flow) { r.recorded = append(r.recorded, f) }

func TestHandle_ConnectBlindDialFailure_RecordsFailedFlow(t *testing.T) {
	clientSide, proxySide := net.Pipe()
	store := flowstore.New(10, 4)
	sink := &recordingSink{}
	store.SetSink(sink)
	m := metrics.New()
	opts := testOptions(store, func(string) (net.Conn, error) { return nil, errors.New("dial refused") })
	opts.InterceptHTTPS = false
	opts.Metrics = m

	done := make(chan struct{})
	go func() {
		Handle(proxySide, "198.51.100.1:9000", opts)
		close(done)
	}()

	go func() {
		clientSide.Write([]byte("CONNECT origin.test:443 HTTP/1.1\r\n\r\n")) //nolint:errcheck
	}()

	r := bufio.NewReader(clientSide)
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if line != "HTTP/1.1 200 Connection established\r\n" {
		t.Fatalf("connect response line: got %q", line)
	}

	clientSide.Close()
	<-done

	if store.Len() != 1 {
		t.Fatalf("store.Len(): got %d, want 1 failed flow for the blind tunnel's dial failure", store.Len())
	}
	if len(sink.recorded) != 1 {
		t.Fatalf("sink.recorded: got %d flows, want 1", len(sink.recorded))
	}
	if sink.recorded[0].FailureKind != "TcpConnectFailed" {
		t.Errorf("FailureKind: got %q, want TcpConnectFailed", sink.recorded[0].FailureKind)
	}
	if m.Snapshot().Errors.Origin != 1 {
		t.Errorf("ErrorsOrigin: got %d, want 1", m.Snapshot().Errors.Origin)
	}
}

func TestRequestAuthority_AbsoluteForm(t *testing.T) {
	raw := "GET http://example.com:8080/x HTTP/1.1\r\nHost: example.com:8080\r\n\r\n"
	req, err := httpcodec.ParseRequest(bufio.NewReader(strings.NewReader(raw)), httpcodec.DefaultLimits())
	if err != nil {
		t.Fatalf("ParseRequest: %v", err)
	}
	host, port := requestAuthority(req)
	if host != "example.com" || port != "8080" {
		t.Errorf("requestAuthority: got (%s, %s)", host, port)
	}
}
