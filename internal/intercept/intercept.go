// Package intercept implements the ordered request/response interceptor
// pipeline (spec §4.4): pluggable hooks that may inspect and mutate a
// message as it traverses the proxy, with failure isolation so one faulty
// interceptor cannot abort a flow.
package intercept

import (
	"fmt"
	"sort"
	"sync"

	"github.com/laplaque/mitmcore/internal/corelog"
	"github.com/laplaque/mitmcore/internal/flow"
	"github.com/laplaque/mitmcore/internal/httpcodec"
)

// RequestInterceptor inspects and may mutate req in place. ctx is read-only
// metadata about the flow the request belongs to. An error return is logged
// and the pipeline continues with the next interceptor; changes the hook
// made to req before returning the error are not undone.
type RequestInterceptor interface {
	InterceptRequest(ctx *flow.Context, req *httpcodec.Request) error
}

// ResponseInterceptor is the response-side symmetric counterpart.
type ResponseInterceptor interface {
	InterceptResponse(ctx *flow.Context, resp *httpcodec.Response) error
}

// RequestInterceptorFunc adapts a plain function to RequestInterceptor.
type RequestInterceptorFunc func(ctx *flow.Context, req *httpcodec.Request) error

func (f RequestInterceptorFunc) InterceptRequest(ctx *flow.Context, req *httpcodec.Request) error {
	return f(ctx, req)
}

// ResponseInterceptorFunc adapts a plain function to ResponseInterceptor.
type ResponseInterceptorFunc func(ctx *flow.Context, resp *httpcodec.Response) error

func (f ResponseInterceptorFunc) InterceptResponse(ctx *flow.Context, resp *httpcodec.Response) error {
	return f(ctx, resp)
}

type requestEntry struct {
	priority int
	seq      int
	hook     RequestInterceptor
}

type responseEntry struct {
	priority int
	seq      int
	hook     ResponseInterceptor
}

// Pipeline holds the ordered request and response interceptor chains.
// It is immutable once the proxy server has started (spec §5 "Interceptor
// list ... Immutable once the server has started"); RegisterRequest and
// RegisterResponse must only be called before Start.
type Pipeline struct {
	mu       sync.Mutex
	started  bool
	requests []requestEntry
	responses []responseEntry
	nextSeq  int
	logger   corelog.Port
}

// New creates an empty pipeline logging interceptor errors through logger.
func New(logger corelog.Port) *Pipeline {
	return &Pipeline{logger: logger}
}

// RegisterRequest adds a request interceptor at the given priority (lower
// runs earlier; ties broken by registration order). Returns an error if the
// pipeline has already started.
func (p *Pipeline) RegisterRequest(priority int, hook RequestInterceptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("intercept: cannot register after pipeline start")
	}
	p.requests = append(p.requests, requestEntry{priority: priority, seq: p.nextSeq, hook: hook})
	p.nextSeq++
	sort.SliceStable(p.requests, func(i, j int) bool { return p.requests[i].priority < p.requests[j].priority })
	return nil
}

// RegisterResponse adds a response interceptor at the given priority.
func (p *Pipeline) RegisterResponse(priority int, hook ResponseInterceptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("intercept: cannot register after pipeline start")
	}
	p.responses = append(p.responses, responseEntry{priority: priority, seq: p.nextSeq, hook: hook})
	p.nextSeq++
	sort.SliceStable(p.responses, func(i, j int) bool { return p.responses[i].priority < p.responses[j].priority })
	return nil
}

// Start freezes the pipeline against further registration.
func (p *Pipeline) Start() {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
}

// ApplyRequest runs every request interceptor in priority order. An
// interceptor that errors (or panics) is logged and the remaining
// interceptors still run. The request is not snapshotted: any mutation the
// failing interceptor made before it errored or panicked stays in place.
func (p *Pipeline) ApplyRequest(ctx *flow.Context, req *httpcodec.Request) {
	for _, e := range p.snapshotRequests() {
		p.runRequest(e.hook, ctx, req)
	}
}

// ApplyResponse runs every response interceptor in priority order, with the
// same failure isolation as ApplyRequest.
func (p *Pipeline) ApplyResponse(ctx *flow.Context, resp *httpcodec.Response) {
	for _, e := range p.snapshotResponses() {
		p.runResponse(e.hook, ctx, resp)
	}
}

func (p *Pipeline) snapshotRequests() []requestEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]requestEntry, len(p.requests))
	copy(out, p.requests)
	return out
}

func (p *Pipeline) snapshotResponses() []responseEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]responseEntry, len(p.responses))
	copy(out, p.responses)
	return out
}

func (p *Pipeline) runRequest(hook RequestInterceptor, ctx *flow.Context, req *httpcodec.Request) {
	defer func() {
		if r := recover(); r != nil {
			p.logError(fmt.Errorf("panic: %v", r))
		}
	}()
	if err := hook.InterceptRequest(ctx, req); err != nil {
		p.logError(err)
	}
}

func (p *Pipeline) runResponse(hook ResponseInterceptor, ctx *flow.Context, resp *httpcodec.Response) {
	defer func() {
		if r := recover(); r != nil {
			p.logError(fmt.Errorf("panic: %v", r))
		}
	}()
	if err := hook.InterceptResponse(ctx, resp); err != nil {
		p.logError(err)
	}
}

func (p *Pipeline) logError(err error) {
	if p.logger == nil {
		return
	}
	p.logger.LogWarn("interceptor error, skipped: %v", err)
}
