// Package flow defines the Flow data model (spec §3): a completed or failed
// request/response pair captured by the proxy core, plus the per-request
// context handed to interceptors.
package flow

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/laplaque/mitmcore/internal/httpcodec"
)

// Status is the lifecycle state of a Flow.
type Status int

// Flow lifecycle states (spec §3): Pending → Completed, or Pending → Failed.
const (
	Pending Status = iota
	Completed
	Failed
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ID is a 128-bit random flow identifier.
type ID [16]byte

// NewID generates a fresh random flow id.
func NewID() ID {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand.Read only fails if the OS entropy source is broken;
		// there is nothing a caller can do differently, so panic rather
		// than hand back a zero id that could collide.
		panic(fmt.Sprintf("flow: failed to read random id: %v", err))
	}
	return id
}

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Flow is a single captured request/response exchange (spec §3).
// Immutable once Status is Completed or Failed.
type Flow struct {
	ID         ID
	ReceivedAt time.Time
	ClientAddr string
	Request    *httpcodec.Request
	Response   *httpcodec.Response
	Duration   time.Duration
	Status     Status
	// FailureKind is set (as a coreerr.Kind string) when Status == Failed.
	FailureKind string
}

// Context is the read/mutate scope an interceptor receives. Interceptors may
// inspect these fields but must not retain the pointer past their call.
type Context struct {
	FlowID     ID
	ClientAddr string
	Host       string
}

// NewPending creates a new Flow in the Pending state, timestamped now.
func NewPending(clientAddr string, req *httpcodec.Request) *Flow {
	return &Flow{
		ID:         NewID(),
		ReceivedAt: time.Now(),
		ClientAddr: clientAddr,
		Request:    req,
		Status:     Pending,
	}
}

// Complete stamps duration and response, transitioning the flow to Completed.
func (f *Flow) Complete(resp *httpcodec.Response) {
	f.Response = resp
	f.Duration = time.Since(f.ReceivedAt)
	f.Status = Completed
}

// Fail stamps duration and a failure kind, transitioning the flow to Failed.
func (f *Flow) Fail(kind string) {
	f.Duration = time.Since(f.ReceivedAt)
	f.Status = Failed
	f.FailureKind = kind
}
