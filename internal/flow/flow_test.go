package flow

import (
	"testing"
	"time"

	"github.com/laplaque/mitmcore/internal/httpcodec"
)

func TestNewID_Unique(t *testing.T) {
	a := NewID()
	b := NewID()
	if a == b {
		t.Error("expected two freshly generated ids to differ")
	}
}

func TestID_String_HexEncoded(t *testing.T) {
	id := NewID()
	s := id.String()
	if len(s) != 32 {
		t.Errorf("expected 32 hex chars, got %d (%q)", len(s), s)
	}
}

func TestStatus_String(t *testing.T) {
	cases := map[Status]string{
		Pending:   "Pending",
		Completed: "Completed",
		Failed:    "Failed",
		Status(99): "Unknown",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestNewPending_InitialState(t *testing.T) {
	req := &httpcodec.Request{Method: "GET"}
	f := NewPending("10.0.0.1:1234", req)

	if f.Status != Pending {
		t.Errorf("expected Pending status, got %v", f.Status)
	}
	if f.ClientAddr != "10.0.0.1:1234" {
		t.Errorf("ClientAddr: got %q", f.ClientAddr)
	}
	if f.Request != req {
		t.Error("expected Request to be the same pointer passed in")
	}
	if f.ReceivedAt.IsZero() {
		t.Error("expected ReceivedAt to be stamped")
	}
}

func TestFlow_Complete(t *testing.T) {
	f := NewPending("addr", &httpcodec.Request{})
	time.Sleep(time.Millisecond)
	resp := &httpcodec.Response{StatusCode: 200}

	f.Complete(resp)

	if f.Status != Completed {
		t.Errorf("expected Completed, got %v", f.Status)
	}
	if f.Response != resp {
		t.Error("expected Response to be set")
	}
	if f.Duration <= 0 {
		t.Error("expected positive duration after Complete")
	}
}

func TestFlow_Fail(t *testing.T) {
	f := NewPending("addr", &httpcodec.Request{})
	time.Sleep(time.Millisecond)

	f.Fail("TcpRead")

	if f.Status != Failed {
		t.Errorf("expected Failed, got %v", f.Status)
	}
	if f.FailureKind != "TcpRead" {
		t.Errorf("FailureKind: got %q", f.FailureKind)
	}
	if f.Duration <= 0 {
		t.Error("expected positive duration after Fail")
	}
}
