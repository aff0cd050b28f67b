package coreerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error_WithCause(t *testing.T) {
	cause := errors.New("boom")
	e := New(TcpRead, "connhandler.read", cause)
	want := "connhandler.read: TcpRead: boom"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestError_Error_NoCause(t *testing.T) {
	e := New(CaNotInitialized, "ca.mint", nil)
	want := "ca.mint: CaNotInitialized"
	if e.Error() != want {
		t.Errorf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	e := New(HttpBadHeader, "codec.parse", cause)
	if !errors.Is(e, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
}

func TestIs_MatchesThroughWrapping(t *testing.T) {
	e := New(HttpInvalidChunk, "codec.parse_body", nil)
	wrapped := fmt.Errorf("while handling request: %w", e)

	if !Is(wrapped, HttpInvalidChunk) {
		t.Error("expected Is to find the *Error through fmt.Errorf wrapping")
	}
	if Is(wrapped, HttpBadHeader) {
		t.Error("expected Is to reject the wrong kind")
	}
}

func TestIs_NilError(t *testing.T) {
	if Is(nil, TcpRead) {
		t.Error("expected Is(nil, ...) to be false")
	}
}

func TestIs_PlainError(t *testing.T) {
	if Is(errors.New("plain"), TcpRead) {
		t.Error("expected Is to be false for an error that isn't a *Error")
	}
}
