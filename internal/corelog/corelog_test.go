package corelog

import (
	"bytes"
	"log"
	"strings"
	"testing"

	"github.com/laplaque/mitmcore/internal/flow"
	"github.com/laplaque/mitmcore/internal/httpcodec"
)

func newCapturingLogger(levelStr string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	l := &Logger{module: "TEST", level: parseLevel(levelStr), out: log.New(&buf, "", 0)}
	return l, &buf
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"DEBUG":   LevelDebug,
		"info":    LevelInfo,
		"":        LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLogger_GatesBelowLevel(t *testing.T) {
	l, buf := newCapturingLogger("warn")
	l.Info("action", "should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got %q", buf.String())
	}
	l.Warn("action", "should appear")
	if buf.Len() == 0 {
		t.Error("expected output at configured level")
	}
}

func TestLogger_Infof_FormatsMessage(t *testing.T) {
	l, buf := newCapturingLogger("debug")
	l.Infof("action", "value=%d", 42)
	if !strings.Contains(buf.String(), "value=42") {
		t.Errorf("expected formatted message in output, got %q", buf.String())
	}
}

func TestLogger_SetLevel(t *testing.T) {
	l, buf := newCapturingLogger("error")
	l.Warn("action", "hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output before SetLevel, got %q", buf.String())
	}
	l.SetLevel("warn")
	l.Warn("action", "visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("expected output after lowering level, got %q", buf.String())
	}
}

func TestLogger_LogError_IncludesCause(t *testing.T) {
	l, buf := newCapturingLogger("debug")
	l.LogError(errBoom, "operation failed")
	out := buf.String()
	if !strings.Contains(out, "operation failed") || !strings.Contains(out, "boom") {
		t.Errorf("expected message and cause in output, got %q", out)
	}
}

func TestLogger_LogFlow_RendersSummary(t *testing.T) {
	l, buf := newCapturingLogger("debug")
	req := &httpcodec.Request{Method: "GET", Headers: httpcodec.Headers{{Name: "Host", Value: "example.com"}}}
	resp := &httpcodec.Response{StatusCode: 200}
	f := flow.NewPending("1.2.3.4:5", req)
	f.Complete(resp)

	l.LogFlow(f)

	out := buf.String()
	if !strings.Contains(out, "GET") || !strings.Contains(out, "example.com") || !strings.Contains(out, "200") {
		t.Errorf("expected flow summary fields in output, got %q", out)
	}
}

func TestLogger_LogFlow_NilIsNoop(t *testing.T) {
	l, buf := newCapturingLogger("debug")
	l.LogFlow(nil)
	if buf.Len() != 0 {
		t.Errorf("expected no output for nil flow, got %q", buf.String())
	}
}

type boomError struct{}

func (boomError) Error() string { return "boom" }

var errBoom = boomError{}
