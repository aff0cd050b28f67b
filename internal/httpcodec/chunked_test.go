package httpcodec

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/laplaque/mitmcore/internal/coreerr"
)

func TestReadChunkedBody_SingleChunk(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("5\r\nhello\r\n0\r\n\r\n"))
	body, trailers, err := readChunkedBody(r, DefaultLimits())
	if err != nil {
		t.Fatalf("readChunkedBody: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("got %q", body)
	}
	if len(trailers) != 0 {
		t.Errorf("expected no trailers, got %v", trailers)
	}
}

func TestReadChunkedBody_MultipleChunks(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("3\r\nfoo\r\n3\r\nbar\r\n0\r\n\r\n"))
	body, _, err := readChunkedBody(r, DefaultLimits())
	if err != nil {
		t.Fatalf("readChunkedBody: %v", err)
	}
	if string(body) != "foobar" {
		t.Errorf("got %q", body)
	}
}

func TestReadChunkedBody_ChunkExtensionsIgnored(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("5;ext=value\r\nhello\r\n0\r\n\r\n"))
	body, _, err := readChunkedBody(r, DefaultLimits())
	if err != nil {
		t.Fatalf("readChunkedBody: %v", err)
	}
	if string(body) != "hello" {
		t.Errorf("got %q", body)
	}
}

func TestReadChunkedBody_ZeroChunkOnly(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("0\r\n\r\n"))
	body, _, err := readChunkedBody(r, DefaultLimits())
	if err != nil {
		t.Fatalf("readChunkedBody: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("expected empty body, got %q", body)
	}
}

func TestReadChunkedBody_Trailers(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("3\r\nfoo\r\n0\r\nX-Trailer: value\r\n\r\n"))
	body, trailers, err := readChunkedBody(r, DefaultLimits())
	if err != nil {
		t.Fatalf("readChunkedBody: %v", err)
	}
	if string(body) != "foo" {
		t.Errorf("got %q", body)
	}
	if v, ok := trailers.Get("X-Trailer"); !ok || v != "value" {
		t.Errorf("expected trailer X-Trailer=value, got %v", trailers)
	}
}

func TestReadChunkedBody_InvalidSize(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("notahexnum\r\n"))
	_, _, err := readChunkedBody(r, DefaultLimits())
	if !coreerr.Is(err, coreerr.HttpInvalidChunk) {
		t.Errorf("expected HttpInvalidChunk, got %v", err)
	}
}

func TestReadChunkedBody_ExceedsLimit(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("a\r\n0123456789\r\n0\r\n\r\n"))
	_, _, err := readChunkedBody(r, Limits{MaxBodyBytes: 5})
	if !coreerr.Is(err, coreerr.HttpBodyTooLarge) {
		t.Errorf("expected HttpBodyTooLarge, got %v", err)
	}
}

func TestReadChunkedBody_TruncatedChunkData(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("a\r\nshort"))
	_, _, err := readChunkedBody(r, DefaultLimits())
	if !coreerr.Is(err, coreerr.HttpUnexpectedEof) {
		t.Errorf("expected HttpUnexpectedEof, got %v", err)
	}
}

func TestWriteChunkedBody_NonEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeChunkedBody(&buf, []byte("hello")); err != nil {
		t.Fatalf("writeChunkedBody: %v", err)
	}
	if buf.String() != "5\r\nhello\r\n0\r\n\r\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteChunkedBody_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := writeChunkedBody(&buf, nil); err != nil {
		t.Fatalf("writeChunkedBody: %v", err)
	}
	if buf.String() != "0\r\n\r\n" {
		t.Errorf("got %q", buf.String())
	}
}

func TestWriteThenReadChunkedBody_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	if err := writeChunkedBody(&buf, []byte("round trip body")); err != nil {
		t.Fatalf("writeChunkedBody: %v", err)
	}
	r := bufio.NewReader(&buf)
	got, _, err := readChunkedBody(r, DefaultLimits())
	if err != nil {
		t.Fatalf("readChunkedBody: %v", err)
	}
	if string(got) != "round trip body" {
		t.Errorf("got %q", got)
	}
}
