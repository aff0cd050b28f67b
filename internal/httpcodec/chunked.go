package httpcodec

import (
	"bufio"
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/laplaque/mitmcore/internal/coreerr"
)

// readChunkedBody reads a chunked transfer-coded body (RFC 7230 §4.1) up to
// and including the zero-length terminating chunk, then reads any trailer
// fields that follow and returns them so the caller can append them to the
// message's header list (spec §4.2 "trailers ... appended to headers").
func readChunkedBody(r *bufio.Reader, limits Limits) ([]byte, Headers, error) {
	limit := limits.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}

	var buf bytes.Buffer
	for {
		sizeLine, err := readLine(r)
		if err != nil {
			return nil, nil, err
		}
		// Strip chunk extensions ("1a;ext=value").
		sizeLine, _, _ = strings.Cut(sizeLine, ";")
		size, err := strconv.ParseInt(strings.TrimSpace(sizeLine), 16, 64)
		if err != nil || size < 0 {
			return nil, nil, coreerr.New(coreerr.HttpInvalidChunk, "codec.read_chunked", err)
		}
		if size == 0 {
			break
		}
		if int64(buf.Len())+size > limit {
			return nil, nil, coreerr.New(coreerr.HttpBodyTooLarge, "codec.read_chunked", nil)
		}
		if _, err := io.CopyN(&buf, r, size); err != nil {
			return nil, nil, coreerr.New(coreerr.HttpUnexpectedEof, "codec.read_chunked", err)
		}
		// Consume the CRLF that terminates the chunk data.
		if _, err := readLine(r); err != nil {
			return nil, nil, coreerr.New(coreerr.HttpInvalidChunk, "codec.read_chunked", err)
		}
	}

	trailers, err := readHeaders(r)
	if err != nil {
		return nil, nil, err
	}
	return buf.Bytes(), trailers, nil
}

// writeChunkedBody writes body as a single chunk followed by the
// terminating zero-length chunk. The codec never re-chunks on its own
// initiative; this is used only when serializing a message whose headers
// already declare Transfer-Encoding: chunked.
func writeChunkedBody(w io.Writer, body []byte) error {
	if len(body) > 0 {
		if _, err := io.WriteString(w, strconv.FormatInt(int64(len(body)), 16)+"\r\n"); err != nil {
			return err
		}
		if _, err := w.Write(body); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "0\r\n\r\n")
	return err
}
