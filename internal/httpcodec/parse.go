package httpcodec

import (
	"bufio"
	"io"
	"strings"

	"github.com/laplaque/mitmcore/internal/coreerr"
)

// Limits bounds the resources the codec will consume parsing one message.
type Limits struct {
	MaxBodyBytes int64
}

// DefaultMaxBodyBytes is the parser ceiling when no embedder override is set.
const DefaultMaxBodyBytes = 64 << 20 // 64 MiB, spec §4.2

// DefaultLimits returns the spec's default ceiling.
func DefaultLimits() Limits { return Limits{MaxBodyBytes: DefaultMaxBodyBytes} }

// readLine reads one CRLF- (or bare LF-) terminated line, with the
// terminator stripped. An EOF with no bytes read is reported as
// HttpUnexpectedEof; a partial line followed by EOF is the same.
func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return "", coreerr.New(coreerr.HttpUnexpectedEof, "codec.read_line", nil)
		}
		if err == io.EOF {
			return "", coreerr.New(coreerr.HttpUnexpectedEof, "codec.read_line", nil)
		}
		return "", coreerr.New(coreerr.HttpUnexpectedEof, "codec.read_line", err)
	}
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// readHeaders reads header fields up to (and consuming) the terminating
// empty line. Obsolete line folding (a continuation line beginning with SP
// or HTAB) is collapsed into the previous field's value as a single space,
// per spec §4.2.
func readHeaders(r *bufio.Reader) (Headers, error) {
	var headers Headers
	for {
		raw, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if raw == "" {
			return headers, nil
		}
		if (raw[0] == ' ' || raw[0] == '\t') && len(headers) > 0 {
			// Obsolete line folding: collapse to a single space.
			last := &headers[len(headers)-1]
			last.Value = last.Value + " " + strings.TrimSpace(raw)
			continue
		}
		name, value, ok := strings.Cut(raw, ":")
		if !ok || name == "" {
			return nil, coreerr.New(coreerr.HttpBadHeader, "codec.read_headers", nil)
		}
		value = strings.TrimPrefix(value, " ")
		value = strings.TrimSuffix(value, " ")
		headers = append(headers, Field{
			Name:  name,
			Value: value,
		})
	}
}

// readBody reads the message body per the framing contract of spec §4.2:
// chunked Transfer-Encoding takes priority over Content-Length; otherwise a
// present Content-Length is read exactly; otherwise the body is empty
// (request) or read until connection close (response, when
// readUntilCloseAllowed is true). Trailers following a chunked body are
// returned as additional header fields to append.
func readBody(r *bufio.Reader, headers Headers, limits Limits, readUntilCloseAllowed bool) ([]byte, Headers, error) {
	if te, ok := headers.Get("Transfer-Encoding"); ok && hasToken(te, "chunked") {
		return readChunkedBody(r, limits)
	}

	if cl, ok := headers.Get("Content-Length"); ok {
		n, err := parseContentLength(cl)
		if err != nil {
			return nil, nil, coreerr.New(coreerr.HttpBadHeader, "codec.read_body", err)
		}
		if limits.MaxBodyBytes > 0 && n > limits.MaxBodyBytes {
			return nil, nil, coreerr.New(coreerr.HttpBodyTooLarge, "codec.read_body", nil)
		}
		body := make([]byte, n)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, nil, coreerr.New(coreerr.HttpUnexpectedEof, "codec.read_body", err)
		}
		return body, nil, nil
	}

	if !readUntilCloseAllowed {
		return nil, nil, nil
	}

	limit := limits.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	lr := &io.LimitedReader{R: r, N: limit + 1}
	body, err := io.ReadAll(lr)
	if err != nil {
		return nil, nil, coreerr.New(coreerr.TcpRead, "codec.read_body", err)
	}
	if int64(len(body)) > limit {
		return nil, nil, coreerr.New(coreerr.HttpBodyTooLarge, "codec.read_body", nil)
	}
	return body, nil, nil
}

func parseContentLength(s string) (int64, error) {
	var n int64
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, coreerr.New(coreerr.HttpBadHeader, "codec.content_length", nil)
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, coreerr.New(coreerr.HttpBadHeader, "codec.content_length", nil)
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}
