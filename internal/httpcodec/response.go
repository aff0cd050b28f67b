package httpcodec

import (
	"bufio"
	"strconv"
	"strings"

	"github.com/laplaque/mitmcore/internal/coreerr"
)

// Response is a parsed HTTP/1.1 response (spec §3).
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Headers    Headers
	Body       []byte
}

// ParseResponse reads one HTTP/1.1 response from r. If noBody is true (a
// response to a HEAD request, or a 1xx/204/304 status) no body is read,
// per RFC 7230 §3.3.3.
func ParseResponse(r *bufio.Reader, limits Limits, noBody bool) (*Response, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !validProto(parts[0]) {
		return nil, coreerr.New(coreerr.HttpBadRequestLine, "codec.parse_response", nil)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || code < 100 || code > 599 {
		return nil, coreerr.New(coreerr.HttpBadRequestLine, "codec.parse_response", err)
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}

	resp := &Response{Proto: parts[0], StatusCode: code, Reason: reason}

	headers, err := readHeaders(r)
	if err != nil {
		return nil, err
	}
	resp.Headers = headers

	if noBody || code < 200 || code == 204 || code == 304 {
		return resp, nil
	}

	body, trailers, err := readBody(r, headers, limits, true)
	if err != nil {
		return nil, err
	}
	resp.Body = body
	resp.Headers = append(resp.Headers, trailers...)
	return resp, nil
}
