package httpcodec

import (
	"bufio"
	"net/url"
	"strings"

	"github.com/laplaque/mitmcore/internal/coreerr"
)

// Request is a parsed HTTP/1.1 request (spec §3).
//
// RequestTarget carries the exact bytes between the method and the HTTP
// version on the request line. For CONNECT, this is the "host:port"
// authority form and URL is left nil — the connection handler reads
// RequestTarget directly rather than forcing it through a URL.
type Request struct {
	Method        string
	RequestTarget string
	URL           *url.URL // nil for CONNECT
	Proto         string   // "HTTP/1.1"
	Headers       Headers
	Body          []byte
}

// Host returns the request's target host, preferring the Host header
// (required by spec §3) and falling back to the URL's host.
func (r *Request) Host() string {
	if h, ok := r.Headers.Get("Host"); ok && h != "" {
		return h
	}
	if r.URL != nil {
		return r.URL.Host
	}
	return ""
}

// ParseRequest reads one HTTP/1.1 request from r.
func ParseRequest(r *bufio.Reader, limits Limits) (*Request, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if line == "" {
		// Tolerate a leading blank line some clients send between
		// keep-alive requests (RFC 7230 §3.5).
		line, err = readLine(r)
		if err != nil {
			return nil, err
		}
	}

	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return nil, coreerr.New(coreerr.HttpBadRequestLine, "codec.parse_request", nil)
	}
	method, target, proto := parts[0], parts[1], parts[2]
	if method == "" || target == "" || !validProto(proto) {
		return nil, coreerr.New(coreerr.HttpBadRequestLine, "codec.parse_request", nil)
	}

	req := &Request{
		Method:        strings.ToUpper(method),
		RequestTarget: target,
		Proto:         proto,
	}

	if req.Method != "CONNECT" {
		u, err := parseRequestTarget(target)
		if err != nil {
			return nil, coreerr.New(coreerr.HttpBadRequestLine, "codec.parse_request", err)
		}
		req.URL = u
	}

	headers, err := readHeaders(r)
	if err != nil {
		return nil, err
	}
	req.Headers = headers

	if req.Method == "CONNECT" {
		// CONNECT carries no body (spec §4.2 "method handling").
		return req, nil
	}

	body, trailers, err := readBody(r, headers, limits, false)
	if err != nil {
		return nil, err
	}
	req.Body = body
	req.Headers = append(req.Headers, trailers...)
	return req, nil
}

func parseRequestTarget(target string) (*url.URL, error) {
	if strings.HasPrefix(target, "/") {
		// origin-form: resolved to absolute form later using the Host header.
		return url.ParseRequestURI(target)
	}
	return url.Parse(target) // absolute-form, as used by explicit proxy requests
}

func validProto(p string) bool {
	return p == "HTTP/1.0" || p == "HTTP/1.1"
}
