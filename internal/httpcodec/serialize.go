package httpcodec

import (
	"bufio"
	"io"
	"strconv"
)

// WriteTo serializes the request in wire form: request line, headers in
// stored order, then the body. The codec never rewrites headers or body
// content (spec §4.2); callers (the interceptor pipeline) own that.
func (r *Request) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	target := r.RequestTarget
	if _, err := bw.WriteString(r.Method + " " + target + " " + r.Proto + "\r\n"); err != nil {
		return cw.n, err
	}
	if err := writeHeaders(bw, r.Headers); err != nil {
		return cw.n, err
	}
	if err := writeFramedBody(bw, r.Headers, r.Body); err != nil {
		return cw.n, err
	}
	return cw.n, bw.Flush()
}

// WriteTo serializes the response in wire form.
func (r *Response) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriter(cw)

	reason := r.Reason
	statusLine := r.Proto + " " + strconv.Itoa(r.StatusCode)
	if reason != "" {
		statusLine += " " + reason
	}
	if _, err := bw.WriteString(statusLine + "\r\n"); err != nil {
		return cw.n, err
	}
	if err := writeHeaders(bw, r.Headers); err != nil {
		return cw.n, err
	}
	if err := writeFramedBody(bw, r.Headers, r.Body); err != nil {
		return cw.n, err
	}
	return cw.n, bw.Flush()
}

func writeHeaders(bw *bufio.Writer, headers Headers) error {
	for _, f := range headers {
		if _, err := bw.WriteString(f.Name + ": " + f.Value + "\r\n"); err != nil {
			return err
		}
	}
	_, err := bw.WriteString("\r\n")
	return err
}

// writeFramedBody writes body either chunked (if Transfer-Encoding declares
// it) or as a raw byte sequence otherwise, matching whatever framing the
// headers already describe.
func writeFramedBody(bw *bufio.Writer, headers Headers, body []byte) error {
	if te, ok := headers.Get("Transfer-Encoding"); ok && hasToken(te, "chunked") {
		return writeChunkedBody(bw, body)
	}
	_, err := bw.Write(body)
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
