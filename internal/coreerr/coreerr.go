// Package coreerr defines the error categories the proxy core reports to
// callers. Every failure the core surfaces is wrapped in an *Error carrying
// one of these Kinds, so connection and interceptor boundaries can decide
// recovery (close with 400 vs 502, emit a Failed flow, etc.) without string
// matching.
package coreerr

import "fmt"

// Kind classifies a core failure. See spec §7 for the recovery policy per kind.
type Kind string

// Protocol error kinds, from the HTTP/1.1 codec.
const (
	HttpBadRequestLine Kind = "HttpBadRequestLine"
	HttpBadHeader      Kind = "HttpBadHeader"
	HttpInvalidChunk   Kind = "HttpInvalidChunk"
	HttpUnexpectedEof  Kind = "HttpUnexpectedEof"
	HttpBodyTooLarge   Kind = "HttpBodyTooLarge"
)

// Transport error kinds.
const (
	TcpConnectFailed Kind = "TcpConnectFailed"
	TcpRead          Kind = "TcpRead"
	TcpWrite         Kind = "TcpWrite"
	TcpTimeout       Kind = "TcpTimeout"
)

// TLS error kinds.
const (
	TlsHandshakeClient Kind = "TlsHandshakeClient"
	TlsHandshakeOrigin Kind = "TlsHandshakeOrigin"
	TlsVerifyOrigin    Kind = "TlsVerifyOrigin"
)

// CA error kinds.
const (
	CaIo                    Kind = "CaIo"
	CaCrypto                Kind = "CaCrypto"
	CaBadPassword           Kind = "CaBadPassword"
	CaNotInitialized        Kind = "CaNotInitialized"
	CaTrustStore            Kind = "CaTrustStore"
	CaTrustStoreUnsupported Kind = "CaTrustStoreUnsupported"
)

// Cancellation is reported when an in-flight operation is aborted by
// proxy.Stop(), not because of any protocol or transport failure.
const Cancelled Kind = "Cancelled"

// Error is the concrete error type returned by core operations.
type Error struct {
	Kind Kind
	Op   string // short operation tag, e.g. "ca.mint", "codec.parse_request"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind for the given operation, wrapping cause.
func New(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Err: cause}
}

// Is reports whether err (or something it wraps) is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
