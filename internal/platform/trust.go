// Package platform supplies OS-specific TrustStore adapters for
// internal/ca, generalizing the manual trust commands the teacher's
// internal/mitm/cert.go only logged as a hint ("Trust the CA certificate to
// enable HTTPS interception: macOS: security add-trusted-cert ... Linux:
// sudo cp ... update-ca-certificates ... Windows: certutil -addstore Root
// ...") into actual automation behind ca.TrustStore.
package platform

import "github.com/laplaque/mitmcore/internal/ca"

// Default returns the TrustStore adapter for the running OS. Callers that
// need a specific adapter regardless of GOOS (e.g. tests) should construct
// one of the OS-specific types directly.
func Default() ca.TrustStore {
	return defaultStore()
}
