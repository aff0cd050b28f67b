//go:build windows

package platform

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/windows"

	"github.com/laplaque/mitmcore/internal/ca"
)

func defaultStore() ca.TrustStore { return WindowsCertStore{} }

// WindowsCertStore drives certutil against the machine's Root store,
// automating the command the teacher printed as a manual instruction
// ("certutil -addstore Root %s").
type WindowsCertStore struct{}

func (WindowsCertStore) IsInstalled(subjectCN string) (bool, error) {
	out, err := exec.Command("certutil", "-store", "Root").CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("platform: certutil -store Root: %w (%s)", err, bytes.TrimSpace(out))
	}
	return strings.Contains(string(out), subjectCN), nil
}

func (WindowsCertStore) Install(der []byte) error {
	if !isElevated() {
		return fmt.Errorf("platform: installing into the Root store requires an elevated process")
	}

	tmp, err := os.CreateTemp("", "mitmproxy-ca-*.cer")
	if err != nil {
		return fmt.Errorf("platform: write temp cert: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(der); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("platform: write temp cert: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("platform: write temp cert: %w", err)
	}

	cmd := exec.Command("certutil", "-addstore", "Root", tmp.Name())
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("platform: certutil -addstore: %w (%s)", err, bytes.TrimSpace(out))
	}
	return nil
}

// isElevated reports whether the current process token has administrator
// privileges, checked before attempting a Root-store write that would
// otherwise fail deep inside certutil with a confusing error.
func isElevated() bool {
	var token windows.Token
	proc, err := windows.GetCurrentProcess()
	if err != nil {
		return false
	}
	if err := windows.OpenProcessToken(proc, windows.TOKEN_QUERY, &token); err != nil {
		return false
	}
	defer token.Close()
	return token.IsElevated()
}
