//go:build darwin

package platform

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/laplaque/mitmcore/internal/ca"
)

func defaultStore() ca.TrustStore { return DarwinKeychainStore{} }

// DarwinKeychainStore drives the "security" CLI against the current user's
// login keychain, automating the command the teacher printed as a manual
// instruction.
type DarwinKeychainStore struct{}

func (DarwinKeychainStore) IsInstalled(subjectCN string) (bool, error) {
	out, err := exec.Command("security", "find-certificate", "-c", subjectCN, "-a").CombinedOutput()
	if err != nil {
		// "could not find certificate" exits non-zero; that is a clean "no".
		if strings.Contains(string(out), "could not be found") || strings.Contains(string(out), "unable to find") {
			return false, nil
		}
		return false, fmt.Errorf("platform: security find-certificate: %w (%s)", err, bytes.TrimSpace(out))
	}
	return strings.Contains(string(out), subjectCN), nil
}

func (DarwinKeychainStore) Install(der []byte) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("platform: resolve home directory: %w", err)
	}
	keychain := filepath.Join(home, "Library", "Keychains", "login.keychain-db")

	tmp, err := os.CreateTemp("", "mitmproxy-ca-*.der")
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

	cmd := exec.Command("security", "add-trusted-cert", "-d", "-r", "trustRoot", "-k", keychain, tmp.Name())
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("platform: security add-trusted-cert: %w (%s)", err, bytes.TrimSpace(out))
	}
	return nil
}
