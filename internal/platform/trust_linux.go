//go:build linux

package platform

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"

	"github.com/laplaque/mitmcore/internal/ca"
	"github.com/laplaque/mitmcore/internal/coreerr"
)

func defaultStore() ca.TrustStore { return LinuxSystemBundleStore{} }

// systemBundlePaths lists the CA bundle locations update-ca-certificates
// (Debian/Ubuntu) and update-ca-trust (RHEL/Fedora) both converge on.
var systemBundlePaths = []string{
	"/etc/ssl/certs/ca-certificates.crt",
	"/etc/pki/tls/certs/ca-bundle.crt",
}

// LinuxSystemBundleStore reads the distribution's system CA bundle to
// answer IsInstalled, but deliberately does not attempt Install: writing to
// /usr/local/share/ca-certificates and re-running update-ca-certificates
// requires root, which a proxy process should not assume (spec §6
// "headless Linux ... install_root may fail with CaTrustStoreUnsupported").
type LinuxSystemBundleStore struct{}

func (LinuxSystemBundleStore) IsInstalled(subjectCN string) (bool, error) {
	for _, path := range systemBundlePaths {
		data, err := os.ReadFile(path) //nolint:gosec // fixed, well-known system paths
		if err != nil {
			continue
		}
		if bundleContainsSubject(data, subjectCN) {
			return true, nil
		}
	}
	return false, nil
}

func (LinuxSystemBundleStore) Install([]byte) error {
	return coreerr.New(coreerr.CaTrustStoreUnsupported, "platform.install",
		errAutoInstallUnsupported)
}

var errAutoInstallUnsupported = errors.New("copy the CA certificate to " +
	"/usr/local/share/ca-certificates and run update-ca-certificates as root")

// bundleContainsSubject scans a PEM bundle for a certificate whose subject
// common name matches. CertPool doesn't expose its parsed members, so the
// PEM stream is walked directly instead of going through x509.CertPool.
func bundleContainsSubject(pemBundle []byte, subjectCN string) bool {
	rest := pemBundle
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return false
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			continue
		}
		if cert.Subject.CommonName == subjectCN {
			return true
		}
	}
}
