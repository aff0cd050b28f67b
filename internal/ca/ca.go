// Package ca implements the certificate authority (spec §4.1 / C1): loading
// or generating a root CA, minting per-host leaf certificates on demand, and
// integrating with the OS trust store. Grounded on the teacher's
// internal/mitm/cert.go (self-signed root + on-the-fly leaf signing,
// in-memory leaf cache), generalized to the spec's persisted,
// password-protected container and at-most-one-mint-per-hostname guarantee.
package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/laplaque/mitmcore/internal/coreerr"
)

// Subject is the root CA's fixed subject common name (spec §3).
const Subject = "MITMProxy CA"

const (
	rootKeyBits = 4096
	rootValidity = 10 * 365 * 24 * time.Hour
	leafKeyBits  = 2048
	leafValidity = 365 * 24 * time.Hour
	leafBackdate = time.Minute
)

var errTrustStoreUnsupported = coreerr.New(coreerr.CaTrustStoreUnsupported, "ca.trust_store", nil)

// CA holds root certificate material and the per-host leaf cache.
type CA struct {
	container ContainerStore
	trust     TrustStore

	mu   sync.RWMutex
	cert *x509.Certificate
	key  *rsa.PrivateKey

	leafMu sync.RWMutex
	leaves map[string]*leafEntry
	mint   singleflight.Group // at-most-one mint per hostname (spec P1)
}

// New creates a CA persisting its root through container and querying/
// writing trust through trust. Pass ca.Unsupported{} for trust on platforms
// with no accessible store.
func New(container ContainerStore, trust TrustStore) *CA {
	return &CA{
		container: container,
		trust:     trust,
		leaves:    make(map[string]*leafEntry),
	}
}

// NewWithFileContainer is the common-case constructor: persists the root to
// a PKCS#12 container file at path, using trust for OS trust-store queries.
func NewWithFileContainer(path string, trust TrustStore) *CA {
	return New(NewFileContainerStore(path), trust)
}

// GetOrCreateRoot loads the root from the container, decrypting with
// password, or generates a fresh one and persists it if the container is
// absent. Idempotent: subsequent calls with the process already holding a
// root return immediately.
func (c *CA) GetOrCreateRoot(password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cert != nil && c.key != nil {
		return nil
	}

	data, err := c.container.Load()
	if err != nil {
		if !os.IsNotExist(err) {
			return coreerr.New(coreerr.CaIo, "ca.get_or_create_root", err)
		}
		return c.generateAndPersistRoot(password)
	}

	key, cert, err := decodeContainer(data, password)
	if err != nil {
		if isBadPasswordErr(err) {
			return coreerr.New(coreerr.CaBadPassword, "ca.get_or_create_root", err)
		}
		return coreerr.New(coreerr.CaCrypto, "ca.get_or_create_root", err)
	}
	c.cert = cert
	c.key = key
	return nil
}

// Cert returns the loaded root certificate, or nil if not yet initialized.
func (c *CA) Cert() *x509.Certificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cert
}

func (c *CA) generateAndPersistRoot(password string) error {
	key, err := rsa.GenerateKey(rand.Reader, rootKeyBits)
	if err != nil {
		return coreerr.New(coreerr.CaCrypto, "ca.generate_root", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return coreerr.New(coreerr.CaCrypto, "ca.generate_root", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: Subject},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(rootValidity),
		KeyUsage:     x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:         true,

		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return coreerr.New(coreerr.CaCrypto, "ca.generate_root", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return coreerr.New(coreerr.CaCrypto, "ca.generate_root", err)
	}

	pfx, err := pkcs12.Modern.Encode(rand.Reader, key, cert, nil, password)
	if err != nil {
		return coreerr.New(coreerr.CaCrypto, "ca.generate_root", err)
	}
	if err := c.container.Save(pfx); err != nil {
		return coreerr.New(coreerr.CaIo, "ca.generate_root", err)
	}

	c.cert = cert
	c.key = key
	return nil
}

func decodeContainer(data []byte, password string) (*rsa.PrivateKey, *x509.Certificate, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("ca: container private key is not RSA")
	}
	return rsaKey, cert, nil
}

func randomSerial() (*big.Int, error) {
	return rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
}

func isBadPasswordErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "password") || strings.Contains(msg, "decrypt")
}
