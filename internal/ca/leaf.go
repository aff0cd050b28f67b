package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"net"
	"time"

	"github.com/laplaque/mitmcore/internal/coreerr"
)

// leafEntry is a cached per-hostname leaf certificate.
type leafEntry struct {
	cert *tls.Certificate
}

// GetCertForHost returns a cached leaf for hostname if present, otherwise
// mints one (spec §4.1 leaf minting algorithm) and caches it. Concurrent
// callers for the same hostname converge on a single mint via singleflight
// (spec P1); concurrent callers for different hostnames proceed in
// parallel since singleflight keys by hostname.
func (c *CA) GetCertForHost(hostname string) (*tls.Certificate, error) {
	c.leafMu.RLock()
	if e, ok := c.leaves[hostname]; ok {
		c.leafMu.RUnlock()
		return e.cert, nil
	}
	c.leafMu.RUnlock()

	v, err, _ := c.mint.Do(hostname, func() (any, error) {
		// Re-check under the singleflight key: another caller may have
		// finished minting for this hostname while we waited to enter Do.
		c.leafMu.RLock()
		if e, ok := c.leaves[hostname]; ok {
			c.leafMu.RUnlock()
			return e.cert, nil
		}
		c.leafMu.RUnlock()

		cert, err := c.mintLeaf(hostname)
		if err != nil {
			return nil, err
		}
		c.leafMu.Lock()
		c.leaves[hostname] = &leafEntry{cert: cert}
		c.leafMu.Unlock()
		return cert, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tls.Certificate), nil
}

// LeafCacheLen reports the number of cached leaf certificates. The core
// never evicts (spec §9 open question); an embedder may call PurgeLeafCache
// periodically if it wants bounded memory for a long-running process.
func (c *CA) LeafCacheLen() int {
	c.leafMu.RLock()
	defer c.leafMu.RUnlock()
	return len(c.leaves)
}

// PurgeLeafCache empties the leaf cache. Not called by the core itself.
func (c *CA) PurgeLeafCache() {
	c.leafMu.Lock()
	c.leaves = make(map[string]*leafEntry)
	c.leafMu.Unlock()
}

func (c *CA) mintLeaf(hostname string) (*tls.Certificate, error) {
	c.mu.RLock()
	rootCert, rootKey := c.cert, c.key
	c.mu.RUnlock()
	if rootCert == nil || rootKey == nil {
		return nil, coreerr.New(coreerr.CaNotInitialized, "ca.mint_leaf", nil)
	}

	key, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, coreerr.New(coreerr.CaCrypto, "ca.mint_leaf", err)
	}
	serial, err := randomSerial()
	if err != nil {
		return nil, coreerr.New(coreerr.CaCrypto, "ca.mint_leaf", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: hostname},
		NotBefore:    now.Add(-leafBackdate),
		NotAfter:     now.Add(leafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	// SAN: IP literal vs DNS name (spec §9 open question, resolved here —
	// see SPEC_FULL.md "Supplemented features" #3).
	if ip := net.ParseIP(hostname); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{hostname}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return nil, coreerr.New(coreerr.CaCrypto, "ca.mint_leaf", err)
	}
	leafCert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, coreerr.New(coreerr.CaCrypto, "ca.mint_leaf", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, rootCert.Raw},
		PrivateKey:  key,
		Leaf:        leafCert,
	}, nil
}

// IsRootTrusted queries the OS trust store for a certificate matching the
// root's subject.
func (c *CA) IsRootTrusted() (bool, error) {
	ok, err := c.trust.IsInstalled(Subject)
	if err != nil {
		return false, coreerr.New(coreerr.CaTrustStore, "ca.is_root_trusted", err)
	}
	return ok, nil
}

// InstallRoot adds the root certificate to the OS trust store. Idempotent:
// a store that already contains the certificate is left unchanged.
func (c *CA) InstallRoot(password string) error {
	if err := c.GetOrCreateRoot(password); err != nil {
		return err
	}
	c.mu.RLock()
	cert := c.cert
	c.mu.RUnlock()

	if err := c.trust.Install(cert.Raw); err != nil {
		if coreerr.Is(err, coreerr.CaTrustStoreUnsupported) {
			return err
		}
		return coreerr.New(coreerr.CaTrustStore, "ca.install_root", err)
	}
	return nil
}
