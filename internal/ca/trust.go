package ca

// TrustStore is the port for the "current user, root" OS certificate store
// (spec §6). Platform-specific implementations live in internal/platform;
// on platforms lacking such a store, Unsupported below is used.
type TrustStore interface {
	// IsInstalled reports whether a certificate with the given subject
	// common name is present in the store.
	IsInstalled(subjectCN string) (bool, error)
	// Install adds the DER-encoded certificate to the store. Must tolerate
	// being called when the certificate is already present (idempotent).
	Install(der []byte) error
}

// Unsupported is a TrustStore for platforms with no accessible store
// (spec §6: "headless Linux ... is_root_trusted may return a conservative
// false and install_root may fail with CaTrustStoreUnsupported").
type Unsupported struct{}

func (Unsupported) IsInstalled(string) (bool, error) { return false, nil }
func (Unsupported) Install([]byte) error             { return errTrustStoreUnsupported }
