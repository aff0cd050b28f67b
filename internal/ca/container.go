package ca

import (
	"fmt"
	"os"
	"path/filepath"
)

// ContainerStore is the port for "load/store raw bytes" the CA's root
// container is persisted through (spec §9 "inject ports for container
// storage ... use in-memory fakes" in tests). FileContainerStore is the
// production implementation; tests substitute memoryContainerStore.
type ContainerStore interface {
	// Load returns the container bytes, or os.ErrNotExist (wrapped) if absent.
	Load() ([]byte, error)
	// Save writes the container bytes, replacing any existing content.
	Save(data []byte) error
}

// FileContainerStore persists the container at a fixed path on disk (spec
// §6 "a single file at a fixed path ... default filename
// mitmproxy-ca.<container-ext>"). Writes are atomic (temp file + rename),
// following the teacher's internal/management DomainRegistry.persist.
type FileContainerStore struct {
	Path string
}

// NewFileContainerStore returns a store rooted at path.
func NewFileContainerStore(path string) *FileContainerStore {
	return &FileContainerStore{Path: path}
}

func (f *FileContainerStore) Load() ([]byte, error) {
	data, err := os.ReadFile(f.Path) //nolint:gosec // G703: path is a controlled config value
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (f *FileContainerStore) Save(data []byte) error {
	dir := filepath.Dir(f.Path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, ".mitmproxy-ca-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp container: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()         //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName)  //nolint:errcheck // tmpName from os.CreateTemp, not user input
		return fmt.Errorf("write container: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("close container: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("chmod container: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("rename container into place: %w", err)
	}
	return nil
}

// memoryContainerStore is an in-memory ContainerStore used by tests, per
// spec §9's "inject ports ... use in-memory fakes" guidance.
type memoryContainerStore struct {
	data []byte
}

func (m *memoryContainerStore) Load() ([]byte, error) {
	if m.data == nil {
		return nil, os.ErrNotExist
	}
	return m.data, nil
}

func (m *memoryContainerStore) Save(data []byte) error {
	m.data = append([]byte(nil), data...)
	return nil
}
