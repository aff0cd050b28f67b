package flowstore

import (
	"encoding/json"
	"fmt"
	"log"

	bolt "go.etcd.io/bbolt"

	"github.com/laplaque/mitmcore/internal/flow"
)

// flowRecord is the JSON-serializable projection of a Flow persisted by
// BoltSink — a subset safe to marshal (method, host, path, status code and
// timing; neither headers nor bodies are mirrored).
type flowRecord struct {
	ID         string `json:"id"`
	ReceivedAt string `json:"receivedAt"`
	ClientAddr string `json:"clientAddr"`
	Method     string `json:"method,omitempty"`
	Host       string `json:"host,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
	DurationMs int64  `json:"durationMs"`
	Status     string `json:"status"`
	FailureKind string `json:"failureKind,omitempty"`
}

const boltBucket = "flows"

// BoltSink mirrors completed/failed flows into an embedded bbolt database,
// giving an embedder a crash-safe audit trail beyond the store's in-memory,
// bounded retention (spec §1 Non-goals: "any persistence of flows beyond an
// in-memory store ... defined by the embedder" — this is that embedder
// extension, off by default). Modeled on the teacher's bboltCache
// (internal/anonymizer/cache.go): same open-or-create, ensure-bucket, and
// best-effort logging-on-error style.
type BoltSink struct {
	db *bolt.DB
}

// NewBoltSink opens (or creates) the bbolt database at path.
func NewBoltSink(path string) (*BoltSink, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt flow sink %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(boltBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create bbolt flows bucket: %w", err)
	}
	return &BoltSink{db: db}, nil
}

// Record writes f's projection to the bucket, keyed by flow id. Errors are
// logged, not returned: a sink failure must never affect the flow loop.
func (b *BoltSink) Record(f *flow.Flow) {
	rec := flowRecord{
		ID:          f.ID.String(),
		ReceivedAt:  f.ReceivedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		ClientAddr:  f.ClientAddr,
		DurationMs:  f.Duration.Milliseconds(),
		Status:      f.Status.String(),
		FailureKind: f.FailureKind,
	}
	if f.Request != nil {
		rec.Method = f.Request.Method
		rec.Host = f.Request.Host()
		if f.Request.URL != nil {
			rec.Path = f.Request.URL.Path
		}
	}
	if f.Response != nil {
		rec.StatusCode = f.Response.StatusCode
	}

	data, err := json.Marshal(rec)
	if err != nil {
		log.Printf("[FLOWSTORE] marshal error for flow %s: %v", rec.ID, err)
		return
	}

	if err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(boltBucket)).Put([]byte(rec.ID), data)
	}); err != nil {
		log.Printf("[FLOWSTORE] bbolt write error for flow %s: %v", rec.ID, err)
	}
}

// Close releases the underlying database handle.
func (b *BoltSink) Close() error { return b.db.Close() }
