// Package ownership provides the durable ledger that records which DNS
// records this engine created. Only owned records are eligible for orphan
// cleanup.
package ownership

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/trafegodns/trafegodns/internal/types"
)

// CreatedBySelf is the createdBy value for records this engine created.
const CreatedBySelf = "trafegodns"

// CreatedByExternal marks entries adopted for records created out-of-band.
const CreatedByExternal = "external"

// Entry is one ledger row.
type Entry struct {
	ID                 string           `json:"id"`
	Provider           string           `json:"provider"`
	Type               types.RecordType `json:"type"`
	Name               string           `json:"name"`
	ContentFingerprint string           `json:"content_fingerprint"`
	CreatedBy          string           `json:"created_by"`
	AppManaged         bool             `json:"app_managed"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Owned reports whether the entry marks an engine-owned record.
func (e *Entry) Owned() bool {
	return e.CreatedBy == CreatedBySelf && e.AppManaged
}

// Fingerprint hashes record content so the ledger never stores raw values
// (TXT records can carry secrets).
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:8])
}

// Ledger is the persistence contract. Implementations serialize concurrent
// access per provider and survive process restart.
//
// Write ordering callers rely on: the entry for a newly created record is
// written after the provider confirms the creation; the entry for a deletion
// is removed before the provider delete is issued.
type Ledger interface {
	// Initialize prepares the store (schema, migrations).
	Initialize(ctx context.Context) error

	// Close releases the store.
	Close() error

	// Track records ownership of a record. Re-tracking an existing entry
	// updates its fingerprint and timestamps but never downgrades an
	// appManaged=true entry and never overwrites createdBy.
	Track(ctx context.Context, provider string, record types.Record, createdBy string, appManaged bool) error

	// Untrack removes the entry for a record.
	Untrack(ctx context.Context, provider string, record types.Record) error

	// IsOwned reports whether an owned entry exists for the identity.
	IsOwned(ctx context.Context, provider string, recordType types.RecordType, name string) (bool, error)

	// Get returns the entry for an identity, or nil.
	Get(ctx context.Context, provider string, recordType types.RecordType, name string) (*Entry, error)

	// List returns all entries for a provider.
	List(ctx context.Context, provider string) ([]*Entry, error)
}
