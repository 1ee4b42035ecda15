// Package provider defines the adapter contract every DNS backend implements,
// the per-provider record cache, and the record equality rules used for
// diffing.
package provider

import (
	"context"

	"github.com/trafegodns/trafegodns/internal/types"
)

// OwnershipComment is the marker written into a record comment on providers
// that support one.
const OwnershipComment = "Managed by TrafegoDNS"

// Capabilities describes what a concrete provider supports. The reconciler
// treats adapters uniformly and consults this struct for the differences.
type Capabilities struct {
	// Proxied is true when the provider supports origin proxying (Cloudflare).
	Proxied bool `json:"proxied"`

	// TTLMin and TTLMax bound acceptable TTLs; 0 means unbounded.
	TTLMin int `json:"ttl_min"`
	TTLMax int `json:"ttl_max"`

	// SupportedTypes lists the record types the provider accepts.
	SupportedTypes []types.RecordType `json:"supported_types"`

	// BatchOperations is true when the provider has a native atomic batch
	// (Route53 change batches).
	BatchOperations bool `json:"batch_operations"`

	// SupportsOwnershipMarker is true when the provider can carry the
	// ownership comment on records.
	SupportsOwnershipMarker bool `json:"supports_ownership_marker"`

	// StableIDs is true when the provider assigns stable record IDs.
	// Adapters without stable IDs synthesize them.
	StableIDs bool `json:"stable_ids"`
}

// Supports reports whether the provider accepts the record type.
func (c Capabilities) Supports(t types.RecordType) bool {
	for _, s := range c.SupportedTypes {
		if s == t {
			return true
		}
	}
	return false
}

// EnsureAction classifies the outcome of one row of a batch ensure.
type EnsureAction string

const (
	ActionCreated   EnsureAction = "created"
	ActionUpdated   EnsureAction = "updated"
	ActionUnchanged EnsureAction = "unchanged"
	ActionFailed    EnsureAction = "failed"
)

// EnsureResult is the per-record outcome of BatchEnsureRecords.
type EnsureResult struct {
	Desired types.DesiredRecord
	Action  EnsureAction
	Record  types.Record // the provider state after the operation
	Err     error
}

// ListFilter narrows ListRecords output. Zero values match everything.
type ListFilter struct {
	Type types.RecordType
	Name string
}

// Matches reports whether a record passes the filter.
func (f ListFilter) Matches(r types.Record) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Name != "" && types.CanonicalName(r.Name) != types.CanonicalName(f.Name) {
		return false
	}
	return true
}

// Adapter is the uniform contract over DNS backends.
//
// Every mutation keeps the adapter's record cache coherent before returning:
// a created or updated record is present in the cache, a deleted record is
// absent.
type Adapter interface {
	// Name returns the provider name ("cloudflare", "route53", ...).
	Name() string

	// Zone returns the zone this adapter manages ("all" for Pi-hole).
	Zone() string

	// Init prepares the adapter (client setup, zone resolution).
	Init(ctx context.Context) error

	// TestConnection verifies credentials and reachability.
	TestConnection(ctx context.Context) error

	// RefreshRecordCache reloads the full record list from the provider into
	// the cache and returns it.
	RefreshRecordCache(ctx context.Context) ([]types.Record, error)

	// ListRecords returns records from the cache, refreshing it first when
	// stale, filtered by f.
	ListRecords(ctx context.Context, f ListFilter) ([]types.Record, error)

	// CreateRecord creates one record.
	CreateRecord(ctx context.Context, d types.DesiredRecord) (types.Record, error)

	// UpdateRecord updates the record identified by id.
	UpdateRecord(ctx context.Context, id string, d types.DesiredRecord) (types.Record, error)

	// DeleteRecord deletes the record identified by id. Deleting a record
	// that is already gone is not an error.
	DeleteRecord(ctx context.Context, id string) error

	// BatchEnsureRecords brings the provider to the desired state for the
	// given rows, returning one result per row. Providers with a native
	// batch submit atomically; others apply per record.
	BatchEnsureRecords(ctx context.Context, desired []types.DesiredRecord) []EnsureResult

	// Info returns the provider capability flags.
	Info() Capabilities

	// Cache exposes the adapter-owned record cache.
	Cache() *RecordCache
}
