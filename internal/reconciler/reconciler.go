// Package reconciler drives one DNS provider toward the desired record set
// derived from the latest source snapshot, the managed hostname list, and the
// tunnel companion records.
package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/events"
	"github.com/trafegodns/trafegodns/internal/metrics"
	"github.com/trafegodns/trafegodns/internal/ownership"
	"github.com/trafegodns/trafegodns/internal/policy"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
	"github.com/trafegodns/trafegodns/pkg/labels"
	"github.com/trafegodns/trafegodns/pkg/traefik"
)

// IPResolver supplies the public addresses for records flagged needsIpLookup.
type IPResolver interface {
	PublicIPv4(ctx context.Context) (string, error)
	PublicIPv6(ctx context.Context) (string, error)
}

// RecordError is one per-record failure in a cycle report.
type RecordError struct {
	Name   string           `json:"name"`
	Type   types.RecordType `json:"type"`
	Reason string           `json:"reason"`
}

// Report summarizes one reconcile cycle.
type Report struct {
	Provider  string        `json:"provider"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	UpToDate  int           `json:"upToDate"`
	Deleted   int           `json:"deleted"`
	Errors    []RecordError `json:"errors,omitempty"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped,omitempty"`
}

// Options configures a per-provider reconciler.
type Options struct {
	Adapter  provider.Adapter
	Ledger   ownership.Ledger
	Policy   *policy.Store
	Resolver IPResolver
	Bus      *events.Bus

	LabelPrefix string
	Defaults    labels.Defaults

	// APITimeout bounds each adapter stage of a cycle.
	APITimeout time.Duration

	// CleanupOrphaned is read at cycle time so the API can toggle it live.
	CleanupOrphaned func() bool

	// Companion supplies extra desired records (tunnel CNAMEs). Optional.
	Companion func() []types.DesiredRecord
}

// Reconciler reconciles one provider. Cycles for the same provider are
// strictly serial; distinct providers run in parallel.
type Reconciler struct {
	opts   Options
	parser *labels.Parser

	mu sync.Mutex // reconcile mutex, one cycle in flight

	stateMu    sync.RWMutex
	degraded   bool
	lastReport Report
}

// New creates a reconciler for the adapter in opts.
func New(opts Options) *Reconciler {
	if opts.APITimeout <= 0 {
		opts.APITimeout = time.Minute
	}
	if opts.CleanupOrphaned == nil {
		opts.CleanupOrphaned = func() bool { return false }
	}
	return &Reconciler{
		opts:   opts,
		parser: labels.NewParser(opts.LabelPrefix, opts.Adapter.Name(), opts.Defaults),
	}
}

// Provider returns the adapter name.
func (r *Reconciler) Provider() string { return r.opts.Adapter.Name() }

// Degraded reports whether the adapter is skipping cycles after an auth
// failure.
func (r *Reconciler) Degraded() bool {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.degraded
}

// LastReport returns the most recent cycle report.
func (r *Reconciler) LastReport() Report {
	r.stateMu.RLock()
	defer r.stateMu.RUnlock()
	return r.lastReport
}

// ReconcileOnce runs one full cycle against the snapshot: desired set
// construction, IP resolution, cache warm-up, batch dispatch, ownership
// updates, orphan cleanup, report.
func (r *Reconciler) ReconcileOnce(ctx context.Context, snapshot types.Snapshot) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := Report{Provider: r.Provider(), StartedAt: time.Now()}
	defer func() {
		report.Duration = time.Since(report.StartedAt)
		r.stateMu.Lock()
		r.lastReport = report
		r.stateMu.Unlock()
	}()

	if r.Degraded() && !r.recover(ctx) {
		report.Skipped = true
		metrics.ReconciliationsTotal.WithLabelValues(r.Provider(), "skipped").Inc()
		return report
	}

	timer := metrics.NewReconcileTimer(r.Provider())
	defer timer.ObserveDuration()

	desired := r.desiredSet(ctx, snapshot, &report)

	if err := r.warmCache(ctx); err != nil {
		log.Error().Err(err).Str("provider", r.Provider()).Msg("Record cache refresh failed")
		r.noteAdapterError(err, &report, types.Record{})
		metrics.ReconciliationsTotal.WithLabelValues(r.Provider(), "error").Inc()
		return report
	}

	r.dispatch(ctx, desired, &report)

	if r.opts.CleanupOrphaned() && snapshot.Healthy {
		r.cleanupOrphans(ctx, desired, &report)
	} else if r.opts.CleanupOrphaned() {
		log.Warn().
			Str("provider", r.Provider()).
			Msg("Source snapshot unhealthy, skipping orphan cleanup")
	}

	status := "ok"
	if len(report.Errors) > 0 {
		status = "partial"
	}
	metrics.ReconciliationsTotal.WithLabelValues(r.Provider(), status).Inc()

	if r.opts.Bus != nil {
		r.opts.Bus.Publish(events.TopicRecordsUpdated, map[string]any{
			"provider": report.Provider,
			"created":  report.Created,
			"updated":  report.Updated,
			"upToDate": report.UpToDate,
			"deleted":  report.Deleted,
			"errors":   len(report.Errors),
		})
	}

	log.Info().
		Str("provider", r.Provider()).
		Int("created", report.Created).
		Int("updated", report.Updated).
		Int("up_to_date", report.UpToDate).
		Int("deleted", report.Deleted).
		Int("errors", len(report.Errors)).
		Dur("duration", report.Duration).
		Msg("Reconcile cycle finished")
	return report
}

// recover retries the connection of a degraded adapter. Returns true when the
// adapter is healthy again.
func (r *Reconciler) recover(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, r.opts.APITimeout)
	defer cancel()

	if err := r.opts.Adapter.TestConnection(ctx); err != nil {
		log.Warn().Err(err).Str("provider", r.Provider()).Msg("Adapter still degraded, skipping cycle")
		return false
	}

	r.setDegraded(false)
	log.Info().Str("provider", r.Provider()).Msg("Adapter connection restored")
	return true
}

func (r *Reconciler) setDegraded(degraded bool) {
	r.stateMu.Lock()
	r.degraded = degraded
	r.stateMu.Unlock()

	healthy := 1.0
	if degraded {
		healthy = 0
	}
	metrics.ProviderHealthy.WithLabelValues(r.Provider()).Set(healthy)
}

// desiredSet builds the merged desired records for this cycle: source-derived
// records, managed hostnames, and tunnel companions, with IP lookups resolved
// and identity collisions tie-broken.
func (r *Reconciler) desiredSet(ctx context.Context, snapshot types.Snapshot, report *Report) []types.DesiredRecord {
	var all []types.DesiredRecord

	switch snapshot.Mode {
	case types.ModeTraefik:
		all = append(all, traefik.RecordsFromRouters(snapshot.Routers, r.opts.Defaults)...)
	default:
		for _, c := range snapshot.Containers {
			result := r.parser.Parse(c.Labels, c.ID)
			for _, err := range result.Errors {
				log.Warn().Err(err).Str("container", c.Name).Msg("Label parsing error")
				report.Errors = append(report.Errors, RecordError{Reason: err.Error()})
			}
			all = append(all, result.Records...)
		}
	}

	for _, m := range r.opts.Policy.ManagedHostnames() {
		if m.Type == "" {
			continue
		}
		all = append(all, m)
	}
	if r.opts.Companion != nil {
		all = append(all, r.opts.Companion()...)
	}

	all = mergeDesired(all)
	return r.resolveIPs(ctx, all, report)
}

// mergeDesired collapses identity collisions: managed beats traefik beats
// container, ties broken alphabetically by sourceId.
func mergeDesired(records []types.DesiredRecord) []types.DesiredRecord {
	byIdentity := make(map[string]types.DesiredRecord)
	var order []string

	for _, d := range records {
		key := d.IdentityKey()
		existing, seen := byIdentity[key]
		if !seen {
			order = append(order, key)
			byIdentity[key] = d
			continue
		}
		if wins(d, existing) {
			byIdentity[key] = d
		}
	}

	out := make([]types.DesiredRecord, 0, len(order))
	for _, key := range order {
		out = append(out, byIdentity[key])
	}
	return out
}

func wins(a, b types.DesiredRecord) bool {
	ra, rb := types.SourceRank(a.Source), types.SourceRank(b.Source)
	if ra != rb {
		return ra < rb
	}
	return a.SourceID < b.SourceID
}

// resolveIPs fills in needsIpLookup records; a resolver failure drops the
// affected family's records with per-hostname errors and the cycle continues.
func (r *Reconciler) resolveIPs(ctx context.Context, desired []types.DesiredRecord, report *Report) []types.DesiredRecord {
	needV4, needV6 := false, false
	for _, d := range desired {
		if d.NeedsIPLookup {
			switch d.Type {
			case types.TypeA:
				needV4 = true
			case types.TypeAAAA:
				needV6 = true
			}
		}
	}
	if !needV4 && !needV6 {
		return desired
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.APITimeout)
	defer cancel()

	var ipv4, ipv6 string
	var errV4, errV6 error
	if needV4 {
		ipv4, errV4 = r.opts.Resolver.PublicIPv4(ctx)
		if errV4 != nil {
			log.Error().Err(errV4).Msg("Public IPv4 resolution failed")
		}
	}
	if needV6 {
		ipv6, errV6 = r.opts.Resolver.PublicIPv6(ctx)
		if errV6 != nil {
			log.Error().Err(errV6).Msg("Public IPv6 resolution failed")
		}
	}

	out := desired[:0]
	for _, d := range desired {
		if !d.NeedsIPLookup {
			out = append(out, d)
			continue
		}
		switch d.Type {
		case types.TypeA:
			if errV4 != nil {
				report.Errors = append(report.Errors, RecordError{Name: d.Name, Type: d.Type, Reason: "public IPv4 unavailable: " + errV4.Error()})
				continue
			}
			d.Content = ipv4
		case types.TypeAAAA:
			if errV6 != nil {
				report.Errors = append(report.Errors, RecordError{Name: d.Name, Type: d.Type, Reason: "public IPv6 unavailable: " + errV6.Error()})
				continue
			}
			d.Content = ipv6
		}
		d.NeedsIPLookup = false
		out = append(out, d)
	}
	return out
}

func (r *Reconciler) warmCache(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.APITimeout)
	defer cancel()

	// Records applies the freshness horizon itself; no force here.
	_, err := r.opts.Adapter.Cache().Records(ctx, false)
	return err
}

// RefreshCache forces a full cache reload outside the cycle cadence.
func (r *Reconciler) RefreshCache(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opts.APITimeout)
	defer cancel()

	_, err := r.opts.Adapter.RefreshRecordCache(ctx)
	if err == nil && r.opts.Bus != nil {
		r.opts.Bus.Publish(events.TopicCacheRefreshed, map[string]any{"provider": r.Provider()})
	}
	return err
}

// dispatch hands the desired rows to the adapter and folds the results into
// the report, the ledger, and the bus.
func (r *Reconciler) dispatch(ctx context.Context, desired []types.DesiredRecord, report *Report) {
	if len(desired) == 0 {
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, r.opts.APITimeout)
	defer cancel()

	caps := r.opts.Adapter.Info()
	rows := make([]types.DesiredRecord, 0, len(desired))
	for _, d := range desired {
		if r.opts.Policy.ShouldPreserve(types.CanonicalName(d.Name)) {
			if _, found := r.opts.Adapter.Cache().Find(d.Type, d.Name); found {
				// Preserved hostnames are never modified; the existing
				// record stands even when the sources want new content.
				report.UpToDate++
				metrics.RecordsUpToDateTotal.WithLabelValues(r.Provider()).Inc()
				log.Debug().
					Str("provider", r.Provider()).
					Str("name", d.Name).
					Msg("Hostname preserved, leaving existing record untouched")
				continue
			}
		}
		if caps.SupportsOwnershipMarker {
			d.Comment = provider.OwnershipComment
		}
		rows = append(rows, d)
	}
	if len(rows) == 0 {
		return
	}

	results := r.opts.Adapter.BatchEnsureRecords(callCtx, rows)
	for _, result := range results {
		switch result.Action {
		case provider.ActionCreated:
			report.Created++
			metrics.RecordsCreatedTotal.WithLabelValues(r.Provider()).Inc()
			r.track(ctx, result.Record, ownership.CreatedBySelf)
			r.publishRecord(events.TopicRecordCreated, result.Record)
		case provider.ActionUpdated:
			report.Updated++
			metrics.RecordsUpdatedTotal.WithLabelValues(r.Provider()).Inc()
			r.track(ctx, result.Record, ownership.CreatedBySelf)
			r.publishRecord(events.TopicRecordUpdated, result.Record)
		case provider.ActionUnchanged:
			report.UpToDate++
			metrics.RecordsUpToDateTotal.WithLabelValues(r.Provider()).Inc()
			r.adopt(ctx, result.Record)
		case provider.ActionFailed:
			if provider.IsOutOfZone(result.Err) {
				// Not this adapter's zone; another provider may carry it.
				continue
			}
			r.noteAdapterError(result.Err, report, result.Desired.Record)
		}
	}
}

// track writes an ownership entry after the provider confirmed the mutation.
// A ledger failure here is logged only; the entry self-heals next cycle.
func (r *Reconciler) track(ctx context.Context, record types.Record, createdBy string) {
	if err := r.opts.Ledger.Track(ctx, r.Provider(), record, createdBy, true); err != nil {
		log.Error().Err(err).
			Str("provider", r.Provider()).
			Str("name", record.Name).
			Msg("Ownership ledger write failed, will retry next cycle")
	}
}

// adopt marks a pre-existing record that matches a desired row. The entry is
// created as external so adoption never makes the record delete-eligible;
// createdBy of an existing entry is never overwritten.
func (r *Reconciler) adopt(ctx context.Context, record types.Record) {
	entry, err := r.opts.Ledger.Get(ctx, r.Provider(), record.Type, record.Name)
	if err != nil {
		log.Error().Err(err).Str("provider", r.Provider()).Str("name", record.Name).Msg("Ownership lookup failed")
		return
	}
	if entry != nil && entry.AppManaged {
		return
	}
	createdBy := ownership.CreatedByExternal
	if entry != nil {
		createdBy = entry.CreatedBy
	}
	r.track(ctx, record, createdBy)
}

// noteAdapterError records a per-record failure and degrades the adapter on
// auth errors.
func (r *Reconciler) noteAdapterError(err error, report *Report, record types.Record) {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	report.Errors = append(report.Errors, RecordError{Name: record.Name, Type: record.Type, Reason: reason})
	metrics.RecordErrorsTotal.WithLabelValues(r.Provider(), "ensure").Inc()

	if provider.IsAuth(err) {
		log.Error().Err(err).Str("provider", r.Provider()).Msg("Authentication failure, marking adapter degraded")
		r.setDegraded(true)
	}
	if r.opts.Bus != nil {
		r.opts.Bus.Publish(events.TopicErrorOccurred, map[string]any{
			"provider": r.Provider(),
			"name":     record.Name,
			"reason":   reason,
		})
	}
}

// cleanupOrphans deletes owned records whose hostname left the desired set.
// The ledger entry is removed before the provider delete; a failed delete
// re-tracks the entry so the record stays owned.
func (r *Reconciler) cleanupOrphans(ctx context.Context, desired []types.DesiredRecord, report *Report) {
	desiredHostnames := make(map[string]struct{}, len(desired))
	for _, d := range desired {
		desiredHostnames[types.CanonicalName(d.Name)] = struct{}{}
	}

	cacheCtx, cancel := context.WithTimeout(ctx, r.opts.APITimeout)
	records, err := r.opts.Adapter.Cache().Records(cacheCtx, false)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("provider", r.Provider()).Msg("Cache read for orphan cleanup failed")
		return
	}

	for _, record := range records {
		name := types.CanonicalName(record.Name)
		if _, ok := desiredHostnames[name]; ok {
			continue
		}
		if r.opts.Policy.ShouldPreserve(name) {
			continue
		}

		entry, err := r.opts.Ledger.Get(ctx, r.Provider(), record.Type, record.Name)
		if err != nil {
			log.Error().Err(err).Str("provider", r.Provider()).Str("name", name).Msg("Ownership lookup failed")
			continue
		}
		if entry == nil || !entry.Owned() {
			continue
		}

		if err := r.opts.Ledger.Untrack(ctx, r.Provider(), record); err != nil {
			log.Error().Err(err).Str("provider", r.Provider()).Str("name", name).Msg("Ledger untrack failed, skipping delete")
			continue
		}

		deleteCtx, cancel := context.WithTimeout(ctx, r.opts.APITimeout)
		err = r.opts.Adapter.DeleteRecord(deleteCtx, record.ExternalID)
		cancel()
		if err != nil {
			// Restore the entry so the record stays owned and is retried.
			r.track(ctx, record, entry.CreatedBy)
			r.noteAdapterError(err, report, record)
			continue
		}

		report.Deleted++
		metrics.RecordsDeletedTotal.WithLabelValues(r.Provider()).Inc()
		r.publishRecord(events.TopicRecordDeleted, record)
		log.Info().
			Str("provider", r.Provider()).
			Str("name", name).
			Str("type", string(record.Type)).
			Msg("Deleted orphaned record")
	}
}

func (r *Reconciler) publishRecord(topic string, record types.Record) {
	if r.opts.Bus == nil {
		return
	}
	r.opts.Bus.Publish(topic, map[string]any{
		"provider": r.Provider(),
		"name":     record.Name,
		"type":     string(record.Type),
		"content":  record.Content,
	})
}
