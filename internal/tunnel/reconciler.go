package tunnel

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/events"
	"github.com/trafegodns/trafegodns/internal/metrics"
	"github.com/trafegodns/trafegodns/internal/ownership"
	"github.com/trafegodns/trafegodns/internal/policy"
	"github.com/trafegodns/trafegodns/internal/types"
	"github.com/trafegodns/trafegodns/pkg/labels"
)

// LedgerProvider is the ledger namespace for tunnel ingress ownership, kept
// apart from the cloudflare DNS adapter's entries.
const LedgerProvider = "cloudflare-tunnel"

// defaultAPITimeout bounds individual tunnel API calls.
const defaultAPITimeout = time.Minute

// Options configures a tunnel Reconciler.
type Options struct {
	Client   ConfigClient
	TunnelID string
	Ledger   ownership.Ledger
	Policy   *policy.Store
	Bus      *events.Bus

	// LabelPrefix is the container label prefix, e.g. "trafegodns".
	LabelPrefix string

	// APITimeout bounds each tunnel API call. Defaults to one minute.
	APITimeout time.Duration
}

// Report summarizes one tunnel reconciliation cycle.
type Report struct {
	Added     int
	Updated   int
	Removed   int
	Unchanged int
	Deployed  bool
}

// Reconciler keeps the tunnel's ingress list in sync with the hostnames
// containers opt into via labels. The list is rewritten as a whole, never
// patched, so a crashed cycle leaves either the old or the new list.
type Reconciler struct {
	opts   Options
	parser *labels.Parser

	mu sync.Mutex // serializes cycles

	desiredMu sync.RWMutex
	desired   []types.TunnelDesired
}

// New creates a tunnel Reconciler. Tunnel labels live under the cloudflare
// provider segment of the label grammar.
func New(opts Options) *Reconciler {
	if opts.APITimeout <= 0 {
		opts.APITimeout = defaultAPITimeout
	}
	return &Reconciler{
		opts:   opts,
		parser: labels.NewParser(opts.LabelPrefix, "cloudflare", labels.Defaults{}),
	}
}

// TunnelID returns the managed tunnel's ID.
func (r *Reconciler) TunnelID() string { return r.opts.TunnelID }

// CompanionRecords returns the proxied CNAMEs pointing each tunneled hostname
// at the tunnel endpoint. The DNS reconciler folds them into its desired set.
func (r *Reconciler) CompanionRecords() []types.DesiredRecord {
	r.desiredMu.RLock()
	defer r.desiredMu.RUnlock()

	records := make([]types.DesiredRecord, 0, len(r.desired))
	for _, d := range r.desired {
		records = append(records, types.DesiredRecord{
			Record: types.Record{
				Type:    types.TypeCNAME,
				Name:    d.Hostname,
				Content: types.TunnelEndpoint(r.opts.TunnelID),
				TTL:     1,
				Proxied: true,
			},
			Source:   types.SourceManaged,
			SourceID: "tunnel:" + r.opts.TunnelID,
		})
	}
	return records
}

// ReconcileOnce runs one cycle against the given source snapshot.
func (r *Reconciler) ReconcileOnce(ctx context.Context, snapshot types.Snapshot) (*Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	report := &Report{}
	desired := r.desiredFromSnapshot(snapshot)

	fetchCtx, cancel := context.WithTimeout(ctx, r.opts.APITimeout)
	current, err := r.opts.Client.FetchIngress(fetchCtx, r.opts.TunnelID)
	cancel()
	if err != nil {
		log.Error().Err(err).Str("tunnelId", r.opts.TunnelID).Msg("Failed to fetch tunnel ingress")
		return report, err
	}

	body, tail := splitCatchAll(current)

	pending := make(map[string]types.TunnelDesired, len(desired))
	for _, d := range desired {
		pending[d.Hostname] = d
	}

	next := make([]types.IngressRule, 0, len(body)+len(pending))
	var removed []removedRule
	for _, rule := range body {
		hostname := types.CanonicalName(rule.Hostname)

		if d, ok := pending[hostname]; ok {
			delete(pending, hostname)
			if rule.Service == d.Service && rule.Path == d.Path {
				report.Unchanged++
				next = append(next, rule)
				continue
			}
			report.Updated++
			next = append(next, types.IngressRule{Hostname: hostname, Service: d.Service, Path: d.Path})
			continue
		}

		if !snapshot.Healthy || !r.ownsRule(ctx, hostname) || r.opts.Policy.ShouldPreserve(hostname) {
			next = append(next, rule)
			continue
		}
		report.Removed++
		removed = append(removed, removedRule{rule: rule, hostname: hostname})
	}

	added := make([]types.TunnelDesired, 0, len(pending))
	for _, d := range pending {
		added = append(added, d)
	}
	sort.Slice(added, func(i, j int) bool { return added[i].Hostname < added[j].Hostname })
	for _, d := range added {
		report.Added++
		next = append(next, types.IngressRule{Hostname: d.Hostname, Service: d.Service, Path: d.Path})
	}

	if report.Added+report.Updated+report.Removed > 0 {
		if err := r.deploy(ctx, append(next, tail), removed, desired); err != nil {
			return report, err
		}
		report.Deployed = true
	}

	r.setDesired(desired)
	metrics.TunnelIngressRules.Set(float64(len(next)))

	log.Debug().
		Str("tunnelId", r.opts.TunnelID).
		Int("added", report.Added).
		Int("updated", report.Updated).
		Int("removed", report.Removed).
		Int("unchanged", report.Unchanged).
		Msg("Tunnel reconciliation complete")
	return report, nil
}

type removedRule struct {
	rule     types.IngressRule
	hostname string
}

// deploy untracks removed hostnames, rewrites the list, then tracks the
// surviving ones. Untracking happens before the rewrite so a crash cannot
// leave an owned entry for a rule that is gone; a failed rewrite re-tracks.
func (r *Reconciler) deploy(ctx context.Context, rules []types.IngressRule, removed []removedRule, desired []types.TunnelDesired) error {
	for _, rm := range removed {
		if err := r.opts.Ledger.Untrack(ctx, LedgerProvider, ruleRecord(rm.hostname, rm.rule.Service)); err != nil {
			log.Warn().Err(err).Str("hostname", rm.hostname).Msg("Failed to untrack removed ingress rule")
		}
	}

	updateCtx, cancel := context.WithTimeout(ctx, r.opts.APITimeout)
	err := r.opts.Client.ReplaceIngress(updateCtx, r.opts.TunnelID, rules)
	cancel()
	if err != nil {
		for _, rm := range removed {
			if trackErr := r.opts.Ledger.Track(ctx, LedgerProvider, ruleRecord(rm.hostname, rm.rule.Service), ownership.CreatedBySelf, true); trackErr != nil {
				log.Warn().Err(trackErr).Str("hostname", rm.hostname).Msg("Failed to restore ingress ownership after rewrite failure")
			}
		}
		log.Error().Err(err).Str("tunnelId", r.opts.TunnelID).Msg("Failed to deploy tunnel ingress")
		return err
	}

	for _, d := range desired {
		if err := r.opts.Ledger.Track(ctx, LedgerProvider, ruleRecord(d.Hostname, d.Service), ownership.CreatedBySelf, true); err != nil {
			log.Warn().Err(err).Str("hostname", d.Hostname).Msg("Failed to track ingress rule, will retry next cycle")
		}
		r.publish(events.TopicTunnelDeployed, d.Hostname, d.Service)
	}
	for _, rm := range removed {
		r.publish(events.TopicTunnelDeleted, rm.hostname, rm.rule.Service)
	}
	return nil
}

func (r *Reconciler) publish(topic, hostname, service string) {
	if r.opts.Bus == nil {
		return
	}
	r.opts.Bus.Publish(topic, map[string]any{
		"tunnelId": r.opts.TunnelID,
		"hostname": hostname,
		"service":  service,
	})
}

// desiredFromSnapshot collects tunnel opt-ins from container labels. Two
// containers claiming the same hostname resolve to the alphabetically first
// source so the outcome is stable across cycles.
func (r *Reconciler) desiredFromSnapshot(snapshot types.Snapshot) []types.TunnelDesired {
	byHostname := make(map[string]types.TunnelDesired)
	for _, c := range snapshot.Containers {
		result := r.parser.Parse(c.Labels, c.ID)
		for _, err := range result.Errors {
			log.Warn().Err(err).Str("containerId", c.ID).Msg("Skipping invalid tunnel label")
		}
		for _, d := range result.Tunnels {
			existing, ok := byHostname[d.Hostname]
			if !ok {
				byHostname[d.Hostname] = d
				continue
			}
			if existing.Service == d.Service && existing.Path == d.Path {
				continue
			}
			if d.SourceID < existing.SourceID {
				byHostname[d.Hostname] = d
				existing, d = d, existing
			}
			log.Warn().
				Str("hostname", d.Hostname).
				Str("winner", existing.SourceID).
				Str("loser", d.SourceID).
				Msg("Conflicting tunnel labels for hostname")
		}
	}

	desired := make([]types.TunnelDesired, 0, len(byHostname))
	for _, d := range byHostname {
		desired = append(desired, d)
	}
	sort.Slice(desired, func(i, j int) bool { return desired[i].Hostname < desired[j].Hostname })
	return desired
}

func (r *Reconciler) setDesired(desired []types.TunnelDesired) {
	r.desiredMu.Lock()
	r.desired = desired
	r.desiredMu.Unlock()
}

// ownsRule reports whether the ledger holds an engine-owned entry for the
// hostname. Rules added out-of-band stay untouched.
func (r *Reconciler) ownsRule(ctx context.Context, hostname string) bool {
	entry, err := r.opts.Ledger.Get(ctx, LedgerProvider, types.TypeCNAME, hostname)
	if err != nil {
		log.Warn().Err(err).Str("hostname", hostname).Msg("Ownership lookup failed, keeping ingress rule")
		return false
	}
	return entry != nil && entry.Owned()
}

// ruleRecord is the ledger representation of an ingress rule.
func ruleRecord(hostname, service string) types.Record {
	return types.Record{Type: types.TypeCNAME, Name: hostname, Content: service}
}

// splitCatchAll separates the hostname rules from the trailing catch-all. A
// list without one gets the default catch-all synthesized.
func splitCatchAll(rules []types.IngressRule) (body []types.IngressRule, tail types.IngressRule) {
	tail = types.IngressRule{Service: types.CatchAllService}
	for _, rule := range rules {
		if rule.IsCatchAll() {
			tail = rule
			continue
		}
		body = append(body, rule)
	}
	return body, tail
}
