// Package route53 implements the provider adapter for AWS Route53.
//
// Route53 has no per-record IDs; records are addressed by (name, type) and
// the adapter synthesizes "name:type" external IDs. All mutations go through
// ChangeResourceRecordSets, which applies a change batch atomically, so the
// adapter collects changes and submits them in batches of at most
// maxBatchSize.
package route53

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/route53"
	route53types "github.com/aws/aws-sdk-go-v2/service/route53/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/config"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

// maxBatchSize is the Route53 limit on changes per ChangeResourceRecordSets
// call.
const maxBatchSize = 100

// defaultTTL replaces the "automatic" TTL sentinel; Route53 has no automatic
// TTL.
const defaultTTL = 300

// api is the subset of the Route53 client the adapter uses.
type api interface {
	ChangeResourceRecordSets(ctx context.Context, params *route53.ChangeResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ChangeResourceRecordSetsOutput, error)
	ListResourceRecordSets(ctx context.Context, params *route53.ListResourceRecordSetsInput, optFns ...func(*route53.Options)) (*route53.ListResourceRecordSetsOutput, error)
	ListHostedZonesByName(ctx context.Context, params *route53.ListHostedZonesByNameInput, optFns ...func(*route53.Options)) (*route53.ListHostedZonesByNameOutput, error)
}

// Adapter manages records in one Route53 hosted zone.
type Adapter struct {
	cfg   config.Route53Config
	zone  string
	cache *provider.RecordCache

	mu     sync.Mutex
	r53    api
	zoneID string
}

// New creates a Route53 adapter from configuration. The AWS client is built
// lazily in Init so construction never touches the credential chain.
func New(cfg config.Route53Config, cacheHorizon time.Duration) *Adapter {
	a := &Adapter{
		cfg:    cfg,
		zone:   types.CanonicalName(cfg.Zone),
		zoneID: cfg.ZoneID,
	}
	a.cache = provider.NewRecordCache(a.Name(), cacheHorizon, a.fetchAll)
	return a
}

func (a *Adapter) Name() string { return "route53" }
func (a *Adapter) Zone() string { return a.zone }

// Info returns Route53 capability flags.
func (a *Adapter) Info() provider.Capabilities {
	return provider.Capabilities{
		TTLMin: 1,
		SupportedTypes: []types.RecordType{
			types.TypeA, types.TypeAAAA, types.TypeCNAME, types.TypeTXT,
			types.TypeMX, types.TypeNS, types.TypeSRV, types.TypeCAA,
		},
		BatchOperations: true,
	}
}

// Cache returns the adapter's record cache.
func (a *Adapter) Cache() *provider.RecordCache { return a.cache }

// Init builds the AWS client and resolves the hosted zone ID.
func (a *Adapter) Init(ctx context.Context) error {
	a.mu.Lock()
	if a.r53 == nil {
		var opts []func(*awsconfig.LoadOptions) error
		if a.cfg.Region != "" {
			opts = append(opts, awsconfig.WithRegion(a.cfg.Region))
		}
		if a.cfg.AccessKey != "" {
			opts = append(opts, awsconfig.WithCredentialsProvider(
				aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(a.cfg.AccessKey, a.cfg.SecretKey, ""))))
		}
		awscfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			a.mu.Unlock()
			return provider.WrapOp(a.Name(), "init", err)
		}
		a.r53 = route53.NewFromConfig(awscfg)
	}
	a.mu.Unlock()

	_, err := a.resolveZoneID(ctx)
	return err
}

// TestConnection verifies credentials by resolving the hosted zone.
func (a *Adapter) TestConnection(ctx context.Context) error {
	a.mu.Lock()
	a.zoneID = a.cfg.ZoneID
	a.mu.Unlock()
	if err := a.Init(ctx); err != nil {
		return err
	}
	return nil
}

func (a *Adapter) resolveZoneID(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.zoneID != "" {
		return a.zoneID, nil
	}

	out, err := a.r53.ListHostedZonesByName(ctx, &route53.ListHostedZonesByNameInput{
		DNSName: aws.String(a.zone + "."),
	})
	if err != nil {
		return "", provider.WrapOp(a.Name(), "resolve zone", classify(err))
	}
	for _, hz := range out.HostedZones {
		if types.CanonicalName(aws.ToString(hz.Name)) == a.zone {
			a.zoneID = strings.TrimPrefix(aws.ToString(hz.Id), "/hostedzone/")
			log.Debug().Str("zone", a.zone).Str("zone_id", a.zoneID).Msg("Resolved Route53 hosted zone")
			return a.zoneID, nil
		}
	}
	return "", provider.WrapOp(a.Name(), "resolve zone",
		fmt.Errorf("hosted zone %q not found: %w", a.zone, provider.ErrFatal))
}

// RefreshRecordCache reloads all record sets in the hosted zone.
func (a *Adapter) RefreshRecordCache(ctx context.Context) ([]types.Record, error) {
	return a.cache.Refresh(ctx)
}

// ListRecords returns cached records matching f.
func (a *Adapter) ListRecords(ctx context.Context, f provider.ListFilter) ([]types.Record, error) {
	records, err := a.cache.Records(ctx, false)
	if err != nil {
		return nil, err
	}
	out := records[:0:0]
	for _, r := range records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *Adapter) fetchAll(ctx context.Context) ([]types.Record, error) {
	zoneID, err := a.resolveZoneID(ctx)
	if err != nil {
		return nil, err
	}

	var records []types.Record
	input := &route53.ListResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
	}
	for {
		out, err := a.r53.ListResourceRecordSets(ctx, input)
		if err != nil {
			return nil, classify(err)
		}
		for i := range out.ResourceRecordSets {
			records = append(records, fromRecordSet(&out.ResourceRecordSets[i])...)
		}
		if !out.IsTruncated {
			break
		}
		input.StartRecordName = out.NextRecordName
		input.StartRecordType = out.NextRecordType
		input.StartRecordIdentifier = out.NextRecordIdentifier
	}
	return records, nil
}

// CreateRecord creates one record set via a single-change batch.
func (a *Adapter) CreateRecord(ctx context.Context, d types.DesiredRecord) (types.Record, error) {
	if err := a.submit(ctx, []route53types.Change{
		{Action: route53types.ChangeActionCreate, ResourceRecordSet: toRecordSet(d.Record)},
	}); err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "create record", err)
	}
	record := withSyntheticID(d.Record)
	a.cache.Upsert(record)
	log.Info().
		Str("provider", a.Name()).
		Str("name", record.Name).
		Str("type", string(record.Type)).
		Msg("Created DNS record")
	return record, nil
}

// UpdateRecord replaces the record set addressed by the synthesized id.
func (a *Adapter) UpdateRecord(ctx context.Context, id string, d types.DesiredRecord) (types.Record, error) {
	name, recordType, err := splitID(id)
	if err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "update record", err)
	}
	if types.CanonicalName(name) != d.Name || recordType != d.Type {
		return types.Record{}, provider.WrapOp(a.Name(), "update record",
			fmt.Errorf("id %q does not address %s/%s: %w", id, d.Type, d.Name, provider.ErrValidation))
	}

	if err := a.submit(ctx, []route53types.Change{
		{Action: route53types.ChangeActionUpsert, ResourceRecordSet: toRecordSet(d.Record)},
	}); err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "update record", err)
	}
	record := withSyntheticID(d.Record)
	a.cache.Upsert(record)
	log.Info().
		Str("provider", a.Name()).
		Str("name", record.Name).
		Str("content", record.Content).
		Msg("Updated DNS record")
	return record, nil
}

// DeleteRecord deletes the record set addressed by the synthesized id. The
// cached copy supplies the current content and TTL, which Route53 requires
// for deletes.
func (a *Adapter) DeleteRecord(ctx context.Context, id string) error {
	name, recordType, err := splitID(id)
	if err != nil {
		return provider.WrapOp(a.Name(), "delete record", err)
	}

	existing, found := a.cache.Find(recordType, name)
	if !found {
		return nil
	}

	if err := a.submit(ctx, []route53types.Change{
		{Action: route53types.ChangeActionDelete, ResourceRecordSet: toRecordSet(existing)},
	}); err != nil {
		if provider.IsNotFound(err) {
			a.cache.Remove(existing)
			return nil
		}
		return provider.WrapOp(a.Name(), "delete record", err)
	}
	a.cache.Remove(existing)
	log.Info().Str("provider", a.Name()).Str("id", id).Msg("Deleted DNS record")
	return nil
}

type pendingChange struct {
	index  int
	change route53types.Change
}

// failRemaining marks every not-yet-submitted row failed without further API
// calls.
func failRemaining(rest []pendingChange, results []provider.EnsureResult, err error) {
	for _, p := range rest {
		results[p.index].Action = provider.ActionFailed
		results[p.index].Err = err
		results[p.index].Record = types.Record{}
	}
}

// BatchEnsureRecords diffs the desired rows against the cache and submits all
// required changes as UPSERTs in atomic batches of at most maxBatchSize. A
// rejected batch is retried row by row so one bad change does not sink its
// neighbors; auth and quota errors abort the remaining rows instead.
func (a *Adapter) BatchEnsureRecords(ctx context.Context, desired []types.DesiredRecord) []provider.EnsureResult {
	caps := a.Info()
	results := make([]provider.EnsureResult, len(desired))

	var changes []pendingChange

	for i, d := range desired {
		if !caps.Supports(d.Type) {
			results[i] = provider.EnsureResult{Desired: d, Action: provider.ActionFailed,
				Err: provider.WrapOp(a.Name(), "ensure", provider.ErrUnsupportedType)}
			continue
		}
		if !types.InZone(d.Name, a.zone) {
			results[i] = provider.EnsureResult{Desired: d, Action: provider.ActionFailed, Err: provider.ErrOutOfZone}
			continue
		}
		d = provider.SanitizeForProvider(d, caps)

		existing, found := a.cache.Find(d.Type, d.Name)
		if found && provider.RecordsEqual(existing, d.Record, caps) {
			results[i] = provider.EnsureResult{Desired: d, Action: provider.ActionUnchanged, Record: existing}
			continue
		}

		action := provider.ActionCreated
		if found {
			action = provider.ActionUpdated
		}
		results[i] = provider.EnsureResult{Desired: d, Action: action, Record: withSyntheticID(d.Record)}
		changes = append(changes, pendingChange{index: i, change: route53types.Change{
			Action:            route53types.ChangeActionUpsert,
			ResourceRecordSet: toRecordSet(d.Record),
		}})
	}

	for start := 0; start < len(changes); start += maxBatchSize {
		end := min(start+maxBatchSize, len(changes))
		batch := changes[start:end]

		raw := make([]route53types.Change, len(batch))
		for i, p := range batch {
			raw[i] = p.change
		}
		err := a.submit(ctx, raw)
		if err == nil {
			for _, p := range batch {
				a.cache.Upsert(results[p.index].Record)
			}
			continue
		}
		if provider.IsAuth(err) || provider.IsQuota(err) {
			failRemaining(changes[start:], results, provider.WrapOp(a.Name(), "batch ensure", err))
			return results
		}

		// The batch was rejected for a reason tied to individual changes.
		// Retry each row on its own so the recoverable ones still land.
		log.Warn().Err(err).
			Str("provider", a.Name()).
			Int("changes", len(batch)).
			Msg("Change batch rejected, retrying rows individually")
		for bi, p := range batch {
			rerr := a.submit(ctx, []route53types.Change{p.change})
			if rerr == nil {
				a.cache.Upsert(results[p.index].Record)
				continue
			}
			if provider.IsAuth(rerr) || provider.IsQuota(rerr) {
				failRemaining(changes[start+bi:], results, provider.WrapOp(a.Name(), "ensure", rerr))
				return results
			}
			if provider.IsRecordExists(rerr) {
				// The set appeared out-of-band; refresh and reclassify.
				if _, ferr := a.cache.Refresh(ctx); ferr == nil {
					d := results[p.index].Desired
					if existing, found := a.cache.Find(d.Type, d.Name); found && provider.RecordsEqual(existing, d.Record, caps) {
						results[p.index] = provider.EnsureResult{Desired: d, Action: provider.ActionUnchanged, Record: existing}
						continue
					}
				}
			}
			results[p.index].Action = provider.ActionFailed
			results[p.index].Err = provider.WrapOp(a.Name(), "ensure", rerr)
			results[p.index].Record = types.Record{}
		}
	}
	return results
}

func (a *Adapter) submit(ctx context.Context, changes []route53types.Change) error {
	zoneID, err := a.resolveZoneID(ctx)
	if err != nil {
		return err
	}
	_, err = a.r53.ChangeResourceRecordSets(ctx, &route53.ChangeResourceRecordSetsInput{
		HostedZoneId: aws.String(zoneID),
		ChangeBatch:  &route53types.ChangeBatch{Changes: changes},
	})
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps AWS errors onto the shared sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var batchErr *route53types.InvalidChangeBatch
	if errors.As(err, &batchErr) {
		message := strings.ToLower(batchErr.ErrorMessage())
		switch {
		case strings.Contains(message, "but it was not found"):
			return fmt.Errorf("%v: %w", err, provider.ErrNotFound)
		case strings.Contains(message, "but it already exists"):
			return fmt.Errorf("%v: %w", err, provider.ErrRecordExists)
		}
		return fmt.Errorf("%v: %w", err, provider.ErrValidation)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "Throttling", "ThrottlingException", "PriorRequestNotComplete":
			return fmt.Errorf("%v: %w", err, provider.ErrQuota)
		case "AccessDenied", "AccessDeniedException", "InvalidClientTokenId", "SignatureDoesNotMatch", "UnrecognizedClientException":
			return fmt.Errorf("%v: %w", err, provider.ErrAuth)
		case "NoSuchHostedZone":
			return fmt.Errorf("%v: %w", err, provider.ErrFatal)
		case "InvalidInput":
			return fmt.Errorf("%v: %w", err, provider.ErrValidation)
		}
	}
	return fmt.Errorf("%v: %w", err, provider.ErrTransient)
}
