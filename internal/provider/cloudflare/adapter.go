// Package cloudflare implements the provider adapter for Cloudflare DNS.
package cloudflare

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cf "github.com/cloudflare/cloudflare-go/v6"
	"github.com/cloudflare/cloudflare-go/v6/dns"
	"github.com/cloudflare/cloudflare-go/v6/option"
	"github.com/cloudflare/cloudflare-go/v6/zones"
	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/config"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

// Adapter manages records in one Cloudflare zone.
type Adapter struct {
	api       *cf.Client
	zone      string
	accountID string
	cache     *provider.RecordCache

	mu     sync.Mutex
	zoneID string
}

// New creates a Cloudflare adapter from configuration.
func New(cfg config.CloudflareConfig, cacheHorizon time.Duration) *Adapter {
	a := &Adapter{
		api:       cf.NewClient(option.WithAPIToken(cfg.APIToken)),
		zone:      types.CanonicalName(cfg.Zone),
		accountID: cfg.AccountID,
	}
	a.cache = provider.NewRecordCache(a.Name(), cacheHorizon, a.fetchAll)
	return a
}

func (a *Adapter) Name() string { return "cloudflare" }
func (a *Adapter) Zone() string { return a.zone }

// API exposes the underlying client for the tunnel subsystem, which shares
// the credential.
func (a *Adapter) API() *cf.Client { return a.api }

// AccountID returns the configured account ID.
func (a *Adapter) AccountID() string { return a.accountID }

// Info returns Cloudflare capability flags.
func (a *Adapter) Info() provider.Capabilities {
	return provider.Capabilities{
		Proxied: true,
		TTLMin:  60,
		TTLMax:  86400,
		SupportedTypes: []types.RecordType{
			types.TypeA, types.TypeAAAA, types.TypeCNAME, types.TypeTXT,
			types.TypeMX, types.TypeNS, types.TypeSRV, types.TypeCAA,
		},
		SupportsOwnershipMarker: true,
		StableIDs:               true,
	}
}

// Cache returns the adapter's record cache.
func (a *Adapter) Cache() *provider.RecordCache { return a.cache }

// Init resolves the zone ID for the configured zone.
func (a *Adapter) Init(ctx context.Context) error {
	_, err := a.resolveZoneID(ctx)
	return err
}

// TestConnection verifies the API token.
// Uses /user/tokens/verify which only requires the token itself to be valid;
// listing zones is the fallback for tokens without that permission.
func (a *Adapter) TestConnection(ctx context.Context) error {
	result, err := a.api.User.Tokens.Verify(ctx)
	if err != nil {
		if _, zoneErr := a.api.Zones.List(ctx, zones.ZoneListParams{}); zoneErr != nil {
			return provider.WrapOp(a.Name(), "test connection", classify(err))
		}
		return nil
	}
	if result.Status != "active" {
		return provider.WrapOp(a.Name(), "test connection",
			fmt.Errorf("token is not active (status=%s): %w", result.Status, provider.ErrAuth))
	}
	return nil
}

func (a *Adapter) resolveZoneID(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.zoneID != "" {
		return a.zoneID, nil
	}

	zoneList, err := a.api.Zones.List(ctx, zones.ZoneListParams{
		Name: cf.F(a.zone),
	})
	if err != nil {
		return "", provider.WrapOp(a.Name(), "resolve zone", classify(err))
	}
	for _, z := range zoneList.Result {
		if types.CanonicalName(z.Name) == a.zone {
			a.zoneID = z.ID
			log.Debug().Str("zone", a.zone).Str("zone_id", z.ID).Msg("Resolved Cloudflare zone")
			return a.zoneID, nil
		}
	}
	return "", provider.WrapOp(a.Name(), "resolve zone",
		fmt.Errorf("zone %q not found: %w", a.zone, provider.ErrFatal))
}

// RefreshRecordCache reloads all records in the zone.
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
	iter := a.api.DNS.Records.ListAutoPaging(ctx, dns.RecordListParams{
		ZoneID: cf.F(zoneID),
	})
	for iter.Next() {
		rec := iter.Current()
		records = append(records, fromAPI(&rec))
	}
	if err := iter.Err(); err != nil {
		return nil, classify(err)
	}
	return records, nil
}

// CreateRecord creates one record and inserts it into the cache.
func (a *Adapter) CreateRecord(ctx context.Context, d types.DesiredRecord) (types.Record, error) {
	zoneID, err := a.resolveZoneID(ctx)
	if err != nil {
		return types.Record{}, err
	}

	body, err := newRecordBody(d.Record)
	if err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "create record", err)
	}
	result, err := a.api.DNS.Records.New(ctx, dns.RecordNewParams{
		ZoneID: cf.F(zoneID),
		Body:   body,
	})
	if err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "create record", classify(err))
	}

	record := fromAPI(result)
	a.cache.Upsert(record)
	log.Info().
		Str("provider", a.Name()).
		Str("id", record.ExternalID).
		Str("name", record.Name).
		Str("type", string(record.Type)).
		Msg("Created DNS record")
	return record, nil
}

// UpdateRecord updates the record identified by id.
func (a *Adapter) UpdateRecord(ctx context.Context, id string, d types.DesiredRecord) (types.Record, error) {
	if id == "" {
		return types.Record{}, provider.WrapOp(a.Name(), "update record",
			fmt.Errorf("record ID is required: %w", provider.ErrValidation))
	}
	zoneID, err := a.resolveZoneID(ctx)
	if err != nil {
		return types.Record{}, err
	}

	body, err := updateRecordBody(d.Record)
	if err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "update record", err)
	}
	result, err := a.api.DNS.Records.Update(ctx, id, dns.RecordUpdateParams{
		ZoneID: cf.F(zoneID),
		Body:   body,
	})
	if err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "update record", classify(err))
	}

	record := fromAPI(result)
	a.cache.Upsert(record)
	log.Info().
		Str("provider", a.Name()).
		Str("id", record.ExternalID).
		Str("name", record.Name).
		Str("content", record.Content).
		Msg("Updated DNS record")
	return record, nil
}

// DeleteRecord deletes the record identified by id. A record that is already
// gone is not an error.
func (a *Adapter) DeleteRecord(ctx context.Context, id string) error {
	zoneID, err := a.resolveZoneID(ctx)
	if err != nil {
		return err
	}

	_, err = a.api.DNS.Records.Delete(ctx, id, dns.RecordDeleteParams{
		ZoneID: cf.F(zoneID),
	})
	if err != nil {
		classified := classify(err)
		if provider.IsNotFound(classified) {
			a.cache.RemoveByID(id)
			return nil
		}
		return provider.WrapOp(a.Name(), "delete record", classified)
	}

	a.cache.RemoveByID(id)
	log.Info().Str("provider", a.Name()).Str("id", id).Msg("Deleted DNS record")
	return nil
}

// BatchEnsureRecords applies the desired rows one by one.
func (a *Adapter) BatchEnsureRecords(ctx context.Context, desired []types.DesiredRecord) []provider.EnsureResult {
	return provider.EnsureSerial(ctx, a, desired)
}

// classify maps Cloudflare API errors onto the shared sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *cf.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return fmt.Errorf("%v: %w", err, provider.ErrAuth)
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%v: %w", err, provider.ErrQuota)
		case apiErr.StatusCode == 404:
			return fmt.Errorf("%v: %w", err, provider.ErrNotFound)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%v: %w", err, provider.ErrTransient)
		case strings.Contains(strings.ToLower(err.Error()), "already exists"):
			return fmt.Errorf("%v: %w", err, provider.ErrRecordExists)
		case apiErr.StatusCode == 400:
			return fmt.Errorf("%v: %w", err, provider.ErrValidation)
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("%v: %w", err, provider.ErrRecordExists)
	}
	return fmt.Errorf("%v: %w", err, provider.ErrTransient)
}
