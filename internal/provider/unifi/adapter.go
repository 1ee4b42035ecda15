// Package unifi implements the provider adapter for UniFi controller static
// DNS entries (the v2 static-dns network API).
//
// The controller rejects in-place updates of some record types, so updates
// are delete-then-create with a settle delay in between; the controller
// applies deletions asynchronously and a create issued too quickly can race
// the pending delete and produce duplicates. After every update the adapter
// sweeps duplicates for the touched identity.
package unifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/config"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

// minSettleDelay is the floor on the delete-to-create wait.
const minSettleDelay = 100 * time.Millisecond

// Adapter manages static DNS entries on one UniFi controller site.
type Adapter struct {
	baseURL     string
	apiKey      string
	site        string
	settleDelay time.Duration
	httpClient  *http.Client
	cache       *provider.RecordCache
}

// New creates a UniFi adapter from configuration.
func New(cfg config.UnifiConfig, cacheHorizon time.Duration) *Adapter {
	settle := cfg.SettleDelay
	if settle < minSettleDelay {
		settle = minSettleDelay
	}
	site := cfg.Site
	if site == "" {
		site = "default"
	}

	transport := http.DefaultTransport
	if cfg.SkipTLSVerify {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	a := &Adapter{
		baseURL:     strings.TrimSuffix(cfg.URL, "/"),
		apiKey:      cfg.APIKey,
		site:        site,
		settleDelay: settle,
		httpClient:  &http.Client{Timeout: 30 * time.Second, Transport: transport},
	}
	a.cache = provider.NewRecordCache(a.Name(), cacheHorizon, a.fetchAll)
	return a
}

func (a *Adapter) Name() string { return "unifi" }

// Zone returns "all": the controller answers for any hostname on the LAN.
func (a *Adapter) Zone() string { return "all" }

// Info returns UniFi capability flags.
func (a *Adapter) Info() provider.Capabilities {
	return provider.Capabilities{
		SupportedTypes: []types.RecordType{
			types.TypeA, types.TypeAAAA, types.TypeCNAME, types.TypeTXT,
			types.TypeMX, types.TypeNS, types.TypeSRV,
		},
		StableIDs: true,
	}
}

// Cache returns the adapter's record cache.
func (a *Adapter) Cache() *provider.RecordCache { return a.cache }

func (a *Adapter) recordsPath() string {
	return fmt.Sprintf("/proxy/network/v2/api/site/%s/static-dns", a.site)
}

// Init verifies the controller is reachable.
func (a *Adapter) Init(ctx context.Context) error {
	if _, err := a.doRequest(ctx, http.MethodGet, a.recordsPath(), nil); err != nil {
		return provider.WrapOp(a.Name(), "init", err)
	}
	return nil
}

// TestConnection verifies the API key.
func (a *Adapter) TestConnection(ctx context.Context) error {
	return a.Init(ctx)
}

// entry is the controller's static DNS wire shape.
type entry struct {
	ID         string `json:"_id,omitempty"`
	Enabled    bool   `json:"enabled"`
	Key        string `json:"key"`
	RecordType string `json:"record_type"`
	Value      string `json:"value"`
	TTL        int    `json:"ttl,omitempty"`
	Priority   int    `json:"priority,omitempty"`
	Weight     int    `json:"weight,omitempty"`
	Port       int    `json:"port,omitempty"`
}

func (a *Adapter) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", a.apiKey)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, provider.ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, provider.ErrTransient)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("status %d: %s: %w", resp.StatusCode, body, provider.ErrAuth)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("status 404: %s: %w", body, provider.ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("status 429: %s: %w", body, provider.ErrQuota)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d: %s: %w", resp.StatusCode, body, provider.ErrTransient)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("status %d: %s: %w", resp.StatusCode, body, provider.ErrValidation)
	}
	return body, nil
}

// RefreshRecordCache reloads all static DNS entries.
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
	body, err := a.doRequest(ctx, http.MethodGet, a.recordsPath(), nil)
	if err != nil {
		return nil, err
	}

	var entries []entry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, err
	}

	records := make([]types.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, fromEntry(e))
	}
	return records, nil
}

func fromEntry(e entry) types.Record {
	return types.Record{
		ExternalID: e.ID,
		Type:       types.RecordType(e.RecordType),
		Name:       types.CanonicalName(e.Key),
		Content:    e.Value,
		TTL:        e.TTL,
		Priority:   e.Priority,
		Weight:     e.Weight,
		Port:       e.Port,
	}
}

func toEntry(r types.Record) entry {
	return entry{
		Enabled:    true,
		Key:        r.Name,
		RecordType: string(r.Type),
		Value:      r.Content,
		TTL:        r.TTL,
		Priority:   r.Priority,
		Weight:     r.Weight,
		Port:       r.Port,
	}
}

// CreateRecord creates one entry.
func (a *Adapter) CreateRecord(ctx context.Context, d types.DesiredRecord) (types.Record, error) {
	body, err := a.doRequest(ctx, http.MethodPost, a.recordsPath(), toEntry(d.Record))
	if err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "create record", err)
	}

	var created entry
	if err := json.Unmarshal(body, &created); err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "create record", err)
	}

	record := fromEntry(created)
	a.cache.Upsert(record)
	log.Info().
		Str("provider", a.Name()).
		Str("id", record.ExternalID).
		Str("name", record.Name).
		Str("type", string(record.Type)).
		Msg("Created DNS record")
	return record, nil
}

// UpdateRecord replaces the entry identified by id: delete, wait for the
// controller to settle, create, then sweep duplicates for the identity.
func (a *Adapter) UpdateRecord(ctx context.Context, id string, d types.DesiredRecord) (types.Record, error) {
	if err := a.DeleteRecord(ctx, id); err != nil {
		return types.Record{}, err
	}

	select {
	case <-time.After(a.settleDelay):
	case <-ctx.Done():
		return types.Record{}, ctx.Err()
	}

	record, err := a.CreateRecord(ctx, d)
	if err != nil {
		return types.Record{}, err
	}

	if err := a.sweepDuplicates(ctx, record); err != nil {
		log.Warn().Err(err).
			Str("provider", a.Name()).
			Str("name", record.Name).
			Msg("Duplicate sweep after update failed")
	}
	return record, nil
}

// sweepDuplicates removes entries sharing the record's identity but carrying
// a different ID, which the delete/create race can leave behind.
func (a *Adapter) sweepDuplicates(ctx context.Context, keep types.Record) error {
	records, err := a.cache.Refresh(ctx)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.IdentityKey() == keep.IdentityKey() && r.ExternalID != keep.ExternalID {
			log.Debug().
				Str("provider", a.Name()).
				Str("id", r.ExternalID).
				Str("name", r.Name).
				Msg("Removing duplicate entry")
			if err := a.DeleteRecord(ctx, r.ExternalID); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteRecord deletes the entry identified by id.
func (a *Adapter) DeleteRecord(ctx context.Context, id string) error {
	if _, err := a.doRequest(ctx, http.MethodDelete, a.recordsPath()+"/"+id, nil); err != nil {
		if provider.IsNotFound(err) {
			a.cache.RemoveByID(id)
			return nil
		}
		return provider.WrapOp(a.Name(), "delete record", err)
	}

	a.cache.RemoveByID(id)
	log.Info().Str("provider", a.Name()).Str("id", id).Msg("Deleted DNS record")
	return nil
}

// BatchEnsureRecords applies the desired rows one by one.
func (a *Adapter) BatchEnsureRecords(ctx context.Context, desired []types.DesiredRecord) []provider.EnsureResult {
	return provider.EnsureSerial(ctx, a, desired)
}
