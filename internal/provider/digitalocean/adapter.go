// Package digitalocean implements the provider adapter for DigitalOcean DNS.
//
// DigitalOcean stores record names relative to the domain ("@" for the apex);
// the adapter converts to and from absolute hostnames at the API boundary.
package digitalocean

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/digitalocean/godo"
	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/config"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

// Adapter manages records in one DigitalOcean domain.
type Adapter struct {
	client *godo.Client
	zone   string
	cache  *provider.RecordCache
}

// New creates a DigitalOcean adapter from configuration.
func New(cfg config.DigitalOceanConfig, cacheHorizon time.Duration) *Adapter {
	a := &Adapter{
		client: godo.NewFromToken(cfg.Token),
		zone:   types.CanonicalName(cfg.Zone),
	}
	a.cache = provider.NewRecordCache(a.Name(), cacheHorizon, a.fetchAll)
	return a
}

func (a *Adapter) Name() string { return "digitalocean" }
func (a *Adapter) Zone() string { return a.zone }

// Info returns DigitalOcean capability flags.
func (a *Adapter) Info() provider.Capabilities {
	return provider.Capabilities{
		TTLMin: 30,
		SupportedTypes: []types.RecordType{
			types.TypeA, types.TypeAAAA, types.TypeCNAME, types.TypeTXT,
			types.TypeMX, types.TypeNS, types.TypeSRV, types.TypeCAA,
		},
		StableIDs: true,
	}
}

// Cache returns the adapter's record cache.
func (a *Adapter) Cache() *provider.RecordCache { return a.cache }

// Init verifies the domain exists.
func (a *Adapter) Init(ctx context.Context) error {
	_, _, err := a.client.Domains.Get(ctx, a.zone)
	if err != nil {
		return provider.WrapOp(a.Name(), "init", classify(err))
	}
	return nil
}

// TestConnection verifies credentials and domain access.
func (a *Adapter) TestConnection(ctx context.Context) error {
	return a.Init(ctx)
}

// RefreshRecordCache reloads all records in the domain.
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
	var records []types.Record
	opt := &godo.ListOptions{PerPage: 200}
	for {
		page, resp, err := a.client.Domains.Records(ctx, a.zone, opt)
		if err != nil {
			return nil, classify(err)
		}
		for i := range page {
			records = append(records, a.fromAPI(&page[i]))
		}
		if resp.Links == nil || resp.Links.IsLastPage() {
			break
		}
		next, err := resp.Links.CurrentPage()
		if err != nil {
			return nil, classify(err)
		}
		opt.Page = next + 1
	}
	return records, nil
}

// CreateRecord creates one record.
func (a *Adapter) CreateRecord(ctx context.Context, d types.DesiredRecord) (types.Record, error) {
	created, _, err := a.client.Domains.CreateRecord(ctx, a.zone, a.toEditRequest(d.Record))
	if err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "create record", classify(err))
	}

	record := a.fromAPI(created)
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
	numericID, err := strconv.Atoi(id)
	if err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "update record",
			fmt.Errorf("malformed record id %q: %w", id, provider.ErrValidation))
	}

	updated, _, err := a.client.Domains.EditRecord(ctx, a.zone, numericID, a.toEditRequest(d.Record))
	if err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "update record", classify(err))
	}

	record := a.fromAPI(updated)
	a.cache.Upsert(record)
	log.Info().
		Str("provider", a.Name()).
		Str("id", record.ExternalID).
		Str("name", record.Name).
		Str("content", record.Content).
		Msg("Updated DNS record")
	return record, nil
}

// DeleteRecord deletes the record identified by id.
func (a *Adapter) DeleteRecord(ctx context.Context, id string) error {
	numericID, err := strconv.Atoi(id)
	if err != nil {
		return provider.WrapOp(a.Name(), "delete record",
			fmt.Errorf("malformed record id %q: %w", id, provider.ErrValidation))
	}

	_, err = a.client.Domains.DeleteRecord(ctx, a.zone, numericID)
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

// relativeName converts an absolute hostname to the domain-relative form.
func (a *Adapter) relativeName(name string) string {
	name = types.CanonicalName(name)
	if name == a.zone {
		return "@"
	}
	return strings.TrimSuffix(name, "."+a.zone)
}

// absoluteName converts a domain-relative name back to an absolute hostname.
func (a *Adapter) absoluteName(name string) string {
	if name == "@" || name == "" {
		return a.zone
	}
	return types.CanonicalName(name) + "." + a.zone
}

func (a *Adapter) toEditRequest(r types.Record) *godo.DomainRecordEditRequest {
	ttl := r.TTL
	if ttl <= 1 {
		ttl = 1800 // DigitalOcean default; no automatic TTL
	}

	req := &godo.DomainRecordEditRequest{
		Type: string(r.Type),
		Name: a.relativeName(r.Name),
		Data: r.Content,
		TTL:  ttl,
	}
	switch r.Type {
	case types.TypeMX:
		req.Priority = r.Priority
	case types.TypeSRV:
		req.Priority = r.Priority
		req.Weight = r.Weight
		req.Port = r.Port
	case types.TypeCAA:
		req.Flags = r.Flags
		req.Tag = r.Tag
		if req.Tag == "" {
			req.Tag = "issue"
		}
	}
	return req
}

func (a *Adapter) fromAPI(r *godo.DomainRecord) types.Record {
	record := types.Record{
		ExternalID: strconv.Itoa(r.ID),
		Type:       types.RecordType(r.Type),
		Name:       a.absoluteName(r.Name),
		Content:    r.Data,
		TTL:        r.TTL,
	}
	switch record.Type {
	case types.TypeMX:
		record.Priority = r.Priority
	case types.TypeSRV:
		record.Priority = r.Priority
		record.Weight = r.Weight
		record.Port = r.Port
	case types.TypeCAA:
		record.Flags = r.Flags
		record.Tag = r.Tag
	}
	return record
}

// classify maps godo errors onto the shared sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var respErr *godo.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return fmt.Errorf("%v: %w", err, provider.ErrAuth)
		case code == http.StatusTooManyRequests:
			return fmt.Errorf("%v: %w", err, provider.ErrQuota)
		case code == http.StatusNotFound:
			return fmt.Errorf("%v: %w", err, provider.ErrNotFound)
		case code == http.StatusUnprocessableEntity:
			if strings.Contains(strings.ToLower(respErr.Message), "already exists") {
				return fmt.Errorf("%v: %w", err, provider.ErrRecordExists)
			}
			return fmt.Errorf("%v: %w", err, provider.ErrValidation)
		case code >= 500:
			return fmt.Errorf("%v: %w", err, provider.ErrTransient)
		case code == http.StatusBadRequest:
			return fmt.Errorf("%v: %w", err, provider.ErrValidation)
		}
	}
	return fmt.Errorf("%v: %w", err, provider.ErrTransient)
}
