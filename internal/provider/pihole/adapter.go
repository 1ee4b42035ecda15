// Package pihole implements the provider adapter for Pi-hole v6 local DNS.
//
// Pi-hole is not a zone server: it answers for any hostname, so the adapter
// reports the pseudo-zone "all". Records live in two config arrays, dns.hosts
// ("IP HOSTNAME") for A/AAAA and dns.cnameRecords ("alias,target") for CNAME.
// Entries carry no server-side IDs; the adapter synthesizes
// base64(name:type:content).
package pihole

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/config"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

// Adapter manages Pi-hole local DNS entries.
type Adapter struct {
	baseURL    string
	password   string
	httpClient *http.Client
	cache      *provider.RecordCache

	mu             sync.Mutex
	sid            string
	sessionExpires time.Time
}

// New creates a Pi-hole adapter from configuration.
func New(cfg config.PiholeConfig, cacheHorizon time.Duration) *Adapter {
	a := &Adapter{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	a.cache = provider.NewRecordCache(a.Name(), cacheHorizon, a.fetchAll)
	return a
}

func (a *Adapter) Name() string { return "pihole" }

// Zone returns "all": Pi-hole answers for any hostname.
func (a *Adapter) Zone() string { return "all" }

// Info returns Pi-hole capability flags.
func (a *Adapter) Info() provider.Capabilities {
	return provider.Capabilities{
		SupportedTypes: []types.RecordType{types.TypeA, types.TypeAAAA, types.TypeCNAME},
	}
}

// Cache returns the adapter's record cache.
func (a *Adapter) Cache() *provider.RecordCache { return a.cache }

// Init authenticates against the Pi-hole API.
func (a *Adapter) Init(ctx context.Context) error {
	if err := a.authenticate(ctx); err != nil {
		return provider.WrapOp(a.Name(), "init", err)
	}
	return nil
}

// TestConnection verifies the password by opening a session.
func (a *Adapter) TestConnection(ctx context.Context) error {
	a.mu.Lock()
	a.sid = ""
	a.sessionExpires = time.Time{}
	a.mu.Unlock()
	return a.Init(ctx)
}

type sessionResponse struct {
	Session struct {
		Valid    bool   `json:"valid"`
		SID      string `json:"sid"`
		Validity int    `json:"validity"`
		Message  string `json:"message"`
	} `json:"session"`
}

// authenticate obtains a session ID, reusing a still-valid one.
func (a *Adapter) authenticate(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.sid != "" && time.Now().Before(a.sessionExpires) {
		return nil
	}

	payload, err := json.Marshal(struct {
		Password string `json:"password"`
	}{Password: a.password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/auth", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%v: %w", err, provider.ErrTransient)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%v: %w", err, provider.ErrTransient)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth failed with status %d: %w", resp.StatusCode, provider.ErrAuth)
	}

	var session sessionResponse
	if err := json.Unmarshal(body, &session); err != nil {
		return err
	}
	if !session.Session.Valid {
		message := session.Session.Message
		if message == "" {
			message = "invalid credentials"
		}
		return fmt.Errorf("authentication failed: %s: %w", message, provider.ErrAuth)
	}

	a.sid = session.Session.SID
	// Expire early to avoid racing the server-side timeout.
	validity := time.Duration(session.Session.Validity-30) * time.Second
	if validity < 30*time.Second {
		validity = 30 * time.Second
	}
	a.sessionExpires = time.Now().Add(validity)

	log.Debug().Dur("validity", validity).Msg("Authenticated with Pi-hole")
	return nil
}

// doRequest performs an authenticated API request. A 401 clears the session
// and retries once with a fresh SID.
func (a *Adapter) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if err := a.authenticate(ctx); err != nil {
			return nil, err
		}
		a.mu.Lock()
		sid := a.sid
		a.mu.Unlock()

		req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-FTL-SID", sid)
		req.Header.Set("Accept", "application/json")

		resp, err := a.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, provider.ErrTransient)
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, provider.ErrTransient)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			a.mu.Lock()
			a.sid = ""
			a.sessionExpires = time.Time{}
			a.mu.Unlock()
			continue
		case resp.StatusCode == http.StatusNotFound:
			return nil, fmt.Errorf("status 404: %s: %w", body, provider.ErrNotFound)
		case resp.StatusCode == http.StatusBadRequest:
			if strings.Contains(strings.ToLower(string(body)), "already present") ||
				strings.Contains(strings.ToLower(string(body)), "duplicate") {
				return nil, fmt.Errorf("status 400: %s: %w", body, provider.ErrRecordExists)
			}
			return nil, fmt.Errorf("status 400: %s: %w", body, provider.ErrValidation)
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("status %d: %s: %w", resp.StatusCode, body, provider.ErrTransient)
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, fmt.Errorf("status %d: %s: %w", resp.StatusCode, body, provider.ErrValidation)
		}
		return body, nil
	}
	return nil, fmt.Errorf("session expired twice: %w", provider.ErrAuth)
}

// RefreshRecordCache reloads all local DNS entries.
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
	body, err := a.doRequest(ctx, http.MethodGet, "/api/config/dns")
	if err != nil {
		return nil, err
	}

	var result struct {
		Config struct {
			DNS struct {
				Hosts        []string `json:"hosts"`
				CnameRecords []string `json:"cnameRecords"`
			} `json:"dns"`
		} `json:"config"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, err
	}

	var records []types.Record
	for _, entry := range result.Config.DNS.Hosts {
		records = append(records, parseHostEntry(entry)...)
	}
	for _, entry := range result.Config.DNS.CnameRecords {
		if record, ok := parseCNAMEEntry(entry); ok {
			records = append(records, record)
		}
	}
	return records, nil
}

// parseHostEntry parses a dns.hosts entry: "IP HOSTNAME [HOSTNAME ...]".
func parseHostEntry(entry string) []types.Record {
	fields := strings.Fields(entry)
	if len(fields) < 2 {
		return nil
	}

	ip := fields[0]
	if net.ParseIP(ip) == nil {
		return nil
	}
	recordType := types.TypeA
	if strings.Contains(ip, ":") {
		recordType = types.TypeAAAA
	}

	records := make([]types.Record, 0, len(fields)-1)
	for _, hostname := range fields[1:] {
		records = append(records, withSyntheticID(types.Record{
			Type:    recordType,
			Name:    types.CanonicalName(hostname),
			Content: ip,
		}))
	}
	return records
}

// parseCNAMEEntry parses a dns.cnameRecords entry: "alias,target[,ttl]".
func parseCNAMEEntry(entry string) (types.Record, bool) {
	fields := strings.Split(entry, ",")
	if len(fields) < 2 {
		return types.Record{}, false
	}
	return withSyntheticID(types.Record{
		Type:    types.TypeCNAME,
		Name:    types.CanonicalName(strings.TrimSpace(fields[0])),
		Content: types.CanonicalName(strings.TrimSpace(fields[1])),
	}), true
}

// withSyntheticID stamps the base64(name:type:content) external ID.
func withSyntheticID(r types.Record) types.Record {
	r.ExternalID = syntheticID(r.Name, r.Type, r.Content)
	return r
}

func syntheticID(name string, recordType types.RecordType, content string) string {
	raw := types.CanonicalName(name) + ":" + string(recordType) + ":" + content
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func decodeID(id string) (name string, recordType types.RecordType, content string, err error) {
	raw, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return "", "", "", fmt.Errorf("malformed record id %q: %w", id, provider.ErrValidation)
	}
	fields := strings.SplitN(string(raw), ":", 3)
	if len(fields) != 3 {
		return "", "", "", fmt.Errorf("malformed record id %q: %w", id, provider.ErrValidation)
	}
	return fields[0], types.RecordType(fields[1]), fields[2], nil
}

func entryPath(r types.Record) string {
	if r.Type == types.TypeCNAME {
		return "/api/config/dns/cnameRecords/" + url.PathEscape(r.Name+","+r.Content)
	}
	return "/api/config/dns/hosts/" + url.PathEscape(r.Content+" "+r.Name)
}

// CreateRecord adds one entry.
func (a *Adapter) CreateRecord(ctx context.Context, d types.DesiredRecord) (types.Record, error) {
	record := withSyntheticID(d.Record)

	if _, err := a.doRequest(ctx, http.MethodPut, entryPath(record)); err != nil {
		if provider.IsRecordExists(err) {
			a.cache.Upsert(record)
			return record, nil
		}
		return types.Record{}, provider.WrapOp(a.Name(), "create record", err)
	}

	a.cache.Upsert(record)
	log.Info().
		Str("provider", a.Name()).
		Str("name", record.Name).
		Str("type", string(record.Type)).
		Msg("Created DNS record")
	return record, nil
}

// UpdateRecord replaces the entry identified by id. Pi-hole entries are
// immutable array elements, so an update is delete-then-create; the entry
// content is part of the ID, so the old entry is addressable even after the
// desired content changed.
func (a *Adapter) UpdateRecord(ctx context.Context, id string, d types.DesiredRecord) (types.Record, error) {
	name, recordType, content, err := decodeID(id)
	if err != nil {
		return types.Record{}, provider.WrapOp(a.Name(), "update record", err)
	}
	old := types.Record{Type: recordType, Name: name, Content: content}

	if _, err := a.doRequest(ctx, http.MethodDelete, entryPath(old)); err != nil && !provider.IsNotFound(err) {
		return types.Record{}, provider.WrapOp(a.Name(), "update record", err)
	}
	a.cache.RemoveByID(id)

	return a.CreateRecord(ctx, d)
}

// DeleteRecord removes the entry identified by id.
func (a *Adapter) DeleteRecord(ctx context.Context, id string) error {
	name, recordType, content, err := decodeID(id)
	if err != nil {
		return provider.WrapOp(a.Name(), "delete record", err)
	}
	record := types.Record{Type: recordType, Name: name, Content: content}

	if _, err := a.doRequest(ctx, http.MethodDelete, entryPath(record)); err != nil {
		if provider.IsNotFound(err) {
			a.cache.RemoveByID(id)
			return nil
		}
		return provider.WrapOp(a.Name(), "delete record", err)
	}

	a.cache.RemoveByID(id)
	log.Info().Str("provider", a.Name()).Str("name", name).Msg("Deleted DNS record")
	return nil
}

// BatchEnsureRecords applies the desired rows one by one.
func (a *Adapter) BatchEnsureRecords(ctx context.Context, desired []types.DesiredRecord) []provider.EnsureResult {
	return provider.EnsureSerial(ctx, a, desired)
}
