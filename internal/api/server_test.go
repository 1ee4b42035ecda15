package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/trafegodns/trafegodns/internal/events"
	"github.com/trafegodns/trafegodns/internal/ownership"
	"github.com/trafegodns/trafegodns/internal/policy"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

// stubAdapter is a minimal read-only adapter for handler tests.
type stubAdapter struct {
	name    string
	zone    string
	records []types.Record
	cache   *provider.RecordCache
}

func newStubAdapter(name, zone string, records ...types.Record) *stubAdapter {
	a := &stubAdapter{name: name, zone: zone, records: records}
	a.cache = provider.NewRecordCache(name, time.Hour, func(context.Context) ([]types.Record, error) {
		return a.records, nil
	})
	return a
}

func (a *stubAdapter) Name() string { return a.name }
func (a *stubAdapter) Zone() string { return a.zone }
func (a *stubAdapter) Init(context.Context) error { return nil }
func (a *stubAdapter) TestConnection(context.Context) error { return nil }
func (a *stubAdapter) Info() provider.Capabilities { return provider.Capabilities{} }
func (a *stubAdapter) Cache() *provider.RecordCache { return a.cache }

func (a *stubAdapter) RefreshRecordCache(ctx context.Context) ([]types.Record, error) {
	return a.cache.Refresh(ctx)
}

func (a *stubAdapter) ListRecords(ctx context.Context, f provider.ListFilter) ([]types.Record, error) {
	records, err := a.cache.Records(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []types.Record
	for _, r := range records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (a *stubAdapter) CreateRecord(context.Context, types.DesiredRecord) (types.Record, error) {
	return types.Record{}, provider.ErrUnsupportedType
}

func (a *stubAdapter) UpdateRecord(context.Context, string, types.DesiredRecord) (types.Record, error) {
	return types.Record{}, provider.ErrUnsupportedType
}

func (a *stubAdapter) DeleteRecord(context.Context, string) error { return nil }

func (a *stubAdapter) BatchEnsureRecords(ctx context.Context, desired []types.DesiredRecord) []provider.EnsureResult {
	return nil
}

type testEnv struct {
	server *Server
	ledger ownership.Ledger
	policy *policy.Store
	bus    *events.Bus
}

func newTestEnv(t *testing.T, token string, adapters ...provider.Adapter) *testEnv {
	t.Helper()

	ledger, err := ownership.NewSQLiteLedger(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := ledger.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize ledger: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	store, err := policy.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new policy store: %v", err)
	}

	registry := provider.NewRegistry()
	for _, a := range adapters {
		if err := registry.Register(a); err != nil {
			t.Fatalf("register adapter: %v", err)
		}
	}

	bus := events.NewBus()
	server := NewServer(&Config{
		Address:  ":0",
		Token:    token,
		Version:  "0.1.0-test",
		Registry: registry,
		Ledger:   ledger,
		Policy:   store,
		Bus:      bus,
		Settings: NewSettings(true, types.ModeDirect),
	})
	return &testEnv{server: server, ledger: ledger, policy: store, bus: bus}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.server.server.Handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthEndpoint(t *testing.T) {
	e := newTestEnv(t, "")
	w := e.request(t, "GET", "/health", "", "")

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["status"] != "ok" {
		t.Fatalf("expected status ok, got %v", body["status"])
	}
}

func TestTokenAuth(t *testing.T) {
	e := newTestEnv(t, "secret")

	if w := e.request(t, "GET", "/api/version", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: expected 401, got %d", w.Code)
	}
	if w := e.request(t, "GET", "/api/version", "wrong", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: expected 401, got %d", w.Code)
	}
	if w := e.request(t, "GET", "/api/version", "secret", ""); w.Code != http.StatusOK {
		t.Fatalf("valid token: expected 200, got %d", w.Code)
	}
	// Health bypasses auth for container health checks.
	if w := e.request(t, "GET", "/health", "", ""); w.Code != http.StatusOK {
		t.Fatalf("health with auth enabled: expected 200, got %d", w.Code)
	}
}

func TestRecordsEndpoint(t *testing.T) {
	adapter := newStubAdapter("cloudflare", "example.com",
		types.Record{ExternalID: "r1", Type: types.TypeA, Name: "app.example.com", Content: "203.0.113.10"},
		types.Record{ExternalID: "r2", Type: types.TypeCNAME, Name: "www.example.com", Content: "app.example.com"},
	)
	e := newTestEnv(t, "", adapter)

	ctx := context.Background()
	if err := e.ledger.Track(ctx, "cloudflare", adapter.records[0], ownership.CreatedBySelf, true); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := e.policy.AddPreservedHostname("www.example.com"); err != nil {
		t.Fatalf("add preserved: %v", err)
	}

	w := e.request(t, "GET", "/api/records", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if total := int(body["total"].(float64)); total != 2 {
		t.Fatalf("expected 2 records, got %d", total)
	}

	byName := map[string]map[string]any{}
	for _, raw := range body["records"].([]any) {
		rec := raw.(map[string]any)
		byName[rec["name"].(string)] = rec
	}
	if got := byName["app.example.com"]["managed_by"]; got != ownership.CreatedBySelf {
		t.Errorf("app.example.com managed_by = %v, want %q", got, ownership.CreatedBySelf)
	}
	if got := byName["www.example.com"]["preserved"]; got != true {
		t.Errorf("www.example.com preserved = %v, want true", got)
	}
}

func TestTrackedEndpoint(t *testing.T) {
	adapter := newStubAdapter("cloudflare", "example.com")
	e := newTestEnv(t, "", adapter)

	record := types.Record{Type: types.TypeA, Name: "app.example.com", Content: "203.0.113.10"}
	if err := e.ledger.Track(context.Background(), "cloudflare", record, ownership.CreatedBySelf, true); err != nil {
		t.Fatalf("track: %v", err)
	}

	w := e.request(t, "GET", "/api/records/tracked", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decodeBody(t, w); int(body["total"].(float64)) != 1 {
		t.Fatalf("expected 1 tracked entry, got %v", body["total"])
	}
}

func TestPreservedHostnameLifecycle(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.request(t, "POST", "/api/preserved-hostnames", "", `{"pattern":"*.internal.example.com"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d", w.Code)
	}

	// Duplicate conflicts.
	w = e.request(t, "POST", "/api/preserved-hostnames", "", `{"pattern":"*.internal.example.com"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: expected 409, got %d", w.Code)
	}

	w = e.request(t, "GET", "/api/preserved-hostnames", "", "")
	if body := decodeBody(t, w); int(body["total"].(float64)) != 1 {
		t.Fatalf("expected 1 pattern, got %v", body["total"])
	}

	w = e.request(t, "DELETE", "/api/preserved-hostnames/*.internal.example.com", "", "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", w.Code)
	}
	w = e.request(t, "DELETE", "/api/preserved-hostnames/*.internal.example.com", "", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("delete missing: expected 404, got %d", w.Code)
	}
}

func TestManagedHostnameValidation(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.request(t, "POST", "/api/managed-hostnames", "", `{"type":"A","name":"static.example.com","content":"203.0.113.20","ttl":300}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Missing type is rejected.
	w = e.request(t, "POST", "/api/managed-hostnames", "", `{"name":"other.example.com","content":"203.0.113.21"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing type: expected 400, got %d", w.Code)
	}
}

func TestCleanupToggle(t *testing.T) {
	e := newTestEnv(t, "")

	w := e.request(t, "GET", "/api/cleanup", "", "")
	if body := decodeBody(t, w); body["enabled"] != true {
		t.Fatalf("initial cleanup = %v, want true", body["enabled"])
	}

	w = e.request(t, "POST", "/api/cleanup", "", `{"enabled":false}`)
	if w.Code != http.StatusOK {
		t.Fatalf("toggle: expected 200, got %d", w.Code)
	}
	if e.server.config.Settings.CleanupEnabled() {
		t.Fatal("cleanup still enabled after toggle")
	}
}

func TestModeSwitchPublishesEvent(t *testing.T) {
	e := newTestEnv(t, "")

	var got events.Event
	received := false
	e.bus.Subscribe(events.TopicModeChanged, func(ev events.Event) {
		got = ev
		received = true
	})

	w := e.request(t, "POST", "/api/mode", "", `{"mode":"traefik"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("switch: expected 200, got %d", w.Code)
	}
	if !received {
		t.Fatal("no mode change event published")
	}
	data := got.Data.(map[string]any)
	if data["from"] != "direct" || data["to"] != "traefik" {
		t.Fatalf("event data = %v", data)
	}

	// Switching to the current mode is a no-op.
	received = false
	w = e.request(t, "POST", "/api/mode", "", `{"mode":"traefik"}`)
	if w.Code != http.StatusOK || received {
		t.Fatalf("repeat switch: code %d, event published %v", w.Code, received)
	}

	// Unknown modes are rejected.
	w = e.request(t, "POST", "/api/mode", "", `{"mode":"bogus"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bogus mode: expected 400, got %d", w.Code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	adapter := newStubAdapter("cloudflare", "example.com",
		types.Record{ExternalID: "r1", Type: types.TypeA, Name: "app.example.com", Content: "203.0.113.10"},
	)
	e := newTestEnv(t, "", adapter)

	w := e.request(t, "GET", "/api/status", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := decodeBody(t, w)
	if body["version"] != "0.1.0-test" {
		t.Errorf("version = %v", body["version"])
	}
	if body["mode"] != "direct" {
		t.Errorf("mode = %v, want direct", body["mode"])
	}
	if body["cleanup_enabled"] != true {
		t.Errorf("cleanup_enabled = %v, want true", body["cleanup_enabled"])
	}
}
