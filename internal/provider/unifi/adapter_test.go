package unifi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/trafegodns/trafegodns/internal/config"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

// fakeController simulates the UniFi network v2 static-dns API.
type fakeController struct {
	entries []entry
	nextID  int

	// deferDeletes holds deletes back until flush, simulating the
	// controller applying them asynchronously.
	deferDeletes   bool
	pendingDeletes []string
}

func (f *fakeController) flushDeletes() {
	for _, id := range f.pendingDeletes {
		f.remove(id)
	}
	f.pendingDeletes = nil
}

func (f *fakeController) remove(id string) bool {
	for i, e := range f.entries {
		if e.ID == id {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (f *fakeController) handler() http.Handler {
	mux := http.NewServeMux()
	base := "/proxy/network/v2/api/site/default/static-dns"

	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-KEY") != "test-key" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("GET "+base, authed(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(f.entries)
	}))

	mux.HandleFunc("POST "+base, authed(func(w http.ResponseWriter, r *http.Request) {
		var e entry
		if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.nextID++
		e.ID = fmt.Sprintf("id-%d", f.nextID)
		f.entries = append(f.entries, e)
		json.NewEncoder(w).Encode(e)
	}))

	mux.HandleFunc("DELETE "+base+"/{id}", authed(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if f.deferDeletes {
			f.pendingDeletes = append(f.pendingDeletes, id)
			w.WriteHeader(http.StatusOK)
			return
		}
		if f.remove(id) {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))

	return mux
}

func testAdapter(t *testing.T, fake *fakeController) *Adapter {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	return New(config.UnifiConfig{
		URL:         server.URL,
		APIKey:      "test-key",
		Site:        "default",
		SettleDelay: 100 * time.Millisecond,
	}, time.Hour)
}

func TestAdapter_ListRecords(t *testing.T) {
	fake := &fakeController{entries: []entry{
		{ID: "id-1", Enabled: true, Key: "nas.home.arpa", RecordType: "A", Value: "192.168.1.10", TTL: 300},
		{ID: "id-2", Enabled: true, Key: "www.home.arpa", RecordType: "CNAME", Value: "nas.home.arpa"},
		{ID: "id-3", Enabled: true, Key: "_sip._tcp.home.arpa", RecordType: "SRV", Value: "sip.home.arpa", Priority: 10, Weight: 5, Port: 5060},
	}}
	a := testAdapter(t, fake)
	ctx := context.Background()

	records, err := a.RefreshRecordCache(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}

	srv, found := a.cache.Find(types.TypeSRV, "_sip._tcp.home.arpa")
	if !found {
		t.Fatal("SRV record not cached")
	}
	if srv.ExternalID != "id-3" || srv.Priority != 10 || srv.Weight != 5 || srv.Port != 5060 {
		t.Errorf("SRV record = %+v", srv)
	}

	filtered, err := a.ListRecords(ctx, provider.ListFilter{Type: types.TypeA})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "nas.home.arpa" {
		t.Errorf("filtered = %+v", filtered)
	}
}

func TestAdapter_BadAPIKey(t *testing.T) {
	fake := &fakeController{}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	a := New(config.UnifiConfig{URL: server.URL, APIKey: "wrong", Site: "default"}, time.Hour)
	err := a.TestConnection(context.Background())
	if !provider.IsAuth(err) {
		t.Errorf("err = %v, want auth failure", err)
	}
}

func TestAdapter_CreateDelete(t *testing.T) {
	fake := &fakeController{}
	a := testAdapter(t, fake)
	ctx := context.Background()

	if _, err := a.RefreshRecordCache(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	created, err := a.CreateRecord(ctx, types.DesiredRecord{Record: types.Record{
		Type: types.TypeA, Name: "app.home.arpa", Content: "192.168.1.20", TTL: 300,
	}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ExternalID == "" {
		t.Error("created record missing controller ID")
	}
	if len(fake.entries) != 1 || fake.entries[0].Key != "app.home.arpa" || !fake.entries[0].Enabled {
		t.Errorf("controller entries = %+v", fake.entries)
	}

	if err := a.DeleteRecord(ctx, created.ExternalID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(fake.entries) != 0 {
		t.Errorf("entries after delete = %+v", fake.entries)
	}

	// Idempotent delete.
	if err := a.DeleteRecord(ctx, created.ExternalID); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestAdapter_UpdateWaitsForSettle(t *testing.T) {
	fake := &fakeController{}
	a := testAdapter(t, fake)
	ctx := context.Background()

	if _, err := a.RefreshRecordCache(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	created, err := a.CreateRecord(ctx, types.DesiredRecord{Record: types.Record{
		Type: types.TypeA, Name: "app.home.arpa", Content: "192.168.1.20", TTL: 300,
	}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	start := time.Now()
	updated, err := a.UpdateRecord(ctx, created.ExternalID, types.DesiredRecord{Record: types.Record{
		Type: types.TypeA, Name: "app.home.arpa", Content: "192.168.1.30", TTL: 300,
	}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("update returned after %v, want >= settle delay", elapsed)
	}

	if len(fake.entries) != 1 || fake.entries[0].Value != "192.168.1.30" {
		t.Errorf("entries after update = %+v", fake.entries)
	}
	if updated.ExternalID == created.ExternalID {
		t.Error("update did not allocate a fresh controller ID")
	}
}

func TestAdapter_UpdateSweepsDuplicates(t *testing.T) {
	fake := &fakeController{deferDeletes: true}
	a := testAdapter(t, fake)
	ctx := context.Background()

	if _, err := a.RefreshRecordCache(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	created, err := a.CreateRecord(ctx, types.DesiredRecord{Record: types.Record{
		Type: types.TypeA, Name: "app.home.arpa", Content: "192.168.1.20", TTL: 300,
	}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The deferred delete lands after the create: the sweep must remove
	// the stale duplicate and keep the fresh entry.
	updated, err := a.UpdateRecord(ctx, created.ExternalID, types.DesiredRecord{Record: types.Record{
		Type: types.TypeA, Name: "app.home.arpa", Content: "192.168.1.30", TTL: 300,
	}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	fake.deferDeletes = false
	fake.flushDeletes()

	if len(fake.entries) != 1 {
		t.Fatalf("entries after sweep = %+v", fake.entries)
	}
	if fake.entries[0].ID != updated.ExternalID || fake.entries[0].Value != "192.168.1.30" {
		t.Errorf("sweep kept wrong entry: %+v", fake.entries[0])
	}
}

func TestAdapter_SettleDelayFloor(t *testing.T) {
	a := New(config.UnifiConfig{URL: "https://unifi.local", APIKey: "k", SettleDelay: time.Millisecond}, time.Hour)
	if a.settleDelay != minSettleDelay {
		t.Errorf("settleDelay = %v, want floor %v", a.settleDelay, minSettleDelay)
	}
}

func TestAdapter_ZoneAcceptsAnyHostname(t *testing.T) {
	fake := &fakeController{}
	a := testAdapter(t, fake)
	ctx := context.Background()

	if _, err := a.RefreshRecordCache(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	results := a.BatchEnsureRecords(ctx, []types.DesiredRecord{
		{Record: types.Record{Type: types.TypeA, Name: "anything.anywhere.net", Content: "10.0.0.1"}},
	})
	if results[0].Action != provider.ActionCreated {
		t.Errorf("result = %+v, want created (zone all)", results[0])
	}
}
