package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trafegodns/trafegodns/internal/types"
)

func testRecord(name, content string) types.Record {
	return types.Record{Type: types.TypeA, Name: name, Content: content, TTL: 300}
}

func TestRecordCache_RefreshOnFirstRead(t *testing.T) {
	calls := 0
	cache := NewRecordCache("test", time.Hour, func(context.Context) ([]types.Record, error) {
		calls++
		return []types.Record{testRecord("a.example.com", "203.0.113.1")}, nil
	})

	records, err := cache.Records(context.Background(), false)
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if len(records) != 1 || calls != 1 {
		t.Errorf("records=%d calls=%d, want 1/1", len(records), calls)
	}

	// Fresh snapshot: no second refresh.
	if _, err := cache.Records(context.Background(), false); err != nil {
		t.Fatalf("Records: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls=%d after fresh read, want 1", calls)
	}

	// Forced refresh hits the provider again.
	if _, err := cache.Records(context.Background(), true); err != nil {
		t.Fatalf("Records: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls=%d after forced read, want 2", calls)
	}
}

func TestRecordCache_StaleAfterHorizon(t *testing.T) {
	calls := 0
	cache := NewRecordCache("test", time.Nanosecond, func(context.Context) ([]types.Record, error) {
		calls++
		return nil, nil
	})

	cache.Records(context.Background(), false)
	time.Sleep(time.Millisecond)
	cache.Records(context.Background(), false)

	if calls != 2 {
		t.Errorf("calls=%d, want refresh after horizon", calls)
	}
}

func TestRecordCache_UpsertAndRemove(t *testing.T) {
	cache := NewRecordCache("test", time.Hour, func(context.Context) ([]types.Record, error) {
		return nil, nil
	})
	cache.Records(context.Background(), false)

	r := testRecord("a.example.com", "203.0.113.1")
	r.ExternalID = "id-1"
	cache.Upsert(r)

	got, ok := cache.Find(types.TypeA, "A.Example.Com")
	if !ok || got.ExternalID != "id-1" {
		t.Fatalf("Find after Upsert: ok=%v record=%+v", ok, got)
	}

	// Replacing by external ID even when content changed.
	r.Content = "203.0.113.2"
	cache.Upsert(r)
	if cache.Len() != 1 {
		t.Errorf("Len=%d after replace, want 1", cache.Len())
	}
	got, _ = cache.Find(types.TypeA, "a.example.com")
	if got.Content != "203.0.113.2" {
		t.Errorf("content=%q after replace", got.Content)
	}

	cache.Remove(r)
	if _, ok := cache.Find(types.TypeA, "a.example.com"); ok {
		t.Error("record still present after Remove")
	}
}

func TestRecordCache_KeyWithoutExternalID(t *testing.T) {
	cache := NewRecordCache("test", time.Hour, func(context.Context) ([]types.Record, error) {
		return nil, nil
	})
	cache.Records(context.Background(), false)

	// Multi-value RRset: same identity, different content, two entries.
	cache.Upsert(testRecord("example.com", "mx1.example.com"))
	cache.Upsert(testRecord("example.com", "mx2.example.com"))
	if cache.Len() != 2 {
		t.Fatalf("Len=%d, want 2 separate values", cache.Len())
	}

	cache.Remove(testRecord("example.com", "mx1.example.com"))
	if cache.Len() != 1 {
		t.Errorf("Len=%d after Remove, want 1", cache.Len())
	}
}

func TestRecordCache_RefreshErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	cache := NewRecordCache("test", time.Hour, func(context.Context) ([]types.Record, error) {
		return nil, boom
	})

	if _, err := cache.Records(context.Background(), false); !errors.Is(err, boom) {
		t.Errorf("err=%v, want wrapped boom", err)
	}
	if !cache.LastUpdated().IsZero() {
		t.Error("lastUpdated advanced on failed refresh")
	}
}

func TestRecordCache_Invalidate(t *testing.T) {
	calls := 0
	cache := NewRecordCache("test", time.Hour, func(context.Context) ([]types.Record, error) {
		calls++
		return nil, nil
	})

	cache.Records(context.Background(), false)
	cache.Invalidate()
	cache.Records(context.Background(), false)

	if calls != 2 {
		t.Errorf("calls=%d, want refresh after Invalidate", calls)
	}
}
