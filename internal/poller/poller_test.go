package poller

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/trafegodns/trafegodns/internal/config"
	"github.com/trafegodns/trafegodns/internal/events"
	"github.com/trafegodns/trafegodns/internal/provider"
	"github.com/trafegodns/trafegodns/internal/types"
)

// scriptedSource replays a fixed sequence of fetch outcomes.
type scriptedSource struct {
	results []func() (types.Snapshot, error)
	calls   int
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Fetch(ctx context.Context) (types.Snapshot, error) {
	if s.calls >= len(s.results) {
		return types.Snapshot{}, errors.New("no more scripted results")
	}
	r := s.results[s.calls]
	s.calls++
	return r()
}

func routers(names ...string) func() (types.Snapshot, error) {
	return func() (types.Snapshot, error) {
		s := types.Snapshot{Mode: types.ModeTraefik}
		for _, n := range names {
			s.Routers = append(s.Routers, types.RouterInput{Name: n, Rule: "Host(`" + n + ".example.com`)"})
		}
		return s, nil
	}
}

func fetchErr() (types.Snapshot, error) {
	return types.Snapshot{}, errors.New("boom")
}

func TestPollOnce_PublishesOnChangeOnly(t *testing.T) {
	source := &scriptedSource{results: []func() (types.Snapshot, error){
		routers("a"),
		routers("a"), // same content, reordered responses count as unchanged
		routers("a", "b"),
	}}
	bus := events.NewBus()

	var published atomic.Int32
	bus.Subscribe(events.TopicRoutersUpdated, func(events.Event) { published.Add(1) })

	p := New(source, bus, time.Minute, events.TopicRoutersUpdated)
	ctx := context.Background()

	p.PollOnce(ctx)
	p.PollOnce(ctx)
	p.PollOnce(ctx)

	if got := published.Load(); got != 2 {
		t.Errorf("published %d events, want 2 (initial + change)", got)
	}
	if got := p.Snapshot(); len(got.Routers) != 2 || !got.Healthy {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestPollOnce_EventPayloadEnriched(t *testing.T) {
	source := &scriptedSource{results: []func() (types.Snapshot, error){
		routers("a"),
	}}
	bus := events.NewBus()

	var data map[string]any
	bus.Subscribe(events.TopicRoutersUpdated, func(ev events.Event) {
		data, _ = ev.Data.(map[string]any)
	})

	p := New(source, bus, time.Minute, events.TopicRoutersUpdated)
	p.PollOnce(context.Background())

	if data == nil {
		t.Fatal("no map payload published")
	}
	if data["_eventType"] != events.TopicRoutersUpdated {
		t.Errorf("_eventType = %v, want %s", data["_eventType"], events.TopicRoutersUpdated)
	}
	if _, ok := data["_timestamp"]; !ok {
		t.Error("payload missing _timestamp")
	}
	if data["routers"] != 1 {
		t.Errorf("routers = %v, want 1", data["routers"])
	}
}

func TestPollOnce_ErrorKeepsSnapshotUnhealthy(t *testing.T) {
	source := &scriptedSource{results: []func() (types.Snapshot, error){
		routers("a"),
		fetchErr,
	}}
	p := New(source, events.NewBus(), time.Minute, events.TopicRoutersUpdated)
	ctx := context.Background()

	p.PollOnce(ctx)
	p.PollOnce(ctx)

	got := p.Snapshot()
	if len(got.Routers) != 1 {
		t.Fatalf("error discarded previous snapshot: %+v", got)
	}
	if got.Healthy {
		t.Error("snapshot still marked healthy after fetch error")
	}
}

func TestNextDelay_BoundedBackoff(t *testing.T) {
	interval := time.Second
	p := New(&scriptedSource{}, events.NewBus(), interval, "t")

	tests := []struct {
		errors int
		want   time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{20, 10 * time.Second},
	}
	for _, tt := range tests {
		p.consecutiveErrors = tt.errors
		if got := p.nextDelay(); got != tt.want {
			t.Errorf("nextDelay(errors=%d) = %v, want %v", tt.errors, got, tt.want)
		}
	}
}

func TestNextDelay_ResetsOnSuccess(t *testing.T) {
	source := &scriptedSource{results: []func() (types.Snapshot, error){
		fetchErr,
		fetchErr,
		routers("a"),
	}}
	p := New(source, events.NewBus(), time.Second, "t")
	ctx := context.Background()

	p.PollOnce(ctx)
	p.PollOnce(ctx)
	if got := p.nextDelay(); got != 4*time.Second {
		t.Errorf("nextDelay after 2 errors = %v, want 4s", got)
	}

	p.PollOnce(ctx)
	if got := p.nextDelay(); got != time.Second {
		t.Errorf("nextDelay after recovery = %v, want 1s", got)
	}
}

func TestTrigger_CollapsesPending(t *testing.T) {
	p := New(&scriptedSource{}, events.NewBus(), time.Minute, "t")
	p.Trigger()
	p.Trigger()
	p.Trigger()

	if len(p.trigger) != 1 {
		t.Errorf("trigger queue length = %d, want 1", len(p.trigger))
	}
}

func TestTraefikSource_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/http/routers" {
			http.NotFound(w, r)
			return
		}
		user, pass, _ := r.BasicAuth()
		if user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[
			{"name":"web@docker","rule":"Host(` + "`app.example.com`" + `)","service":"web","status":"enabled"},
			{"name":"off@docker","rule":"Host(` + "`off.example.com`" + `)","service":"off","status":"disabled"},
			{"name":"tcpish@docker","rule":"","service":"x","status":"enabled"}
		]`))
	}))
	t.Cleanup(server.Close)

	source := NewTraefikSource(config.TraefikConfig{APIURL: server.URL, Username: "admin", Password: "secret"})
	snapshot, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(snapshot.Routers) != 1 || snapshot.Routers[0].Name != "web@docker" {
		t.Errorf("routers = %+v, want only the enabled router with a rule", snapshot.Routers)
	}
}

func TestTraefikSource_AuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(server.Close)

	source := NewTraefikSource(config.TraefikConfig{APIURL: server.URL})
	_, err := source.Fetch(context.Background())
	if !provider.IsAuth(err) {
		t.Errorf("err = %v, want auth failure", err)
	}
}

func TestMatchesFilter(t *testing.T) {
	labels := map[string]string{"trafegodns.enable": "true", "other": "x"}

	tests := []struct {
		filter string
		want   bool
	}{
		{"trafegodns.enable=true", true},
		{"trafegodns.enable=false", false},
		{"trafegodns.enable=", true},
		{"missing=true", false},
		{"malformed", true},
	}
	for _, tt := range tests {
		if got := matchesFilter(labels, tt.filter); got != tt.want {
			t.Errorf("matchesFilter(%q) = %v, want %v", tt.filter, got, tt.want)
		}
	}
}
