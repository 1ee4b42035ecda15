package reconciler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/events"
	"github.com/trafegodns/trafegodns/internal/poller"
	"github.com/trafegodns/trafegodns/internal/types"
)

// Engine runs all per-provider reconcilers against the active source poller.
// Source change events and the poll interval both trigger a full pass;
// providers reconcile in parallel, each serialized internally.
type Engine struct {
	poller      *poller.Poller
	reconcilers []*Reconciler
	bus         *events.Bus
	interval    time.Duration

	trigger chan struct{}
}

// NewEngine wires the reconcilers to the poller and bus.
func NewEngine(p *poller.Poller, reconcilers []*Reconciler, bus *events.Bus, interval time.Duration) *Engine {
	return &Engine{
		poller:      p,
		reconcilers: reconcilers,
		bus:         bus,
		interval:    interval,
		trigger:     make(chan struct{}, 1),
	}
}

// Reconcilers returns the per-provider reconcilers.
func (e *Engine) Reconcilers() []*Reconciler { return e.reconcilers }

// Trigger requests an immediate pass; pending triggers collapse.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles on source changes and on the interval until ctx is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	unsubRouters := e.bus.Subscribe(events.TopicRoutersUpdated, func(events.Event) { e.Trigger() })
	defer unsubRouters()
	unsubLabels := e.bus.Subscribe(events.TopicLabelsUpdated, func(events.Event) { e.Trigger() })
	defer unsubLabels()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", e.interval).
		Int("providers", len(e.reconcilers)).
		Msg("Started reconciliation engine (event-driven + periodic)")

	e.ReconcileAll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.trigger:
			e.ReconcileAll(ctx)
		case <-ticker.C:
			e.ReconcileAll(ctx)
		}
	}
}

// ReconcileAll runs one cycle on every provider against the latest snapshot.
func (e *Engine) ReconcileAll(ctx context.Context) {
	snapshot := e.poller.Snapshot()
	e.reconcileSnapshot(ctx, snapshot)
}

func (e *Engine) reconcileSnapshot(ctx context.Context, snapshot types.Snapshot) {
	var wg sync.WaitGroup
	for _, r := range e.reconcilers {
		wg.Add(1)
		go func(r *Reconciler) {
			defer wg.Done()
			r.ReconcileOnce(ctx, snapshot)
		}(r)
	}
	wg.Wait()
}

// RefreshAll forces a cache reload on every provider, then reconciles.
func (e *Engine) RefreshAll(ctx context.Context) {
	for _, r := range e.reconcilers {
		if err := r.RefreshCache(ctx); err != nil {
			log.Error().Err(err).Str("provider", r.Provider()).Msg("Forced cache refresh failed")
		}
	}
	e.ReconcileAll(ctx)
}
