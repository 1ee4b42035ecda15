// Package poller keeps the latest source snapshot (Traefik routers or Docker
// containers) current and publishes change events on the bus.
package poller

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/events"
	"github.com/trafegodns/trafegodns/internal/metrics"
	"github.com/trafegodns/trafegodns/internal/types"
)

// State is the poller lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StateOk      State = "ok"
	StateError   State = "error"
	StateStopped State = "stopped"
)

// maxBackoffFactor caps the error backoff at 10x the base interval.
const maxBackoffFactor = 10

// Source produces the current snapshot of one discovery backend.
type Source interface {
	// Name identifies the source ("traefik", "docker").
	Name() string

	// Fetch returns the current snapshot. The snapshot's Healthy flag and
	// TakenAt are filled in by the poller.
	Fetch(ctx context.Context) (types.Snapshot, error)
}

// Poller drives one Source on a fixed interval with bounded error backoff.
//
// A fetch error keeps the previous snapshot with Healthy=false so the
// reconciler never treats a flapping source as an empty desired set.
type Poller struct {
	bus      *events.Bus
	interval time.Duration
	topic    string

	trigger chan struct{}

	mu                sync.RWMutex
	source            Source
	state             State
	snapshot          types.Snapshot
	consecutiveErrors int
}

// New creates a poller publishing snapshots on topic.
func New(source Source, bus *events.Bus, interval time.Duration, topic string) *Poller {
	return &Poller{
		source:   source,
		bus:      bus,
		interval: interval,
		topic:    topic,
		trigger:  make(chan struct{}, 1),
		state:    StateIdle,
	}
}

// Snapshot returns the latest snapshot.
func (p *Poller) Snapshot() types.Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Trigger requests an immediate poll. Non-blocking; a pending trigger is
// collapsed with the new one.
func (p *Poller) Trigger() {
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// SwapSource replaces the polled source (operation mode switch) and triggers
// an immediate poll against it.
func (p *Poller) SwapSource(s Source) {
	p.mu.Lock()
	p.source = s
	p.mu.Unlock()
	p.Trigger()
}

func (p *Poller) currentSource() Source {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.source
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().
		Str("source", p.currentSource().Name()).
		Dur("interval", p.interval).
		Msg("Started source poller")

	p.PollOnce(ctx)

	timer := time.NewTimer(p.nextDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.setState(StateStopped)
			return ctx.Err()
		case <-p.trigger:
		case <-timer.C:
		}

		p.PollOnce(ctx)

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.nextDelay())
	}
}

// PollOnce runs a single poll cycle: fetch, diff against the previous
// snapshot, publish on change.
func (p *Poller) PollOnce(ctx context.Context) {
	p.setState(StatePolling)
	src := p.currentSource()

	snapshot, err := src.Fetch(ctx)
	if err != nil {
		p.mu.Lock()
		p.consecutiveErrors++
		p.snapshot.Healthy = false
		p.state = StateIdle
		errs := p.consecutiveErrors
		p.mu.Unlock()

		metrics.PollsTotal.WithLabelValues(src.Name(), "error").Inc()
		log.Warn().
			Err(err).
			Str("source", src.Name()).
			Int("consecutive_errors", errs).
			Dur("next_poll", p.nextDelay()).
			Msg("Source poll failed, keeping previous snapshot")
		return
	}

	snapshot.Healthy = true
	snapshot.TakenAt = time.Now()

	p.mu.Lock()
	changed := fingerprint(p.snapshot) != fingerprint(snapshot)
	p.snapshot = snapshot
	p.consecutiveErrors = 0
	p.state = StateIdle
	p.mu.Unlock()

	metrics.PollsTotal.WithLabelValues(src.Name(), "ok").Inc()

	if changed {
		log.Debug().
			Str("source", src.Name()).
			Int("containers", len(snapshot.Containers)).
			Int("routers", len(snapshot.Routers)).
			Msg("Source snapshot changed")
		// Subscribers read the snapshot from the poller; the payload is a
		// summary map so the bus can enrich it like every other event.
		p.bus.Publish(p.topic, map[string]any{
			"source":     src.Name(),
			"containers": len(snapshot.Containers),
			"routers":    len(snapshot.Routers),
		})
	}
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// nextDelay returns the wait before the next poll: the base interval, or
// min(interval * 2^k, 10 * interval) after k consecutive errors.
func (p *Poller) nextDelay() time.Duration {
	p.mu.RLock()
	errs := p.consecutiveErrors
	p.mu.RUnlock()

	if errs == 0 {
		return p.interval
	}
	delay := p.interval
	for i := 0; i < errs; i++ {
		delay *= 2
		if delay >= maxBackoffFactor*p.interval {
			return maxBackoffFactor * p.interval
		}
	}
	return delay
}

// fingerprint canonicalizes the parts of a snapshot that affect the desired
// set, so reordered API responses do not count as changes.
func fingerprint(s types.Snapshot) string {
	var parts []string
	for _, c := range s.Containers {
		labels := make([]string, 0, len(c.Labels))
		for k, v := range c.Labels {
			labels = append(labels, k+"="+v)
		}
		sort.Strings(labels)
		parts = append(parts, "container|"+c.ID+"|"+strings.Join(labels, ","))
	}
	for _, r := range s.Routers {
		parts = append(parts, "router|"+r.Name+"|"+r.Rule+"|"+r.Service)
	}
	sort.Strings(parts)
	return strings.Join(parts, "\n")
}
