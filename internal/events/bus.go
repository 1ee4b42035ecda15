// Package events provides the in-process publish/subscribe bus.
package events

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Well-known topics.
const (
	TopicRecordCreated   = "dns:record:created"
	TopicRecordUpdated   = "dns:record:updated"
	TopicRecordDeleted   = "dns:record:deleted"
	TopicRecordsUpdated  = "dns:records:updated"
	TopicCacheRefreshed  = "dns:cache:refreshed"
	TopicRoutersUpdated  = "traefik:routers:updated"
	TopicLabelsUpdated   = "docker:labels:updated"
	TopicErrorOccurred   = "error:occurred"
	TopicConfigUpdated   = "config:updated"
	TopicModeChanged     = "operation_mode_changed"
	TopicTunnelCreated   = "tunnel:created"
	TopicTunnelDeployed  = "tunnel:deployed"
	TopicTunnelDeleted   = "tunnel:deleted"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	// Type is the topic the event was published on.
	Type string `json:"eventType"`
	// Data is the publisher's payload, enriched with _timestamp and
	// _eventType when it is a map.
	Data any `json:"data"`
	// Timestamp is when the event was published (UTC).
	Timestamp time.Time `json:"timestamp"`
}

// Handler receives events. Panics inside a handler are recovered and logged;
// they never reach the publisher.
type Handler func(Event)

type subscription struct {
	id      int
	topic   string
	pattern *regexp.Regexp // nil for exact subscriptions
	handler Handler
}

// Bus is a synchronous in-process publish/subscribe bus.
//
// Subscribers register an exact topic or a glob with '*' wildcards; '*'
// matches any run of characters, within or across segments. The topic "*"
// alone receives every event. Publication iterates exact handlers first, then
// matching wildcard handlers, all on the publisher's goroutine, so events from
// one publisher arrive at each subscriber in publication order.
type Bus struct {
	mu        sync.RWMutex
	nextID    int
	exact     map[string][]*subscription
	wildcards []*subscription
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{exact: make(map[string][]*subscription)}
}

// Subscribe registers a handler for a topic. The returned function removes
// the subscription.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, topic: topic, handler: h}

	if strings.Contains(topic, "*") {
		sub.pattern = compileTopic(topic)
		b.wildcards = append(b.wildcards, sub)
	} else {
		b.exact[topic] = append(b.exact[topic], sub)
	}

	id := sub.id
	return func() { b.remove(topic, id) }
}

func (b *Bus) remove(topic string, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if strings.Contains(topic, "*") {
		for i, sub := range b.wildcards {
			if sub.id == id {
				b.wildcards = append(b.wildcards[:i], b.wildcards[i+1:]...)
				return
			}
		}
		return
	}
	subs := b.exact[topic]
	for i, sub := range subs {
		if sub.id == id {
			b.exact[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers an event to all matching subscribers synchronously.
// Map payloads are enriched with _timestamp (ISO-8601 UTC) and _eventType.
func (b *Bus) Publish(topic string, data any) {
	now := time.Now().UTC()

	if m, ok := data.(map[string]any); ok {
		m["_timestamp"] = now.Format(time.RFC3339)
		m["_eventType"] = topic
	}

	ev := Event{Type: topic, Data: data, Timestamp: now}

	b.mu.RLock()
	exact := append([]*subscription(nil), b.exact[topic]...)
	wildcards := append([]*subscription(nil), b.wildcards...)
	b.mu.RUnlock()

	for _, sub := range exact {
		deliver(sub, ev)
	}
	for _, sub := range wildcards {
		if sub.pattern.MatchString(topic) {
			deliver(sub, ev)
		}
	}
}

func deliver(sub *subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("topic", ev.Type).
				Str("subscription", sub.topic).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	sub.handler(ev)
}

// compileTopic turns a glob topic into an anchored regexp. Everything except
// '*' is matched literally.
func compileTopic(topic string) *regexp.Regexp {
	parts := strings.Split(topic, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*") + "$")
}
