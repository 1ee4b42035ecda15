package events

import (
	"testing"
)

func TestBus_ExactSubscription(t *testing.T) {
	bus := NewBus()

	var got []string
	bus.Subscribe(TopicRecordCreated, func(ev Event) {
		got = append(got, ev.Type)
	})

	bus.Publish(TopicRecordCreated, nil)
	bus.Publish(TopicRecordDeleted, nil)

	if len(got) != 1 || got[0] != TopicRecordCreated {
		t.Errorf("got %v, want [%s]", got, TopicRecordCreated)
	}
}

func TestBus_WildcardSubscription(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		topic   string
		match   bool
	}{
		{"segment wildcard", "dns:record:*", "dns:record:created", true},
		{"segment wildcard no match", "dns:record:*", "tunnel:created", false},
		{"cross segment", "dns:*", "dns:record:deleted", true},
		{"catch-all", "*", "anything:at:all", true},
		{"middle wildcard", "dns:*:created", "dns:record:created", true},
		{"literal dot not wildcard", "a.b", "axb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewBus()
			matched := false
			bus.Subscribe(tt.pattern, func(Event) { matched = true })
			bus.Publish(tt.topic, nil)
			if matched != tt.match {
				t.Errorf("pattern %q topic %q: matched=%v, want %v", tt.pattern, tt.topic, matched, tt.match)
			}
		})
	}
}

func TestBus_PublicationOrder(t *testing.T) {
	bus := NewBus()

	var got []int
	bus.Subscribe("seq", func(ev Event) {
		got = append(got, ev.Data.(int))
	})

	for i := 0; i < 10; i++ {
		bus.Publish("seq", i)
	}

	for i, v := range got {
		if v != i {
			t.Fatalf("out of order delivery: got %v", got)
		}
	}
}

func TestBus_HandlerPanicDoesNotPropagate(t *testing.T) {
	bus := NewBus()

	bus.Subscribe("boom", func(Event) { panic("handler failure") })

	reached := false
	bus.Subscribe("boom", func(Event) { reached = true })

	bus.Publish("boom", nil) // must not panic
	if !reached {
		t.Error("second handler not reached after first panicked")
	}
}

func TestBus_EnrichesMapPayload(t *testing.T) {
	bus := NewBus()

	var data map[string]any
	bus.Subscribe("enrich", func(ev Event) {
		data = ev.Data.(map[string]any)
	})

	bus.Publish("enrich", map[string]any{"hostname": "app.example.com"})

	if data["_eventType"] != "enrich" {
		t.Errorf("_eventType = %v, want enrich", data["_eventType"])
	}
	if _, ok := data["_timestamp"].(string); !ok {
		t.Error("_timestamp missing or not a string")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()

	count := 0
	unsub := bus.Subscribe("topic", func(Event) { count++ })

	bus.Publish("topic", nil)
	unsub()
	bus.Publish("topic", nil)

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}
