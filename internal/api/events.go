package api

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/trafegodns/trafegodns/internal/events"
)

const eventWriteTimeout = 10 * time.Second

// handleEvents upgrades to WebSocket and streams every bus event to the
// client. A slow client drops events rather than blocking publishers.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade event stream connection")
		return
	}
	defer conn.Close()

	ch := make(chan events.Event, 64)
	unsubscribe := s.config.Bus.Subscribe("*", func(ev events.Event) {
		select {
		case ch <- ev:
		default:
		}
	})
	defer unsubscribe()

	// Reader loop only notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream client connected")
	for {
		select {
		case <-done:
			log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream client disconnected")
			return
		case ev := <-ch:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}
}
