package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/cerbero/coordinator/internal/events"
)

const (
	eventBufferSize   = 100
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// handleEventsWS streams bus events to a websocket client.
// ?types=A,B limits the stream to the named event types.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	types := parseEventTypes(r.URL.Query().Get("types"))

	// The server write timeout would otherwise cut long-lived streams
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: s.cfg.DevMode,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	// Clients never send; CloseRead handles control frames and cancels ctx on disconnect
	ctx := conn.CloseRead(r.Context())

	stream := make(chan *events.Event, eventBufferSize)
	forward := func(e *events.Event) {
		select {
		case stream <- e:
		default:
			s.log.Warn().Str("event_type", string(e.Type)).Msg("Event stream buffer full, dropping event")
		}
	}

	for _, t := range types {
		unsubscribe := s.cfg.Bus.Subscribe(t, forward)
		defer unsubscribe()
	}

	s.log.Debug().Int("types", len(types)).Msg("Event stream client connected")

	ticker := time.NewTicker(eventPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug().Msg("Event stream client disconnected")
			return
		case e := <-stream:
			if err := writeWithTimeout(ctx, func(ctx context.Context) error {
				return wsjson.Write(ctx, conn, e)
			}); err != nil {
				s.log.Debug().Err(err).Msg("Event stream write failed")
				return
			}
		case <-ticker.C:
			if err := writeWithTimeout(ctx, conn.Ping); err != nil {
				return
			}
		}
	}
}

func writeWithTimeout(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
	defer cancel()
	return fn(ctx)
}

// parseEventTypes returns the requested known types, or every type when none match
func parseEventTypes(raw string) []events.EventType {
	if strings.TrimSpace(raw) == "" {
		return events.AllEventTypes
	}

	known := make(map[events.EventType]bool, len(events.AllEventTypes))
	for _, t := range events.AllEventTypes {
		known[t] = true
	}

	var selected []events.EventType
	for _, part := range strings.Split(raw, ",") {
		t := events.EventType(strings.ToUpper(strings.TrimSpace(part)))
		if known[t] {
			selected = append(selected, t)
		}
	}
	if len(selected) == 0 {
		return events.AllEventTypes
	}
	return selected
}
