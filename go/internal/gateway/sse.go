package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/events"
)

// handleEvents handles GET /api/lobbies/{code}/events, a server-sent
// events stream. Event ids carry the timestamp cursor, so a client that
// reconnects with Last-Event-ID resumes where it stopped.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}

	// A dead lobby gets a plain 404 here, not a stream that closes on
	// its first poll. EventSource clients stop retrying on 404.
	if _, err := s.app.Snapshot(r.Context(), code); err != nil {
		s.respondError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseSink{w: w, flusher: flusher}
	if err := s.runner.Run(r.Context(), code, playerID, eventCursor(r), sink); err != nil {
		log.Error().Err(err).Str("lobby_code", code).Str("player_id", playerID).Msg("sse stream failed")
	}
}

// eventCursor reads the resume position: the standard Last-Event-ID
// header from EventSource reconnects, or a cursor query parameter for
// first-party clients. Zero means from the top of the queue.
func eventCursor(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("cursor")
	}
	if raw == "" {
		return 0
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return cursor
}

// sseSink frames events for an EventSource client. Only the stream loop
// touches it, so there is no locking.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseSink) Send(ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Timestamp, ev.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseSink) Keepalive() error {
	if _, err := io.WriteString(s.w, ": keepalive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
