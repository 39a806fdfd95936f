package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/events"
	"github.com/emojidash/emojidash/go/internal/lobby"
)

// WSConfig holds the websocket transport knobs.
type WSConfig struct {
	WriteTimeout    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultWSConfig returns the standard websocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		WriteTimeout:    10 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// handleWebSocket handles GET /ws/lobbies/{code}?playerId=...&cursor=...
// The socket only carries server-to-client events; clients act through
// the JSON endpoints, so inbound frames are drained purely to notice
// the close.
func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	code := lobby.NormalizeCode(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/ws/lobbies/"), "/"))
	if !lobby.ValidCode(code) {
		http.Error(w, "Invalid lobby code", http.StatusBadRequest)
		return
	}
	playerID := r.URL.Query().Get("playerId")
	if playerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}
	if _, err := s.app.Snapshot(r.Context(), code); err != nil {
		s.respondError(w, err)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  s.ws.ReadBufferSize,
		WriteBufferSize: s.ws.WriteBufferSize,
		CheckOrigin:     s.ws.CheckOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("lobby_code", code).Msg("failed to upgrade websocket connection")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(s.ws.MaxMessageSize)
	go func() {
		// The read side exists to detect the client hanging up.
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log.Info().Str("lobby_code", code).Str("player_id", playerID).Msg("websocket connection established")

	sink := &wsSink{conn: conn, timeout: s.ws.WriteTimeout}
	if err := s.runner.Run(ctx, code, playerID, eventCursor(r), sink); err != nil {
		log.Error().Err(err).Str("lobby_code", code).Str("player_id", playerID).Msg("websocket stream failed")
	}

	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

// wsSink frames events for a websocket client. Only the stream loop
// writes, so the connection's single-writer rule holds without locking.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSink) Send(ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) Keepalive() error {
	s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}
