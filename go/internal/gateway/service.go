// Package gateway is the HTTP face of the game. Lobby actions are plain
// JSON endpoints; the live stream reaches clients over server-sent
// events or a websocket, both driven by the same stream loop.
package gateway

import (
	"net/http"
	"strings"

	"github.com/emojidash/emojidash/go/internal/config"
	"github.com/emojidash/emojidash/go/internal/game"
	"github.com/emojidash/emojidash/go/internal/lobby"
	"github.com/emojidash/emojidash/go/internal/stream"
)

const lobbyPrefix = "/api/lobbies/"

// Service routes HTTP traffic onto the game core.
type Service struct {
	app         *game.App
	coordinator *game.Coordinator
	runner      *stream.Runner
	rules       config.Rules
	ws          WSConfig
}

// NewService creates the HTTP service.
func NewService(app *game.App, coordinator *game.Coordinator, runner *stream.Runner, rules config.Rules) *Service {
	return &Service{
		app:         app,
		coordinator: coordinator,
		runner:      runner,
		rules:       rules,
		ws:          DefaultWSConfig(),
	}
}

// RegisterRoutes attaches every endpoint to the mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/lobbies", s.handleCreateLobby)
	mux.HandleFunc(lobbyPrefix, s.handleLobbyRequest)
	mux.HandleFunc("/ws/lobbies/", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
}

// handleLobbyRequest dispatches everything nested under a lobby code:
//
//	GET  /api/lobbies/{code}
//	POST /api/lobbies/{code}/join
//	POST /api/lobbies/{code}/leave
//	POST /api/lobbies/{code}/guess
//	POST /api/lobbies/{code}/transitions/{name}
//	GET  /api/lobbies/{code}/events
func (s *Service) handleLobbyRequest(w http.ResponseWriter, r *http.Request) {
	code, action, ok := splitLobbyPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch action {
	case "":
		s.handleSnapshot(w, r, code)
	case "join":
		s.handleJoin(w, r, code)
	case "leave":
		s.handleLeave(w, r, code)
	case "guess":
		s.handleGuess(w, r, code)
	case "events":
		s.handleEvents(w, r, code)
	default:
		if name, found := strings.CutPrefix(action, "transitions/"); found && name != "" && !strings.Contains(name, "/") {
			s.handleTransition(w, r, code, name)
			return
		}
		http.NotFound(w, r)
	}
}

// splitLobbyPath pulls the lobby code and the nested action out of a
// path like /api/lobbies/{code}/transitions/{name}. The code comes back
// normalized; ok is false when it does not even look like one.
func splitLobbyPath(path string) (code, action string, ok bool) {
	rest := strings.TrimPrefix(path, lobbyPrefix)
	if rest == path || rest == "" {
		return "", "", false
	}
	rest = strings.TrimSuffix(rest, "/")

	code = rest
	if i := strings.Index(rest, "/"); i >= 0 {
		code, action = rest[:i], rest[i+1:]
	}
	code = lobby.NormalizeCode(code)
	if !lobby.ValidCode(code) {
		return "", "", false
	}
	return code, action, true
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
