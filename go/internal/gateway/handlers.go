package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/game"
	"github.com/emojidash/emojidash/go/internal/models"
)

// maxBodyBytes caps request bodies. Every endpoint takes a tiny JSON
// document, so anything bigger is garbage.
const maxBodyBytes = 4 << 10

type createLobbyRequest struct {
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

type joinLobbyRequest struct {
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

type leaveLobbyRequest struct {
	PlayerID string `json:"playerId"`
}

type guessRequest struct {
	PlayerID string `json:"playerId"`
	ItemID   string `json:"itemId"`
}

type transitionRequest struct {
	PlayerID string `json:"playerId,omitempty"`
	Round    int    `json:"round,omitempty"`
}

type lobbyResponse struct {
	Session *models.Session `json:"session"`
	Player  *models.Player  `json:"player,omitempty"`
}

type transitionResponse struct {
	Applied bool `json:"applied"`
}

// handleCreateLobby handles POST /api/lobbies.
func (s *Service) handleCreateLobby(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createLobbyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, player, err := s.app.CreateLobby(r.Context(), req.DisplayName, req.Avatar)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, lobbyResponse{Session: sess, Player: player})
}

// handleJoin handles POST /api/lobbies/{code}/join.
func (s *Service) handleJoin(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req joinLobbyRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sess, player, err := s.app.JoinLobby(r.Context(), code, req.DisplayName, req.Avatar)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lobbyResponse{Session: sess, Player: player})
}

// handleLeave handles POST /api/lobbies/{code}/leave.
func (s *Service) handleLeave(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req leaveLobbyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PlayerID == "" {
		http.Error(w, "playerId is required", http.StatusBadRequest)
		return
	}

	if err := s.app.LeaveLobby(r.Context(), code, req.PlayerID); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSnapshot handles GET /api/lobbies/{code}.
func (s *Service) handleSnapshot(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sess, err := s.app.Snapshot(r.Context(), code)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, lobbyResponse{Session: sess})
}

// handleGuess handles POST /api/lobbies/{code}/guess.
func (s *Service) handleGuess(w http.ResponseWriter, r *http.Request, code string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req guessRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.PlayerID == "" || req.ItemID == "" {
		http.Error(w, "playerId and itemId are required", http.StatusBadRequest)
		return
	}

	result, err := s.app.SubmitGuess(r.Context(), code, req.PlayerID, req.ItemID)
	if err != nil {
		s.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// handleTransition handles POST /api/lobbies/{code}/transitions/{name}.
// The response says whether this call applied the transition; false
// means not due yet or already done, and the client just keeps polling.
func (s *Service) handleTransition(w http.ResponseWriter, r *http.Request, code, name string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transitionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx := r.Context()
	var applied bool
	var err error
	switch name {
	case "start":
		applied, err = s.coordinator.StartGame(ctx, code, req.PlayerID)
	case "preload":
		applied, err = s.coordinator.PreloadRound(ctx, code, req.Round)
	case "round-start":
		applied, err = s.coordinator.CheckAndStartRound(ctx, code, req.Round)
	case "round-end":
		applied, err = s.coordinator.CheckAndEndRound(ctx, code, req.Round)
	case "progress":
		applied, err = s.coordinator.CheckAndProgress(ctx, code, req.Round)
	case "reset":
		applied, err = s.coordinator.ResetGame(ctx, code, req.PlayerID)
	default:
		http.NotFound(w, r)
		return
	}

	// A transition that landed but failed to announce itself still
	// landed; clients pick the change up from the queue or a snapshot.
	if err != nil && !applied {
		s.respondError(w, err)
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("lobby_code", code).Str("transition", name).Msg("transition applied but emit failed")
	}
	respondJSON(w, http.StatusOK, transitionResponse{Applied: applied})
}

// decodeBody reads a small JSON body into dst. An empty body leaves dst
// at its zero value, which endpoints with optional fields rely on.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

// respondError maps the game's sentinel errors onto status codes.
// Anything unrecognized is a store or wiring failure and stays opaque.
func (s *Service) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrLobbyNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, game.ErrPlayerNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, game.ErrLobbyFull),
		errors.Is(err, game.ErrGameInProgress),
		errors.Is(err, game.ErrRoundNotActive):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, game.ErrInvalidName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error().Err(err).Msg("request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}
