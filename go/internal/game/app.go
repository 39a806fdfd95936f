package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/config"
	"github.com/emojidash/emojidash/go/internal/events"
	"github.com/emojidash/emojidash/go/internal/lobby"
	"github.com/emojidash/emojidash/go/internal/models"
	"github.com/emojidash/emojidash/go/internal/scoring"
	"github.com/emojidash/emojidash/go/internal/store"
)

// Errors the HTTP layer maps onto status codes.
var (
	ErrLobbyNotFound  = errors.New("lobby not found")
	ErrLobbyFull      = errors.New("lobby is full")
	ErrGameInProgress = errors.New("game already in progress")
	ErrPlayerNotFound = errors.New("player not in lobby")
	ErrRoundNotActive = errors.New("no active round")
	ErrInvalidName    = errors.New("display name must be 1-24 characters")
)

const maxNameLength = 24

// PresenceChecker is the slice of the presence monitor the app needs:
// leaving a lobby is just a forced presence eviction.
type PresenceChecker interface {
	Check(ctx context.Context, code string, forced ...string) error
}

// App exposes the player-facing lobby operations. Membership writes are
// durable before any event goes out; event fan-out failures are logged
// and absorbed because clients converge through snapshots and polling.
type App struct {
	repo        *lobby.Repository
	broadcaster *events.Broadcaster
	coordinator *Coordinator
	presence    PresenceChecker
	rules       config.Rules
	scoring     scoring.Params
	clock       clockwork.Clock
}

// NewApp wires the lobby operations.
func NewApp(repo *lobby.Repository, b *events.Broadcaster, c *Coordinator, presence PresenceChecker, rules config.Rules, clock clockwork.Clock) *App {
	return &App{
		repo:        repo,
		broadcaster: b,
		coordinator: c,
		presence:    presence,
		rules:       rules,
		scoring:     rules.ScoringParams(),
		clock:       clock,
	}
}

// CreateLobby opens a fresh lobby with the creator as host.
func (a *App) CreateLobby(ctx context.Context, displayName, avatar string) (*models.Session, *models.Player, error) {
	name, err := cleanName(displayName)
	if err != nil {
		return nil, nil, err
	}

	now := a.clock.Now()
	player := models.Player{
		ID:          uuid.NewString(),
		DisplayName: name,
		Avatar:      avatar,
		IsHost:      true,
		JoinedAt:    now,
	}

	// Codes are drawn from 32^6 values, so one retry is already rare.
	for attempt := 0; attempt < 5; attempt++ {
		sess := &models.Session{
			Code:      lobby.GenerateCode(),
			HostID:    player.ID,
			Players:   []models.Player{player},
			State:     models.StateWaiting,
			CreatedAt: now,
		}
		created, err := a.repo.CreateSession(ctx, sess)
		if err != nil {
			return nil, nil, err
		}
		if !created {
			continue
		}
		if err := a.repo.MarkJoined(ctx, sess.Code, player.ID); err != nil {
			return nil, nil, err
		}
		log.Info().
			Str("lobby_code", sess.Code).
			Str("host_id", player.ID).
			Msg("lobby created")
		return sess, &sess.Players[0], nil
	}
	return nil, nil, fmt.Errorf("could not find a free lobby code")
}

// JoinLobby adds a player to a waiting lobby.
func (a *App) JoinLobby(ctx context.Context, code, displayName, avatar string) (*models.Session, *models.Player, error) {
	name, err := cleanName(displayName)
	if err != nil {
		return nil, nil, err
	}

	sess, err := a.loadSession(ctx, code)
	if err != nil {
		return nil, nil, err
	}
	if sess.State != models.StateWaiting {
		return nil, nil, ErrGameInProgress
	}
	if len(sess.Players) >= a.rules.MaxPlayers {
		return nil, nil, ErrLobbyFull
	}

	player := models.Player{
		ID:          uuid.NewString(),
		DisplayName: name,
		Avatar:      avatar,
		JoinedAt:    a.clock.Now(),
	}
	sess.Players = append(sess.Players, player)

	if err := a.repo.SaveSession(ctx, sess); err != nil {
		return nil, nil, err
	}
	if err := a.repo.MarkJoined(ctx, code, player.ID); err != nil {
		return nil, nil, err
	}

	log.Info().
		Str("lobby_code", code).
		Str("player_id", player.ID).
		Int("players", len(sess.Players)).
		Msg("player joined")

	a.emit(ctx, code, events.TypePlayerJoined, events.PlayerJoinedPayload{
		Player:      player,
		PlayerCount: len(sess.Players),
	})
	a.emit(ctx, code, events.TypeLobbyUpdated, events.LobbyUpdatedPayload{Session: sess})

	return sess, sess.Player(player.ID), nil
}

// LeaveLobby removes a player immediately. It is a forced presence
// eviction, so host failover and empty-lobby teardown come for free.
func (a *App) LeaveLobby(ctx context.Context, code, playerID string) error {
	return a.presence.Check(ctx, code, playerID)
}

// Snapshot returns the current session document. This is the fallback
// truth clients reconcile against when the event stream lets them down.
func (a *App) Snapshot(ctx context.Context, code string) (*models.Session, error) {
	return a.loadSession(ctx, code)
}

func (a *App) loadSession(ctx context.Context, code string) (*models.Session, error) {
	sess, err := a.repo.GetSession(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrLobbyNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// emit queues an event, logging instead of failing: the caller's write
// already stuck, and clients reconcile via snapshots.
func (a *App) emit(ctx context.Context, code string, typ events.Type, payload interface{}) {
	if err := a.broadcaster.Broadcast(ctx, code, typ, payload); err != nil {
		log.Error().Err(err).Str("lobby_code", code).Str("event_type", string(typ)).Msg("failed to emit event")
	}
}

// emitTo is emit for player-scoped events.
func (a *App) emitTo(ctx context.Context, code, playerID string, typ events.Type, payload interface{}) {
	if err := a.broadcaster.BroadcastTo(ctx, code, playerID, typ, payload); err != nil {
		log.Error().Err(err).Str("lobby_code", code).Str("event_type", string(typ)).Msg("failed to emit event")
	}
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}
