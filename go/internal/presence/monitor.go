// Package presence evicts players whose streams went quiet and tears
// down lobbies nobody is left in. There is no sweeper daemon: streaming
// connections run Check on a cadence, so a lobby is cleaned up by
// whoever is still watching it, and a fully abandoned one falls to its
// session TTL.
package presence

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/config"
	"github.com/emojidash/emojidash/go/internal/events"
	"github.com/emojidash/emojidash/go/internal/lobby"
	"github.com/emojidash/emojidash/go/internal/models"
	"github.com/emojidash/emojidash/go/internal/store"
)

// Monitor decides who is still here.
type Monitor struct {
	repo        *lobby.Repository
	broadcaster *events.Broadcaster
	rules       config.Rules
}

// NewMonitor wires the presence monitor.
func NewMonitor(repo *lobby.Repository, b *events.Broadcaster, rules config.Rules) *Monitor {
	return &Monitor{
		repo:        repo,
		broadcaster: b,
		rules:       rules,
	}
}

// Check sweeps one lobby: players in forced are evicted unconditionally
// (that is how leaving works), everyone else is judged by heartbeat age.
// If the host is evicted the first remaining player inherits the role;
// if nobody remains the lobby and all its keys are torn down. Checking
// a lobby that no longer exists is a quiet no-op.
func (m *Monitor) Check(ctx context.Context, code string, forced ...string) error {
	sess, err := m.repo.GetSession(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	evict := make(map[string]bool, len(forced))
	for _, id := range forced {
		evict[id] = true
	}
	for _, p := range sess.Players {
		if evict[p.ID] {
			continue
		}
		gone, err := m.lost(ctx, code, p.ID)
		if err != nil {
			return err
		}
		if gone {
			evict[p.ID] = true
		}
	}

	var removed []models.Player
	remaining := make([]models.Player, 0, len(sess.Players))
	for _, p := range sess.Players {
		if evict[p.ID] {
			removed = append(removed, p)
		} else {
			remaining = append(remaining, p)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	sess.Players = remaining

	// Dead heartbeats go away now rather than waiting out their TTL, so
	// a player who rejoins is judged fresh.
	for _, p := range removed {
		if err := m.repo.DeleteHeartbeat(ctx, code, p.ID); err != nil {
			log.Warn().Err(err).Str("player_id", p.ID).Msg("failed to drop heartbeat of evicted player")
		}
	}

	if len(sess.Players) == 0 {
		if err := m.repo.DeleteSessionKeys(ctx, code); err != nil {
			return err
		}
		log.Info().Str("lobby_code", code).Msg("last player left, lobby torn down")
		return nil
	}

	newHostID := ""
	if evict[sess.HostID] {
		sess.PromoteHost()
		newHostID = sess.HostID
	}

	if err := m.repo.SaveSession(ctx, sess); err != nil {
		return err
	}

	log.Info().
		Str("lobby_code", code).
		Int("evicted", len(removed)).
		Int("remaining", len(sess.Players)).
		Str("new_host_id", newHostID).
		Msg("presence sweep evicted players")

	for _, p := range removed {
		m.emit(ctx, code, events.TypePlayerLeft, events.PlayerLeftPayload{
			PlayerID:    p.ID,
			DisplayName: p.DisplayName,
			NewHostID:   newHostID,
			PlayerCount: len(sess.Players),
		})
	}
	m.emit(ctx, code, events.TypeLobbyUpdated, events.LobbyUpdatedPayload{Session: sess})
	return nil
}

// lost judges one player's liveness. A recorded heartbeat is compared
// against the disconnect threshold. No heartbeat at all means they
// either never connected (the join grace covers that window) or their
// key already aged out after a long silence; both end in eviction once
// the grace is spent.
func (m *Monitor) lost(ctx context.Context, code, playerID string) (bool, error) {
	age, ok, err := m.repo.HeartbeatAge(ctx, code, playerID)
	if err != nil {
		return false, err
	}
	if ok {
		return age > m.rules.DisconnectAfter(), nil
	}

	joinedAgo, ok, err := m.repo.JoinedAge(ctx, code, playerID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return joinedAgo > m.rules.JoinGrace(), nil
}

func (m *Monitor) emit(ctx context.Context, code string, typ events.Type, payload interface{}) {
	if err := m.broadcaster.Broadcast(ctx, code, typ, payload); err != nil {
		log.Error().Err(err).Str("lobby_code", code).Str("event_type", string(typ)).Msg("failed to emit event")
	}
}
