// Package lobby persists lobby sessions and player liveness marks in
// the shared store, and owns the lobby code format.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/emojidash/emojidash/go/internal/keys"
	"github.com/emojidash/emojidash/go/internal/models"
	"github.com/emojidash/emojidash/go/internal/store"
)

// RepositoryConfig holds the TTLs the repository writes with.
type RepositoryConfig struct {
	// SessionTTL is refreshed on every session write, so it is an idle
	// timeout rather than a hard lifetime.
	SessionTTL time.Duration
	// HeartbeatTTL garbage-collects heartbeat keys. It sits far above
	// the disconnect threshold because presence reads the recorded
	// timestamp, not the key's expiry.
	HeartbeatTTL time.Duration
	// JoinMarkerTTL outlives the join grace period by plenty.
	JoinMarkerTTL time.Duration
}

// DefaultRepositoryConfig returns the standard TTLs.
func DefaultRepositoryConfig() RepositoryConfig {
	return RepositoryConfig{
		SessionTTL:    2 * time.Hour,
		HeartbeatTTL:  60 * time.Second,
		JoinMarkerTTL: 10 * time.Minute,
	}
}

// Repository reads and writes lobby state. Sessions are single JSON
// documents; heartbeat and join marks are millisecond timestamps under
// their own keys so liveness writes never touch the session document.
type Repository struct {
	store store.Store
	clock clockwork.Clock
	cfg   RepositoryConfig
}

// NewRepository wires a repository to the shared store.
func NewRepository(st store.Store, clock clockwork.Clock, cfg RepositoryConfig) *Repository {
	return &Repository{store: st, clock: clock, cfg: cfg}
}

// GetSession loads a session. A missing or expired lobby surfaces as
// store.ErrNotFound.
func (r *Repository) GetSession(ctx context.Context, code string) (*models.Session, error) {
	data, err := r.store.Get(ctx, keys.Session(code))
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", code, err)
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", code, err)
	}
	return &sess, nil
}

// SaveSession writes the whole session document and refreshes its idle
// TTL.
func (r *Repository) SaveSession(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", sess.Code, err)
	}
	if err := r.store.SetWithTTL(ctx, keys.Session(sess.Code), string(data), r.cfg.SessionTTL); err != nil {
		return fmt.Errorf("failed to save session %s: %w", sess.Code, err)
	}
	return nil
}

// CreateSession writes a brand-new session only if its code is free,
// and reports whether it won the code. Losing just means another lobby
// drew the same code first; the caller draws again.
func (r *Repository) CreateSession(ctx context.Context, sess *models.Session) (bool, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return false, fmt.Errorf("failed to encode session %s: %w", sess.Code, err)
	}
	ok, err := r.store.SetIfAbsent(ctx, keys.Session(sess.Code), string(data), r.cfg.SessionTTL)
	if err != nil {
		return false, fmt.Errorf("failed to create session %s: %w", sess.Code, err)
	}
	return ok, nil
}

// SessionExists reports whether a lobby is live under this code.
func (r *Repository) SessionExists(ctx context.Context, code string) (bool, error) {
	ok, err := r.store.Exists(ctx, keys.Session(code))
	if err != nil {
		return false, fmt.Errorf("failed to check session %s: %w", code, err)
	}
	return ok, nil
}

// DeleteSessionKeys tears down a lobby: the session document plus every
// key under its namespace (heartbeats, join marks, locks, event queue).
func (r *Repository) DeleteSessionKeys(ctx context.Context, code string) error {
	matched, err := r.store.Keys(ctx, keys.Namespace(code))
	if err != nil {
		return fmt.Errorf("failed to list keys of session %s: %w", code, err)
	}
	all := append(matched, keys.Session(code))
	if err := r.store.Delete(ctx, all...); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", code, err)
	}
	return nil
}

// WriteHeartbeat records that a player's stream is alive right now.
func (r *Repository) WriteHeartbeat(ctx context.Context, code, playerID string) error {
	now := strconv.FormatInt(r.clock.Now().UnixMilli(), 10)
	if err := r.store.SetWithTTL(ctx, keys.Heartbeat(code, playerID), now, r.cfg.HeartbeatTTL); err != nil {
		return fmt.Errorf("failed to write heartbeat for %s: %w", playerID, err)
	}
	return nil
}

// HeartbeatAge returns how long ago the player last heartbeated. ok is
// false when no heartbeat is recorded at all.
func (r *Repository) HeartbeatAge(ctx context.Context, code, playerID string) (time.Duration, bool, error) {
	return r.markAge(ctx, keys.Heartbeat(code, playerID))
}

// DeleteHeartbeat removes a player's heartbeat immediately, so eviction
// does not wait out the key's TTL.
func (r *Repository) DeleteHeartbeat(ctx context.Context, code, playerID string) error {
	if err := r.store.Delete(ctx, keys.Heartbeat(code, playerID)); err != nil {
		return fmt.Errorf("failed to delete heartbeat for %s: %w", playerID, err)
	}
	return nil
}

// MarkJoined records when a player joined, which shields them from
// presence eviction while their first connection comes up.
func (r *Repository) MarkJoined(ctx context.Context, code, playerID string) error {
	now := strconv.FormatInt(r.clock.Now().UnixMilli(), 10)
	if err := r.store.SetWithTTL(ctx, keys.Joined(code, playerID), now, r.cfg.JoinMarkerTTL); err != nil {
		return fmt.Errorf("failed to mark %s joined: %w", playerID, err)
	}
	return nil
}

// JoinedAge returns how long ago the player joined. ok is false when the
// mark is gone.
func (r *Repository) JoinedAge(ctx context.Context, code, playerID string) (time.Duration, bool, error) {
	return r.markAge(ctx, keys.Joined(code, playerID))
}

func (r *Repository) markAge(ctx context.Context, key string) (time.Duration, bool, error) {
	data, err := r.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read liveness mark at %s: %w", key, err)
	}
	ms, err := strconv.ParseInt(data, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt liveness mark at %s: %w", key, err)
	}
	age := r.clock.Now().Sub(time.UnixMilli(ms))
	if age < 0 {
		age = 0
	}
	return age, true, nil
}
