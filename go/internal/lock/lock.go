// Package lock provides short-lived mutual exclusion on top of the
// store's atomic set-if-absent. A held lock is just a key whose TTL
// reclaims it if the holder dies, so no lock outlives its usefulness.
package lock

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/store"
)

// Handle represents a held lock.
type Handle struct {
	store store.Store
	key   string
}

// Acquire tries to take the lock at key for at most ttl. It reports
// false when another holder already has it; that is contention, not an
// error. The stored value is the holder's timestamp, which is only ever
// read by humans debugging a stuck lobby.
func Acquire(ctx context.Context, st store.Store, key string, ttl time.Duration, clock clockwork.Clock) (*Handle, bool, error) {
	value := strconv.FormatInt(clock.Now().UnixMilli(), 10)
	ok, err := st.SetIfAbsent(ctx, key, value, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Handle{store: st, key: key}, true, nil
}

// Release frees the lock. It uses a fresh context so that a canceled
// request still unlocks; if the delete fails anyway, the TTL reclaims
// the key shortly after.
func (h *Handle) Release() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := h.store.Delete(ctx, h.key); err != nil {
		log.Warn().Err(err).Str("key", h.key).Msg("failed to release lock, waiting out its TTL")
	}
}
