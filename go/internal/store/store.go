// Package store defines the shared key-value surface the lobby runs on.
// Every instance of the server talks to the same store, so all game
// state, locks, and event queues live behind this interface. Values are
// opaque strings; callers do their own JSON.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the narrow slice of a key-value store the game needs.
type Store interface {
	// Get returns the value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes a value with no expiry.
	Set(ctx context.Context, key, value string) error
	// SetWithTTL writes a value that expires after ttl.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// SetIfAbsent atomically writes the value only when the key does not
	// exist yet and reports whether the write happened. It is the
	// primitive behind transition locks.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	// Exists reports whether a live value is stored at key.
	Exists(ctx context.Context, key string) (bool, error)

	// ListAppend pushes values onto the tail of the list at key,
	// creating the list if needed.
	ListAppend(ctx context.Context, key string, values ...string) error
	// ListPrepend pushes values onto the head of the list at key, one at
	// a time, so the last value given ends up first.
	ListPrepend(ctx context.Context, key string, values ...string) error
	// ListRange returns the elements between start and stop inclusive.
	// Negative indexes count back from the tail, -1 being the last
	// element. A missing key yields an empty result, not an error.
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ListTrim keeps only the elements between start and stop inclusive.
	ListTrim(ctx context.Context, key string, start, stop int64) error

	// Expire sets or refreshes the TTL on an existing key. A missing key
	// returns ErrNotFound.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Keys returns the keys matching a glob pattern ('*' and '?'). Meant
	// for session cleanup, not hot paths.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Publish sends a message to current subscribers of a channel.
	// Delivery is best effort; the event queue is the reliable path.
	Publish(ctx context.Context, channel, message string) error
	// Subscribe starts receiving messages published to a channel.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close releases underlying connections.
	Close() error
}

// Subscription is a live pub/sub feed. Close stops delivery and closes
// the channel returned by Messages.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// ClampRange resolves a start/stop pair against a list of length n using
// list-range semantics: negative indexes count back from the tail, and
// out-of-bounds indexes clamp to the list edges. It returns inclusive
// offsets and reports whether the range selects anything.
func ClampRange(n int, start, stop int64) (int, int, bool) {
	if n == 0 {
		return 0, 0, false
	}
	lo, hi := start, stop
	if lo < 0 {
		lo += int64(n)
		if lo < 0 {
			lo = 0
		}
	}
	if hi < 0 {
		hi += int64(n)
	}
	if hi >= int64(n) {
		hi = int64(n) - 1
	}
	if lo > hi || lo >= int64(n) || hi < 0 {
		return 0, 0, false
	}
	return int(lo), int(hi), true
}
