// Package memory provides an in-process store implementation used for
// development and tests. Expiry is lazy: keys are dropped when touched
// after their deadline, judged against an injected clock so tests can
// advance time instead of sleeping.
package memory

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/emojidash/emojidash/go/internal/store"
)

type entryKind int

const (
	kindString entryKind = iota
	kindList
)

type entry struct {
	kind      entryKind
	value     string
	list      []string
	expiresAt time.Time // zero means no expiry
}

// Store keeps everything in maps behind one mutex. Good enough for a
// single process; swap in the redis or postgres store to scale out.
type Store struct {
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]*entry
	subs    map[string][]*subscription
}

var _ store.Store = (*Store)(nil)

// New returns an empty in-memory store judging TTLs against clock.
func New(clock clockwork.Clock) *Store {
	return &Store{
		clock:   clock,
		entries: make(map[string]*entry),
		subs:    make(map[string][]*subscription),
	}
}

// live returns the entry at key, clearing it first if it expired.
// Callers must hold s.mu.
func (s *Store) live(key string) *entry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *Store) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil || e.kind != kindString {
		return "", store.ErrNotFound
	}
	return e.value, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{kind: kindString, value: value}
	return nil
}

func (s *Store) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = &entry{kind: kindString, value: value, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *Store) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.live(key) != nil {
		return false, nil
	}
	s.entries[key] = &entry{kind: kindString, value: value, expiresAt: s.clock.Now().Add(ttl)}
	return true, nil
}

func (s *Store) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.live(key) != nil, nil
}

func (s *Store) ListAppend(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &entry{kind: kindList}
		s.entries[key] = e
	}
	if e.kind != kindList {
		return fmt.Errorf("memory: key %s holds a string, not a list", key)
	}
	e.list = append(e.list, values...)
	return nil
}

func (s *Store) ListPrepend(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		e = &entry{kind: kindList}
		s.entries[key] = e
	}
	if e.kind != kindList {
		return fmt.Errorf("memory: key %s holds a string, not a list", key)
	}
	for _, v := range values {
		e.list = append([]string{v}, e.list...)
	}
	return nil
}

func (s *Store) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return nil, nil
	}
	if e.kind != kindList {
		return nil, fmt.Errorf("memory: key %s holds a string, not a list", key)
	}
	lo, hi, ok := store.ClampRange(len(e.list), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, e.list[lo:hi+1])
	return out, nil
}

func (s *Store) ListTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return nil
	}
	if e.kind != kindList {
		return fmt.Errorf("memory: key %s holds a string, not a list", key)
	}
	lo, hi, ok := store.ClampRange(len(e.list), start, stop)
	if !ok {
		delete(s.entries, key)
		return nil
	}
	e.list = append([]string(nil), e.list[lo:hi+1]...)
	return nil
}

func (s *Store) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.live(key)
	if e == nil {
		return store.ErrNotFound
	}
	e.expiresAt = s.clock.Now().Add(ttl)
	return nil
}

func (s *Store) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for key := range s.entries {
		if s.live(key) == nil {
			continue
		}
		ok, err := path.Match(pattern, key)
		if err != nil {
			return nil, fmt.Errorf("memory: bad key pattern %q: %w", pattern, err)
		}
		if ok {
			out = append(out, key)
		}
	}
	return out, nil
}

func (s *Store) Publish(_ context.Context, channel, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Non-blocking sends: a subscriber that stopped draining loses
	// pushes, and catches up through the polled queue instead.
	for _, sub := range s.subs[channel] {
		select {
		case sub.ch <- message:
		default:
		}
	}
	return nil
}

func (s *Store) Subscribe(_ context.Context, channel string) (store.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &subscription{store: s, channel: channel, ch: make(chan string, 32)}
	s.subs[channel] = append(s.subs[channel], sub)
	return sub, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for channel, subs := range s.subs {
		for _, sub := range subs {
			if !sub.closed {
				sub.closed = true
				close(sub.ch)
			}
		}
		delete(s.subs, channel)
	}
	return nil
}

type subscription struct {
	store   *Store
	channel string
	ch      chan string
	closed  bool
}

func (sub *subscription) Messages() <-chan string {
	return sub.ch
}

func (sub *subscription) Close() error {
	sub.store.mu.Lock()
	defer sub.store.mu.Unlock()

	if sub.closed {
		return nil
	}
	sub.closed = true

	subs := sub.store.subs[sub.channel]
	for i, other := range subs {
		if other == sub {
			sub.store.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(sub.store.subs[sub.channel]) == 0 {
		delete(sub.store.subs, sub.channel)
	}
	close(sub.ch)
	return nil
}
