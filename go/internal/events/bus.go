package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/keys"
	"github.com/emojidash/emojidash/go/internal/store"
)

// Bus is the push side of event delivery. Publish is best effort: a
// dropped push only costs latency because consumers poll the queue too.
type Bus interface {
	Publish(ctx context.Context, code string, ev Event) error
	Subscribe(ctx context.Context, code string) (BusSubscription, error)
}

// BusSubscription is a live feed of one lobby's pushed events.
type BusSubscription interface {
	Events() <-chan Event
	Close() error
}

// StoreBus rides the store's own pub/sub channel, so it needs no extra
// infrastructure. Works across processes on redis and postgres, and
// within one process on the memory store.
type StoreBus struct {
	store store.Store
}

var _ Bus = (*StoreBus)(nil)

// NewStoreBus returns a Bus running over the store's pub/sub.
func NewStoreBus(st store.Store) *StoreBus {
	return &StoreBus{store: st}
}

func (b *StoreBus) Publish(ctx context.Context, code string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return b.store.Publish(ctx, keys.Channel(code), string(data))
}

func (b *StoreBus) Subscribe(ctx context.Context, code string) (BusSubscription, error) {
	sub, err := b.store.Subscribe(ctx, keys.Channel(code))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to lobby channel: %w", err)
	}

	s := &storeBusSubscription{sub: sub, out: make(chan Event, 32)}
	go s.pump(code)
	return s, nil
}

type storeBusSubscription struct {
	sub store.Subscription
	out chan Event
}

func (s *storeBusSubscription) pump(code string) {
	defer close(s.out)
	for msg := range s.sub.Messages() {
		var ev Event
		if err := json.Unmarshal([]byte(msg), &ev); err != nil {
			log.Warn().Err(err).Str("lobby_code", code).Msg("dropping undecodable pushed event")
			continue
		}
		select {
		case s.out <- ev:
		default:
			// Consumer stopped draining; the polled queue covers it.
		}
	}
}

func (s *storeBusSubscription) Events() <-chan Event {
	return s.out
}

func (s *storeBusSubscription) Close() error {
	return s.sub.Close()
}
