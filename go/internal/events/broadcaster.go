package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/keys"
	"github.com/emojidash/emojidash/go/internal/store"
)

// maxQueueLen is an overflow valve. With the queue TTL in the tens of
// seconds it is never hit at normal event rates.
const maxQueueLen = 256

// Broadcaster appends events to a lobby's queue and mirrors them onto
// the push bus. The queue write is the one that matters; a failed push
// is logged and forgotten because polling will deliver the event.
type Broadcaster struct {
	store store.Store
	bus   Bus
	clock clockwork.Clock
	ttl   time.Duration

	mu     sync.Mutex
	lastTs int64
}

// NewBroadcaster wires a broadcaster to the queue store and an optional
// push bus (nil disables pushing). Queue entries expire after ttl.
func NewBroadcaster(st store.Store, bus Bus, ttl time.Duration, clock clockwork.Clock) *Broadcaster {
	return &Broadcaster{
		store: st,
		bus:   bus,
		clock: clock,
		ttl:   ttl,
	}
}

// Broadcast queues an event for every player in the lobby.
func (b *Broadcaster) Broadcast(ctx context.Context, code string, typ Type, payload interface{}) error {
	return b.emit(ctx, code, typ, payload, false, "")
}

// BroadcastPriority queues an event at the front of the queue so
// consumers drain it before anything older.
func (b *Broadcaster) BroadcastPriority(ctx context.Context, code string, typ Type, payload interface{}) error {
	return b.emit(ctx, code, typ, payload, true, "")
}

// BroadcastTo queues an event only the given player will receive.
func (b *Broadcaster) BroadcastTo(ctx context.Context, code, playerID string, typ Type, payload interface{}) error {
	return b.emit(ctx, code, typ, payload, false, playerID)
}

func (b *Broadcaster) emit(ctx context.Context, code string, typ Type, payload interface{}, priority bool, playerID string) error {
	ev := Event{
		Type:      typ,
		Timestamp: b.nextTimestamp(),
		Priority:  priority,
		PlayerID:  playerID,
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
		ev.Payload = raw
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", typ, err)
	}

	key := keys.Events(code)
	if priority {
		err = b.store.ListPrepend(ctx, key, string(data))
	} else {
		err = b.store.ListAppend(ctx, key, string(data))
	}
	if err != nil {
		return fmt.Errorf("failed to queue %s event: %w", typ, err)
	}
	if err := b.store.ListTrim(ctx, key, -maxQueueLen, -1); err != nil {
		return fmt.Errorf("failed to trim event queue: %w", err)
	}
	if err := b.store.Expire(ctx, key, b.ttl); err != nil {
		return fmt.Errorf("failed to refresh event queue ttl: %w", err)
	}

	if b.bus != nil {
		if err := b.bus.Publish(ctx, code, ev); err != nil {
			log.Warn().
				Err(err).
				Str("lobby_code", code).
				Str("event_type", string(typ)).
				Msg("event push failed, consumers will poll it")
		}
	}

	log.Debug().
		Str("lobby_code", code).
		Str("event_type", string(typ)).
		Int64("timestamp", ev.Timestamp).
		Bool("priority", priority).
		Msg("event queued")
	return nil
}

// nextTimestamp hands out strictly increasing millisecond stamps so two
// events emitted in the same instant stay distinguishable to consumers.
func (b *Broadcaster) nextTimestamp() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	ts := b.clock.Now().UnixMilli()
	if ts <= b.lastTs {
		ts = b.lastTs + 1
	}
	b.lastTs = ts
	return ts
}

// Reader polls a lobby's event queue.
type Reader struct {
	store store.Store
}

// NewReader returns a Reader over the queue store.
func NewReader(st store.Store) *Reader {
	return &Reader{store: st}
}

// Since returns the queued events newer than the given cursor, in queue
// order: priority events sit at the head and so drain first. Entries
// that fail to decode are dropped with a warning.
func (r *Reader) Since(ctx context.Context, code string, cursor int64) ([]Event, error) {
	raw, err := r.store.ListRange(ctx, keys.Events(code), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to read event queue: %w", err)
	}

	var out []Event
	for _, item := range raw {
		var ev Event
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			log.Warn().Err(err).Str("lobby_code", code).Msg("dropping undecodable queued event")
			continue
		}
		if ev.Timestamp > cursor {
			out = append(out, ev)
		}
	}
	return out, nil
}
