// Package natsbus pushes lobby events over NATS instead of the store's
// pub/sub, for deployments that already run NATS and want event fan-out
// off the store's hot path. Plain core NATS is enough here: the store
// queue is the durable leg, the bus only buys latency.
package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/events"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns settings suitable for a local NATS.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "emojidash.lobby",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Bus publishes and subscribes lobby events on per-lobby subjects.
type Bus struct {
	nc  *nats.Conn
	cfg Config
}

var _ events.Bus = (*Bus)(nil)

// New connects to NATS with infinite-reconnect defaults.
func New(cfg Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("emojidash"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Bus{nc: nc, cfg: cfg}, nil
}

func (b *Bus) subject(code string) string {
	return fmt.Sprintf("%s.%s", b.cfg.SubjectPrefix, code)
}

func (b *Bus) Publish(_ context.Context, code string, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.nc.Publish(b.subject(code), data); err != nil {
		return fmt.Errorf("publish to NATS: %w", err)
	}
	return nil
}

func (b *Bus) Subscribe(_ context.Context, code string) (events.BusSubscription, error) {
	msgs := make(chan *nats.Msg, 64)
	natsSub, err := b.nc.ChanSubscribe(b.subject(code), msgs)
	if err != nil {
		return nil, fmt.Errorf("subscribe to NATS: %w", err)
	}

	sub := &subscription{
		natsSub: natsSub,
		msgs:    msgs,
		out:     make(chan events.Event, 32),
		stop:    make(chan struct{}),
	}
	go sub.pump(code)
	return sub, nil
}

// Close drains in-flight messages and closes the connection.
func (b *Bus) Close() error {
	return b.nc.Drain()
}

type subscription struct {
	natsSub *nats.Subscription
	msgs    chan *nats.Msg
	out     chan events.Event
	stop    chan struct{}
}

func (s *subscription) pump(code string) {
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case msg := <-s.msgs:
			if msg == nil {
				return
			}
			var ev events.Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
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
}

func (s *subscription) Events() <-chan events.Event {
	return s.out
}

func (s *subscription) Close() error {
	select {
	case <-s.stop:
		return nil
	default:
	}
	close(s.stop)
	return s.natsSub.Unsubscribe()
}
