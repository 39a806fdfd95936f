package main

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/board"
	"github.com/emojidash/emojidash/go/internal/config"
	"github.com/emojidash/emojidash/go/internal/events"
	"github.com/emojidash/emojidash/go/internal/events/natsbus"
	"github.com/emojidash/emojidash/go/internal/game"
	"github.com/emojidash/emojidash/go/internal/gateway"
	"github.com/emojidash/emojidash/go/internal/lobby"
	"github.com/emojidash/emojidash/go/internal/presence"
	"github.com/emojidash/emojidash/go/internal/store"
	"github.com/emojidash/emojidash/go/internal/stream"
)

type Services struct {
	Gateway *gateway.Service
}

// setupBus picks the push transport for lobby events. The store queue
// stays the reliable leg either way; the bus only shortens latency.
func setupBus(cfg config.Config, st store.Store) (events.Bus, func(), error) {
	if cfg.NATSURL == "" {
		return events.NewStoreBus(st), func() {}, nil
	}

	busCfg := natsbus.DefaultConfig()
	busCfg.URL = cfg.NATSURL
	bus, err := natsbus.New(busCfg)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("url", cfg.NATSURL).Msg("pushing events over NATS")
	return bus, func() {
		if err := bus.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close NATS bus")
		}
	}, nil
}

func setupServices(st store.Store, bus events.Bus, rules config.Rules, clock clockwork.Clock) *Services {
	// Wire up dependency injection chain
	// Store layer → Repository layer → App layer → Gateway layer

	repoCfg := lobby.DefaultRepositoryConfig()
	repoCfg.SessionTTL = rules.SessionTTL()
	repo := lobby.NewRepository(st, clock, repoCfg)

	broadcaster := events.NewBroadcaster(st, bus, rules.EventTTL(), clock)
	reader := events.NewReader(st)

	boards := board.NewGenerator(rules.Emojis, rules.BoardItems)

	coordinator := game.NewCoordinator(repo, st, broadcaster, boards, rules, clock)
	monitor := presence.NewMonitor(repo, broadcaster, rules)
	app := game.NewApp(repo, broadcaster, coordinator, monitor, rules, clock)
	runner := stream.NewRunner(repo, reader, bus, coordinator, monitor, rules, clock)

	return &Services{
		Gateway: gateway.NewService(app, coordinator, runner, rules),
	}
}
