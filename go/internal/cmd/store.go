package main

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/config"
	"github.com/emojidash/emojidash/go/internal/store"
	"github.com/emojidash/emojidash/go/internal/store/memory"
	"github.com/emojidash/emojidash/go/internal/store/postgres"
	"github.com/emojidash/emojidash/go/internal/store/redis"
)

// janitorInterval is how often the postgres backend sweeps expired rows.
const janitorInterval = time.Minute

func setupStore(ctx context.Context, cfg config.Config, clock clockwork.Clock) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		st, err := redis.New(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("connected to redis")
		return st, nil

	case config.BackendPostgres:
		st, err := postgres.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, err
		}
		log.Info().
			Str("database", cfg.Postgres.Database).
			Str("host", cfg.Postgres.Host).
			Int("port", cfg.Postgres.Port).
			Msg("connected to postgres")
		return st, nil

	default:
		log.Info().Msg("using in-memory store, lobbies will not survive a restart")
		return memory.New(clock), nil
	}
}

// startJanitor purges expired rows on a timer for backends that cannot
// expire keys natively. Redis and the memory store expire on their own.
func startJanitor(ctx context.Context, st store.Store) {
	ps, ok := st.(*postgres.Store)
	if !ok {
		return
	}
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := ps.PurgeExpired(ctx)
				if err != nil {
					log.Error().Err(err).Msg("failed to purge expired keys")
					continue
				}
				if n > 0 {
					log.Debug().Int64("rows", n).Msg("purged expired keys")
				}
			}
		}
	}()
}
