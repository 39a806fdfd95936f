// Package stream runs the per-connection delivery loop behind both the
// SSE and websocket transports. Each connected player gets one loop
// that renews their heartbeat, forwards lobby events from the push bus
// and the polled queue (deduplicating across the two), nudges phase
// transitions the wall clock has made due, and sweeps presence on a
// slower cadence. There is no scheduler process anywhere: the game
// moves because connected players keep polling.
package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/config"
	"github.com/emojidash/emojidash/go/internal/events"
	"github.com/emojidash/emojidash/go/internal/lobby"
	"github.com/emojidash/emojidash/go/internal/models"
	"github.com/emojidash/emojidash/go/internal/store"
)

// Sink is one client's outbound half. Send writes an event to the wire,
// Keepalive writes whatever the transport uses as a liveness probe. An
// error from either means the client is gone and the loop should end.
type Sink interface {
	Send(ev events.Event) error
	Keepalive() error
}

// Advancer tries the time-based phase transitions. Implementations are
// idempotent: false means not due yet, or somebody else got there first.
type Advancer interface {
	PreloadRound(ctx context.Context, code string, round int) (bool, error)
	CheckAndStartRound(ctx context.Context, code string, round int) (bool, error)
	CheckAndEndRound(ctx context.Context, code string, round int) (bool, error)
	CheckAndProgress(ctx context.Context, code string, round int) (bool, error)
}

// Sweeper evicts players whose heartbeats went stale.
type Sweeper interface {
	Check(ctx context.Context, code string, forced ...string) error
}

// Runner holds the collaborators shared by every connection loop.
type Runner struct {
	repo     *lobby.Repository
	reader   *events.Reader
	bus      events.Bus
	advancer Advancer
	sweeper  Sweeper
	rules    config.Rules
	clock    clockwork.Clock
}

// NewRunner wires a stream runner.
func NewRunner(repo *lobby.Repository, reader *events.Reader, bus events.Bus, advancer Advancer, sweeper Sweeper, rules config.Rules, clock clockwork.Clock) *Runner {
	return &Runner{
		repo:     repo,
		reader:   reader,
		bus:      bus,
		advancer: advancer,
		sweeper:  sweeper,
		rules:    rules,
		clock:    clock,
	}
}

// Run streams lobby events to one connection until the client goes away,
// the lobby dies, or the reconnect deadline asks the client to dial
// again. cursor is the timestamp of the last event the client already
// saw, zero for a fresh connection; everything newer is delivered
// exactly once per connection.
func (r *Runner) Run(ctx context.Context, code, playerID string, cursor int64, sink Sink) error {
	l := &loop{
		r:        r,
		code:     code,
		playerID: playerID,
		sink:     sink,
		cursor:   cursor,
		seen:     make(map[int64]time.Time),
	}
	return l.run(ctx)
}

type loop struct {
	r        *Runner
	code     string
	playerID string
	sink     Sink
	cursor   int64
	// seen maps delivered event timestamps to when they arrived, so the
	// copy from the other delivery path can be dropped.
	seen  map[int64]time.Time
	polls int
}

func (l *loop) run(ctx context.Context) error {
	// The first heartbeat lands before any ticker so a slow dial does
	// not eat into the disconnect threshold.
	if err := l.r.repo.WriteHeartbeat(ctx, l.code, l.playerID); err != nil {
		return fmt.Errorf("failed to write initial heartbeat: %w", err)
	}
	// A housekeeping reconnect keeps presence alive for the re-dial;
	// every other exit drops it so the next sweep notices right away.
	keepPresence := false
	defer func() {
		if !keepPresence {
			l.dropHeartbeat()
		}
	}()

	var pushCh <-chan events.Event
	sub, err := l.r.bus.Subscribe(ctx, l.code)
	if err != nil {
		log.Warn().Err(err).Str("lobby_code", l.code).Msg("push subscribe failed, polling only")
	} else {
		defer sub.Close()
		pushCh = sub.Events()
	}

	heartbeat := l.r.clock.NewTicker(l.r.rules.HeartbeatInterval())
	defer heartbeat.Stop()
	poll := l.r.clock.NewTicker(l.r.rules.ActivePoll())
	defer poll.Stop()
	reconnect := l.r.clock.NewTimer(l.r.rules.ReconnectAfter())
	defer reconnect.Stop()

	// Catch up on whatever queued before the connection opened.
	interval, alive := l.poll(ctx)
	if !alive {
		return nil
	}
	poll.Reset(interval)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-reconnect.Chan():
			// Housekeeping close before the transport's own connection
			// limit hits. The heartbeat is refreshed first so the
			// player survives the client's re-dial.
			if err := l.r.repo.WriteHeartbeat(ctx, l.code, l.playerID); err != nil {
				log.Warn().Err(err).Str("lobby_code", l.code).Msg("pre-reconnect heartbeat failed")
			} else {
				keepPresence = true
			}
			log.Debug().Str("lobby_code", l.code).Str("player_id", l.playerID).Msg("stream reached reconnect deadline")
			return nil

		case <-heartbeat.Chan():
			if err := l.r.repo.WriteHeartbeat(ctx, l.code, l.playerID); err != nil {
				log.Warn().Err(err).Str("lobby_code", l.code).Str("player_id", l.playerID).Msg("heartbeat write failed")
			}
			if err := l.sink.Keepalive(); err != nil {
				log.Debug().Err(err).Str("lobby_code", l.code).Str("player_id", l.playerID).Msg("keepalive rejected, closing stream")
				return nil
			}

		case ev, ok := <-pushCh:
			if !ok {
				// Bus went away. The poll path keeps delivering.
				pushCh = nil
				continue
			}
			if err := l.deliver(ev); err != nil {
				return nil
			}

		case <-poll.Chan():
			interval, alive := l.poll(ctx)
			if !alive {
				return nil
			}
			poll.Reset(interval)
		}
	}
}

// poll is one housekeeping pass: nudge due transitions, drain the event
// queue, sweep presence every few passes, and report the cadence the
// current phase wants. alive is false once the stream should end.
func (l *loop) poll(ctx context.Context) (interval time.Duration, alive bool) {
	l.polls++

	sess, err := l.r.repo.GetSession(ctx, l.code)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug().Str("lobby_code", l.code).Msg("lobby gone, closing stream")
		return 0, false
	}
	if err != nil {
		// Transient store trouble. Stay on the slow cadence and retry.
		log.Warn().Err(err).Str("lobby_code", l.code).Msg("session poll failed")
		return l.r.rules.IdlePoll(), true
	}

	l.nudge(ctx, sess)

	evs, err := l.r.reader.Since(ctx, l.code, l.cursor)
	if err != nil {
		log.Warn().Err(err).Str("lobby_code", l.code).Msg("event poll failed")
	} else {
		for _, ev := range evs {
			// The queue is the reliable path, so only it moves the
			// cursor. Pushed copies are caught by the dedup set.
			if ev.Timestamp > l.cursor {
				l.cursor = ev.Timestamp
			}
			if err := l.deliver(ev); err != nil {
				return 0, false
			}
		}
	}

	if l.r.rules.SweepEveryPolls > 0 && l.polls%l.r.rules.SweepEveryPolls == 0 {
		if err := l.r.sweeper.Check(ctx, l.code); err != nil {
			log.Warn().Err(err).Str("lobby_code", l.code).Msg("presence sweep failed")
		}
	}

	l.pruneSeen()

	// An evicted player still receives the events of their own eviction
	// from the drain above, then the stream ends.
	if sess.Player(l.playerID) == nil {
		log.Debug().Str("lobby_code", l.code).Str("player_id", l.playerID).Msg("player no longer in lobby, closing stream")
		return 0, false
	}

	switch sess.State {
	case models.StateCountdown, models.StatePlaying, models.StateRoundEnd:
		return l.r.rules.ActivePoll(), true
	default:
		return l.r.rules.IdlePoll(), true
	}
}

// nudge attempts whichever transition the clock says is due. The
// coordinator's guards stay authoritative; the timestamp checks here
// only avoid hammering the transition locks on every tick.
func (l *loop) nudge(ctx context.Context, sess *models.Session) {
	now := l.r.clock.Now()
	switch sess.State {
	case models.StateCountdown:
		if sess.CountdownStartedAt == nil {
			return
		}
		elapsed := now.Sub(*sess.CountdownStartedAt)
		if elapsed >= l.r.rules.Countdown() {
			l.try(ctx, "round-start", l.r.advancer.CheckAndStartRound, sess.CurrentRound)
			return
		}
		if elapsed >= l.r.rules.PreloadAfter() && sess.Round(sess.CurrentRound) == nil {
			l.try(ctx, "round-preload", l.r.advancer.PreloadRound, sess.CurrentRound)
		}

	case models.StatePlaying:
		round := sess.Round(sess.CurrentRound)
		if round == nil {
			return
		}
		timeUp := round.EndsAt != nil && !now.Before(*round.EndsAt)
		everyone := len(sess.Players) > 0 && len(round.FoundBy) >= len(sess.Players)
		if timeUp || everyone {
			l.try(ctx, "round-end", l.r.advancer.CheckAndEndRound, sess.CurrentRound)
		}

	case models.StateRoundEnd:
		if sess.RoundEndedAt == nil {
			return
		}
		hold := l.r.rules.RoundEndHold()
		if sess.CurrentRound >= l.r.rules.MaxRounds {
			hold = l.r.rules.FinalHold()
		}
		if now.Sub(*sess.RoundEndedAt) >= hold {
			l.try(ctx, "round-progress", l.r.advancer.CheckAndProgress, sess.CurrentRound)
		}
	}
}

func (l *loop) try(ctx context.Context, name string, fn func(context.Context, string, int) (bool, error), round int) {
	applied, err := fn(ctx, l.code, round)
	if err != nil {
		log.Error().Err(err).Str("lobby_code", l.code).Str("transition", name).Msg("transition attempt failed")
		return
	}
	if applied {
		log.Debug().Str("lobby_code", l.code).Str("transition", name).Int("round", round).Msg("transition applied")
	}
}

// deliver sends one event unless it is scoped to another player or its
// timestamp was already delivered via the other path.
func (l *loop) deliver(ev events.Event) error {
	if !ev.ForPlayer(l.playerID) {
		return nil
	}
	if _, dup := l.seen[ev.Timestamp]; dup {
		return nil
	}
	l.seen[ev.Timestamp] = l.r.clock.Now()
	if err := l.sink.Send(ev); err != nil {
		log.Debug().Err(err).Str("lobby_code", l.code).Str("player_id", l.playerID).Msg("send failed, closing stream")
		return err
	}
	return nil
}

// pruneSeen caps the dedup set. Anything older than the event queue's
// TTL cannot reappear on either path.
func (l *loop) pruneSeen() {
	horizon := l.r.clock.Now().Add(-l.r.rules.EventTTL())
	for ts, at := range l.seen {
		if at.Before(horizon) {
			delete(l.seen, ts)
		}
	}
}

// dropHeartbeat removes the presence key on the way out so a real
// disconnect is noticed on the next sweep instead of a TTL expiry. The
// request context is usually canceled by now, so it gets its own.
func (l *loop) dropHeartbeat() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.r.repo.DeleteHeartbeat(ctx, l.code, l.playerID); err != nil {
		log.Warn().Err(err).Str("lobby_code", l.code).Str("player_id", l.playerID).Msg("failed to drop heartbeat on close")
	}
}
