// Package game implements the lobby's game flow: the coordinator that
// moves sessions through their lifecycle, and the player-facing
// operations around it (create, join, leave, guess).
//
// There is no scheduler. Connected clients watch the clock and call the
// check transitions when a deadline looks due; the store-backed locks
// and guards make those calls idempotent, so it does not matter how many
// clients call, in what order, or how often.
package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/board"
	"github.com/emojidash/emojidash/go/internal/config"
	"github.com/emojidash/emojidash/go/internal/events"
	"github.com/emojidash/emojidash/go/internal/keys"
	"github.com/emojidash/emojidash/go/internal/lobby"
	"github.com/emojidash/emojidash/go/internal/lock"
	"github.com/emojidash/emojidash/go/internal/models"
	"github.com/emojidash/emojidash/go/internal/store"
)

// Coordinator runs the named transitions. Every transition follows the
// same shape: take the transition's lock, load, check the guard, mutate,
// save, emit, release. The bool results mean "this call moved the
// session"; a false with nil error covers both a lost lock race and a
// guard that said no, and callers treat them the same.
type Coordinator struct {
	repo        *lobby.Repository
	store       store.Store
	broadcaster *events.Broadcaster
	boards      *board.Generator
	rules       config.Rules
	clock       clockwork.Clock
}

// NewCoordinator wires the transition coordinator.
func NewCoordinator(repo *lobby.Repository, st store.Store, b *events.Broadcaster, boards *board.Generator, rules config.Rules, clock clockwork.Clock) *Coordinator {
	return &Coordinator{
		repo:        repo,
		store:       st,
		broadcaster: b,
		boards:      boards,
		rules:       rules,
		clock:       clock,
	}
}

// StartGame launches the game from the waiting room: countdown for round
// one begins and stale round data from an earlier game is dropped.
func (c *Coordinator) StartGame(ctx context.Context, code, requesterID string) (bool, error) {
	h, ok, err := lock.Acquire(ctx, c.store, keys.Lock(code, "start-game"), c.rules.LockTTL(), c.clock)
	if err != nil || !ok {
		return false, err
	}
	defer h.Release()

	sess, err := c.load(ctx, code)
	if err != nil || sess == nil {
		return false, err
	}
	if !canStartGame(sess, requesterID) {
		return false, nil
	}

	now := c.clock.Now()
	sess.Rounds = nil
	beginCountdown(sess, 1, now)

	if err := c.repo.SaveSession(ctx, sess); err != nil {
		return false, err
	}

	log.Info().Str("lobby_code", code).Str("host_id", requesterID).Msg("game started")
	return true, c.emitCountdown(ctx, sess, now)
}

// PreloadRound generates the round board during the countdown so clients
// can have it rendered before play opens. Purely an optimization: if
// nobody calls it, StartRound generates the board itself.
func (c *Coordinator) PreloadRound(ctx context.Context, code string, round int) (bool, error) {
	h, ok, err := lock.Acquire(ctx, c.store, keys.Lock(code, lockName("preload", round)), c.rules.LockTTL(), c.clock)
	if err != nil || !ok {
		return false, err
	}
	defer h.Release()

	sess, err := c.load(ctx, code)
	if err != nil || sess == nil {
		return false, err
	}
	if !canPreloadRound(sess, round, c.clock.Now(), c.rules) {
		return false, nil
	}

	sess.SetRound(c.boards.Generate(round))

	if err := c.repo.SaveSession(ctx, sess); err != nil {
		return false, err
	}

	log.Debug().Str("lobby_code", code).Int("round", round).Msg("round preloaded")
	err = c.broadcaster.Broadcast(ctx, code, events.TypeRoundPreloaded, events.RoundPreloadedPayload{
		Round: sess.Round(round),
	})
	return true, err
}

// CheckAndStartRound opens the round once its countdown has completed.
func (c *Coordinator) CheckAndStartRound(ctx context.Context, code string, round int) (bool, error) {
	h, ok, err := lock.Acquire(ctx, c.store, keys.Lock(code, lockName("start", round)), c.rules.LockTTL(), c.clock)
	if err != nil || !ok {
		return false, err
	}
	defer h.Release()

	sess, err := c.load(ctx, code)
	if err != nil || sess == nil {
		return false, err
	}
	now := c.clock.Now()
	if !canStartRound(sess, round, now, c.rules) {
		return false, nil
	}

	r := sess.Round(round)
	if r == nil {
		// Preload never fired; generate on the spot.
		r = c.boards.Generate(round)
		sess.SetRound(r)
	}
	endsAt := now.Add(c.rules.RoundDuration())
	r.StartedAt = &now
	r.EndsAt = &endsAt
	sess.State = models.StatePlaying
	sess.CountdownStartedAt = nil

	if err := c.repo.SaveSession(ctx, sess); err != nil {
		return false, err
	}

	log.Info().Str("lobby_code", code).Int("round", round).Time("ends_at", endsAt).Msg("round started")
	err = c.broadcaster.BroadcastPriority(ctx, code, events.TypeRoundStarted, events.RoundStartedPayload{
		Round: r,
	})
	return true, err
}

// CheckAndEndRound closes the round once its deadline passed or everyone
// found the target, and publishes the round summary.
func (c *Coordinator) CheckAndEndRound(ctx context.Context, code string, round int) (bool, error) {
	h, ok, err := lock.Acquire(ctx, c.store, keys.Lock(code, lockName("end", round)), c.rules.LockTTL(), c.clock)
	if err != nil || !ok {
		return false, err
	}
	defer h.Release()

	sess, err := c.load(ctx, code)
	if err != nil || sess == nil {
		return false, err
	}
	now := c.clock.Now()
	if !canEndRound(sess, round, now) {
		return false, nil
	}

	r := sess.Round(round)
	sess.State = models.StateRoundEnd
	sess.RoundEndedAt = &now
	if r.EndsAt.After(now) {
		// Everyone found it early; close the books at the actual end.
		r.EndsAt = &now
	}

	if err := c.repo.SaveSession(ctx, sess); err != nil {
		return false, err
	}

	log.Info().
		Str("lobby_code", code).
		Int("round", round).
		Int("found", len(r.FoundBy)).
		Msg("round ended")
	err = c.broadcaster.BroadcastPriority(ctx, code, events.TypeRoundEnded, events.RoundEndedPayload{
		Round:       round,
		TargetToken: r.TargetToken,
		Scores:      roundScores(sess, round),
	})
	return true, err
}

// CheckAndProgress moves past the round-end screen once its hold time
// ran out: into the next round's countdown, or to the final standings
// after the last round.
func (c *Coordinator) CheckAndProgress(ctx context.Context, code string, round int) (bool, error) {
	h, ok, err := lock.Acquire(ctx, c.store, keys.Lock(code, lockName("progress", round)), c.rules.LockTTL(), c.clock)
	if err != nil || !ok {
		return false, err
	}
	defer h.Release()

	sess, err := c.load(ctx, code)
	if err != nil || sess == nil {
		return false, err
	}
	now := c.clock.Now()
	if !canProgress(sess, round, now, c.rules) {
		return false, nil
	}

	if round < c.rules.MaxRounds {
		beginCountdown(sess, round+1, now)
		if err := c.repo.SaveSession(ctx, sess); err != nil {
			return false, err
		}
		log.Info().Str("lobby_code", code).Int("round", round+1).Msg("next round counting down")
		return true, c.emitCountdown(ctx, sess, now)
	}

	sess.State = models.StateFinished
	sess.CountdownStartedAt = nil
	sess.RoundEndedAt = nil

	if err := c.repo.SaveSession(ctx, sess); err != nil {
		return false, err
	}

	standings := finalStandings(sess)
	winners := standings
	if len(winners) > c.rules.Winners {
		winners = winners[:c.rules.Winners]
	}
	log.Info().Str("lobby_code", code).Int("players", len(standings)).Msg("game finished")
	err = c.broadcaster.BroadcastPriority(ctx, code, events.TypeGameEnded, events.GameEndedPayload{
		FinalScores: standings,
		Winners:     winners,
	})
	return true, err
}

// ResetGame returns a finished lobby to the waiting room with scores
// wiped but membership intact.
func (c *Coordinator) ResetGame(ctx context.Context, code, requesterID string) (bool, error) {
	h, ok, err := lock.Acquire(ctx, c.store, keys.Lock(code, "reset-game"), c.rules.LockTTL(), c.clock)
	if err != nil || !ok {
		return false, err
	}
	defer h.Release()

	sess, err := c.load(ctx, code)
	if err != nil || sess == nil {
		return false, err
	}
	if !canResetGame(sess, requesterID) {
		return false, nil
	}

	sess.State = models.StateWaiting
	sess.CurrentRound = 0
	sess.Rounds = nil
	sess.CountdownStartedAt = nil
	sess.RoundEndedAt = nil
	for i := range sess.Players {
		sess.Players[i].Score = 0
		sess.Players[i].RoundScores = nil
	}

	if err := c.repo.SaveSession(ctx, sess); err != nil {
		return false, err
	}

	log.Info().Str("lobby_code", code).Msg("game reset")
	err = c.broadcaster.BroadcastPriority(ctx, code, events.TypeGameReset, events.GameResetPayload{
		Session: sess,
	})
	return true, err
}

// load fetches the session, flattening a vanished lobby into nil so
// transitions report (false, nil) for it: checking a dead lobby is
// normal during teardown, not a failure.
func (c *Coordinator) load(ctx context.Context, code string) (*models.Session, error) {
	sess, err := c.repo.GetSession(ctx, code)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (c *Coordinator) emitCountdown(ctx context.Context, sess *models.Session, now time.Time) error {
	return c.broadcaster.BroadcastPriority(ctx, sess.Code, events.TypeGameStarted, events.GameStartedPayload{
		CurrentRound:       sess.CurrentRound,
		CountdownStartedAt: now.UnixMilli(),
		CountdownSeconds:   c.rules.CountdownSeconds,
	})
}

// lockName builds per-round lock names, so a retry of round 2's start
// never contends with round 3's.
func lockName(phase string, round int) string {
	return fmt.Sprintf("%s-round-%d", phase, round)
}

// beginCountdown moves the session into the countdown for a round.
func beginCountdown(sess *models.Session, round int, now time.Time) {
	sess.State = models.StateCountdown
	sess.CurrentRound = round
	sess.CountdownStartedAt = &now
	sess.RoundEndedAt = nil
}

// roundScores builds the round summary, best total first.
func roundScores(sess *models.Session, round int) []events.RoundScoreEntry {
	entries := make([]events.RoundScoreEntry, 0, len(sess.Players))
	for _, p := range sess.Players {
		earned := 0
		for _, rs := range p.RoundScores {
			if rs.Round == round {
				earned = rs.Points
				break
			}
		}
		entries = append(entries, events.RoundScoreEntry{
			PlayerID:   p.ID,
			Name:       p.DisplayName,
			RoundScore: earned,
			TotalScore: p.Score,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalScore > entries[j].TotalScore
	})
	return entries
}

// finalStandings ranks players by total score; ties share a rank.
func finalStandings(sess *models.Session) []events.StandingEntry {
	entries := make([]events.StandingEntry, 0, len(sess.Players))
	for _, p := range sess.Players {
		entries = append(entries, events.StandingEntry{
			PlayerID: p.ID,
			Name:     p.DisplayName,
			Score:    p.Score,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		if i > 0 && entries[i].Score == entries[i-1].Score {
			entries[i].Rank = entries[i-1].Rank
		} else {
			entries[i].Rank = i + 1
		}
	}
	return entries
}
