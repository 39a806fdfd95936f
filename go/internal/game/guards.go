package game

import (
	"time"

	"github.com/emojidash/emojidash/go/internal/config"
	"github.com/emojidash/emojidash/go/internal/models"
)

// Transition guards. All of them are pure: they look at a loaded session
// and a timestamp and say whether the transition may fire. The
// coordinator calls them under the transition lock, so a guard that
// returns true holds until the matching save.

// canStartGame allows the host to launch from the waiting room.
func canStartGame(sess *models.Session, requesterID string) bool {
	return sess.State == models.StateWaiting &&
		sess.HostID == requesterID &&
		len(sess.Players) > 0
}

// canPreloadRound allows board generation once the countdown has run
// long enough, as long as the board is not already there.
func canPreloadRound(sess *models.Session, round int, now time.Time, rules config.Rules) bool {
	if sess.State != models.StateCountdown || sess.CurrentRound != round {
		return false
	}
	if sess.Round(round) != nil {
		return false
	}
	elapsed, ok := countdownElapsed(sess, now)
	return ok && elapsed >= rules.PreloadAfter()
}

// canStartRound allows opening the round once its countdown completed.
func canStartRound(sess *models.Session, round int, now time.Time, rules config.Rules) bool {
	if sess.State != models.StateCountdown || sess.CurrentRound != round {
		return false
	}
	elapsed, ok := countdownElapsed(sess, now)
	return ok && elapsed >= rules.Countdown()
}

// canEndRound allows closing a running round when its deadline passed or
// every current player already found the target.
func canEndRound(sess *models.Session, round int, now time.Time) bool {
	if sess.State != models.StatePlaying || sess.CurrentRound != round {
		return false
	}
	r := sess.Round(round)
	if r == nil || r.StartedAt == nil || r.EndsAt == nil {
		return false
	}
	if !now.Before(*r.EndsAt) {
		return true
	}
	return allFound(sess, r)
}

// canProgress allows leaving the round-end screen after its hold time.
// The final round holds for less because the game-over screen follows.
func canProgress(sess *models.Session, round int, now time.Time, rules config.Rules) bool {
	if sess.State != models.StateRoundEnd || sess.CurrentRound != round {
		return false
	}
	if sess.RoundEndedAt == nil {
		return false
	}
	hold := rules.RoundEndHold()
	if round >= rules.MaxRounds {
		hold = rules.FinalHold()
	}
	return now.Sub(*sess.RoundEndedAt) >= hold
}

// canResetGame allows the host to reopen the lobby after a finished game.
func canResetGame(sess *models.Session, requesterID string) bool {
	return sess.State == models.StateFinished && sess.HostID == requesterID
}

// countdownElapsed returns how long the current countdown has been
// running. ok is false when no countdown timestamp is recorded, which a
// well-formed countdown session always has.
func countdownElapsed(sess *models.Session, now time.Time) (time.Duration, bool) {
	if sess.CountdownStartedAt == nil {
		return 0, false
	}
	return now.Sub(*sess.CountdownStartedAt), true
}

// allFound reports whether every current player found the round target.
// Players evicted mid-round stop counting, so a round can end early
// right after a disconnect sweep. An empty lobby never reports true;
// presence tears it down instead.
func allFound(sess *models.Session, r *models.Round) bool {
	if len(sess.Players) == 0 {
		return false
	}
	for _, p := range sess.Players {
		if !r.HasFound(p.ID) {
			return false
		}
	}
	return true
}
