package game

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/emojidash/emojidash/go/internal/config"
	"github.com/emojidash/emojidash/go/internal/events"
	"github.com/emojidash/emojidash/go/internal/models"
)

// boardItems digs the target and one decoy out of a generated board.
func boardItems(t *testing.T, r *models.Round) (target, decoy string) {
	t.Helper()
	for _, item := range r.Items {
		if item.Token == r.TargetToken && target == "" {
			target = item.ID
		}
		if item.Token != r.TargetToken && decoy == "" {
			decoy = item.ID
		}
	}
	if target == "" || decoy == "" {
		t.Fatalf("board has no target or no decoy: %+v", r)
	}
	return target, decoy
}

func TestSubmitGuessScoresBySpeedAndOrder(t *testing.T) {
	f := newFixture(t, config.DefaultRules())
	ctx := context.Background()
	f.seedWaiting(t, "AAAA22")
	f.runToPlaying(t, "AAAA22")

	target, _ := boardItems(t, f.session(t, "AAAA22").Round(1))

	// With a 30s round, 150 max time bonus on a square curve and 50/15
	// order bonuses: 2s in, first place pays 50+131+50.
	f.clock.Advance(2 * time.Second)
	res, err := f.app.SubmitGuess(ctx, "AAAA22", "p1", target)
	if err != nil {
		t.Fatalf("SubmitGuess(p1): %v", err)
	}
	if !res.Correct || res.Points != 231 || res.TotalScore != 231 {
		t.Fatalf("p1 result = %+v, want 231 points", res)
	}
	if res.FoundCount != 1 || res.RoundOver {
		t.Fatalf("p1 result = %+v, want first find, round still open", res)
	}
	f.wantEvents(t, "AAAA22", events.TypeEmojiFound)

	// 5s in, second place pays 50+104+35, and the last find ends the
	// round on the spot.
	f.clock.Advance(3 * time.Second)
	res, err = f.app.SubmitGuess(ctx, "AAAA22", "p2", target)
	if err != nil {
		t.Fatalf("SubmitGuess(p2): %v", err)
	}
	if !res.Correct || res.Points != 189 || res.TotalScore != 189 {
		t.Fatalf("p2 result = %+v, want 189 points", res)
	}
	if res.FoundCount != 2 || !res.RoundOver {
		t.Fatalf("p2 result = %+v, want second find closing the round", res)
	}

	sess := f.session(t, "AAAA22")
	if sess.State != models.StateRoundEnd {
		t.Fatalf("state = %s, want roundEnd after the last find", sess.State)
	}

	evs := f.wantEvents(t, "AAAA22", events.TypeEmojiFound, events.TypeRoundEnded)
	for _, ev := range evs {
		if ev.Type != events.TypeRoundEnded {
			continue
		}
		var p events.RoundEndedPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			t.Fatalf("unmarshal ROUND_ENDED: %v", err)
		}
		if len(p.Scores) != 2 {
			t.Fatalf("round summary = %+v, want both players", p.Scores)
		}
		if p.Scores[0].PlayerID != "p1" || p.Scores[0].RoundScore != 231 || p.Scores[0].TotalScore != 231 {
			t.Errorf("leader line = %+v, want p1 at 231", p.Scores[0])
		}
		if p.Scores[1].PlayerID != "p2" || p.Scores[1].RoundScore != 189 {
			t.Errorf("runner-up line = %+v, want p2 at 189", p.Scores[1])
		}
	}
}

func TestSubmitGuessWrongItem(t *testing.T) {
	f := newFixture(t, config.DefaultRules())
	ctx := context.Background()
	f.seedWaiting(t, "AAAA22")
	f.runToPlaying(t, "AAAA22")

	_, decoy := boardItems(t, f.session(t, "AAAA22").Round(1))

	res, err := f.app.SubmitGuess(ctx, "AAAA22", "p1", decoy)
	if err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	if res.Correct || res.Points != 0 {
		t.Fatalf("decoy guess = %+v, want incorrect and unscored", res)
	}

	sess := f.session(t, "AAAA22")
	if sess.Player("p1").Score != 0 || len(sess.Round(1).FoundBy) != 0 {
		t.Fatalf("decoy guess changed state: score=%d finds=%d",
			sess.Player("p1").Score, len(sess.Round(1).FoundBy))
	}

	// The miss is the guesser's business only.
	evs := f.wantEvents(t, "AAAA22", events.TypeWrongEmoji)
	if evs[0].PlayerID != "p1" {
		t.Fatalf("WRONG_EMOJI scoped to %q, want p1", evs[0].PlayerID)
	}
	if evs[0].ForPlayer("p2") {
		t.Error("WRONG_EMOJI visible to another player")
	}
	if !evs[0].ForPlayer("p1") {
		t.Error("WRONG_EMOJI not visible to the guesser")
	}

	// An unknown item ID counts as a miss, not an error.
	res, err = f.app.SubmitGuess(ctx, "AAAA22", "p1", "no-such-item")
	if err != nil || res.Correct {
		t.Fatalf("unknown item = (%+v, %v), want a plain miss", res, err)
	}
}

func TestSubmitGuessRepeatAfterFind(t *testing.T) {
	f := newFixture(t, config.DefaultRules())
	ctx := context.Background()
	f.seedWaiting(t, "AAAA22")
	f.runToPlaying(t, "AAAA22")

	target, _ := boardItems(t, f.session(t, "AAAA22").Round(1))

	f.clock.Advance(2 * time.Second)
	first, err := f.app.SubmitGuess(ctx, "AAAA22", "p1", target)
	if err != nil {
		t.Fatalf("SubmitGuess: %v", err)
	}
	f.newEvents(t, "AAAA22")

	// A client retry after success repeats the outcome without scoring
	// twice or re-announcing the find.
	f.clock.Advance(time.Second)
	again, err := f.app.SubmitGuess(ctx, "AAAA22", "p1", target)
	if err != nil {
		t.Fatalf("repeat SubmitGuess: %v", err)
	}
	if !again.Correct || !again.AlreadyFound {
		t.Fatalf("repeat result = %+v, want already-found", again)
	}
	if again.Points != first.Points || again.TotalScore != first.TotalScore {
		t.Fatalf("repeat result = %+v, want the original award %+v", again, first)
	}
	if evs := f.newEvents(t, "AAAA22"); len(evs) != 0 {
		t.Fatalf("repeat guess emitted %v", eventTypeList(evs))
	}

	sess := f.session(t, "AAAA22")
	if sess.Player("p1").Score != first.Points || len(sess.Round(1).FoundBy) != 1 {
		t.Fatalf("repeat guess changed state: score=%d finds=%d",
			sess.Player("p1").Score, len(sess.Round(1).FoundBy))
	}
}

func TestSubmitGuessValidation(t *testing.T) {
	f := newFixture(t, config.DefaultRules())
	ctx := context.Background()
	f.seedWaiting(t, "AAAA22")

	t.Run("missing lobby", func(t *testing.T) {
		if _, err := f.app.SubmitGuess(ctx, "ZZZZ99", "p1", "i0"); !errors.Is(err, ErrLobbyNotFound) {
			t.Fatalf("err = %v, want ErrLobbyNotFound", err)
		}
	})

	t.Run("unknown player", func(t *testing.T) {
		if _, err := f.app.SubmitGuess(ctx, "AAAA22", "ghost", "i0"); !errors.Is(err, ErrPlayerNotFound) {
			t.Fatalf("err = %v, want ErrPlayerNotFound", err)
		}
	})

	t.Run("no round running", func(t *testing.T) {
		if _, err := f.app.SubmitGuess(ctx, "AAAA22", "p1", "i0"); !errors.Is(err, ErrRoundNotActive) {
			t.Fatalf("err = %v, want ErrRoundNotActive", err)
		}
	})
}

func TestSubmitGuessAfterDeadlineClosesRound(t *testing.T) {
	f := newFixture(t, config.DefaultRules())
	ctx := context.Background()
	f.seedWaiting(t, "AAAA22")
	f.runToPlaying(t, "AAAA22")

	target, _ := boardItems(t, f.session(t, "AAAA22").Round(1))

	f.clock.Advance(f.rules.RoundDuration() + time.Second)
	if _, err := f.app.SubmitGuess(ctx, "AAAA22", "p1", target); !errors.Is(err, ErrRoundNotActive) {
		t.Fatalf("err = %v, want ErrRoundNotActive", err)
	}

	// The refused guess still nudged the overdue round shut.
	if sess := f.session(t, "AAAA22"); sess.State != models.StateRoundEnd {
		t.Fatalf("state = %s, want roundEnd after the nudge", sess.State)
	}
}
