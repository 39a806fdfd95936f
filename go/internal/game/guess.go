package game

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/emojidash/emojidash/go/internal/events"
	"github.com/emojidash/emojidash/go/internal/models"
	"github.com/emojidash/emojidash/go/internal/scoring"
)

// GuessResult is what the guesser learns immediately; everyone else
// hears about it through events.
type GuessResult struct {
	Correct      bool `json:"correct"`
	AlreadyFound bool `json:"alreadyFound,omitempty"`
	Points       int  `json:"points,omitempty"`
	TotalScore   int  `json:"totalScore,omitempty"`
	FoundCount   int  `json:"foundCount,omitempty"`
	RoundOver    bool `json:"roundOver,omitempty"`
}

// SubmitGuess resolves a tap on a board item during a running round.
// Wrong guesses cost nothing but only the guesser hears about them;
// correct guesses award points by speed and arrival order. Submitting
// again after a correct guess repeats the original outcome without
// scoring twice.
func (a *App) SubmitGuess(ctx context.Context, code, playerID, itemID string) (*GuessResult, error) {
	sess, err := a.loadSession(ctx, code)
	if err != nil {
		return nil, err
	}
	player := sess.Player(playerID)
	if player == nil {
		return nil, ErrPlayerNotFound
	}
	if sess.State != models.StatePlaying {
		return nil, ErrRoundNotActive
	}
	round := sess.Round(sess.CurrentRound)
	if round == nil || round.StartedAt == nil || round.EndsAt == nil {
		return nil, ErrRoundNotActive
	}

	now := a.clock.Now()
	if !now.Before(*round.EndsAt) {
		// The deadline passed but nobody has run the end transition yet.
		// Nudge it along and refuse the guess.
		if _, err := a.coordinator.CheckAndEndRound(ctx, code, round.Number); err != nil {
			log.Error().Err(err).Str("lobby_code", code).Msg("failed to close overdue round")
		}
		return nil, ErrRoundNotActive
	}

	item := round.Item(itemID)
	if item == nil || item.Token != round.TargetToken {
		a.emitTo(ctx, code, playerID, events.TypeWrongEmoji, events.WrongEmojiPayload{
			PlayerID: playerID,
			ItemID:   itemID,
		})
		return &GuessResult{Correct: false}, nil
	}

	if round.HasFound(playerID) {
		return &GuessResult{
			Correct:      true,
			AlreadyFound: true,
			Points:       pointsEarned(player, round.Number),
			TotalScore:   player.Score,
			FoundCount:   len(round.FoundBy),
		}, nil
	}

	rank := len(round.FoundBy) + 1
	points := scoring.Points(a.scoring, now.Sub(*round.StartedAt), a.rules.RoundDuration(), rank)

	round.FoundBy = append(round.FoundBy, models.Find{PlayerID: playerID, At: now})
	player.Score += points
	player.RoundScores = append(player.RoundScores, models.RoundScore{
		Round:  round.Number,
		Points: points,
	})

	if err := a.repo.SaveSession(ctx, sess); err != nil {
		return nil, err
	}

	log.Info().
		Str("lobby_code", code).
		Str("player_id", playerID).
		Int("rank", rank).
		Int("points", points).
		Msg("target found")

	a.emit(ctx, code, events.TypeEmojiFound, events.EmojiFoundPayload{
		PlayerID:   playerID,
		Points:     points,
		TotalScore: player.Score,
		FoundCount: len(round.FoundBy),
	})

	result := &GuessResult{
		Correct:    true,
		Points:     points,
		TotalScore: player.Score,
		FoundCount: len(round.FoundBy),
	}

	if allFound(sess, round) {
		ended, err := a.coordinator.CheckAndEndRound(ctx, code, round.Number)
		if err != nil {
			log.Error().Err(err).Str("lobby_code", code).Msg("failed to close round after last find")
		}
		result.RoundOver = ended
	}
	return result, nil
}

// pointsEarned recovers what a player already scored in a round.
func pointsEarned(player *models.Player, round int) int {
	for _, rs := range player.RoundScores {
		if rs.Round == round {
			return rs.Points
		}
	}
	return 0
}
