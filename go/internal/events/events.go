// Package events carries everything that happens in a lobby out to its
// connected clients. Events land in a short-lived store list that
// consumers poll (the reliable path) and are mirrored onto a push bus
// (the fast path). Consumers see both, so they dedup by timestamp.
package events

import (
	"encoding/json"

	"github.com/emojidash/emojidash/go/internal/models"
)

// Type identifies what happened.
type Type string

const (
	TypeGameStarted    Type = "GAME_STARTED"
	TypeRoundPreloaded Type = "ROUND_PRELOADED"
	TypeRoundStarted   Type = "ROUND_STARTED"
	TypeRoundEnded     Type = "ROUND_ENDED"
	TypeGameEnded      Type = "GAME_ENDED"
	TypeGameReset      Type = "GAME_RESET"
	TypePlayerJoined   Type = "PLAYER_JOINED"
	TypePlayerLeft     Type = "PLAYER_LEFT"
	TypeLobbyUpdated   Type = "LOBBY_UPDATED"
	TypeEmojiFound     Type = "EMOJI_FOUND"
	TypeWrongEmoji     Type = "WRONG_EMOJI"
)

// Event is the wire envelope. Timestamp is unix milliseconds and doubles
// as the dedup key; the broadcaster guarantees no two events of a lobby
// share one.
type Event struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Priority  bool            `json:"priority,omitempty"`
	// PlayerID scopes delivery to a single player when set.
	PlayerID string `json:"playerId,omitempty"`
}

// ForPlayer reports whether the event should be delivered to playerID.
func (e Event) ForPlayer(playerID string) bool {
	return e.PlayerID == "" || e.PlayerID == playerID
}

// GameStartedPayload announces a countdown running toward a round.
// It doubles as the between-rounds signal when a later round counts in.
type GameStartedPayload struct {
	CurrentRound       int   `json:"currentRound"`
	CountdownStartedAt int64 `json:"countdownStartedAt"`
	CountdownSeconds   int   `json:"countdownSeconds"`
}

// RoundPreloadedPayload ships the upcoming board during the countdown so
// clients can render it before the round opens. Not authoritative: the
// stored session is rechecked at round start.
type RoundPreloadedPayload struct {
	Round *models.Round `json:"round"`
}

// RoundStartedPayload opens a round for guessing.
type RoundStartedPayload struct {
	Round *models.Round `json:"round"`
}

// RoundScoreEntry is one player's line in a round summary.
type RoundScoreEntry struct {
	PlayerID   string `json:"playerId"`
	Name       string `json:"name"`
	RoundScore int    `json:"roundScore"`
	TotalScore int    `json:"totalScore"`
}

// RoundEndedPayload closes a round and reveals where everyone stands.
type RoundEndedPayload struct {
	Round       int               `json:"round"`
	TargetToken string            `json:"targetToken"`
	Scores      []RoundScoreEntry `json:"scores"`
}

// StandingEntry is one player's line in the final standings.
type StandingEntry struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Score    int    `json:"score"`
	Rank     int    `json:"rank"`
}

// GameEndedPayload carries the final standings and the podium.
type GameEndedPayload struct {
	FinalScores []StandingEntry `json:"finalScores"`
	Winners     []StandingEntry `json:"winners"`
}

// GameResetPayload returns the lobby to the waiting room.
type GameResetPayload struct {
	Session *models.Session `json:"session"`
}

// PlayerJoinedPayload announces a new lobby member.
type PlayerJoinedPayload struct {
	Player      models.Player `json:"player"`
	PlayerCount int           `json:"playerCount"`
}

// PlayerLeftPayload announces a departure, voluntary or evicted.
// NewHostID is set when the departure moved host duties.
type PlayerLeftPayload struct {
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	NewHostID   string `json:"newHostId,omitempty"`
	PlayerCount int    `json:"playerCount"`
}

// LobbyUpdatedPayload ships the whole session after membership changes.
type LobbyUpdatedPayload struct {
	Session *models.Session `json:"session"`
}

// EmojiFoundPayload credits a correct guess.
type EmojiFoundPayload struct {
	PlayerID   string `json:"playerId"`
	Points     int    `json:"points"`
	TotalScore int    `json:"totalScore"`
	FoundCount int    `json:"foundCount"`
}

// WrongEmojiPayload tells a player their guess missed. Always
// player-scoped; nobody else needs to know.
type WrongEmojiPayload struct {
	PlayerID string `json:"playerId"`
	ItemID   string `json:"itemId"`
}
