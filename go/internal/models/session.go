package models

import (
	"time"
)

// SessionState defines where a lobby is in its game lifecycle.
type SessionState string

const (
	StateWaiting   SessionState = "waiting"
	StateCountdown SessionState = "countdown"
	StatePlaying   SessionState = "playing"
	StateRoundEnd  SessionState = "roundEnd"
	StateFinished  SessionState = "finished"
)

// Player represents one member of a lobby.
type Player struct {
	ID          string       `json:"id"`
	DisplayName string       `json:"displayName"`
	Avatar      string       `json:"avatar,omitempty"`
	IsHost      bool         `json:"isHost"`
	Score       int          `json:"score"`
	RoundScores []RoundScore `json:"roundScores,omitempty"`
	JoinedAt    time.Time    `json:"joinedAt"`
}

// RoundScore records the points a player earned in a single round.
type RoundScore struct {
	Round  int `json:"round"`
	Points int `json:"points"`
}

// PlacedItem is one emoji placed on a round board. Position and size are
// percentages of the board so clients can render at any resolution.
type PlacedItem struct {
	ID       string  `json:"id"`
	Token    string  `json:"token"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Size     float64 `json:"size"`
	Rotation float64 `json:"rotation"`
}

// Find records a player locating the round target, in arrival order.
type Find struct {
	PlayerID string    `json:"playerId"`
	At       time.Time `json:"at"`
}

// Round holds the generated board and play results for one round.
// StartedAt and EndsAt stay nil until the round actually starts, so a
// preloaded board carries no timing information.
type Round struct {
	Number      int          `json:"number"`
	TargetToken string       `json:"targetToken"`
	Items       []PlacedItem `json:"items"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	EndsAt      *time.Time   `json:"endsAt,omitempty"`
	FoundBy     []Find       `json:"foundBy,omitempty"`
}

// HasFound reports whether the player already found this round's target.
func (r *Round) HasFound(playerID string) bool {
	for _, f := range r.FoundBy {
		if f.PlayerID == playerID {
			return true
		}
	}
	return false
}

// Item returns the placed item with the given ID, or nil.
func (r *Round) Item(id string) *PlacedItem {
	for i := range r.Items {
		if r.Items[i].ID == id {
			return &r.Items[i]
		}
	}
	return nil
}

// Session is the whole lobby document as stored. It is read and written
// as a single JSON value; concurrent writers are serialized by transition
// locks, everything else is last-writer-wins.
type Session struct {
	Code               string         `json:"code"`
	HostID             string         `json:"hostId"`
	Players            []Player       `json:"players"`
	State              SessionState   `json:"state"`
	CurrentRound       int            `json:"currentRound"`
	Rounds             map[int]*Round `json:"rounds,omitempty"`
	CountdownStartedAt *time.Time     `json:"countdownStartedAt,omitempty"`
	RoundEndedAt       *time.Time     `json:"roundEndedAt,omitempty"`
	CreatedAt          time.Time      `json:"createdAt"`
}

// Player returns the lobby member with the given ID, or nil.
func (s *Session) Player(id string) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// Round returns the round with the given number, or nil if it has not
// been generated yet.
func (s *Session) Round(number int) *Round {
	if s.Rounds == nil {
		return nil
	}
	return s.Rounds[number]
}

// SetRound stores round content under its number.
func (s *Session) SetRound(r *Round) {
	if s.Rounds == nil {
		s.Rounds = make(map[int]*Round)
	}
	s.Rounds[r.Number] = r
}

// PromoteHost makes the first remaining player the host. Call after
// removing players so exactly one host flag survives.
func (s *Session) PromoteHost() {
	s.HostID = ""
	for i := range s.Players {
		s.Players[i].IsHost = i == 0
		if i == 0 {
			s.HostID = s.Players[i].ID
		}
	}
}
