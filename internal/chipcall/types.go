package chipcall

import (
	"time"

	"chipcall-server/internal/game"
)

type GameMode string

const (
	ModeSingle GameMode = "single"
	ModeSeries GameMode = "series"
)

// Player is a seated participant. The seat itself is the player's position
// in Room.Seats; that position is fixed at join time and doubles as turn
// order and host-succession order.
type Player struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Hole      []game.Card `json:"hole"`
	Ready     bool        `json:"ready"`
	AtTable   bool        `json:"atTable"`
	Connected bool        `json:"connected"`
	JoinedAt  time.Time   `json:"joinedAt"`
}

// Spectator is a full-information viewer. Spectators never affect match
// state and may come and go in any phase.
type Spectator struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// TokenAction is one audit entry: who claimed which token, and whether it
// came from the pool or was stolen from another seat.
type TokenAction struct {
	PlayerID   string    `json:"playerId"`
	Token      int       `json:"token"`
	Stolen     bool      `json:"stolen"`
	StolenFrom string    `json:"stolenFrom,omitempty"`
	Phase      Phase     `json:"phase"`
	At         time.Time `json:"at"`
}

// RoundRecord archives the token assignments of one completed betting round.
type RoundRecord struct {
	HandNumber  int            `json:"handNumber"`
	Phase       Phase          `json:"phase"`
	Assignments map[string]int `json:"assignments"`
}

// SeatResult grades one seat's final token against its true rank.
type SeatResult struct {
	PlayerID string `json:"playerId"`
	Name     string `json:"name"`
	Token    int    `json:"token"`
	TrueRank int    `json:"trueRank"`
	Correct  bool   `json:"correct"`
	Hand     string `json:"hand"`
}

// RoundResult is the outcome of one hand: success only if every seat's
// token matched its true rank exactly.
type RoundResult struct {
	Success      bool         `json:"success"`
	Seats        []SeatResult `json:"seats"`
	Misranked    []string     `json:"misranked,omitempty"`
	SeriesWins   int          `json:"seriesWins"`
	SeriesLosses int          `json:"seriesLosses"`
	SeriesOver   bool         `json:"seriesOver"`
	CompletedAt  time.Time    `json:"completedAt"`
}
