package game

import (
	"fmt"
	"sort"

	"github.com/paulhankin/poker"
)

// SeatHand is one seat's private cards, paired with its stable player id.
type SeatHand struct {
	PlayerID string
	Hole     []Card
}

// SeatRank is a seat's final standing: Rank is 1-based, 1 = weakest hand.
type SeatRank struct {
	PlayerID string `json:"playerId"`
	Rank     int    `json:"rank"`
	Score    int16  `json:"score"`
	Hand     string `json:"hand"`
}

var evalSuit = map[Suit]poker.Suit{
	Hearts:   poker.Heart,
	Diamonds: poker.Diamond,
	Clubs:    poker.Club,
	Spades:   poker.Spade,
}

func evalCard(c Card) (poker.Card, error) {
	rank := poker.Rank(c.Rank)
	if c.Rank == Ace {
		rank = poker.Rank(1)
	}
	return poker.MakeCard(evalSuit[c.Suit], rank)
}

// RankSeats orders every seat weakest to strongest over 2 hole cards plus
// the 5 community cards. Ties on hand strength are broken by the hole
// cards' encodings (highest first), so the ordering is total: no two seats
// ever share a rank.
func RankSeats(seats []SeatHand, community []Card) ([]SeatRank, error) {
	if len(community) != 5 {
		return nil, fmt.Errorf("ranking requires 5 community cards, have %d", len(community))
	}

	type scored struct {
		playerID string
		score    int16
		hand     string
		hole     [2]int // sorted descending encodings, for tie-break
	}

	scoredSeats := make([]scored, 0, len(seats))
	for _, seat := range seats {
		if len(seat.Hole) != 2 {
			return nil, fmt.Errorf("seat %s has %d hole cards, want 2", seat.PlayerID, len(seat.Hole))
		}

		var finalHand [7]poker.Card
		for i, c := range community {
			card, err := evalCard(c)
			if err != nil {
				return nil, fmt.Errorf("invalid community card at idx %d: %w", i, err)
			}
			finalHand[i] = card
		}
		for i, c := range seat.Hole {
			card, err := evalCard(c)
			if err != nil {
				return nil, fmt.Errorf("invalid hole card for %s: %w", seat.PlayerID, err)
			}
			finalHand[5+i] = card
		}

		desc, err := poker.Describe(finalHand[:])
		if err != nil {
			return nil, fmt.Errorf("describe hand for %s: %w", seat.PlayerID, err)
		}

		hole := [2]int{seat.Hole[0].encoding(), seat.Hole[1].encoding()}
		if hole[0] < hole[1] {
			hole[0], hole[1] = hole[1], hole[0]
		}

		scoredSeats = append(scoredSeats, scored{
			playerID: seat.PlayerID,
			score:    poker.Eval7(&finalHand),
			hand:     desc,
			hole:     hole,
		})
	}

	// Ascending: weakest first. Hole cards are unique across seats, so the
	// encoding comparison always resolves equal scores.
	sort.Slice(scoredSeats, func(i, j int) bool {
		a, b := scoredSeats[i], scoredSeats[j]
		if a.score != b.score {
			return a.score < b.score
		}
		if a.hole[0] != b.hole[0] {
			return a.hole[0] < b.hole[0]
		}
		return a.hole[1] < b.hole[1]
	})

	ranks := make([]SeatRank, len(scoredSeats))
	for i, s := range scoredSeats {
		ranks[i] = SeatRank{
			PlayerID: s.playerID,
			Rank:     i + 1,
			Score:    s.score,
			Hand:     s.hand,
		}
	}
	return ranks, nil
}
