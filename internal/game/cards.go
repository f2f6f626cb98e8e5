package game

import (
	"fmt"
	"math/rand"
)

type Suit int

const (
	Hearts Suit = iota
	Diamonds
	Clubs
	Spades
)

var suitString = map[Suit]string{
	Hearts:   "Hearts",
	Diamonds: "Diamonds",
	Clubs:    "Clubs",
	Spades:   "Spades",
}

func (s Suit) String() string {
	return suitString[s]
}

type Rank int

const (
	Two Rank = iota + 2
	Three
	Four
	Five
	Six
	Seven
	Eight
	Nine
	Ten
	Jack
	Queen
	King
	Ace
)

var rankString = map[Rank]string{
	Two:   "Two",
	Three: "Three",
	Four:  "Four",
	Five:  "Five",
	Six:   "Six",
	Seven: "Seven",
	Eight: "Eight",
	Nine:  "Nine",
	Ten:   "Ten",
	Jack:  "Jack",
	Queen: "Queen",
	King:  "King",
	Ace:   "Ace",
}

func (r Rank) String() string {
	return rankString[r]
}

type Card struct {
	Suit Suit `json:"suit"`
	Rank Rank `json:"rank"`
}

func (card Card) String() string {
	return fmt.Sprintf("%s of %s", card.Rank.String(), card.Suit.String())
}

// encoding gives every card a distinct integer, ordered by rank first.
// Used by the ranking tie-break.
func (card Card) encoding() int {
	return int(card.Rank)*4 + int(card.Suit)
}

type Deck struct {
	Cards []Card `json:"cards"`

	rng *rand.Rand
}

// NewDeck creates a shuffled standard 52-card deck. A nil rng falls back
// to the package-level source.
func NewDeck(rng *rand.Rand) *Deck {
	cards := make([]Card, 0, 52)
	suits := []Suit{Hearts, Diamonds, Clubs, Spades}

	for _, suit := range suits {
		for rank := Two; rank <= Ace; rank++ {
			cards = append(cards, Card{suit, rank})
		}
	}

	deck := &Deck{Cards: cards, rng: rng}
	deck.Shuffle()
	return deck
}

func (d *Deck) Count() int {
	return len(d.Cards)
}

func (d *Deck) Shuffle() {
	swap := func(i, j int) {
		d.Cards[i], d.Cards[j] = d.Cards[j], d.Cards[i]
	}
	if d.rng != nil {
		d.rng.Shuffle(len(d.Cards), swap)
	} else {
		rand.Shuffle(len(d.Cards), swap)
	}
}

// Draw removes and returns the top n cards.
func (d *Deck) Draw(n int) []Card {
	cards := make([]Card, 0, n)
	for range n {
		card := d.Cards[len(d.Cards)-1]
		cards = append(cards, card)
		d.Cards = d.Cards[:len(d.Cards)-1]
	}
	return cards
}
