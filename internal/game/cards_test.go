package game

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDeck_52UniqueCards(t *testing.T) {
	deck := NewDeck(nil)
	assert.Equal(t, 52, deck.Count())

	seen := make(map[Card]bool)
	for _, card := range deck.Cards {
		assert.False(t, seen[card], "duplicate card %s", card)
		seen[card] = true
	}
}

func TestDeck_DrawReducesCount(t *testing.T) {
	deck := NewDeck(nil)

	hole := deck.Draw(2)
	assert.Len(t, hole, 2)
	assert.Equal(t, 50, deck.Count())

	flop := deck.Draw(3)
	assert.Len(t, flop, 3)
	assert.Equal(t, 47, deck.Count())

	// Drawn cards must not still be in the deck
	remaining := make(map[Card]bool)
	for _, card := range deck.Cards {
		remaining[card] = true
	}
	for _, card := range append(hole, flop...) {
		assert.False(t, remaining[card], "drawn card %s still in deck", card)
	}
}

func TestDeck_SeededShuffleIsDeterministic(t *testing.T) {
	a := NewDeck(rand.New(rand.NewSource(42)))
	b := NewDeck(rand.New(rand.NewSource(42)))
	assert.Equal(t, a.Cards, b.Cards)

	c := NewDeck(rand.New(rand.NewSource(43)))
	assert.NotEqual(t, a.Cards, c.Cards)
}
