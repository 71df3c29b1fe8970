// Package caller produces the numbers drawn during a bingo round.
//
// A Caller only decides order and uniqueness. How fast numbers are announced
// is up to the room driving it, which keeps the caller trivially testable.
package caller

import (
	rand "math/rand/v2"

	"github.com/lox/bingohall/internal/card"
)

// Caller yields a random permutation of 1..card.MaxNumber one number at a
// time. Use a fresh Caller per round; it cannot be rewound.
type Caller struct {
	rng   *rand.Rand
	pool  [card.MaxNumber]int
	drawn int
}

// New returns a caller drawing with rng.
func New(rng *rand.Rand) *Caller {
	c := &Caller{rng: rng}
	for i := range c.pool {
		c.pool[i] = i + 1
	}
	return c
}

// Next draws the next number. It returns false once all numbers have been
// drawn.
func (c *Caller) Next() (int, bool) {
	if c.drawn == len(c.pool) {
		return 0, false
	}
	// One Fisher-Yates step: pick from the undrawn tail and swap it forward.
	j := c.drawn + c.rng.IntN(len(c.pool)-c.drawn)
	c.pool[c.drawn], c.pool[j] = c.pool[j], c.pool[c.drawn]
	n := c.pool[c.drawn]
	c.drawn++
	return n, true
}

// Drawn returns the numbers drawn so far in draw order.
func (c *Caller) Drawn() []int {
	return append([]int(nil), c.pool[:c.drawn]...)
}

// Remaining returns how many numbers are left.
func (c *Caller) Remaining() int {
	return len(c.pool) - c.drawn
}
