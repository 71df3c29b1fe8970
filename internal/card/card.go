// Package card models bingo cards: the 5x5 grid a participant plays, the set
// of numbers called so far and the rules deciding when a card has won.
package card

import (
	"fmt"
	"strings"
)

const (
	// Size is the width and height of a card.
	Size = 5
	// MaxNumber is the highest number the caller can draw.
	MaxNumber = 75
	// Free marks the centre cell, which is always satisfied.
	Free = 0

	centre = Size / 2
	// span is how many numbers each column draws from (B 1-15, I 16-30, ...).
	span = MaxNumber / Size
)

// Letters heads the columns of a card.
var Letters = [Size]string{"B", "I", "N", "G", "O"}

// Grid holds the numbers of a card indexed [row][column]. The centre cell is
// Free.
type Grid [Size][Size]int

// Card is a numbered card from the catalog.
type Card struct {
	Number int  `json:"number"`
	Grid   Grid `json:"grid"`
}

// Column returns the numbers of column c, top to bottom.
func (g Grid) Column(c int) [Size]int {
	var out [Size]int
	for r := range Size {
		out[r] = g[r][c]
	}
	return out
}

// Validate checks that g is a legal card: a free centre, every other cell in
// its column's range and no repeated numbers.
func (g Grid) Validate() error {
	seen := make(map[int]bool, Size*Size)
	for r := range Size {
		for c := range Size {
			n := g[r][c]
			if r == centre && c == centre {
				if n != Free {
					return fmt.Errorf("centre cell must be free, got %d", n)
				}
				continue
			}
			lo, hi := c*span+1, (c+1)*span
			if n < lo || n > hi {
				return fmt.Errorf("cell %s%d: %d outside %d-%d", Letters[c], r+1, n, lo, hi)
			}
			if seen[n] {
				return fmt.Errorf("number %d appears twice", n)
			}
			seen[n] = true
		}
	}
	return nil
}

// String renders the grid as a small table, mostly for logs and test output.
func (g Grid) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(Letters[:], "  "))
	for r := range Size {
		sb.WriteByte('\n')
		for c := range Size {
			if c > 0 {
				sb.WriteByte(' ')
			}
			if g[r][c] == Free {
				sb.WriteString(" *")
				continue
			}
			fmt.Fprintf(&sb, "%2d", g[r][c])
		}
	}
	return sb.String()
}
