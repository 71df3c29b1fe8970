// Package settlement turns a finished round into ledger credits.
package settlement

import (
	"errors"
	"fmt"
)

// BasisPoints is the denominator for house cut rates; 2000 is 20%.
const BasisPoints = 10_000

// ErrInvalidSplit reports arguments Compute cannot work with.
var ErrInvalidSplit = errors.New("invalid split")

// Split is the exact division of a pot.
//
// PrizePerWinner*Winners + HouseTake == Pot always holds; any remainder of
// the even division goes to the house.
type Split struct {
	Pot            int64 `json:"pot"`
	Winners        int   `json:"winners"`
	HouseCut       int64 `json:"houseCut"`
	PrizePool      int64 `json:"prizePool"`
	Remainder      int64 `json:"remainder"`
	PrizePerWinner int64 `json:"prizePerWinner"`
	HouseTake      int64 `json:"houseTake"`
}

// Compute divides pot between winners after the house cut.
//
//	houseCut       = floor(pot * cut)
//	prizePool      = pot - houseCut
//	prizePerWinner = floor(prizePool / winners)
//	houseTake      = houseCut + prizePool - prizePerWinner * winners
//
// With no winners the whole pot is house take.
func Compute(pot, houseCutBps int64, winners int) (Split, error) {
	switch {
	case pot < 0:
		return Split{}, fmt.Errorf("%w: negative pot %d", ErrInvalidSplit, pot)
	case houseCutBps < 0 || houseCutBps > BasisPoints:
		return Split{}, fmt.Errorf("%w: house cut %d bps outside 0..%d", ErrInvalidSplit, houseCutBps, BasisPoints)
	case winners < 0:
		return Split{}, fmt.Errorf("%w: negative winner count %d", ErrInvalidSplit, winners)
	}

	s := Split{Pot: pot, Winners: winners}
	// Split pot so pot*bps cannot overflow.
	s.HouseCut = (pot/BasisPoints)*houseCutBps + (pot%BasisPoints)*houseCutBps/BasisPoints
	s.PrizePool = pot - s.HouseCut
	if winners > 0 {
		s.PrizePerWinner = s.PrizePool / int64(winners)
	}
	s.Remainder = s.PrizePool - s.PrizePerWinner*int64(winners)
	s.HouseTake = s.HouseCut + s.Remainder
	return s, nil
}
