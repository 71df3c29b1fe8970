package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompute(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		pot       int64
		bps       int64
		winners   int
		perWinner int64
		house     int64
	}{
		{"single winner", 30, 2000, 1, 24, 6},
		{"two winners", 30, 2000, 2, 12, 6},
		{"odd pot two winners", 31, 2000, 2, 12, 7},
		{"odd pot one winner", 31, 2000, 1, 25, 6},
		{"remainder to house", 100, 2000, 3, 26, 22},
		{"no winners", 30, 2000, 0, 0, 30},
		{"empty pot", 0, 2000, 1, 0, 0},
		{"no cut", 30, 0, 4, 7, 2},
		{"full cut", 30, BasisPoints, 1, 0, 30},
		{"more winners than coins", 5, 2000, 7, 0, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Compute(tt.pot, tt.bps, tt.winners)
			require.NoError(t, err)
			assert.Equal(t, tt.house, s.HouseCut+s.Remainder)
			assert.Equal(t, tt.perWinner, s.PrizePerWinner, "prize per winner")
			assert.Equal(t, tt.house, s.HouseTake, "house take")
			assert.Equal(t, tt.pot, s.PrizePerWinner*int64(tt.winners)+s.HouseTake, "pot conserved")
		})
	}
}

func TestComputeConservesAcrossRange(t *testing.T) {
	t.Parallel()
	for pot := int64(0); pot <= 500; pot += 7 {
		for _, bps := range []int64{0, 1, 1500, 2000, 3333, 9999, BasisPoints} {
			for winners := 0; winners <= 6; winners++ {
				s, err := Compute(pot, bps, winners)
				require.NoError(t, err)
				require.Equal(t, pot, s.PrizePerWinner*int64(winners)+s.HouseTake)
				require.GreaterOrEqual(t, s.HouseTake, int64(0))
				require.Equal(t, s.PrizePool, s.PrizePerWinner*int64(winners)+s.Remainder)
				require.Equal(t, pot, s.HouseCut+s.PrizePool)
			}
		}
	}
}

func TestComputeLargePot(t *testing.T) {
	t.Parallel()
	pot := int64(1) << 60
	s, err := Compute(pot, 2000, 3)
	require.NoError(t, err)
	assert.Equal(t, pot, s.PrizePerWinner*3+s.HouseTake)
	assert.Equal(t, pot/5, s.HouseCut)
	assert.Equal(t, pot-pot/5, s.PrizePool)
}

func TestComputeRejects(t *testing.T) {
	t.Parallel()
	_, err := Compute(-1, 2000, 1)
	assert.ErrorIs(t, err, ErrInvalidSplit)
	_, err = Compute(10, -1, 1)
	assert.ErrorIs(t, err, ErrInvalidSplit)
	_, err = Compute(10, BasisPoints+1, 1)
	assert.ErrorIs(t, err, ErrInvalidSplit)
	_, err = Compute(10, 2000, -2)
	assert.ErrorIs(t, err, ErrInvalidSplit)
}
