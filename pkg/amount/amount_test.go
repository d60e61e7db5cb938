package amount

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bondledger/pkg/domain-errors"
)

func TestPayout(t *testing.T) {
	cases := []struct {
		name      string
		principal uint64
		bps       uint32
		interest  uint64
		payout    uint64
	}{
		{"five percent", 1000, 500, 50, 1050},
		{"truncates remainder", 333, 250, 8, 341},
		{"sub-unit interest rounds down to zero", 1, 9999, 0, 1},
		{"full rate doubles", 7, BpsDenominator, 7, 14},
		{"zero principal", 0, 500, 0, 0},
		{"large principal does not overflow the product", math.MaxUint64 / 2, 100, (math.MaxUint64 / 2) / 100, math.MaxUint64/2 + (math.MaxUint64/2)/100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			interest, payout, err := Payout(tc.principal, tc.bps)
			require.NoError(t, err)
			assert.Equal(t, tc.interest, interest)
			assert.Equal(t, tc.payout, payout)
		})
	}

	t.Run("payout above uint64 is an overflow", func(t *testing.T) {
		_, _, err := Payout(math.MaxUint64, 500)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeArithmeticOverflow))
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			_, payout, err := Payout(333, 250)
			require.NoError(t, err)
			require.Equal(t, uint64(341), payout)
		}
	})
}

func TestAddSub(t *testing.T) {
	sum, err := Add(1, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), sum)

	_, err = Add(math.MaxUint64, 1)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeArithmeticOverflow))

	diff, err := Sub(5, 3)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), diff)

	_, err = Sub(3, 5)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}
