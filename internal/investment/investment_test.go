package investment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bondledger/pkg/domain-errors"
)

func TestRecords(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	t.Run("indices are positional and stable", func(t *testing.T) {
		var r Records
		i0, err := r.Append(1, 100, now)
		require.NoError(t, err)
		i1, err := r.Append(2, 200, now)
		require.NoError(t, err)
		assert.Equal(t, 0, i0)
		assert.Equal(t, 1, i1)

		_, err = r.MarkRedeemed(0, now)
		require.NoError(t, err)
		lots := r.Snapshot()
		require.Len(t, lots, 2)
		assert.Equal(t, uint64(200), lots[1].Amount)
		assert.Equal(t, 1, lots[1].Index)
	})

	t.Run("redeemed exactly once", func(t *testing.T) {
		var r Records
		_, err := r.Append(1, 100, now)
		require.NoError(t, err)

		lot, err := r.MarkRedeemed(0, now)
		require.NoError(t, err)
		assert.True(t, lot.Redeemed)
		require.NotNil(t, lot.RedeemedAt)

		_, err = r.MarkRedeemed(0, now.Add(time.Hour))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyRedeemed))

		again, err := r.Get(0)
		require.NoError(t, err)
		assert.Equal(t, now, *again.RedeemedAt, "second attempt changes nothing")
	})

	t.Run("out of range indices", func(t *testing.T) {
		var r Records
		for _, idx := range []int{-1, 0, 5} {
			_, err := r.MarkRedeemed(idx, now)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeIndexOutOfRange), "index %d", idx)
		}
	})

	t.Run("snapshot is detached", func(t *testing.T) {
		var r Records
		_, err := r.Append(1, 100, now)
		require.NoError(t, err)
		snap := r.Snapshot()
		snap[0].Redeemed = true
		lot, _ := r.Get(0)
		assert.False(t, lot.Redeemed)
	})

	t.Run("zero amount rejected", func(t *testing.T) {
		var r Records
		_, err := r.Append(1, 0, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidParameter))
	})
}
