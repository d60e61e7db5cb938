package ledger

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondledger/pkg/domain"
	dErrors "bondledger/pkg/domain-errors"
)

func TestMintBurn(t *testing.T) {
	t.Run("mint credits holder and supply", func(t *testing.T) {
		l := New(1)
		require.NoError(t, l.Mint("alice", 1000))
		require.NoError(t, l.Mint("bob", 250))
		assert.Equal(t, uint64(1000), l.BalanceOf("alice"))
		assert.Equal(t, uint64(1250), l.TotalSupply)
		assert.True(t, l.Conserved())
	})

	t.Run("zero mint is rejected", func(t *testing.T) {
		err := New(1).Mint("alice", 0)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidParameter))
	})

	t.Run("burn beyond balance is rejected and changes nothing", func(t *testing.T) {
		l := New(1)
		require.NoError(t, l.Mint("alice", 10))
		err := l.Burn("alice", 11)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
		assert.Equal(t, uint64(10), l.BalanceOf("alice"))
		assert.Equal(t, uint64(10), l.TotalSupply)
	})

	t.Run("burn tracks redeemed principal", func(t *testing.T) {
		l := New(1)
		require.NoError(t, l.Mint("alice", 10))
		require.NoError(t, l.Burn("alice", 10))
		assert.Zero(t, l.BalanceOf("alice"))
		assert.Equal(t, uint64(10), l.RedeemedOf("alice"))
		assert.Equal(t, uint64(10), l.TotalRedeemed)
		assert.Empty(t, l.Balances())
	})

	t.Run("overflowing mint leaves the ledger unchanged", func(t *testing.T) {
		l := New(1)
		require.NoError(t, l.Mint("alice", math.MaxUint64))
		err := l.Mint("bob", 1)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeArithmeticOverflow))
		assert.Zero(t, l.BalanceOf("bob"))
		assert.Equal(t, uint64(math.MaxUint64), l.TotalSupply)
	})
}

// TestConservation drives random mint/burn sequences and checks
// sum(balances) == TotalSupply and minted == TotalSupply + TotalRedeemed after
// every step.
func TestConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	holders := []domain.CallerID{"alice", "bob", "carol", "dave"}
	l := New(1)
	var minted uint64

	for i := 0; i < 5000; i++ {
		h := holders[rng.Intn(len(holders))]
		amt := uint64(rng.Intn(500) + 1)
		if rng.Intn(3) == 0 {
			if err := l.Burn(h, amt); err != nil {
				require.True(t, dErrors.HasCode(err, dErrors.CodeInsufficientBalance))
			}
		} else {
			require.NoError(t, l.Mint(h, amt))
			minted += amt
		}
		require.True(t, l.Conserved(), "step %d", i)
		require.Equal(t, minted, l.TotalSupply+l.TotalRedeemed, "step %d", i)
	}
}

func TestClone(t *testing.T) {
	l := New(1)
	require.NoError(t, l.Mint("alice", 5))
	c := l.Clone()
	require.NoError(t, c.Mint("alice", 5))
	assert.Equal(t, uint64(5), l.BalanceOf("alice"))
	assert.Equal(t, uint64(10), c.BalanceOf("alice"))
}
