package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodes(t *testing.T) {
	t.Run("code survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("redeem: %w", New(CodeNotMatured, "series 1 matures later"))
		assert.True(t, HasCode(err, CodeNotMatured))
		assert.Equal(t, CodeNotMatured, CodeOf(err))
	})

	t.Run("inner code is visible through an outer wrap", func(t *testing.T) {
		inner := New(CodeEscrowFailure, "vault empty")
		err := Wrap(inner, CodeInternal, "commit redemption")
		assert.Equal(t, CodeInternal, CodeOf(err))
		assert.True(t, HasCode(err, CodeEscrowFailure))
		assert.True(t, Is(err, CodeInternal))
	})

	t.Run("uncoded errors are internal", func(t *testing.T) {
		assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
		assert.Equal(t, Code(""), CodeOf(nil))
	})

	t.Run("wrap keeps the cause reachable", func(t *testing.T) {
		cause := errors.New("connection reset")
		err := Wrap(cause, CodeInternal, "load series")
		require.ErrorIs(t, err, cause)
		assert.Nil(t, Wrap(nil, CodeInternal, "ignored"))
	})
}
