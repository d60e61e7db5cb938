package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bondledger/internal/platform/lock"
	dErrors "bondledger/pkg/domain-errors"
	txcontext "bondledger/pkg/platform/tx"
)

// counter is a journaled in-memory value, the shape every memory store uses.
type counter struct{ v int }

func (c *counter) add(ctx context.Context, n int) {
	c.v += n
	txcontext.RecordIn(ctx, func() { c.v -= n })
}

func TestLockingTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commit keeps changes and rollback undoes them", func(t *testing.T) {
		tx := NewLockingTx(lock.NewMemory(), time.Second)
		c := &counter{}

		require.NoError(t, tx.RunInTx(ctx, []string{"a"}, func(ctx context.Context) error {
			c.add(ctx, 5)
			return nil
		}))
		assert.Equal(t, 5, c.v)

		boom := errors.New("boom")
		err := tx.RunInTx(ctx, []string{"a"}, func(ctx context.Context) error {
			c.add(ctx, 7)
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 5, c.v)
	})

	t.Run("failed nested call undoes only its own changes", func(t *testing.T) {
		tx := NewLockingTx(lock.NewMemory(), time.Second)
		c := &counter{}

		require.NoError(t, tx.RunInTx(ctx, []string{"a"}, func(ctx context.Context) error {
			c.add(ctx, 1)
			err := tx.RunInTx(ctx, []string{"a"}, func(ctx context.Context) error {
				c.add(ctx, 10)
				return errors.New("inner")
			})
			assert.Error(t, err)
			assert.Equal(t, 1, c.v)
			return nil
		}))
		assert.Equal(t, 1, c.v)
	})

	t.Run("outer rollback undoes a committed nested call", func(t *testing.T) {
		tx := NewLockingTx(lock.NewMemory(), time.Second)
		c := &counter{}

		err := tx.RunInTx(ctx, []string{"a"}, func(ctx context.Context) error {
			require.NoError(t, tx.RunInTx(ctx, []string{"a"}, func(ctx context.Context) error {
				c.add(ctx, 10)
				return nil
			}))
			return errors.New("outer")
		})
		assert.Error(t, err)
		assert.Zero(t, c.v)
	})

	t.Run("keys taken by a nested call are held until the outer tx ends", func(t *testing.T) {
		locker := lock.NewMemory()
		tx := NewLockingTx(locker, time.Second)

		require.NoError(t, tx.RunInTx(ctx, []string{"a"}, func(ctx context.Context) error {
			require.NoError(t, tx.RunInTx(ctx, []string{"a", "b"}, func(context.Context) error { return nil }))

			waiter, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := locker.Acquire(waiter, []string{"b"})
			assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout), "got %v", err)
			return nil
		}))

		release, err := locker.Acquire(ctx, []string{"b"})
		require.NoError(t, err)
		release()
	})

	t.Run("contended keys time out", func(t *testing.T) {
		locker := lock.NewMemory()
		release, err := locker.Acquire(ctx, []string{"series:1"})
		require.NoError(t, err)
		defer release()

		tx := NewLockingTx(locker, 20*time.Millisecond)
		err = tx.RunInTx(ctx, []string{"series:1"}, func(context.Context) error { return nil })
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout), "got %v", err)
	})

	t.Run("cancelled context never runs fn", func(t *testing.T) {
		tx := NewLockingTx(lock.NewMemory(), time.Second)
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		ran := false
		err := tx.RunInTx(cancelled, nil, func(context.Context) error {
			ran = true
			return nil
		})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeTimeout))
		assert.False(t, ran)
	})
}
