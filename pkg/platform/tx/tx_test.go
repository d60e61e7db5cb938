package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJournal(t *testing.T) {
	t.Run("rollback replays undo steps newest first", func(t *testing.T) {
		var order []int
		j := &Journal{}
		ctx := WithJournal(context.Background(), j)
		RecordIn(ctx, func() { order = append(order, 1) })
		RecordIn(ctx, func() { order = append(order, 2) })
		RecordIn(ctx, func() { order = append(order, 3) })

		j.Rollback()
		assert.Equal(t, []int{3, 2, 1}, order)
		assert.Zero(t, j.Len())
	})

	t.Run("commit discards undo steps", func(t *testing.T) {
		called := false
		j := &Journal{}
		j.Record(func() { called = true })
		j.Commit()
		j.Rollback()
		assert.False(t, called)
	})

	t.Run("deferred steps run after either outcome", func(t *testing.T) {
		var order []string
		j := &Journal{}
		j.Record(func() { order = append(order, "undo") })
		j.Defer(func() { order = append(order, "release") })
		j.Rollback()
		assert.Equal(t, []string{"undo", "release"}, order)

		order = nil
		j.Defer(func() { order = append(order, "release") })
		j.Commit()
		j.Commit()
		assert.Equal(t, []string{"release"}, order)
	})

	t.Run("recording without a journal is a no-op", func(t *testing.T) {
		RecordIn(context.Background(), func() { t.Fatal("must not run") })
		_, ok := JournalFrom(context.Background())
		assert.False(t, ok)
	})

	t.Run("nil sql tx leaves context untouched", func(t *testing.T) {
		ctx := context.Background()
		assert.Equal(t, ctx, WithTx(ctx, nil))
		_, ok := From(ctx)
		assert.False(t, ok)
	})

	t.Run("detach drops both transaction kinds", func(t *testing.T) {
		ctx := WithJournal(WithTx(context.Background(), &sql.Tx{}), &Journal{})
		_, ok := From(ctx)
		assert.True(t, ok)

		detached := Detach(ctx)
		_, ok = From(detached)
		assert.False(t, ok)
		_, ok = JournalFrom(detached)
		assert.False(t, ok)
		RecordIn(detached, func() { t.Fatal("must not be recorded") })
	})
}
