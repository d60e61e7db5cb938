package models

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "bondledger/pkg/domain-errors"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewSeries(t *testing.T) {
	t.Run("computes absolute maturity and opens the series", func(t *testing.T) {
		s, err := NewSeries(1, 500, 30*24*time.Hour, Metadata{Name: "Treasury 30d", Symbol: "T30"}, t0)
		require.NoError(t, err)
		assert.Equal(t, t0.Add(30*24*time.Hour), s.Maturity)
		assert.True(t, s.Active)
		assert.Zero(t, s.TotalIssued)
		assert.Equal(t, ModelFungible, s.Model)
	})

	invalid := []struct {
		name   string
		bps    int64
		offset time.Duration
		meta   Metadata
	}{
		{"zero rate", 0, time.Hour, Metadata{}},
		{"negative rate", -1, time.Hour, Metadata{}},
		{"rate above cap", MaxInterestBps + 1, time.Hour, Metadata{}},
		{"zero offset", 500, 0, Metadata{}},
		{"negative offset", 500, -time.Second, Metadata{}},
		{"unknown model", 500, time.Hour, Metadata{Model: "tranche"}},
		{"long symbol", 500, time.Hour, Metadata{Symbol: "ABCDEFGHIJKLMNOPQ"}},
	}
	for _, tc := range invalid {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			_, err := NewSeries(1, tc.bps, tc.offset, tc.meta, t0)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidParameter))
		})
	}
}

func TestSeriesTransitions(t *testing.T) {
	s, err := NewSeries(1, 500, time.Hour, Metadata{}, t0)
	require.NoError(t, err)

	t.Run("maturity boundary is inclusive", func(t *testing.T) {
		assert.False(t, s.IsMatured(s.Maturity.Add(-time.Nanosecond)))
		assert.True(t, s.IsMatured(s.Maturity))
	})

	t.Run("deactivate is idempotent", func(t *testing.T) {
		assert.True(t, s.Deactivate(t0))
		assert.False(t, s.Deactivate(t0))
		assert.True(t, s.Reactivate(t0))
		assert.False(t, s.Reactivate(t0))
	})

	t.Run("issue is monotonic and overflow checked", func(t *testing.T) {
		require.NoError(t, s.Issue(1000, t0))
		require.NoError(t, s.Issue(50, t0))
		assert.Equal(t, uint64(1050), s.TotalIssued)

		s.TotalIssued = math.MaxUint64
		err := s.Issue(1, t0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeArithmeticOverflow))
		assert.Equal(t, uint64(math.MaxUint64), s.TotalIssued)
	})
}
