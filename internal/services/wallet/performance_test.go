package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/hive/internal/domain"
)

func curve(values ...string) []domain.EquityPoint {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.EquityPoint, 0, len(values))
	for i, v := range values {
		out = append(out, domain.EquityPoint{At: start.Add(time.Duration(i) * time.Hour), Value: d(v)})
	}
	return out
}

func TestSharpe(t *testing.T) {
	tests := []struct {
		name  string
		curve []domain.EquityPoint
		check func(t *testing.T, got string)
	}{
		{
			name:  "too short",
			curve: curve("0", "1"),
			check: func(t *testing.T, got string) { assert.Equal(t, "0", got) },
		},
		{
			name:  "no dispersion",
			curve: curve("0", "1", "2", "3"),
			check: func(t *testing.T, got string) { assert.Equal(t, "0", got) },
		},
		{
			name:  "rising",
			curve: curve("0", "1", "4", "5"),
			check: func(t *testing.T, got string) { assert.True(t, d(got).IsPositive(), got) },
		},
		{
			name:  "falling",
			curve: curve("0", "-1", "-4", "-5"),
			check: func(t *testing.T, got string) { assert.True(t, d(got).IsNegative(), got) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Sharpe(tt.curve).String())
		})
	}
}

type countingSource struct {
	calls int
}

func (s *countingSource) Performance(_ context.Context, view WalletView) (domain.Performance, error) {
	s.calls++
	return domain.Performance{ROI: roi(view.Wallet.Balance.Total, view.Principal)}, nil
}

func TestPerformanceCache_TTLAndInvalidate(t *testing.T) {
	clock := newFakeClock()
	src := &countingSource{}
	cache := NewPerformanceCache(src, 5*time.Minute)
	cache.now = clock.Now

	view := WalletView{
		Wallet:    domain.Wallet{ID: "w-1", Balance: domain.Balance{Total: d("110")}},
		Principal: d("100"),
	}

	perf, err := cache.Get(context.Background(), view)
	require.NoError(t, err)
	assert.True(t, perf.ROI.Equal(d("10")))
	assert.Equal(t, "w-1", perf.WalletID)

	_, err = cache.Get(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, 1, src.calls)

	clock.Advance(5 * time.Minute)
	_, err = cache.Get(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)

	cache.Invalidate("w-1")
	_, err = cache.Get(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, 3, src.calls)

	cache.Invalidate()
	_, err = cache.Get(context.Background(), view)
	require.NoError(t, err)
	assert.Equal(t, 4, src.calls)
}

func TestROI_ZeroPrincipal(t *testing.T) {
	assert.True(t, roi(d("100"), d("0")).IsZero())
	assert.True(t, roi(d("90"), d("100")).Equal(d("-10")))
}
