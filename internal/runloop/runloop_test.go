package runloop

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOnce_RecoversPanic(t *testing.T) {
	err := Once(context.Background(), func(ctx context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestEvery_ContinuesAfterFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Every(ctx, zap.NewNop(), "test", 2*time.Millisecond, func(ctx context.Context) error {
			n := calls.Add(1)
			switch n {
			case 1:
				return errors.New("first iteration fails")
			case 2:
				panic("second iteration panics")
			}
			return nil
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestEvery_RejectsNonPositiveInterval(t *testing.T) {
	err := Every(context.Background(), zap.NewNop(), "bad", 0, func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}
