// Package runloop runs periodic background tasks that survive failing iterations.
package runloop

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Task is one iteration of a background loop.
type Task func(ctx context.Context) error

// Every calls task on every tick until ctx is done. Errors and panics of an
// iteration are logged and the loop continues with the next tick.
func Every(ctx context.Context, logger *zap.Logger, name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return errors.Errorf("loop %s: interval must be positive, got %s", name, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Starting loop", zap.String("loop", name), zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Context done, stopping loop", zap.String("loop", name))
			return ctx.Err()
		case <-ticker.C:
			if err := Once(ctx, task); err != nil {
				logger.Error("Loop iteration failed", zap.String("loop", name), zap.Error(err))
			}
		}
	}
}

// Once runs a single iteration, turning a panic into an error.
func Once(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}
