// Command hive runs a hierarchy of trading agent farms: a master wallet funds
// farms, each farm's agents coordinate their decisions and the coordinated
// plans are executed against simulated or exchange market data.
//
// Usage:
//
//	hive -config hive.yaml
//	hive -setup           (interactive wizard, writes hive.gen.yaml)
//	hive                  (built-in single farm simulation)
//
// Optional environment variables (also read from .env):
//
//	BINANCE_API_KEY, BINANCE_API_SECRET, BYBIT_API_KEY, BYBIT_API_SECRET,
//	HYPERLIQUID_PRIVATE_KEY, HIVE_SQL_DSN, REDIS_PASSWORD, AMQP_URL,
//	TELEGRAM_BOT_TOKEN
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vadiminshakov/hive/config"
	"github.com/vadiminshakov/hive/internal"
	"github.com/vadiminshakov/hive/internal/setup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// .env is optional
	_ = godotenv.Load()

	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return err
	}
	if flags.Setup {
		if flags.ConfigPath, err = setup.RunTUI(flags.ConfigPath); err != nil {
			return err
		}
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if addr := cfg.Profiling.ServerAddress; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "hive",
			ServerAddress:   addr,
			Logger:          logger.Sugar(),
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return errors.Wrap(err, "failed to start profiler")
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	platform, err := internal.New(ctx, cfg, logger)
	if err != nil {
		return errors.Wrap(err, "failed to build platform")
	}
	defer platform.Close()

	if err := platform.Bootstrap(ctx); err != nil {
		return errors.Wrap(err, "failed to bootstrap platform")
	}

	logger.Info("hive started", zap.Int("farms", len(cfg.Farms)), zap.String("source", cfg.MarketData.Source))
	runErr := platform.Run(ctx)
	if runErr != nil {
		logger.Error("platform stopped with error", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := platform.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown failed")
	}
	logger.Info("hive stopped")
	return runErr
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
