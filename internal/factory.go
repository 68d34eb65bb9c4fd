package internal

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/config"
	"github.com/vadiminshakov/hive/internal/agents"
	"github.com/vadiminshakov/hive/internal/domain"
	"github.com/vadiminshakov/hive/internal/events"
	"github.com/vadiminshakov/hive/internal/services/execution"
	"github.com/vadiminshakov/hive/internal/services/marketdata"
	"github.com/vadiminshakov/hive/internal/storage/auditlog"
)

const tickHistoryLimit = 500

// observedFeed records every tick it forwards into a price history.
type observedFeed struct {
	feed    execution.Feed
	history *marketdata.TickHistory
}

func (f observedFeed) Ticks(ctx context.Context) <-chan domain.MarketTick {
	in := f.feed.Ticks(ctx)
	out := make(chan domain.MarketTick)
	go func() {
		defer close(out)
		for tick := range in {
			f.history.Observe(tick)
			select {
			case out <- tick:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// createFeed builds the market data feed of the configured source and the close
// history the reference agents read.
func createFeed(md config.MarketData, symbols []string, reference map[string]decimal.Decimal, logger *zap.Logger) (execution.Feed, agents.History, error) {
	ticks := marketdata.NewTickHistory(tickHistoryLimit)
	if md.Source == config.SourceSimulated {
		feed := marketdata.NewSimulatedFeed(symbols, reference, md.Interval, md.Volatility, md.Seed, logger)
		return observedFeed{feed: feed, history: ticks}, ticks, nil
	}

	client, err := newClient(md)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create exchange client")
	}
	provider, err := newServiceProvider(client)
	if err != nil {
		return nil, nil, err
	}
	feed, err := marketdata.NewPollingFeed(provider.Pricer(), symbols, md.Interval, logger)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to create polling feed")
	}

	var history agents.History = ticks
	if src := provider.CandleSource(); src != nil {
		history = marketdata.NewCandleHistory(src, md.CandleInterval)
	}
	return observedFeed{feed: feed, history: ticks}, history, nil
}

// createAuditSink opens the configured audit stores. Without any store the
// audit stream is discarded.
func createAuditSink(st config.Storage, logger *zap.Logger) (auditlog.Sink, []io.Closer, error) {
	var (
		tee     auditlog.Tee
		closers []io.Closer
	)
	if st.WALDir != "" {
		wal, err := auditlog.NewWALStore(st.WALDir)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to open audit WAL")
		}
		tee = append(tee, wal)
		closers = append(closers, wal)
		logger.Info("audit WAL opened", zap.String("dir", st.WALDir), zap.Uint64("index", wal.CurrentIndex()))
	}
	if st.SQLDriver != "" {
		sql, err := auditlog.NewSQLStore(auditlog.SQLConfig{Driver: st.SQLDriver, DSN: st.SQLDSN})
		if err != nil {
			closeAll(closers, logger)
			return nil, nil, errors.Wrap(err, "failed to open audit database")
		}
		tee = append(tee, sql)
		closers = append(closers, sql)
		logger.Info("audit database opened", zap.String("driver", st.SQLDriver))
	}

	switch len(tee) {
	case 0:
		return auditlog.Discard{}, nil, nil
	case 1:
		return tee[0], closers, nil
	default:
		return tee, closers, nil
	}
}

// createBus builds the notification bus and connects the configured sinks.
func createBus(ctx context.Context, ev config.Events, logger *zap.Logger) (*events.Bus, []io.Closer, error) {
	bus := events.NewBus(ev.Buffer, logger)
	var closers []io.Closer

	if ev.Redis != nil {
		sink, err := events.NewRedisSink(ctx, *ev.Redis)
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to connect redis sink")
		}
		bus.AddSink(sink, ev.RedisSeverity)
		closers = append(closers, sink)
	}
	if ev.RabbitMQ != nil {
		sink, err := events.NewRabbitMQSink(*ev.RabbitMQ)
		if err != nil {
			closeAll(closers, logger)
			return nil, nil, errors.Wrap(err, "failed to connect rabbitmq sink")
		}
		bus.AddSink(sink, ev.RabbitMQSeverity)
		closers = append(closers, sink)
	}
	if ev.Telegram != nil {
		sink, err := events.NewTelegramSink(ev.Telegram.Token, ev.Telegram.ChatID)
		if err != nil {
			closeAll(closers, logger)
			return nil, nil, errors.Wrap(err, "failed to create telegram sink")
		}
		bus.AddSink(sink, ev.Telegram.MinSeverity)
	}
	return bus, closers, nil
}

func closeAll(closers []io.Closer, logger *zap.Logger) {
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			logger.Warn("failed to close resource", zap.Error(err))
		}
	}
}
