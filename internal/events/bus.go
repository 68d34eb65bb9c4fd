package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
)

// Sink delivers notifications to an external system.
type Sink interface {
	Name() string
	Send(ctx context.Context, n domain.Notification) error
}

type route struct {
	sink        Sink
	minSeverity domain.Severity
}

// Bus fans notifications out to in-process subscribers and, asynchronously,
// to external sinks. Publish never blocks: slow subscribers and a full
// dispatch queue lose messages instead of stalling the caller.
type Bus struct {
	mu     sync.RWMutex
	subs   map[chan domain.Notification]struct{}
	buffer int

	routes  []route
	queue   chan domain.Notification
	timeout time.Duration
	dropped atomic.Int64
	logger  *zap.Logger
}

// NewBus creates a bus with the given per-subscriber and dispatch buffer.
func NewBus(buffer int, logger *zap.Logger) *Bus {
	if buffer < 1 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:    make(map[chan domain.Notification]struct{}),
		buffer:  buffer,
		queue:   make(chan domain.Notification, buffer),
		timeout: 5 * time.Second,
		logger:  logger.With(zap.String("component", "bus")),
	}
}

// AddSink registers an external sink receiving notifications at or above minSeverity.
// Sinks must be added before Run.
func (b *Bus) AddSink(s Sink, minSeverity domain.Severity) {
	b.mu.Lock()
	b.routes = append(b.routes, route{sink: s, minSeverity: minSeverity})
	b.mu.Unlock()
}

// Publish sends the notification to all subscribers and queues it for sinks,
// dropping where a reader is slow.
func (b *Bus) Publish(n domain.Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if n.Severity == "" {
		n.Severity = domain.SeverityInfo
	}

	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- n:
		default:
			// drop slow consumer
		}
	}
	hasSinks := len(b.routes) > 0
	b.mu.RUnlock()

	if !hasSinks {
		return
	}
	select {
	case b.queue <- n:
	default:
		b.dropped.Add(1)
	}
}

// Subscribe returns a channel that receives notifications until Unsubscribe is called.
func (b *Bus) Subscribe() chan domain.Notification {
	ch := make(chan domain.Notification, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Bus) Unsubscribe(ch chan domain.Notification) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Dropped returns how many notifications never reached the sink queue.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Run delivers queued notifications to sinks until ctx is done.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n := <-b.queue:
			b.deliver(ctx, n)
		}
	}
}

func (b *Bus) deliver(ctx context.Context, n domain.Notification) {
	b.mu.RLock()
	routes := b.routes
	b.mu.RUnlock()

	for _, r := range routes {
		if severityRank(n.Severity) < severityRank(r.minSeverity) {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, b.timeout)
		if err := r.sink.Send(sendCtx, n); err != nil {
			b.logger.Warn("notification sink failed",
				zap.String("sink", r.sink.Name()),
				zap.String("topic", n.Topic),
				zap.String("kind", n.Kind),
				zap.Error(err))
		}
		cancel()
	}
}

func severityRank(s domain.Severity) int {
	switch s {
	case domain.SeverityCritical:
		return 2
	case domain.SeverityWarning:
		return 1
	default:
		return 0
	}
}
