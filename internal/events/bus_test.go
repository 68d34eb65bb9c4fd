package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/hive/internal/domain"
)

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Name() string { return "mock" }

func (m *mockSink) Send(ctx context.Context, n domain.Notification) error {
	args := m.Called(n.Kind)
	return args.Error(0)
}

type recordingSink struct {
	mu   sync.Mutex
	seen []string
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(ctx context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, n.Kind)
	return nil
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen...)
}

func TestBus_SubscribeReceivesPublished(t *testing.T) {
	bus := NewBus(4, zap.NewNop())
	ch := bus.Subscribe()

	bus.Publish(domain.Notification{Topic: domain.TopicRisk, Kind: "halt"})

	select {
	case n := <-ch:
		assert.Equal(t, "halt", n.Kind)
		assert.Equal(t, domain.SeverityInfo, n.Severity)
		assert.False(t, n.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	bus.Unsubscribe(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestBus_SlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewBus(1, zap.NewNop())
	ch := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(domain.Notification{Kind: "tick"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	assert.Len(t, ch, 1)
}

func TestBus_RoutesBySeverity(t *testing.T) {
	bus := NewBus(16, zap.NewNop())
	all := &recordingSink{}
	critical := &recordingSink{}
	bus.AddSink(all, domain.SeverityInfo)
	bus.AddSink(critical, domain.SeverityCritical)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Publish(domain.Notification{Kind: "info", Severity: domain.SeverityInfo})
	bus.Publish(domain.Notification{Kind: "stop_loss", Severity: domain.SeverityCritical})

	require.Eventually(t, func() bool { return len(all.kinds()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(critical.kinds()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"stop_loss"}, critical.kinds())
}

func TestBus_FailingSinkDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(16, zap.NewNop())
	failing := &mockSink{}
	failing.On("Send", mock.Anything).Return(errors.New("connection refused"))
	healthy := &recordingSink{}
	bus.AddSink(failing, domain.SeverityInfo)
	bus.AddSink(healthy, domain.SeverityInfo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go bus.Run(ctx)

	bus.Publish(domain.Notification{Kind: "first"})
	bus.Publish(domain.Notification{Kind: "second"})

	require.Eventually(t, func() bool { return len(healthy.kinds()) == 2 }, time.Second, 5*time.Millisecond)
	failing.AssertNumberOfCalls(t, "Send", 2)
}

func TestFormatText(t *testing.T) {
	text := FormatText(domain.Notification{
		Topic:    domain.TopicRisk,
		Kind:     "stop_loss",
		Severity: domain.SeverityCritical,
		Subject:  "session-1",
		Message:  "session halted",
		Fields:   map[string]string{"pnl": "-600", "farm": "f-1"},
	})
	assert.Equal(t, "[CRITICAL] risk/stop_loss session-1\nsession halted\nfarm: f-1\npnl: -600", text)
}
