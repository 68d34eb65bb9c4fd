package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/hive/internal/domain"
)

func sampleNotification() domain.Notification {
	return domain.Notification{
		Topic:     domain.TopicRisk,
		Kind:      "halt",
		Severity:  domain.SeverityCritical,
		Subject:   "farm-1",
		Message:   "daily loss limit reached",
		Fields:    map[string]string{"loss_pct": "3.2", "farm": "farm-1"},
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

type redisOp struct {
	cmd   string
	key   string
	value []byte
	start int64
	stop  int64
}

// fakePipe implements only the commands the sink queues.
type fakePipe struct {
	redis.Pipeliner
	ops *[]redisOp
}

func (p fakePipe) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	*p.ops = append(*p.ops, redisOp{cmd: "publish", key: channel, value: message.([]byte)})
	return redis.NewIntResult(1, nil)
}

func (p fakePipe) LPush(_ context.Context, key string, values ...any) *redis.IntCmd {
	*p.ops = append(*p.ops, redisOp{cmd: "lpush", key: key, value: values[0].([]byte)})
	return redis.NewIntResult(1, nil)
}

func (p fakePipe) LTrim(_ context.Context, key string, start, stop int64) *redis.StatusCmd {
	*p.ops = append(*p.ops, redisOp{cmd: "ltrim", key: key, start: start, stop: stop})
	return redis.NewStatusResult("OK", nil)
}

type fakeRedis struct {
	ops     []redisOp
	err     error
	execErr error
	closed  bool
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	f.ops = append(f.ops, redisOp{cmd: "publish", key: channel, value: message.([]byte)})
	return redis.NewIntResult(1, f.err)
}

func (f *fakeRedis) TxPipelined(_ context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error) {
	if err := fn(fakePipe{ops: &f.ops}); err != nil {
		return nil, err
	}
	return nil, f.execErr
}

func (f *fakeRedis) Close() error {
	f.closed = true
	return nil
}

func TestRedisSink_PublishesJSON(t *testing.T) {
	client := &fakeRedis{}
	sink := &RedisSink{client: client, channel: "hive:notifications"}
	n := sampleNotification()

	require.NoError(t, sink.Send(context.Background(), n))
	require.Len(t, client.ops, 1)
	assert.Equal(t, "publish", client.ops[0].cmd)
	assert.Equal(t, "hive:notifications", client.ops[0].key)

	var got domain.Notification
	require.NoError(t, json.Unmarshal(client.ops[0].value, &got))
	assert.Equal(t, n, got)

	require.NoError(t, sink.Close())
	assert.True(t, client.closed)
}

func TestRedisSink_KeepsCappedList(t *testing.T) {
	client := &fakeRedis{}
	sink := &RedisSink{client: client, channel: "events", list: "history", listCap: 50}

	require.NoError(t, sink.Send(context.Background(), sampleNotification()))
	require.Len(t, client.ops, 3)
	assert.Equal(t, "publish", client.ops[0].cmd)
	assert.Equal(t, "lpush", client.ops[1].cmd)
	assert.Equal(t, "history", client.ops[1].key)
	assert.Equal(t, client.ops[0].value, client.ops[1].value)
	assert.Equal(t, redisOp{cmd: "ltrim", key: "history", start: 0, stop: 49}, client.ops[2])
}

func TestRedisSink_Errors(t *testing.T) {
	down := errors.New("connection refused")

	sink := &RedisSink{client: &fakeRedis{err: down}, channel: "events"}
	err := sink.Send(context.Background(), sampleNotification())
	assert.ErrorIs(t, err, down)
	assert.Contains(t, err.Error(), "redis publish")

	sink = &RedisSink{client: &fakeRedis{execErr: down}, channel: "events", list: "history", listCap: 10}
	assert.ErrorIs(t, sink.Send(context.Background(), sampleNotification()), down)

	_, err = NewRedisSink(context.Background(), RedisConfig{})
	assert.Error(t, err)
}

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	args := m.Called(ctx, exchange, key, mandatory, immediate, msg)
	return args.Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func TestRabbitMQSink_PublishesToQueue(t *testing.T) {
	ch := &mockChannel{}
	ch.On("PublishWithContext", mock.Anything, "", "hive.notifications", false, false, mock.Anything).Return(nil).Once()
	ch.On("Close").Return(nil).Once()
	sink := &RabbitMQSink{ch: ch, queue: "hive.notifications"}
	n := sampleNotification()

	require.NoError(t, sink.Send(context.Background(), n))
	require.NoError(t, sink.Close())
	ch.AssertExpectations(t)

	msg := ch.Calls[0].Arguments.Get(5).(amqp.Publishing)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "risk.halt", msg.Type)
	assert.Equal(t, n.Timestamp, msg.Timestamp)

	var got domain.Notification
	require.NoError(t, json.Unmarshal(msg.Body, &got))
	assert.Equal(t, n, got)
}

func TestRabbitMQSink_Errors(t *testing.T) {
	closed := errors.New("channel/connection is not open")
	ch := &mockChannel{}
	ch.On("PublishWithContext", mock.Anything, "", "q", false, false, mock.Anything).Return(closed)
	sink := &RabbitMQSink{ch: ch, queue: "q"}

	err := sink.Send(context.Background(), sampleNotification())
	assert.ErrorIs(t, err, closed)
	assert.Contains(t, err.Error(), "rabbitmq publish")

	_, err = NewRabbitMQSink(RabbitMQConfig{})
	assert.Error(t, err)

	var nilSink *RabbitMQSink
	assert.NoError(t, nilSink.Close())
}

type fakeBot struct {
	sent []tgbotapi.Chattable
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.sent = append(b.sent, c)
	return tgbotapi.Message{}, b.err
}

func TestTelegramSink_SendsFormattedMessage(t *testing.T) {
	bot := &fakeBot{}
	sink := &TelegramSink{api: bot, chatID: 42}

	require.NoError(t, sink.Send(context.Background(), sampleNotification()))
	require.Len(t, bot.sent, 1)
	msg, ok := bot.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, "[CRITICAL] risk/halt farm-1\ndaily loss limit reached\nfarm: farm-1\nloss_pct: 3.2", msg.Text)
}

func TestTelegramSink_Errors(t *testing.T) {
	bot := &fakeBot{err: errors.New("Forbidden: bot was blocked by the user")}
	sink := &TelegramSink{api: bot, chatID: 42}

	err := sink.Send(context.Background(), sampleNotification())
	assert.ErrorIs(t, err, bot.err)
	assert.Contains(t, err.Error(), "telegram send")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sink.Send(ctx, sampleNotification()), context.Canceled)
	assert.Len(t, bot.sent, 1)

	_, err = NewTelegramSink("", 0)
	assert.Error(t, err)
}
