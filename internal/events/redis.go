package events

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/vadiminshakov/hive/internal/domain"
)

// RedisConfig describes the Redis sink connection.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Channel  string
	// List keeps a capped history of notifications when set.
	List    string
	ListCap int64
}

// redisClient is the part of *redis.Client the sink uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
	Close() error
}

// RedisSink publishes notifications on a pub/sub channel and keeps a capped list.
type RedisSink struct {
	client  redisClient
	channel string
	list    string
	listCap int64
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "hive:notifications"
	}
	listCap := cfg.ListCap
	if listCap <= 0 {
		listCap = 1000
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "connect redis")
	}
	return &RedisSink{client: client, channel: channel, list: cfg.List, listCap: listCap}, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}

	if s.list == "" {
		return errors.Wrap(s.client.Publish(ctx, s.channel, payload).Err(), "redis publish")
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, s.channel, payload)
		pipe.LPush(ctx, s.list, payload)
		pipe.LTrim(ctx, s.list, 0, s.listCap-1)
		return nil
	})
	return errors.Wrap(err, "redis publish")
}

// Close closes the Redis connection.
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
