package escalate

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"fallguard/internal/broker"
	"fallguard/internal/model"
)

type RedisPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisPublisher(client *redis.Client, stream string) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream}
}

func (p *RedisPublisher) Publish(ctx context.Context, esc model.Escalation) error {
	_, err := broker.PublishJSON(ctx, p.client, p.stream, esc)
	return err
}

func (p *RedisPublisher) Close() error {
	return nil
}

// RedisSubscriber tails a stream. By default it starts after the newest
// entry present when Run begins.
type RedisSubscriber struct {
	client    *redis.Client
	stream    string
	logger    *slog.Logger
	FromStart bool
	Block     time.Duration
}

func NewRedisSubscriber(client *redis.Client, stream string, logger *slog.Logger) *RedisSubscriber {
	return &RedisSubscriber{client: client, stream: stream, logger: logger, Block: time.Second}
}

func (s *RedisSubscriber) Run(ctx context.Context, fn func(model.Escalation)) error {
	last := "0-0"
	if !s.FromStart {
		id, err := broker.LastStreamID(ctx, s.client, s.stream)
		if err != nil {
			return err
		}
		last = id
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := broker.ReadStream(ctx, s.client, s.stream, last, s.Block, 64)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if s.logger != nil {
				s.logger.Warn("redis escalation read error", "err", err)
			}
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}
		for _, m := range msgs {
			last = m.ID
			esc, err := Decode(m.Data)
			if err != nil {
				continue
			}
			fn(esc)
		}
	}
}
