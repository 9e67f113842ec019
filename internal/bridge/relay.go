package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"fallguard/internal/broker"
)

// Signal is the only message that crosses from the background service into
// the application.
type Signal struct {
	DeviceID   string `json:"device_id"`
	DetectedAt int64  `json:"detected_at"`
}

type Relay interface {
	Publish(ctx context.Context, sig Signal) error
	// Listen delivers signals to fn until ctx is done.
	Listen(ctx context.Context, fn func(Signal)) error
	// Ping reports whether the channel can be established.
	Ping(ctx context.Context) error
}

var ErrRelayFull = errors.New("relay buffer full")

// ChanRelay is an in-process relay. A full buffer drops the signal.
type ChanRelay struct {
	ch chan Signal
}

func NewChanRelay(size int) *ChanRelay {
	if size <= 0 {
		size = 16
	}
	return &ChanRelay{ch: make(chan Signal, size)}
}

func (r *ChanRelay) Publish(ctx context.Context, sig Signal) error {
	select {
	case r.ch <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrRelayFull
	}
}

func (r *ChanRelay) Listen(ctx context.Context, fn func(Signal)) error {
	for {
		select {
		case sig := <-r.ch:
			fn(sig)
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *ChanRelay) Ping(context.Context) error {
	return nil
}

// RedisRelay carries signals over a Redis stream so the service can run in
// its own process.
type RedisRelay struct {
	client *redis.Client
	stream string
	logger *slog.Logger
	Block  time.Duration
}

func NewRedisRelay(client *redis.Client, stream string, logger *slog.Logger) *RedisRelay {
	return &RedisRelay{client: client, stream: stream, logger: logger, Block: time.Second}
}

func (r *RedisRelay) Publish(ctx context.Context, sig Signal) error {
	_, err := broker.PublishJSON(ctx, r.client, r.stream, sig)
	return err
}

// Listen starts after the newest signal present when it is called; stale
// signals from before the application started are not replayed.
func (r *RedisRelay) Listen(ctx context.Context, fn func(Signal)) error {
	last, err := broker.LastStreamID(ctx, r.client, r.stream)
	if err != nil {
		return err
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		msgs, err := broker.ReadStream(ctx, r.client, r.stream, last, r.Block, 32)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if r.logger != nil {
				r.logger.Warn("bridge relay read error", "err", err)
			}
			t := time.NewTimer(time.Second)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return nil
			}
			continue
		}
		for _, m := range msgs {
			last = m.ID
			var sig Signal
			if err := json.Unmarshal(m.Data, &sig); err != nil {
				continue
			}
			fn(sig)
		}
	}
}

func (r *RedisRelay) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
