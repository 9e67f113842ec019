// Package broker holds the shared client plumbing for the message brokers
// the daemon talks to.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"fallguard/internal/config"
)

func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// PublishJSON appends v to stream as a single "data" field.
func PublishJSON(ctx context.Context, client *redis.Client, stream string, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data":      string(data),
			"timestamp": time.Now().Unix(),
		},
	}).Result()
}

// StreamMessage is one decoded stream entry.
type StreamMessage struct {
	ID   string
	Data []byte
}

// ReadStream blocks up to block for entries after lastID. A timeout returns
// no messages and no error. A non-positive block polls without waiting.
func ReadStream(ctx context.Context, client *redis.Client, stream, lastID string, block time.Duration, count int64) ([]StreamMessage, error) {
	if block <= 0 {
		block = -1
	}
	res, err := client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var out []StreamMessage
	for _, s := range res {
		for _, msg := range s.Messages {
			raw, ok := msg.Values["data"]
			if !ok {
				continue
			}
			switch v := raw.(type) {
			case string:
				out = append(out, StreamMessage{ID: msg.ID, Data: []byte(v)})
			case []byte:
				out = append(out, StreamMessage{ID: msg.ID, Data: v})
			default:
				out = append(out, StreamMessage{ID: msg.ID, Data: []byte(fmt.Sprint(v))})
			}
		}
	}
	return out, nil
}

// LastStreamID returns the newest entry ID of stream, or "0-0" when it is
// empty, so a reader can start after existing history.
func LastStreamID(ctx context.Context, client *redis.Client, stream string) (string, error) {
	msgs, err := client.XRevRangeN(ctx, stream, "+", "-", 1).Result()
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}
