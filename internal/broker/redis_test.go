package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fallguard/internal/config"
)

func TestStreamRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	last, err := LastStreamID(ctx, client, "s")
	require.NoError(t, err)
	assert.Equal(t, "0-0", last)

	id, err := PublishJSON(ctx, client, "s", map[string]int{"n": 1})
	require.NoError(t, err)
	_, err = PublishJSON(ctx, client, "s", map[string]int{"n": 2})
	require.NoError(t, err)

	msgs, err := ReadStream(ctx, client, "s", "0-0", 0, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, id, msgs[0].ID)
	assert.JSONEq(t, `{"n":1}`, string(msgs[0].Data))

	last, err = LastStreamID(ctx, client, "s")
	require.NoError(t, err)
	assert.Equal(t, msgs[1].ID, last)

	msgs, err = ReadStream(ctx, client, "s", last, 50*time.Millisecond, 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
