package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/common/config"
)

func setupTestClient(t *testing.T) *Client {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := &config.RedisConfig{
		Addr: mr.Addr(),
		DB:   0,
	}

	client, err := NewClient(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client
}

func TestNewClientValidation(t *testing.T) {
	client, err := NewClient(nil, zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis config is required")
	assert.Nil(t, client)

	client, err = NewClient(&config.RedisConfig{Addr: "localhost:6379"}, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "logger is required")
	assert.Nil(t, client)
}

func TestNewClientUnreachable(t *testing.T) {
	cfg := &config.RedisConfig{Addr: "127.0.0.1:1"}

	client, err := NewClient(cfg, zap.NewNop())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
	assert.Nil(t, client)
}

func TestClientOperations(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	t.Run("ping and health check", func(t *testing.T) {
		assert.NoError(t, client.Ping(ctx))
		assert.NoError(t, client.HealthCheck(ctx))
	})

	t.Run("hash set with expire", func(t *testing.T) {
		key := "test:hash"

		err := client.HSetWithExpire(ctx, key, time.Minute, "field1", "value1", "field2", "value2")
		require.NoError(t, err)

		fields, err := client.HGetAll(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"field1": "value1",
			"field2": "value2",
		}, fields)

		ttl, err := client.TTL(ctx, key)
		require.NoError(t, err)
		assert.InDelta(t, time.Minute, ttl, float64(5*time.Second))
	})

	t.Run("hgetall missing key", func(t *testing.T) {
		fields, err := client.HGetAll(ctx, "no:such:key")
		require.NoError(t, err)
		assert.Empty(t, fields)
	})

	t.Run("exists and delete", func(t *testing.T) {
		key := "test:exists"

		exists, err := client.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)

		err = client.HSetWithExpire(ctx, key, time.Minute, "f", "v")
		require.NoError(t, err)

		exists, err = client.Exists(ctx, key)
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, client.Del(ctx, key))

		exists, err = client.Exists(ctx, key)
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("keys pattern matching", func(t *testing.T) {
		for _, key := range []string{"capture:meta:a1", "capture:meta:b2", "other:c3"} {
			require.NoError(t, client.HSetWithExpire(ctx, key, time.Minute, "f", "v"))
		}

		keys, err := client.Keys(ctx, MetadataKeyPattern())
		require.NoError(t, err)
		assert.Len(t, keys, 2)
	})

	t.Run("delete no keys", func(t *testing.T) {
		assert.NoError(t, client.Del(ctx))
	})
}

func TestMetadataKeys(t *testing.T) {
	key := MetadataKey("a1b2c3d4e5f60718")
	assert.Equal(t, "capture:meta:a1b2c3d4e5f60718", key)

	fp, err := FingerprintFromKey(key)
	require.NoError(t, err)
	assert.Equal(t, "a1b2c3d4e5f60718", fp)

	_, err = FingerprintFromKey("other:a1b2c3")
	assert.Error(t, err)
}
