package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/common/config"
	"github.com/snapgate/engine/internal/common/redis"
	"github.com/snapgate/engine/pkg/types"
)

func setupTestStore(t *testing.T) (*Store, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := redis.NewClient(&config.RedisConfig{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewStore(client, time.Hour, 5*time.Minute, zap.NewNop()), client
}

func testArtifact(id string) *types.Artifact {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.Artifact{
		ID:        id,
		URL:       "https://example.com/",
		Width:     1280,
		Height:    800,
		FullPage:  false,
		Size:      4096,
		Checksum:  "9a3f0e12bc45d678",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
}

func TestStorePutGet(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	artifact := testArtifact("m1abc2-0011aabb")
	require.NoError(t, store.Put(ctx, "fp0000000000001a", artifact))

	got, err := store.Get(ctx, "fp0000000000001a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, artifact.ID, got.ID)
	assert.Equal(t, artifact.URL, got.URL)
	assert.Equal(t, artifact.Width, got.Width)
	assert.Equal(t, artifact.Height, got.Height)
	assert.Equal(t, artifact.FullPage, got.FullPage)
	assert.Equal(t, artifact.Size, got.Size)
	assert.Equal(t, artifact.Checksum, got.Checksum)
	assert.True(t, artifact.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, artifact.ExpiresAt.Equal(got.ExpiresAt))
}

func TestStoreGetMiss(t *testing.T) {
	store, _ := setupTestStore(t)

	got, err := store.Get(context.Background(), "fp00000000000000")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStorePutOverwrites(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	first := testArtifact("m1abc2-00000001")
	require.NoError(t, store.Put(ctx, "fp0000000000001a", first))

	second := testArtifact("m1abc2-00000002")
	second.Size = 8192
	require.NoError(t, store.Put(ctx, "fp0000000000001a", second))

	got, err := store.Get(ctx, "fp0000000000001a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "m1abc2-00000002", got.ID)
	assert.Equal(t, int64(8192), got.Size)
}

func TestStoreRefusesExpiredPut(t *testing.T) {
	store, _ := setupTestStore(t)

	artifact := testArtifact("m1abc2-00000003")
	artifact.ExpiresAt = time.Now().UTC().Add(-time.Hour)

	err := store.Put(context.Background(), "fp0000000000001a", artifact)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already expired")
}

func TestStoreExpiredEntryDeletedOnGet(t *testing.T) {
	store, client := setupTestStore(t)
	ctx := context.Background()

	// Seed an already-expired entry directly; Put refuses them.
	expired := testArtifact("m1abc2-00000004")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	hash := artifactToHash(expired)
	values := make([]interface{}, 0, len(hash)*2)
	for k, v := range hash {
		values = append(values, k, v)
	}
	key := redis.MetadataKey("fp0000000000001a")
	require.NoError(t, client.HSetWithExpire(ctx, key, time.Hour, values...))

	got, err := store.Get(ctx, "fp0000000000001a")
	require.NoError(t, err)
	assert.Nil(t, got)

	exists, err := client.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreCorruptEntryDroppedOnGet(t *testing.T) {
	store, client := setupTestStore(t)
	ctx := context.Background()

	key := redis.MetadataKey("fp0000000000001b")
	require.NoError(t, client.HSetWithExpire(ctx, key, time.Hour, "id", "x", "width", "not-a-number"))

	got, err := store.Get(ctx, "fp0000000000001b")
	require.NoError(t, err)
	assert.Nil(t, got)

	exists, err := client.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreStatsSweepsExpired(t *testing.T) {
	store, client := setupTestStore(t)
	ctx := context.Background()

	live := testArtifact("m1abc2-00000005")
	live.Size = 1000
	require.NoError(t, store.Put(ctx, "fp0000000000000a", live))

	live2 := testArtifact("m1abc2-00000006")
	live2.Size = 2000
	require.NoError(t, store.Put(ctx, "fp0000000000000b", live2))

	expired := testArtifact("m1abc2-00000007")
	expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	hash := artifactToHash(expired)
	values := make([]interface{}, 0, len(hash)*2)
	for k, v := range hash {
		values = append(values, k, v)
	}
	require.NoError(t, client.HSetWithExpire(ctx, redis.MetadataKey("fp0000000000000c"), time.Hour, values...))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Entries)
	assert.Equal(t, int64(3000), stats.TotalSize)
	assert.Equal(t, 1, stats.Swept)

	exists, err := client.Exists(ctx, redis.MetadataKey("fp0000000000000c"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStoreDelete(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "fp0000000000001a", testArtifact("m1abc2-00000008")))
	require.NoError(t, store.Delete(ctx, "fp0000000000001a"))

	got, err := store.Get(ctx, "fp0000000000001a")
	require.NoError(t, err)
	assert.Nil(t, got)
}
