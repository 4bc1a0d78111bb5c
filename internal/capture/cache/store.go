// Package cache stores capture metadata in Redis keyed by request
// fingerprint, alongside the screenshot artifacts on disk.
package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/common/redis"
	"github.com/snapgate/engine/pkg/types"
)

// Store reads and writes capture metadata as Redis hashes. Freshness is
// governed by the explicit expires_at field; the Redis key TTL is a backstop
// set slightly longer so lazy deletion always observes expiry first.
type Store struct {
	redis        *redis.Client
	ttl          time.Duration
	safetyMargin time.Duration
	logger       *zap.Logger
}

// Stats summarizes the live cache contents.
type Stats struct {
	Entries   int   `json:"entries"`
	TotalSize int64 `json:"total_size_bytes"`
	Swept     int   `json:"-"`
}

func NewStore(redisClient *redis.Client, ttl, safetyMargin time.Duration, logger *zap.Logger) *Store {
	return &Store{
		redis:        redisClient,
		ttl:          ttl,
		safetyMargin: safetyMargin,
		logger:       logger,
	}
}

// TTL returns the configured freshness window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get returns the cached artifact for a fingerprint, or nil on miss. Entries
// past their expiry are deleted on sight and reported as a miss.
func (s *Store) Get(ctx context.Context, fingerprint string) (*types.Artifact, error) {
	metaKey := redis.MetadataKey(fingerprint)

	data, err := s.redis.HGetAll(ctx, metaKey)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	artifact, err := artifactFromHash(data)
	if err != nil {
		s.logger.Error("Failed to parse capture metadata, dropping entry",
			zap.String("fingerprint", fingerprint),
			zap.Error(err))
		_ = s.redis.Del(ctx, metaKey)
		return nil, nil
	}

	if artifact.IsExpired() {
		s.logger.Debug("Cache entry expired, deleting",
			zap.String("fingerprint", fingerprint),
			zap.Time("expires_at", artifact.ExpiresAt))
		_ = s.redis.Del(ctx, metaKey)
		return nil, nil
	}

	return artifact, nil
}

// Put stores the artifact metadata under the fingerprint, unconditionally
// replacing any previous entry.
func (s *Store) Put(ctx context.Context, fingerprint string, artifact *types.Artifact) error {
	if artifact == nil {
		return fmt.Errorf("artifact is required")
	}

	redisTTL := time.Until(artifact.ExpiresAt) + s.safetyMargin
	if redisTTL <= 0 {
		return fmt.Errorf("artifact already expired at %s, refusing storage", artifact.ExpiresAt)
	}

	hash := artifactToHash(artifact)
	values := make([]interface{}, 0, len(hash)*2)
	for k, v := range hash {
		values = append(values, k, v)
	}

	metaKey := redis.MetadataKey(fingerprint)
	if err := s.redis.HSetWithExpire(ctx, metaKey, redisTTL, values...); err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}

	s.logger.Debug("Cache entry stored",
		zap.String("fingerprint", fingerprint),
		zap.String("artifact_id", artifact.ID),
		zap.Int64("size", artifact.Size),
		zap.Time("expires_at", artifact.ExpiresAt))

	return nil
}

// Delete removes the metadata entry for a fingerprint.
func (s *Store) Delete(ctx context.Context, fingerprint string) error {
	return s.redis.Del(ctx, redis.MetadataKey(fingerprint))
}

// Scan walks every metadata entry, deleting expired ones, and calls fn for
// each live artifact.
func (s *Store) Scan(ctx context.Context, fn func(fingerprint string, artifact *types.Artifact)) (swept int, err error) {
	keys, err := s.redis.Keys(ctx, redis.MetadataKeyPattern())
	if err != nil {
		return 0, fmt.Errorf("failed to list metadata keys: %w", err)
	}

	for _, key := range keys {
		fingerprint, err := redis.FingerprintFromKey(key)
		if err != nil {
			continue
		}

		data, err := s.redis.HGetAll(ctx, key)
		if err != nil || len(data) == 0 {
			continue
		}

		artifact, err := artifactFromHash(data)
		if err != nil || artifact.IsExpired() {
			_ = s.redis.Del(ctx, key)
			swept++
			continue
		}

		if fn != nil {
			fn(fingerprint, artifact)
		}
	}

	return swept, nil
}

// Stats scans the cache, sweeping expired entries along the way.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	swept, err := s.Scan(ctx, func(_ string, artifact *types.Artifact) {
		stats.Entries++
		stats.TotalSize += artifact.Size
	})
	if err != nil {
		return nil, err
	}
	stats.Swept = swept
	return stats, nil
}

// artifactToHash converts an artifact to Redis hash fields.
func artifactToHash(a *types.Artifact) map[string]interface{} {
	return map[string]interface{}{
		"id":         a.ID,
		"url":        a.URL,
		"width":      a.Width,
		"height":     a.Height,
		"full_page":  strconv.FormatBool(a.FullPage),
		"size":       a.Size,
		"checksum":   a.Checksum,
		"created_at": a.CreatedAt.Unix(),
		"expires_at": a.ExpiresAt.Unix(),
	}
}

// artifactFromHash reconstructs an artifact from Redis hash fields.
func artifactFromHash(data map[string]string) (*types.Artifact, error) {
	a := &types.Artifact{
		ID:       data["id"],
		URL:      data["url"],
		Checksum: data["checksum"],
	}
	if a.ID == "" {
		return nil, fmt.Errorf("missing artifact id")
	}

	width, err := strconv.Atoi(data["width"])
	if err != nil {
		return nil, fmt.Errorf("invalid width: %w", err)
	}
	a.Width = width

	height, err := strconv.Atoi(data["height"])
	if err != nil {
		return nil, fmt.Errorf("invalid height: %w", err)
	}
	a.Height = height

	fullPage, err := strconv.ParseBool(data["full_page"])
	if err != nil {
		return nil, fmt.Errorf("invalid full_page: %w", err)
	}
	a.FullPage = fullPage

	size, err := strconv.ParseInt(data["size"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid size: %w", err)
	}
	a.Size = size

	createdAt, err := strconv.ParseInt(data["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	a.CreatedAt = time.Unix(createdAt, 0).UTC()

	expiresAt, err := strconv.ParseInt(data["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid expires_at: %w", err)
	}
	a.ExpiresAt = time.Unix(expiresAt, 0).UTC()

	return a, nil
}
