package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/capture/fingerprint"
	"github.com/snapgate/engine/pkg/types"
)

// Sweeper periodically removes expired metadata entries and the artifact
// files nothing references anymore. Files are aged by the timestamp encoded
// in the artifact id, with the safety margin keeping freshly written files
// out of reach.
type Sweeper struct {
	store        *Store
	artifacts    *ArtifactStore
	interval     time.Duration
	safetyMargin time.Duration
	logger       *zap.Logger
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewSweeper(store *Store, artifacts *ArtifactStore, interval, safetyMargin time.Duration, logger *zap.Logger) *Sweeper {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		store:        store,
		artifacts:    artifacts,
		interval:     interval,
		safetyMargin: safetyMargin,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (s *Sweeper) Start() {
	s.logger.Info("Cache sweeper starting",
		zap.Duration("interval", s.interval),
		zap.Duration("safety_margin", s.safetyMargin))

	ticker := time.NewTicker(s.interval)
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runSweep()
			case <-s.ctx.Done():
				s.logger.Info("Cache sweeper shutting down")
				return
			}
		}
	}()
}

func (s *Sweeper) Shutdown() {
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Cache sweeper stopped")
}

func (s *Sweeper) runSweep() {
	start := time.Now().UTC()

	live := make(map[string]struct{})
	swept, err := s.store.Scan(s.ctx, func(_ string, artifact *types.Artifact) {
		live[artifact.ID] = struct{}{}
	})
	if err != nil {
		s.logger.Error("Cache sweep scan failed", zap.Error(err))
		return
	}

	filesDeleted := s.sweepFiles(live)

	s.logger.Info("Cache sweep finished",
		zap.Int("entries_swept", swept),
		zap.Int("files_deleted", filesDeleted),
		zap.Duration("duration", time.Since(start)))
}

// sweepFiles removes artifact files that are unreferenced and old enough
// that no in-flight capture could still be writing their metadata.
func (s *Sweeper) sweepFiles(live map[string]struct{}) int {
	entries, err := os.ReadDir(s.artifacts.Dir())
	if err != nil {
		s.logger.Warn("Failed to read artifact directory", zap.Error(err))
		return 0
	}

	threshold := time.Now().UTC().Add(-(s.store.TTL() + s.safetyMargin))
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".png") {
			continue
		}
		id := strings.TrimSuffix(name, ".png")
		if _, ok := live[id]; ok {
			continue
		}

		createdAt, err := fingerprint.ParseArtifactTimestamp(id)
		if err != nil {
			continue
		}
		if createdAt.After(threshold) {
			continue
		}

		path := filepath.Join(s.artifacts.Dir(), name)
		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to delete orphaned artifact file",
				zap.String("path", path),
				zap.Error(err))
			continue
		}
		deleted++
	}

	return deleted
}
