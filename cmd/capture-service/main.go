package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/snapgate/engine/internal/capture/admission"
	"github.com/snapgate/engine/internal/capture/blocklist"
	"github.com/snapgate/engine/internal/capture/browser"
	"github.com/snapgate/engine/internal/capture/cache"
	"github.com/snapgate/engine/internal/capture/metrics"
	"github.com/snapgate/engine/internal/capture/orchestrator"
	"github.com/snapgate/engine/internal/capture/service"
	"github.com/snapgate/engine/internal/common/config"
	logutil "github.com/snapgate/engine/internal/common/logger"
	"github.com/snapgate/engine/internal/common/metricsserver"
	"github.com/snapgate/engine/internal/common/redis"
	"github.com/snapgate/engine/internal/common/urlutil"
)

func main() {
	configPath := flag.String("c", "configs/capture-service.yaml",
		"Path to capture service configuration file")
	flag.Parse()

	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	cfg, err := config.Load(*configPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	dynamicLogger, err := logutil.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	logger := dynamicLogger.Logger

	logger.Info("Capture service starting",
		zap.String("listen", cfg.Server.Listen),
		zap.String("storage_dir", cfg.Capture.StorageDir),
		zap.String("max_sessions", cfg.Capture.Engine.MaxSessions))

	redisClient, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	engineCfg := &browser.Config{
		MaxSessions:     cfg.Capture.Engine.MaxSessions,
		LaunchTimeout:   cfg.Capture.Engine.LaunchTimeout.ToDuration(),
		HealthTimeout:   cfg.Capture.Engine.HealthTimeout.ToDuration(),
		ShutdownTimeout: cfg.Capture.Engine.ShutdownTimeout.ToDuration(),
	}
	if err := engineCfg.Validate(); err != nil {
		logger.Fatal("Invalid engine configuration", zap.Error(err))
	}
	logger.Info("Engine session limit resolved",
		zap.Int("max_sessions", engineCfg.CalculateSessionLimit()))

	collector := metrics.NewCollector(cfg.Metrics.Namespace, logger)
	metricsServer := metricsserver.Start(cfg.Metrics, collector, logger)

	store := cache.NewStore(redisClient,
		cfg.Capture.CacheTTL.ToDuration(),
		cfg.Capture.SafetyMargin.ToDuration(),
		logger)

	artifacts, err := cache.NewArtifactStore(cfg.Capture.StorageDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize artifact storage", zap.Error(err))
	}

	sweeper := cache.NewSweeper(store, artifacts,
		cfg.Capture.SweepInterval.ToDuration(),
		cfg.Capture.SafetyMargin.ToDuration(),
		logger)
	sweeper.Start()

	limiter := admission.NewLimiter(cfg.Capture.RateLimit.Max, cfg.Capture.RateLimit.Window.ToDuration())
	stopLimiterSweep := startLimiterSweep(limiter, cfg.Capture.RateLimit.Window.ToDuration(), logger)

	var engineLaunches int32
	manager := browser.NewManager(func() (browser.Handle, error) {
		if atomic.AddInt32(&engineLaunches, 1) > 1 {
			collector.RecordEngineRelaunch()
		}
		return browser.Launch(engineCfg, logger)
	}, logger)

	blocked := blocklist.New(cfg.Capture.BlockPatterns)
	logger.Info("Request blocklist compiled", zap.Int("patterns", blocked.Size()))

	orch := orchestrator.New(manager, blocked.Predicate(), orchestrator.Config{
		WaitBudget:  cfg.Capture.Render.WaitBudget.ToDuration(),
		SettleDelay: cfg.Capture.Render.SettleDelay.ToDuration(),
		Retry:       orchestrator.RetryPolicy{MaxAttempts: cfg.Capture.Render.MaxAttempts},
	}, logger)

	publicBaseURL := cfg.Capture.PublicBaseURL
	if publicBaseURL == "" {
		publicBaseURL = "http://localhost" + cfg.Server.Listen
	}

	svc := service.NewService(
		urlutil.NewValidator(),
		limiter,
		store,
		artifacts,
		orch,
		collector,
		publicBaseURL,
		logger)

	srv := service.NewServer(svc, manager, redisClient, collector, logger)
	httpServer := srv.NewHTTPServer(cfg.Server.Timeout.ToDuration())

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("listen", cfg.Server.Listen))
		if err := httpServer.ListenAndServe(cfg.Server.Listen); err != nil {
			serverErrCh <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)
	select {
	case err := <-serverErrCh:
		logger.Fatal("HTTP server failed to start", zap.Error(err))
	default:
	}

	logger.Info("Capture service ready",
		zap.String("listen", cfg.Server.Listen),
		zap.String("public_base_url", publicBaseURL))

	dynamicLogger.SwitchToConfiguredLevel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		logger.Error("Server error", zap.Error(err))
	}

	dynamicLogger.EnsureInfoLevelForShutdown()
	logger.Info("Shutting down gracefully...")

	// Stop accepting new work first, then drain in-flight captures.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(),
		cfg.Server.Timeout.ToDuration())
	defer shutdownCancel()
	if err := httpServer.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if metricsServer != nil {
		metricsCtx, metricsCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		metricsCancel()
	}

	stopLimiterSweep()
	sweeper.Shutdown()
	manager.Shutdown()

	logger.Info("Capture service stopped")
}

// startLimiterSweep prunes idle admission buckets in the background so
// one-off clients do not accumulate forever.
func startLimiterSweep(limiter *admission.Limiter, window time.Duration, logger *zap.Logger) func() {
	ticker := time.NewTicker(window)
	done := make(chan struct{})

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := limiter.Sweep(); removed > 0 {
					logger.Debug("Pruned idle rate limit buckets", zap.Int("removed", removed))
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}
