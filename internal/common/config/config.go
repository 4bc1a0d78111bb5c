package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/snapgate/engine/internal/common/yamlutil"
	"github.com/snapgate/engine/pkg/types"
)

// Built-in defaults. Anything not set in the YAML file falls back to these.
const (
	DefaultListen        = ":8080"
	DefaultServerTimeout = 75 * time.Second
	DefaultRedisAddr     = "localhost:6379"
	DefaultStorageDir    = "/var/lib/snapgate/artifacts"
	DefaultCacheTTL      = 24 * time.Hour
	DefaultSweepInterval = 10 * time.Minute
	DefaultSafetyMargin  = 5 * time.Minute
	DefaultRateMax       = 60
	DefaultRateWindow    = time.Minute
	DefaultMaxSessions   = "auto"
	DefaultLaunchTimeout = 30 * time.Second
	DefaultHealthTimeout = 5 * time.Second
	DefaultShutdown      = 15 * time.Second
	DefaultWaitBudget    = 10 * time.Second
	DefaultSettleDelay   = 500 * time.Millisecond
	DefaultMaxAttempts   = 3
	DefaultMetricsListen = ":9090"
	DefaultMetricsPath   = "/metrics"
	DefaultNamespace     = "snapgate"
)

// Load reads, defaults, and validates a service configuration file.
func Load(path string) (*ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &ServiceConfig{}
	if err := yamlutil.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a fully defaulted configuration, used when the service
// starts without a config file.
func Default() *ServiceConfig {
	cfg := &ServiceConfig{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills in every unset field.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = types.Duration(DefaultServerTimeout)
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}

	cc := &c.Capture
	if cc.StorageDir == "" {
		cc.StorageDir = DefaultStorageDir
	}
	if cc.CacheTTL == 0 {
		cc.CacheTTL = types.Duration(DefaultCacheTTL)
	}
	if cc.SweepInterval == 0 {
		cc.SweepInterval = types.Duration(DefaultSweepInterval)
	}
	if cc.SafetyMargin == 0 {
		cc.SafetyMargin = types.Duration(DefaultSafetyMargin)
	}
	if cc.RateLimit.Max == 0 {
		cc.RateLimit.Max = DefaultRateMax
	}
	if cc.RateLimit.Window == 0 {
		cc.RateLimit.Window = types.Duration(DefaultRateWindow)
	}
	if cc.Engine.MaxSessions == "" {
		cc.Engine.MaxSessions = DefaultMaxSessions
	}
	if cc.Engine.LaunchTimeout == 0 {
		cc.Engine.LaunchTimeout = types.Duration(DefaultLaunchTimeout)
	}
	if cc.Engine.HealthTimeout == 0 {
		cc.Engine.HealthTimeout = types.Duration(DefaultHealthTimeout)
	}
	if cc.Engine.ShutdownTimeout == 0 {
		cc.Engine.ShutdownTimeout = types.Duration(DefaultShutdown)
	}
	if cc.Render.WaitBudget == 0 {
		cc.Render.WaitBudget = types.Duration(DefaultWaitBudget)
	}
	if cc.Render.SettleDelay == 0 {
		cc.Render.SettleDelay = types.Duration(DefaultSettleDelay)
	}
	if cc.Render.MaxAttempts == 0 {
		cc.Render.MaxAttempts = DefaultMaxAttempts
	}

	if c.Log.Level == "" {
		c.Log.Level = LogLevelInfo
	}
	if !c.Log.Console.Enabled && !c.Log.File.Enabled {
		c.Log.Console.Enabled = true
	}
	if c.Log.Console.Format == "" {
		c.Log.Console.Format = LogFormatConsole
	}
	if c.Log.File.Format == "" {
		c.Log.File.Format = LogFormatJSON
	}

	if c.Metrics.Listen == "" {
		c.Metrics.Listen = DefaultMetricsListen
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultNamespace
	}
}

// Validate rejects configurations that would misbehave at runtime.
func (c *ServiceConfig) Validate() error {
	if c.Server.Timeout.ToDuration() <= 0 {
		return fmt.Errorf("server.timeout must be positive")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	cc := &c.Capture
	if cc.StorageDir == "" {
		return fmt.Errorf("capture.storage_dir is required")
	}
	if cc.CacheTTL.ToDuration() <= 0 {
		return fmt.Errorf("capture.cache_ttl must be positive")
	}
	if cc.SweepInterval.ToDuration() <= 0 {
		return fmt.Errorf("capture.sweep_interval must be positive")
	}
	if cc.SafetyMargin.ToDuration() < 0 {
		return fmt.Errorf("capture.safety_margin must not be negative")
	}
	if cc.RateLimit.Max < 1 {
		return fmt.Errorf("capture.rate_limit.max must be at least 1")
	}
	if cc.RateLimit.Window.ToDuration() <= 0 {
		return fmt.Errorf("capture.rate_limit.window must be positive")
	}
	if cc.Engine.MaxSessions != "auto" {
		n, err := strconv.Atoi(cc.Engine.MaxSessions)
		if err != nil || n < 1 {
			return fmt.Errorf("capture.engine.max_sessions must be \"auto\" or a positive integer, got %q", cc.Engine.MaxSessions)
		}
	}
	if cc.Render.MaxAttempts < 1 {
		return fmt.Errorf("capture.render.max_attempts must be at least 1")
	}

	switch c.Log.Level {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	if c.Log.File.Enabled && c.Log.File.Path == "" {
		return fmt.Errorf("log.file.path is required when file logging is enabled")
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics are enabled")
	}
	return nil
}
