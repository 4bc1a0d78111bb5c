package config

import (
	"github.com/snapgate/engine/pkg/types"
)

// Log level constants
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Log format constants
const (
	LogFormatJSON    = "json"
	LogFormatConsole = "console"
	LogFormatText    = "text"
)

// ServiceConfig is the top-level configuration for the capture service.
type ServiceConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Redis   RedisConfig   `yaml:"redis"`
	Capture CaptureConfig `yaml:"capture"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type ServerConfig struct {
	Listen  string         `yaml:"listen"`
	Timeout types.Duration `yaml:"timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CaptureConfig groups everything specific to screenshot production:
// artifact storage, cache lifetime, admission limits, the rendering
// engine, and request blocking.
type CaptureConfig struct {
	StorageDir    string          `yaml:"storage_dir"`
	PublicBaseURL string          `yaml:"public_base_url"`
	CacheTTL      types.Duration  `yaml:"cache_ttl"`
	SweepInterval types.Duration  `yaml:"sweep_interval"`
	SafetyMargin  types.Duration  `yaml:"safety_margin"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Engine        EngineConfig    `yaml:"engine"`
	Render        RenderConfig    `yaml:"render"`
	BlockPatterns []string        `yaml:"block_patterns,omitempty"`
}

// RateLimitConfig bounds how many captures a single client may start
// within a sliding window.
type RateLimitConfig struct {
	Max    int            `yaml:"max"`
	Window types.Duration `yaml:"window"`
}

// EngineConfig controls the shared rendering engine process.
// MaxSessions accepts "auto" or a positive integer.
type EngineConfig struct {
	MaxSessions     string         `yaml:"max_sessions"`
	LaunchTimeout   types.Duration `yaml:"launch_timeout"`
	HealthTimeout   types.Duration `yaml:"health_timeout"`
	ShutdownTimeout types.Duration `yaml:"shutdown_timeout"`
}

// RenderConfig tunes per-capture rendering behavior.
type RenderConfig struct {
	WaitBudget  types.Duration `yaml:"wait_budget"`
	SettleDelay types.Duration `yaml:"settle_delay"`
	MaxAttempts int            `yaml:"max_attempts"`
}

type LogConfig struct {
	Level   string           `yaml:"level"`
	Console ConsoleLogConfig `yaml:"console"`
	File    FileLogConfig    `yaml:"file"`
}

type ConsoleLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"`
	Level   string `yaml:"level,omitempty"`
}

type FileLogConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Path     string         `yaml:"path"`
	Format   string         `yaml:"format"`
	Level    string         `yaml:"level,omitempty"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}
