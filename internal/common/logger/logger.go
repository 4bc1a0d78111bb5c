package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/snapgate/engine/internal/common/config"
)

// DynamicLogger wraps zap.Logger with the ability to switch levels at runtime.
type DynamicLogger struct {
	*zap.Logger
	consoleLevel *zap.AtomicLevel
	fileLevel    *zap.AtomicLevel
	configured   config.LogConfig
}

// NewLogger creates a zap logger from the log configuration. At least one
// output (console or file) must be enabled.
func NewLogger(cfg config.LogConfig) (*DynamicLogger, error) {
	globalLevel := parseLogLevel(cfg.Level)

	var cores []zapcore.Core
	var consoleLevel *zap.AtomicLevel
	var fileLevel *zap.AtomicLevel

	if cfg.Console.Enabled {
		level := zap.NewAtomicLevelAt(resolveLogLevel(cfg.Console.Level, globalLevel))
		consoleLevel = &level
		encoder := createEncoder(cfg.Console.Format)
		writer := zapcore.Lock(os.Stdout)
		cores = append(cores, zapcore.NewCore(encoder, writer, consoleLevel))
	}

	if cfg.File.Enabled {
		if cfg.File.Path == "" {
			return nil, fmt.Errorf("file.path must be specified when file logging is enabled")
		}

		level := zap.NewAtomicLevelAt(resolveLogLevel(cfg.File.Level, globalLevel))
		fileLevel = &level
		encoder := createEncoder(cfg.File.Format)
		writer := createFileWriter(cfg.File.Path, cfg.File.Rotation)
		cores = append(cores, zapcore.NewCore(encoder, writer, fileLevel))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one log output (console or file) must be enabled")
	}

	var core zapcore.Core
	if len(cores) == 1 {
		core = cores[0]
	} else {
		core = zapcore.NewTee(cores...)
	}

	return &DynamicLogger{
		Logger:       zap.New(core),
		consoleLevel: consoleLevel,
		fileLevel:    fileLevel,
		configured:   cfg,
	}, nil
}

// NewLoggerWithStartupOverride creates a logger that starts at INFO so
// startup logs are always visible, then can be dropped to the configured
// level with SwitchToConfiguredLevel.
func NewLoggerWithStartupOverride(cfg config.LogConfig) (*DynamicLogger, error) {
	configuredLevel := parseLogLevel(cfg.Level)
	if configuredLevel <= zap.InfoLevel {
		return NewLogger(cfg)
	}

	startup := cfg
	startup.Level = config.LogLevelInfo
	if startup.Console.Enabled && startup.Console.Level == "" {
		startup.Console.Level = config.LogLevelInfo
	}
	if startup.File.Enabled && startup.File.Level == "" {
		startup.File.Level = config.LogLevelInfo
	}

	dl, err := NewLogger(startup)
	if err != nil {
		return nil, err
	}
	dl.configured = cfg
	return dl, nil
}

// SwitchToConfiguredLevel switches the logger to the originally configured
// level after startup completes.
func (dl *DynamicLogger) SwitchToConfiguredLevel() {
	globalLevel := parseLogLevel(dl.configured.Level)

	dl.Info("Switching logger to configured level", zap.String("level", dl.configured.Level))

	if dl.consoleLevel != nil {
		dl.consoleLevel.SetLevel(resolveLogLevel(dl.configured.Console.Level, globalLevel))
	}
	if dl.fileLevel != nil {
		dl.fileLevel.SetLevel(resolveLogLevel(dl.configured.File.Level, globalLevel))
	}
}

// EnsureInfoLevelForShutdown raises both outputs to INFO so the shutdown
// sequence is always logged.
func (dl *DynamicLogger) EnsureInfoLevelForShutdown() {
	changed := false

	if dl.consoleLevel != nil && dl.consoleLevel.Level() > zap.InfoLevel {
		dl.consoleLevel.SetLevel(zap.InfoLevel)
		changed = true
	}
	if dl.fileLevel != nil && dl.fileLevel.Level() > zap.InfoLevel {
		dl.fileLevel.SetLevel(zap.InfoLevel)
		changed = true
	}

	if changed {
		dl.Info("Switched to INFO level for shutdown visibility")
	}
}

// NewDefaultLogger creates a console debug logger for early startup, before
// the configuration file has been read.
func NewDefaultLogger() (*DynamicLogger, error) {
	cfg := config.LogConfig{
		Level: config.LogLevelDebug,
		Console: config.ConsoleLogConfig{
			Enabled: true,
			Format:  config.LogFormatConsole,
		},
	}
	return NewLogger(cfg)
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case config.LogLevelDebug:
		return zap.DebugLevel
	case config.LogLevelInfo:
		return zap.InfoLevel
	case config.LogLevelWarn:
		return zap.WarnLevel
	case config.LogLevelError:
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// resolveLogLevel picks the output-specific level when set, otherwise the
// global one.
func resolveLogLevel(outputLevel string, globalLevel zapcore.Level) zapcore.Level {
	if outputLevel != "" {
		return parseLogLevel(outputLevel)
	}
	return globalLevel
}

func createEncoder(format string) zapcore.Encoder {
	if format == config.LogFormatJSON {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if format == config.LogFormatText {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return zapcore.NewConsoleEncoder(encoderConfig)
}

func createFileWriter(path string, rotation config.RotationConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotation.MaxSize,
		MaxAge:     rotation.MaxAge,
		MaxBackups: rotation.MaxBackups,
		Compress:   rotation.Compress,
	})
}
