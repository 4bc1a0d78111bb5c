package browser

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
)

// Config holds the rendering engine configuration.
type Config struct {
	// MaxSessions is "auto" or a positive integer string. Auto sizes the
	// concurrent session cap from available RAM.
	MaxSessions string

	LaunchTimeout   time.Duration // engine process startup budget
	HealthTimeout   time.Duration // liveness probe budget
	ShutdownTimeout time.Duration // graceful shutdown budget
}

// DefaultConfig is used in tests to avoid constructing full Config structs
func DefaultConfig() *Config {
	return &Config{
		MaxSessions:     "auto",
		LaunchTimeout:   30 * time.Second,
		HealthTimeout:   5 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.MaxSessions != "auto" {
		size, err := strconv.Atoi(c.MaxSessions)
		if err != nil {
			return fmt.Errorf("max sessions must be 'auto' or valid integer")
		}
		if size <= 0 {
			return fmt.Errorf("max sessions must be positive")
		}
	}

	if c.LaunchTimeout <= 0 {
		return fmt.Errorf("launch timeout must be positive")
	}

	if c.HealthTimeout <= 0 {
		return fmt.Errorf("health timeout must be positive")
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}

	return nil
}

// CalculateSessionLimit determines how many concurrent page sessions the
// engine accepts.
func (c *Config) CalculateSessionLimit() int {
	if c.MaxSessions == "auto" {
		return c.calculateAutoSessionLimit()
	}

	size, err := strconv.Atoi(c.MaxSessions)
	if err != nil || size <= 0 {
		return c.calculateAutoSessionLimit()
	}

	return size
}

// calculateAutoSessionLimit sizes the session cap from system RAM.
// Formula: (Total RAM - 1.5GB reserved) / 300MB per rendering session.
func (c *Config) calculateAutoSessionLimit() int {
	v, err := mem.VirtualMemory()
	var totalRAMBytes int64

	if err != nil {
		// Conservative estimate when system memory is unreadable
		totalRAMBytes = int64(4 * 1024 * 1024 * 1024)
	} else {
		totalRAMBytes = int64(v.Total)
	}

	reservedBytes := int64(1536 * 1024 * 1024)
	availableBytes := totalRAMBytes - reservedBytes

	sessionBytes := int64(300 * 1024 * 1024)

	limit := int(availableBytes / sessionBytes)

	if limit < 2 {
		limit = 2
	}
	if limit > 32 {
		limit = 32
	}

	return limit
}
