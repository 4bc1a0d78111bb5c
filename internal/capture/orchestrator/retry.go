package orchestrator

import (
	"strings"

	"github.com/snapgate/engine/internal/capture/faults"
)

// crashSignals are error fragments that indicate the engine process or the
// session transport died underneath us rather than the page failing.
var crashSignals = []string{
	"target closed",
	"session closed",
	"browser has been closed",
	"protocol error",
	"websocket",
	"connection closed",
	"use of closed network connection",
	"context canceled",
}

// RetryPolicy bounds the attempts a single capture may burn through.
type RetryPolicy struct {
	MaxAttempts int
}

// DefaultRetryPolicy allows two retries after the first attempt.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3}

// ShouldRetry reports whether the attempt's error warrants discarding the
// engine and trying again. Errors already mapped to the fault taxonomy are
// page-level outcomes and never retried.
func (p RetryPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	if err == nil {
		return false
	}
	if faults.As(err) != nil {
		return false
	}
	return isCrashSignal(err)
}

// isCrashSignal matches the error text against the known engine death
// fragments.
func isCrashSignal(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, signal := range crashSignals {
		if strings.Contains(msg, signal) {
			return true
		}
	}
	return false
}
