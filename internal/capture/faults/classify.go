package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// classifyRule maps a substring of an engine error to a taxonomy entry.
// Rules are evaluated in order; the first match wins.
type classifyRule struct {
	substr  string
	kind    Kind
	message string
}

var classifyRules = []classifyRule{
	{"context deadline exceeded", KindTimeout, "page load timed out"},
	{"timeout", KindTimeout, "page load timed out"},
	{"net::ERR_NAME_NOT_RESOLVED", KindCapture, "could not resolve host"},
	{"net::ERR_CONNECTION_REFUSED", KindCapture, "connection refused"},
	{"net::ERR_CONNECTION_TIMED_OUT", KindTimeout, "connection timed out"},
	{"net::ERR_CONNECTION_RESET", KindCapture, "connection reset"},
	{"net::ERR_SSL", KindCapture, "tls handshake failed"},
	{"net::ERR_CERT", KindCapture, "tls certificate error"},
	{"net::ERR_ABORTED", KindCapture, "navigation aborted"},
	{"net::", KindCapture, "navigation failed"},
}

// Classify maps an arbitrary capture error onto the taxonomy. Errors that
// already carry a Fault pass through unchanged.
func Classify(err error) *Fault {
	if err == nil {
		return nil
	}
	if f := As(err); f != nil {
		return f
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "page load timed out", err)
	}
	msg := err.Error()
	for _, rule := range classifyRules {
		if strings.Contains(msg, rule.substr) {
			return Wrap(rule.kind, rule.message, err)
		}
	}
	return Wrap(KindInternal, "capture failed", err)
}

// ClassifyNavigation builds a fault from a navigation error, naming the
// target host in the external message. errorText comes from the engine's
// navigation result and may be empty.
func ClassifyNavigation(host, errorText string, err error) *Fault {
	if errorText != "" && err == nil {
		err = errors.New(errorText)
	}
	f := Classify(err)
	if f == nil {
		return nil
	}
	f.Message = fmt.Sprintf("%s for %s", f.Message, host)
	return f
}
