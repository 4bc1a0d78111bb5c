package admission

import (
	"net"
	"strings"

	"github.com/valyala/fasthttp"
)

// UnknownClient is the shared bucket for requests without any usable
// client-identifying header.
const UnknownClient = "unknown"

var clientHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// ClientKey derives the admission bucket for a request. It takes the first
// entry of X-Forwarded-For, then X-Real-IP, and finally falls back to the
// shared unknown bucket.
func ClientKey(ctx *fasthttp.RequestCtx) string {
	for _, header := range clientHeaders {
		value := strings.TrimSpace(string(ctx.Request.Header.Peek(header)))
		if value == "" {
			continue
		}
		if ip := parseHeaderValue(value); ip != "" {
			return ip
		}
	}
	return UnknownClient
}

func parseHeaderValue(value string) string {
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		value = value[:idx]
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return normalizeIP(value)
}

func normalizeIP(raw string) string {
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	if idx := strings.IndexByte(raw, '%'); idx >= 0 {
		raw = raw[:idx]
	}
	ip := net.ParseIP(raw)
	if ip == nil {
		return raw
	}
	return ip.String()
}
