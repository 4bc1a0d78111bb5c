package urlutil

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// LookupFunc resolves a hostname to its addresses. The default uses the
// system resolver; tests inject their own.
type LookupFunc func(ctx context.Context, host string) ([]net.IP, error)

func defaultLookup(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, len(addrs))
	for i, a := range addrs {
		ips[i] = a.IP
	}
	return ips, nil
}

// ErrBlockedTarget marks URLs that parse fine but point at addresses the
// service refuses to fetch.
type ErrBlockedTarget struct{ Reason string }

func (e *ErrBlockedTarget) Error() string { return e.Reason }

// Validator normalizes and vets capture target URLs.
type Validator struct {
	lookup LookupFunc
}

func NewValidator() *Validator {
	return &Validator{lookup: defaultLookup}
}

// NewValidatorWithLookup is used by tests to avoid real DNS.
func NewValidatorWithLookup(lookup LookupFunc) *Validator {
	return &Validator{lookup: lookup}
}

// Validate parses, normalizes, and vets a capture target. It returns the
// normalized URL string (lowercased scheme and punycoded host) or an error:
// a plain error for malformed URLs, *ErrBlockedTarget for forbidden ones.
func (v *Validator) Validate(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("url is required")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	parsed.Scheme = scheme

	if parsed.Host == "" {
		return "", fmt.Errorf("url has no host")
	}
	if parsed.User != nil {
		return "", fmt.Errorf("url must not carry credentials")
	}

	hostname := ExtractHostname(strings.ToLower(parsed.Host))
	bare := strings.Trim(hostname, "[]")

	// Internationalized hostnames go through IDNA so the engine and the
	// fingerprint both see the canonical punycode form.
	if net.ParseIP(bare) == nil {
		ascii, err := idna.Lookup.ToASCII(hostname)
		if err != nil {
			return "", fmt.Errorf("invalid hostname %q: %w", hostname, err)
		}
		if port := parsed.Port(); port != "" {
			parsed.Host = ascii + ":" + port
		} else {
			parsed.Host = ascii
		}
		hostname = ascii
		bare = ascii
	}

	if blocked := v.checkTarget(ctx, bare); blocked != nil {
		return "", blocked
	}

	return parsed.String(), nil
}

// checkTarget rejects loopback-ish names, private IP literals, and hostnames
// resolving only to private ranges.
func (v *Validator) checkTarget(ctx context.Context, hostname string) *ErrBlockedTarget {
	if hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return &ErrBlockedTarget{Reason: "loopback hostnames are not allowed"}
	}

	if net.ParseIP(hostname) != nil {
		if err := ValidateHostNotPrivateIP(hostname); err != nil {
			return &ErrBlockedTarget{Reason: fmt.Sprintf("address %s is in a private range", hostname)}
		}
		return nil
	}

	ips, err := v.lookup(ctx, hostname)
	if err != nil {
		// Unresolvable hosts surface later as a navigation failure with a
		// proper error payload, not as a blocked target.
		return nil
	}
	for _, ip := range ips {
		if err := ValidateResolvedIP(ip); err != nil {
			return &ErrBlockedTarget{Reason: fmt.Sprintf("%s resolves to a private address", hostname)}
		}
	}
	return nil
}
