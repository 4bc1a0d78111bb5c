// Package pattern implements the matching syntax used for URL block rules.
//
// Three forms are supported:
//
//   - Exact (no prefix): case-insensitive exact match
//   - Wildcard (*): case-insensitive, * matches any run of characters
//     ("*doubleclick.net*" matches any URL containing the host)
//   - Regexp (~ or ~*): "~" is a case-sensitive regular expression,
//     "~*" a case-insensitive one
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is the matching form of a compiled pattern.
type Kind int

const (
	KindExact Kind = iota
	KindWildcard
	KindRegexp
)

// Pattern is a compiled rule ready for matching.
type Pattern struct {
	Original string
	Kind     Kind

	clean string
	re    *regexp.Regexp
}

// Compile parses and pre-compiles a pattern. Call once at configuration
// load, not per match.
func Compile(raw string) (*Pattern, error) {
	if raw == "" {
		return nil, fmt.Errorf("pattern cannot be empty")
	}

	p := &Pattern{Original: raw}

	switch {
	case strings.HasPrefix(raw, "~*"):
		p.Kind = KindRegexp
		re, err := regexp.Compile("(?i)" + raw[2:])
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern '%s': %w", raw, err)
		}
		p.re = re

	case strings.HasPrefix(raw, "~"):
		p.Kind = KindRegexp
		re, err := regexp.Compile(raw[1:])
		if err != nil {
			return nil, fmt.Errorf("invalid regexp pattern '%s': %w", raw, err)
		}
		p.re = re

	case strings.Contains(raw, "*"):
		p.Kind = KindWildcard
		p.clean = strings.ToLower(raw)

	default:
		p.Kind = KindExact
		p.clean = raw
	}

	return p, nil
}

// Match tests input against the compiled pattern.
func (p *Pattern) Match(input string) bool {
	if p == nil {
		return false
	}

	switch p.Kind {
	case KindRegexp:
		return p.re.MatchString(input)
	case KindWildcard:
		return MatchWildcard(strings.ToLower(input), p.clean)
	default:
		return strings.EqualFold(input, p.clean)
	}
}

// MatchWildcard matches text against a pattern where * matches any sequence
// of characters, including across path segments. Both arguments are taken
// as-is; callers wanting case-insensitive behavior lowercase them first.
func MatchWildcard(text, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return text == pattern
	}

	parts := strings.Split(pattern, "*")

	if !strings.HasPrefix(text, parts[0]) {
		return false
	}
	text = text[len(parts[0]):]

	if !strings.HasSuffix(text, parts[len(parts)-1]) {
		return false
	}
	text = text[:len(text)-len(parts[len(parts)-1])]

	for i := 1; i < len(parts)-1; i++ {
		if parts[i] == "" {
			continue
		}
		idx := strings.Index(text, parts[i])
		if idx == -1 {
			return false
		}
		text = text[idx+len(parts[i]):]
	}

	return true
}
