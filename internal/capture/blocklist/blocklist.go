// Package blocklist decides which subresource requests are aborted when ad
// blocking is enabled for a capture.
package blocklist

import (
	"strings"

	"github.com/snapgate/engine/pkg/pattern"
)

// defaultPatterns covers the common ad, analytics, and tracking hosts.
// Blocking them keeps screenshots free of consent banners and ad slots and
// cuts page weight. Patterns match against the full request URL.
var defaultPatterns = []string{
	"*2mdn.net*",
	"*adsappier.com*",
	"*adnxs.com*",
	"*amazon-adsystem.com*",
	"*criteo.com*",
	"*doubleclick.net*",
	"*google-analytics.com*",
	"*googleadservices.com*",
	"*googlesyndication.com*",
	"*googletagservices.com*",
	"*googletagmanager.com*",
	"*analytics.google.com*",
	"*facebook.net*",
	"*connect.facebook.com*",
	"*hotjar.com*",
	"*clarity.ms*",
	"*mouseflow.com*",
	"*fullstory.com*",
	"*segment.io*",
	"*mixpanel.com*",
	"*quantserve.com*",
	"*scorecardresearch.com*",
	"*taboola.com*",
	"*outbrain.com*",
	"*pubmatic.com*",
	"*rubiconproject.com*",
	"*static.cloudflareinsights.com*",
}

// Blocklist holds the compiled block rules for capture sessions.
type Blocklist struct {
	compiled []*pattern.Pattern
	sources  []string
}

// New compiles the default rules plus any extra configured patterns.
// Invalid patterns are skipped.
func New(extraPatterns []string) *Blocklist {
	all := make([]string, 0, len(defaultPatterns)+len(extraPatterns))
	all = append(all, defaultPatterns...)
	all = append(all, extraPatterns...)

	bl := &Blocklist{
		compiled: make([]*pattern.Pattern, 0, len(all)),
		sources:  all,
	}

	for _, pat := range all {
		pat = strings.TrimSpace(pat)
		if pat == "" {
			continue
		}

		compiled, err := pattern.Compile(pat)
		if err != nil {
			continue
		}
		bl.compiled = append(bl.compiled, compiled)
	}

	return bl
}

// IsBlocked checks a request URL against every rule.
func (bl *Blocklist) IsBlocked(requestURL string) bool {
	for _, p := range bl.compiled {
		if p.Match(requestURL) {
			return true
		}
	}
	return false
}

// Predicate returns the matcher in the shape the session interception wants.
func (bl *Blocklist) Predicate() func(url string) bool {
	return bl.IsBlocked
}

// Size returns the number of active rules.
func (bl *Blocklist) Size() int {
	return len(bl.compiled)
}
