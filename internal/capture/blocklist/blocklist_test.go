package blocklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRulesBlockTrackers(t *testing.T) {
	bl := New(nil)

	blocked := []string{
		"https://www.google-analytics.com/collect?v=1",
		"https://ad.doubleclick.net/ddm/adj/N123",
		"https://www.googletagmanager.com/gtm.js?id=GTM-XXXX",
		"https://static.hotjar.com/c/hotjar-123.js",
		"https://www.clarity.ms/tag/abcdef",
		"https://cdn.taboola.com/libtrc/unip/loader.js",
	}
	for _, url := range blocked {
		assert.True(t, bl.IsBlocked(url), "expected %s to be blocked", url)
	}

	allowed := []string{
		"https://example.com/",
		"https://example.com/styles/main.css",
		"https://cdn.example.net/img/hero.png",
		"https://fonts.example.org/inter.woff2",
	}
	for _, url := range allowed {
		assert.False(t, bl.IsBlocked(url), "expected %s to pass", url)
	}
}

func TestExtraPatterns(t *testing.T) {
	bl := New([]string{"*internal-metrics.example.com*", "~*beacon\\.gif"})

	assert.True(t, bl.IsBlocked("https://internal-metrics.example.com/ping"))
	assert.True(t, bl.IsBlocked("https://example.com/Beacon.gif"))
	assert.False(t, bl.IsBlocked("https://example.com/logo.png"))
}

func TestInvalidPatternsSkipped(t *testing.T) {
	bl := New([]string{"~[invalid", "", "   "})
	assert.Equal(t, len(defaultPatterns), bl.Size())
}

func TestPredicate(t *testing.T) {
	pred := New(nil).Predicate()
	assert.True(t, pred("https://www.google-analytics.com/collect"))
	assert.False(t, pred("https://example.com/"))
}
