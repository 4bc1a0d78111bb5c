package requestid

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var uuidPattern = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$`)

func TestGenerateRequestID(t *testing.T) {
	tests := []struct {
		name     string
		customID string
		wantUUID bool
		wantTail string
	}{
		{name: "no custom id falls back to uuid", customID: "", wantUUID: true},
		{name: "caller-supplied id kept", customID: "shot-homepage", wantTail: "shot-homepage"},
		{name: "spaces become hyphens", customID: "pricing page dark", wantTail: "pricing-page-dark"},
		{name: "punctuation stripped", customID: "capture@2x!#", wantTail: "capture2x"},
		{name: "hyphen runs collapse", customID: "retry--3---final", wantTail: "retry-3-final"},
		{name: "edge hyphens trimmed", customID: "--checkout--", wantTail: "checkout"},
		{name: "mixed case preserved", customID: "LandingPage-V2", wantTail: "LandingPage-V2"},
		{name: "only punctuation falls back to uuid", customID: "!?*()", wantUUID: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := GenerateRequestID(tt.customID)
			assert.LessOrEqual(t, len(id), MaxRequestIDLength)

			if tt.wantUUID {
				assert.Regexp(t, uuidPattern, id)
				return
			}

			parts := strings.SplitN(id, "-", 2)
			require.Len(t, parts, 2)
			assert.Regexp(t, `^[a-f0-9]{5}$`, parts[0])
			assert.Equal(t, tt.wantTail, parts[1])
		})
	}
}

func TestGenerateRequestIDTruncatesLongIDs(t *testing.T) {
	id := GenerateRequestID(strings.Repeat("screenshot-", 10))

	assert.Len(t, id, MaxRequestIDLength)
	assert.Regexp(t, `^[a-f0-9]{5}-screenshot-`, id)
}

func TestGenerateRequestIDUniquePerCall(t *testing.T) {
	// The same caller id must still yield distinct request ids, or retries
	// of one capture would collide in the logs.
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateRequestID("shot-homepage")
		require.False(t, seen[id], "duplicate request id %s", id)
		seen[id] = true
	}
}

func TestGenerateRandomPrefix(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		prefix := generateRandomPrefix()
		require.Len(t, prefix, PrefixLength)
		require.Regexp(t, `^[a-f0-9]{5}$`, prefix)
		seen[prefix] = true
	}

	// 16^5 possible prefixes; a thousand draws should be near collision free.
	assert.Greater(t, len(seen), 990)
}
