// Package fingerprint derives deterministic cache keys and unique artifact
// identifiers for capture requests.
package fingerprint

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/snapgate/engine/pkg/types"
)

// FingerprintLength is the number of hex characters kept from the digest.
// 16 hex chars = 64 bits, negligible collision probability at expected scale.
const FingerprintLength = 16

// Derive produces the cache fingerprint for a request. It covers exactly the
// fields that affect rendered output: URL, dimensions, full-page flag,
// appearance, ad-block flag, device profile and wait strategy. Timeout is
// deliberately excluded since it never changes the captured image.
func Derive(req *types.CaptureRequest) string {
	canonical := fmt.Sprintf(
		"url=%s|w=%d|h=%d|full=%t|appearance=%s|adblock=%t|device=%s|wait=%s",
		req.URL,
		req.Width,
		req.Height,
		req.FullPage,
		req.Appearance,
		req.AdBlockEnabled(),
		req.Device,
		req.WaitFor,
	)

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:FingerprintLength]
}

// NewArtifactID returns a globally unique, roughly chronologically ordered
// identifier: base36 unix-millisecond timestamp plus an 8-char random hex
// suffix for collision resistance.
func NewArtifactID() string {
	ts := strconv.FormatInt(time.Now().UTC().UnixMilli(), 36)

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		// crypto/rand failing is effectively fatal elsewhere; fall back to
		// the clock so IDs stay unique enough for a single process.
		return ts + "-" + strconv.FormatInt(time.Now().UTC().UnixNano()%0xffffffff, 16)
	}
	return ts + "-" + hex.EncodeToString(suffix)
}

// ParseArtifactTimestamp extracts the creation time embedded in an artifact
// identifier. Used by the cache sweeper to age out orphaned payload files.
func ParseArtifactTimestamp(id string) (time.Time, error) {
	sep := -1
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			sep = i
			break
		}
	}
	if sep <= 0 {
		return time.Time{}, fmt.Errorf("invalid artifact id: %s", id)
	}

	ms, err := strconv.ParseInt(id[:sep], 36, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid artifact id timestamp: %w", err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
