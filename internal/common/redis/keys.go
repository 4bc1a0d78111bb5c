package redis

import (
	"fmt"
	"strings"
)

const metadataKeyPrefix = "capture:meta:"

// MetadataKey returns the Redis key holding capture metadata for a
// request fingerprint.
func MetadataKey(fingerprint string) string {
	return metadataKeyPrefix + fingerprint
}

// MetadataKeyPattern matches all capture metadata keys.
func MetadataKeyPattern() string {
	return metadataKeyPrefix + "*"
}

// FingerprintFromKey extracts the fingerprint from a metadata key.
func FingerprintFromKey(key string) (string, error) {
	if !strings.HasPrefix(key, metadataKeyPrefix) {
		return "", fmt.Errorf("not a capture metadata key: %s", key)
	}
	return strings.TrimPrefix(key, metadataKeyPrefix), nil
}
