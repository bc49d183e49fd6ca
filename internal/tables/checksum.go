package tables

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ChecksumPrefix tags checksums recorded in lineage, manifests and audit events.
const ChecksumPrefix = "sha256:"

// ComputeChecksum returns the prefixed SHA-256 of data. Source files are
// checksummed on their decoded content.
func ComputeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return ChecksumPrefix + hex.EncodeToString(sum[:])
}

// VerifyChecksum reports whether data matches expected. A bare hex digest
// without the prefix is accepted.
func VerifyChecksum(data []byte, expected string) bool {
	expected = strings.ToLower(strings.TrimSpace(expected))
	if !strings.HasPrefix(expected, ChecksumPrefix) {
		expected = ChecksumPrefix + expected
	}
	return ComputeChecksum(data) == expected
}
