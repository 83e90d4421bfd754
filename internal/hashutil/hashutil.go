// Package hashutil provides the short content hash used across the index
// and patch engines.
package hashutil

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// ShortLen is the number of hex characters in a short content hash.
const ShortLen = 16

// Short returns the first 16 hex characters of the BLAKE3 digest of b.
func Short(b []byte) string {
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:ShortLen/2])
}

// ShortString is Short over a string without an extra copy at call sites.
func ShortString(s string) string {
	return Short([]byte(s))
}

// Matches reports whether a recorded hash refers to content with hash got.
// Recorded hashes may be longer or shorter than ShortLen (e.g. a full digest
// from an index line); the shorter one must be a prefix of the other.
func Matches(recorded, got string) bool {
	if recorded == "" || got == "" {
		return false
	}
	if len(recorded) <= len(got) {
		return got[:len(recorded)] == recorded
	}
	return recorded[:len(got)] == got
}
