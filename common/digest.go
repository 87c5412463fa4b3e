package common

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// IDDigest returns a short non-reversible digest of a plaintext user ID.
// Log lines must never carry raw IDs; they carry this digest instead.
func IDDigest(id string) string {
	return strconv.FormatUint(xxhash.Sum64String(id), 16)
}
