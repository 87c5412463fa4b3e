package matcher

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/linvon/cuckoo-filter"

	"github.com/pairworks/pairworker/telemetry"
)

const (
	cuckooBucketSize      = 4
	cuckooFingerprintSize = 32 // 32-bit fingerprint keeps false positives negligible
)

// prefilter answers "definitely absent?" for mapping keys before the table
// mutex is taken. A filter miss is authoritative; a hit still consults the
// table. When the filter fills up it degrades to pass-through, which only
// costs the shortcut, never correctness.
type prefilter struct {
	filter    *cuckoo.Filter
	saturated bool
}

// newPrefilter sizes the filter for the expected number of mapping entries.
func newPrefilter(expectedKeys int) *prefilter {
	numBuckets := uint(expectedKeys/cuckooBucketSize + 1)
	if numBuckets < 1024 {
		numBuckets = 1024
	}
	return &prefilter{
		filter: cuckoo.NewFilter(cuckooBucketSize, cuckooFingerprintSize, numBuckets, cuckoo.TableTypePacked),
	}
}

func keyBytes(key string) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], xxhash.Sum64String(key))
	return buf[:]
}

func (p *prefilter) add(key string) {
	if p.saturated {
		return
	}
	if !p.filter.Add(keyBytes(key)) {
		p.saturated = true
	}
}

// mightContain reports whether key could be in the mapping. Always true once
// the filter saturated.
func (p *prefilter) mightContain(key string) bool {
	if p.saturated {
		return true
	}
	if p.filter.Contain(keyBytes(key)) {
		return true
	}
	telemetry.PrefilterSkipsTotal.Inc()
	return false
}
