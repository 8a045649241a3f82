// Package fingerprint persists the content fingerprints of the last
// successfully published state of the tracked tree.
package fingerprint

import (
	"maps"
	"slices"
	"time"
)

// Record is the fingerprint of one file at the time it was last published.
type Record struct {
	Hash  string  `json:"hash"`
	MTime float64 `json:"mtime"`
}

// MTimeOf converts a modification time to the fractional Unix seconds
// stored in a Record.
func MTimeOf(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Manifest maps slash-separated paths relative to the tracked root to
// their published fingerprint.
type Manifest map[string]Record

// Clone returns a copy of m that can be modified independently.
func (m Manifest) Clone() Manifest {
	if m == nil {
		return Manifest{}
	}
	return maps.Clone(m)
}

// Paths returns the manifest paths in sorted order.
func (m Manifest) Paths() []string {
	return slices.Sorted(maps.Keys(m))
}

// Hashes returns the set of content hashes in m.
func (m Manifest) Hashes() map[string]struct{} {
	set := make(map[string]struct{}, len(m))
	for _, r := range m {
		set[r.Hash] = struct{}{}
	}
	return set
}
