// Package selector decides whether a post is a signal post. The decision is
// a deterministic Bernoulli test keyed by the epoch's selection key: anyone
// holding the channel key computes the same answer, and without it the
// outcome is indistinguishable from chance.
package selector

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// IsSignal reports whether the post with the given id carries frame bits
// under the given selection key. rate is the target fraction of posts
// classified as signal, in (0, 1].
func IsSignal(selectionKey []byte, postID string, rate float64) bool {
	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}

	h := sha256.New()
	h.Write(selectionKey)
	h.Write([]byte(postID))
	digest := h.Sum(nil)

	// Leading 8 bytes, big-endian, compared against rate scaled to the
	// full 64-bit range.
	sample := binary.BigEndian.Uint64(digest[:8])
	return sample < Threshold(rate)
}

// Threshold returns rate scaled to the 64-bit sample range. The conversion
// is pure IEEE-754 arithmetic, so independent implementations agree
// bit-for-bit.
func Threshold(rate float64) uint64 {
	scaled := math.Ldexp(rate, 64)
	if scaled >= math.Ldexp(1, 64) {
		return math.MaxUint64
	}
	return uint64(scaled)
}
