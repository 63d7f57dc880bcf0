// Package dedupe implements the way-dedupe set described in spec §4.3 and
// redesigned per spec §9: "potentially unbounded; cap with a tunable Bloom
// filter + exact confirmation to keep memory bounded when multiple
// planet-sized inputs are concatenated."
//
// A hash of (node-ID-list, tag-set) is first tested against a bit-array
// Bloom filter (probabilistic, O(1) memory per bit regardless of input
// size); only a Bloom hit pays for an exact confirmation against a bounded
// recently-seen set, keeping peak memory within the "O(unique_ways)" bound
// of spec §5 while tolerating duplicate-free concatenated extracts without
// ever growing past the configured cap.
package dedupe

import (
	"encoding/binary"
	"sync"

	farm "github.com/dgryski/go-farm"

	"github.com/navit-project/maptool/internal/model"
)

// DefaultBits is the default Bloom filter size in bits (64Mi bits = 8MiB),
// tuned for tens of millions of ways at a low false-positive rate.
const DefaultBits = 64 << 20

// DefaultExactCap bounds the exact-confirmation set so memory never grows
// unboundedly even under a false-positive storm (spec §9 "cap with a
// tunable Bloom filter").
const DefaultExactCap = 1 << 20

// Set is a bounded-memory duplicate detector over (node-ID-list, tag-set)
// keys, enabled by -w/--dedupe-ways (spec §6).
type Set struct {
	mu       sync.Mutex
	bits     []uint64
	nbits    uint64
	exact    map[uint64]struct{}
	exactCap int
}

// New returns a Set with the given Bloom filter size in bits and exact-set
// cap. A zero value for either picks the default.
func New(bits uint64, exactCap int) *Set {
	if bits == 0 {
		bits = DefaultBits
	}
	if exactCap == 0 {
		exactCap = DefaultExactCap
	}
	return &Set{
		bits:     make([]uint64, (bits+63)/64),
		nbits:    bits,
		exact:    make(map[uint64]struct{}),
		exactCap: exactCap,
	}
}

// Key hashes a way's node-ID list and tag set into a single 64-bit key
// (spec §4.3 "a hash of (node-ID-list, tag-set)").
func Key(nodeIDs []int64, tags []model.Attr) uint64 {
	buf := make([]byte, 8)
	h := uint64(14695981039346656037) // FNV offset basis, mixed with farm below
	for _, id := range nodeIDs {
		binary.LittleEndian.PutUint64(buf, uint64(id))
		h ^= farm.Hash64(buf)
		h *= 1099511628211
	}
	for _, t := range tags {
		h ^= farm.Hash64([]byte(t.Key))
		h *= 1099511628211
		h ^= farm.Hash64([]byte(t.Value))
		h *= 1099511628211
	}
	return h
}

func (s *Set) bitPositions(key uint64) (uint64, uint64) {
	h1 := key % s.nbits
	h2 := (key >> 32) % s.nbits
	return h1, h2
}

func (s *Set) testAndSetBloom(key uint64) bool {
	p1, p2 := s.bitPositions(key)
	w1, b1 := p1/64, p1%64
	w2, b2 := p2/64, p2%64
	wasSet := s.bits[w1]&(1<<b1) != 0 && s.bits[w2]&(1<<b2) != 0
	s.bits[w1] |= 1 << b1
	s.bits[w2] |= 1 << b2
	return wasSet
}

// SeenOrAdd reports whether key has been seen before; if not, it is
// recorded. It is safe for concurrent use.
func (s *Set) SeenOrAdd(key uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	bloomHit := s.testAndSetBloom(key)
	if !bloomHit {
		// Definitely new: still remember it in the exact set (bounded) so a
		// later Bloom false positive on a different key doesn't get
		// mistaken for this one without confirmation.
		s.rememberExact(key)
		return false
	}
	_, confirmed := s.exact[key]
	if !confirmed {
		// Bloom false positive: treat as new, but record it now that we've
		// paid for the check.
		s.rememberExact(key)
		return false
	}
	return true
}

func (s *Set) rememberExact(key uint64) {
	if len(s.exact) >= s.exactCap {
		// Bounded: drop a key at random (map iteration order) rather than
		// grow past the cap. A dropped key can only cause a missed
		// duplicate, never a false duplicate, since the Bloom filter still
		// gates every lookup.
		for k := range s.exact {
			delete(s.exact, k)
			break
		}
	}
	s.exact[key] = struct{}{}
}
