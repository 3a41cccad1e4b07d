// Package bloom implements a fixed-size Bloom filter over a seeded hash
// family: no false negatives, a tunable false-positive rate governed by
// bit-array size and hash count.
package bloom

// DefaultBits is the default bit-array size.
const DefaultBits = 10000

// DefaultHashes is the default number of independent hash functions.
const DefaultHashes = 3

// Filter is a fixed-size bit array tested/set by DefaultHashes (or a
// caller-chosen count) of independent seeded hashes.
type Filter struct {
	bits   []byte // one bit per entry, packed 8 to a byte
	nbits  int
	hashes int
}

// New returns an empty filter with nbits bits and numHashes hash
// functions, falling back to the package defaults for non-positive
// arguments.
func New(nbits, numHashes int) *Filter {
	if nbits <= 0 {
		nbits = DefaultBits
	}
	if numHashes <= 0 {
		numHashes = DefaultHashes
	}
	return &Filter{
		bits:   make([]byte, (nbits+7)/8),
		nbits:  nbits,
		hashes: numHashes,
	}
}

// seededHash computes the i-th member of the hash family: a simple fold
// hash re-seeded per index, cheap enough to call f.hashes times per op
// without a real cryptographic hash.
func seededHash(key []byte, seed uint64) uint64 {
	h := seed
	for _, b := range key {
		h = h*31 + uint64(b)
	}
	return h
}

func (f *Filter) bitIndexes(key []byte) []uint64 {
	idxs := make([]uint64, f.hashes)
	for i := 0; i < f.hashes; i++ {
		idxs[i] = seededHash(key, uint64(i)+1) % uint64(f.nbits)
	}
	return idxs
}

func (f *Filter) getBit(i uint64) bool {
	return f.bits[i/8]&(1<<(i%8)) != 0
}

func (f *Filter) setBit(i uint64) {
	f.bits[i/8] |= 1 << (i % 8)
}

// Add marks key as present.
func (f *Filter) Add(key []byte) {
	for _, i := range f.bitIndexes(key) {
		f.setBit(i)
	}
}

// MightContain reports whether key may have been added. A false result
// is always correct (no false negatives); a true result may be a false
// positive.
func (f *Filter) MightContain(key []byte) bool {
	for _, i := range f.bitIndexes(key) {
		if !f.getBit(i) {
			return false
		}
	}
	return true
}

// Reset clears every bit, discarding all membership information.
func (f *Filter) Reset() {
	for i := range f.bits {
		f.bits[i] = 0
	}
}
