// Package hash implements an in-memory bucket hash index over a custom
// fold hash, matching the engine's own byte-level hashing convention
// rather than reaching for a generic hash map keyed by string(key).
package hash

import (
	"fmt"

	"github.com/duskdb/duskdb/internal/storage/storageerr"
)

// DefaultBuckets is the default bucket-array size.
const DefaultBuckets = 1024

// Seed is the default fold-hash seed.
const Seed = 0

// fold computes h(k) = fold(k, seed, step = h*31+b), the byte-folding
// hash the rest of the engine standardizes on for bucket placement.
func fold(key []byte, seed uint64) uint64 {
	h := seed
	for _, b := range key {
		h = h*31 + uint64(b)
	}
	return h
}

type entry struct {
	key   []byte
	value uint64
}

// Index is a fixed-bucket-count hash index. Each bucket is a small slice
// of entries (separate chaining) since bucket collisions are expected
// and resolved by linear scan within the bucket.
type Index struct {
	buckets [][]entry
}

// New returns an index with numBuckets buckets, or DefaultBuckets if
// numBuckets <= 0.
func New(numBuckets int) *Index {
	if numBuckets <= 0 {
		numBuckets = DefaultBuckets
	}
	return &Index{buckets: make([][]entry, numBuckets)}
}

func (idx *Index) bucketFor(key []byte) int {
	return int(fold(key, Seed) % uint64(len(idx.buckets)))
}

// Insert adds or overwrites key→value.
func (idx *Index) Insert(key []byte, value uint64) error {
	if key == nil {
		return storageerr.New("hash.Insert", storageerr.Usage)
	}
	b := idx.bucketFor(key)
	bucket := idx.buckets[b]
	for i := range bucket {
		if string(bucket[i].key) == string(key) {
			bucket[i].value = value
			return nil
		}
	}
	idx.buckets[b] = append(bucket, entry{key: key, value: value})
	return nil
}

// Get returns the value for key and whether it was found.
func (idx *Index) Get(key []byte) (uint64, bool) {
	b := idx.bucketFor(key)
	for _, e := range idx.buckets[b] {
		if string(e.key) == string(key) {
			return e.value, true
		}
	}
	return 0, false
}

// Delete removes the first entry matching key. It returns
// storageerr.Usage if no such entry exists.
func (idx *Index) Delete(key []byte) error {
	b := idx.bucketFor(key)
	bucket := idx.buckets[b]
	for i := range bucket {
		if string(bucket[i].key) == string(key) {
			idx.buckets[b] = append(bucket[:i], bucket[i+1:]...)
			return nil
		}
	}
	return storageerr.Wrap("hash.Delete", storageerr.Usage,
		fmt.Errorf("key not found"))
}

// Count returns the total number of keys across all buckets.
func (idx *Index) Count() int {
	n := 0
	for _, b := range idx.buckets {
		n += len(b)
	}
	return n
}

// BucketLoad returns the number of entries in each bucket, for tests
// checking distribution quality.
func (idx *Index) BucketLoad() []int {
	loads := make([]int, len(idx.buckets))
	for i, b := range idx.buckets {
		loads[i] = len(b)
	}
	return loads
}
