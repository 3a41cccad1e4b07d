package hash

import (
	"fmt"
	"testing"

	"github.com/duskdb/duskdb/internal/storage/storageerr"
)

func TestInsertGetDelete(t *testing.T) {
	idx := New(0)
	if err := idx.Insert([]byte("a"), 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v, ok := idx.Get([]byte("a"))
	if !ok || v != 1 {
		t.Fatalf("Get = %d,%v, want 1,true", v, ok)
	}
	if err := idx.Delete([]byte("a")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := idx.Get([]byte("a")); ok {
		t.Fatal("Get after delete = true, want false")
	}
}

func TestDeleteMissingKeyErrors(t *testing.T) {
	idx := New(0)
	err := idx.Delete([]byte("missing"))
	if err == nil {
		t.Fatal("expected error deleting missing key")
	}
	if storageerr.CodeOf(err) != storageerr.Usage {
		t.Fatalf("CodeOf(err) = %v, want Usage", storageerr.CodeOf(err))
	}
}

func TestInsertOverwrite(t *testing.T) {
	idx := New(16)
	idx.Insert([]byte("k"), 100)
	idx.Insert([]byte("k"), 200)
	v, _ := idx.Get([]byte("k"))
	if v != 200 {
		t.Fatalf("Get = %d, want 200", v)
	}
	if idx.Count() != 1 {
		t.Fatalf("Count = %d, want 1", idx.Count())
	}
}

func TestDefaultBucketCount(t *testing.T) {
	idx := New(0)
	if len(idx.buckets) != DefaultBuckets {
		t.Fatalf("len(buckets) = %d, want %d", len(idx.buckets), DefaultBuckets)
	}
}

func TestNilKeyRejected(t *testing.T) {
	idx := New(8)
	if err := idx.Insert(nil, 1); err == nil {
		t.Fatal("expected error inserting nil key")
	}
}

func TestDistributionAcrossBuckets(t *testing.T) {
	idx := New(64)
	for i := 0; i < 2000; i++ {
		idx.Insert([]byte(fmt.Sprintf("key-%d", i)), uint64(i))
	}
	loads := idx.BucketLoad()
	empty := 0
	for _, l := range loads {
		if l == 0 {
			empty++
		}
	}
	if empty > len(loads)/4 {
		t.Fatalf("%d of %d buckets empty, distribution looks skewed", empty, len(loads))
	}
}

func TestFoldDeterministic(t *testing.T) {
	k := []byte("repeatable")
	if fold(k, Seed) != fold(k, Seed) {
		t.Fatal("fold is not deterministic for the same key/seed")
	}
}
