package pager

import (
	"os"
	"testing"

	"github.com/duskdb/duskdb/internal/storage/page"
)

func newTestPager(t *testing.T) *Pager {
	t.Helper()
	dir, err := os.MkdirTemp("", "duskdb-pager-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	p, err := OpenOrCreate(Config{DataDir: dir})
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestAllocWriteReadRoundTrip(t *testing.T) {
	p := newTestPager(t)

	id := p.Alloc()
	var pg page.Page
	page.Init(&pg, id)
	pg.AddTuple([]byte("row one"))
	pg.SetChecksum()

	if err := p.Write(&pg); err != nil {
		t.Fatalf("Write: %v", err)
	}

	var loaded page.Page
	if err := p.Read(id, &loaded); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := loaded.GetTuple(0); string(got) != "row one" {
		t.Fatalf("GetTuple = %q, want %q", got, "row one")
	}
}

func TestReadUnwrittenPageZeroFills(t *testing.T) {
	p := newTestPager(t)
	id := p.Alloc()

	var pg page.Page
	if err := p.Read(id, &pg); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, b := range pg.Buf {
		if b != 0 {
			t.Fatalf("byte %d = %d, want 0 for never-written page", i, b)
		}
	}
}

func TestReopenPreservesPageCount(t *testing.T) {
	dir, err := os.MkdirTemp("", "duskdb-pager-*")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	p1, err := OpenOrCreate(Config{DataDir: dir})
	if err != nil {
		t.Fatalf("OpenOrCreate: %v", err)
	}
	id := p1.Alloc()
	var pg page.Page
	page.Init(&pg, id)
	if err := p1.Write(&pg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := p1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p2, err := OpenOrCreate(Config{DataDir: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	if p2.PageCount() != id+1 {
		t.Fatalf("PageCount = %d, want %d", p2.PageCount(), id+1)
	}
}

func TestAllocPageIsWrittenAndPinned(t *testing.T) {
	p := newTestPager(t)

	pg, err := p.AllocPage()
	if err != nil {
		t.Fatalf("AllocPage: %v", err)
	}
	if !pg.Dirty || pg.PinCount != 1 {
		t.Fatalf("AllocPage page = {Dirty:%v PinCount:%d}, want {true 1}", pg.Dirty, pg.PinCount)
	}

	var reread page.Page
	if err := p.Read(pg.PageID(), &reread); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if reread.ReadHeader() != pg.ReadHeader() {
		t.Fatal("AllocPage's write is not visible to a subsequent Read")
	}
}

func TestDescribe(t *testing.T) {
	p := newTestPager(t)
	id := p.Alloc()
	var pg page.Page
	page.Init(&pg, id)
	pg.AddTuple([]byte("x"))
	if err := p.Write(&pg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s, err := p.Describe(id)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if s == "" {
		t.Fatal("Describe returned empty string")
	}
}
