package page

import (
	"testing"

	"github.com/duskdb/duskdb/internal/storage/storageerr"
)

func TestInitHeaderDefaults(t *testing.T) {
	var p Page
	Init(&p, 7)

	h := p.ReadHeader()
	if h.PageID != 7 {
		t.Fatalf("PageID = %d, want 7", h.PageID)
	}
	if h.Lower != HeaderSize {
		t.Fatalf("Lower = %d, want %d", h.Lower, HeaderSize)
	}
	if h.Upper != Size {
		t.Fatalf("Upper = %d, want %d", h.Upper, Size)
	}
	if p.FreeSpace() != Size-HeaderSize {
		t.Fatalf("FreeSpace = %d, want %d", p.FreeSpace(), Size-HeaderSize)
	}
}

func TestAddGetTuple(t *testing.T) {
	var p Page
	Init(&p, 1)

	slot, err := p.AddTuple([]byte("hello"))
	if err != nil {
		t.Fatalf("AddTuple: %v", err)
	}
	if slot != 0 {
		t.Fatalf("slot = %d, want 0", slot)
	}
	got := p.GetTuple(slot)
	if string(got) != "hello" {
		t.Fatalf("GetTuple = %q, want %q", got, "hello")
	}

	slot2, err := p.AddTuple([]byte("world"))
	if err != nil {
		t.Fatalf("AddTuple #2: %v", err)
	}
	if got := p.GetTuple(slot2); string(got) != "world" {
		t.Fatalf("GetTuple #2 = %q, want %q", got, "world")
	}
	if p.SlotCount() != 2 {
		t.Fatalf("SlotCount = %d, want 2", p.SlotCount())
	}
}

func TestAddTupleInsufficientSpace(t *testing.T) {
	var p Page
	Init(&p, 1)

	big := make([]byte, Size)
	_, err := p.AddTuple(big)
	if err == nil {
		t.Fatal("expected error for oversized tuple")
	}
	if storageerr.CodeOf(err) != storageerr.Usage {
		t.Fatalf("code = %v, want Usage", storageerr.CodeOf(err))
	}
	// page must be unmodified on failure
	if p.SlotCount() != 0 {
		t.Fatalf("SlotCount = %d, want 0 after failed insert", p.SlotCount())
	}
}

func TestDeleteTupleTombstones(t *testing.T) {
	var p Page
	Init(&p, 1)

	slot, _ := p.AddTuple([]byte("gone"))
	before := p.FreeSpace()
	if err := p.DeleteTuple(slot); err != nil {
		t.Fatalf("DeleteTuple: %v", err)
	}
	if got := p.GetTuple(slot); got != nil {
		t.Fatalf("GetTuple after delete = %v, want nil", got)
	}
	if !p.IsDeleted(slot) {
		t.Fatal("IsDeleted = false, want true")
	}
	// space is not reclaimed: free space unchanged from before delete,
	// also after deleting the tombstoned slot a second time
	if err := p.DeleteTuple(slot); err != nil {
		t.Fatalf("re-delete: %v", err)
	}
	if p.FreeSpace() != before {
		t.Fatalf("FreeSpace changed on tombstone: %d vs %d", p.FreeSpace(), before)
	}
}

func TestDeleteTupleOutOfRange(t *testing.T) {
	var p Page
	Init(&p, 1)
	err := p.DeleteTuple(0)
	if storageerr.CodeOf(err) != storageerr.Usage {
		t.Fatalf("code = %v, want Usage", storageerr.CodeOf(err))
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	var p Page
	Init(&p, 3)
	p.AddTuple([]byte("payload"))
	p.SetChecksum()
	if !VerifyChecksum(&p.Buf) {
		t.Fatal("VerifyChecksum = false after SetChecksum")
	}
	p.Buf[HeaderSize] ^= 0xFF
	if VerifyChecksum(&p.Buf) {
		t.Fatal("VerifyChecksum = true after corruption, want false")
	}
}

func TestHeaderMarshalRoundTrip(t *testing.T) {
	var p Page
	h := Header{PageID: 42, Checksum: 99, Lower: 24, Upper: 8000, Special: 1, Flags: 2, LSN: 123456789}
	p.WriteHeader(h)
	got := p.ReadHeader()
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}
