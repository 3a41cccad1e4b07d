// Package page implements the on-disk page layout: a fixed-size header,
// a forward-growing slot directory, and tuples packed from the end of the
// page backward. Every function here is a pure operator over a page's
// byte array — it knows nothing about files, caching, or the WAL.
package page

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/duskdb/duskdb/internal/storage/storageerr"
)

// Size is the fixed page size used throughout the engine.
const Size = 8192

// HeaderSize is the size in bytes of the fixed PageHeader region.
//
//	[0:4]   PageID    uint32 LE
//	[4:8]   Checksum  uint32 LE (CRC32-C, populated but not verified — §5)
//	[8:10]  Lower     uint16 LE
//	[10:12] Upper     uint16 LE
//	[12:14] Special   uint16 LE
//	[14:16] Flags     uint16 LE
//	[16:24] LSN       uint64 LE
const HeaderSize = 24

// LineSize is the size in bytes of one slot-directory entry.
//
//	[0:2] Offset uint16 LE
//	[2:4] Length uint16 LE
//	[4:6] Flags  uint16 LE (bit 0 = tuple deleted)
const LineSize = 6

// DeletedFlag marks a slot's tuple as deleted (tombstoned).
const DeletedFlag uint16 = 1 << 0

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Header is the parsed fixed-size page header.
type Header struct {
	PageID   uint32
	Checksum uint32
	Lower    uint16
	Upper    uint16
	Special  uint16
	Flags    uint16
	LSN      uint64
}

// Page is an in-memory page: the raw on-disk bytes plus the two fields the
// spec calls out as memory-only — Dirty and PinCount. Buf is always
// exactly Size bytes.
type Page struct {
	Buf      [Size]byte
	Dirty    bool
	PinCount uint16
}

// ReadHeader parses the header from the front of p.Buf.
func (p *Page) ReadHeader() Header {
	b := p.Buf[:HeaderSize]
	return Header{
		PageID:   binary.LittleEndian.Uint32(b[0:4]),
		Checksum: binary.LittleEndian.Uint32(b[4:8]),
		Lower:    binary.LittleEndian.Uint16(b[8:10]),
		Upper:    binary.LittleEndian.Uint16(b[10:12]),
		Special:  binary.LittleEndian.Uint16(b[12:14]),
		Flags:    binary.LittleEndian.Uint16(b[14:16]),
		LSN:      binary.LittleEndian.Uint64(b[16:24]),
	}
}

// WriteHeader serializes h into the front of p.Buf.
func (p *Page) WriteHeader(h Header) {
	b := p.Buf[:HeaderSize]
	binary.LittleEndian.PutUint32(b[0:4], h.PageID)
	binary.LittleEndian.PutUint32(b[4:8], h.Checksum)
	binary.LittleEndian.PutUint16(b[8:10], h.Lower)
	binary.LittleEndian.PutUint16(b[10:12], h.Upper)
	binary.LittleEndian.PutUint16(b[12:14], h.Special)
	binary.LittleEndian.PutUint16(b[14:16], h.Flags)
	binary.LittleEndian.PutUint64(b[16:24], h.LSN)
}

// PageID is a convenience accessor for the header's PageID field.
func (p *Page) PageID() uint32 { return p.ReadHeader().PageID }

// LSN is a convenience accessor for the header's LSN field.
func (p *Page) LSN() uint64 { return p.ReadHeader().LSN }

// SetLSN updates only the LSN field of the header.
func (p *Page) SetLSN(lsn uint64) {
	h := p.ReadHeader()
	h.LSN = lsn
	p.WriteHeader(h)
}

// ComputeChecksum computes the CRC32-C of the whole page, treating the
// Checksum field itself as zero during computation. The core engine
// populates this field on every write but never validates it on read —
// see spec §5: torn-page detection is a documented, unchecked extension.
func ComputeChecksum(buf *[Size]byte) uint32 {
	h := crc32.New(crcTable)
	h.Write(buf[0:4])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[8:])
	return h.Sum32()
}

// SetChecksum recomputes and stores the page's checksum field.
func (p *Page) SetChecksum() {
	c := ComputeChecksum(&p.Buf)
	binary.LittleEndian.PutUint32(p.Buf[4:8], c)
}

// VerifyChecksum recomputes the CRC and compares it to the stored value.
// Not called anywhere on the core read path; exposed for callers that
// want to extend the protocol with torn-write detection.
func VerifyChecksum(buf *[Size]byte) bool {
	stored := binary.LittleEndian.Uint32(buf[4:8])
	return stored == ComputeChecksum(buf)
}

// Init zeroes and formats a fresh page with the given id, ready for tuples.
func Init(p *Page, pageID uint32) {
	p.Buf = [Size]byte{}
	p.WriteHeader(Header{
		PageID: pageID,
		Lower:  HeaderSize,
		Upper:  Size,
	})
	p.Dirty = false
	p.PinCount = 0
}

// lineEntry is the decoded form of one slot-directory entry.
type lineEntry struct {
	Offset uint16
	Length uint16
	Flags  uint16
}

func lineOffset(i int) int { return HeaderSize + i*LineSize }

func (p *Page) getLine(i int) lineEntry {
	off := lineOffset(i)
	b := p.Buf[off : off+LineSize]
	return lineEntry{
		Offset: binary.LittleEndian.Uint16(b[0:2]),
		Length: binary.LittleEndian.Uint16(b[2:4]),
		Flags:  binary.LittleEndian.Uint16(b[4:6]),
	}
}

func (p *Page) setLine(i int, e lineEntry) {
	off := lineOffset(i)
	b := p.Buf[off : off+LineSize]
	binary.LittleEndian.PutUint16(b[0:2], e.Offset)
	binary.LittleEndian.PutUint16(b[2:4], e.Length)
	binary.LittleEndian.PutUint16(b[4:6], e.Flags)
}

// SlotCount returns the number of slots in the page's directory (including
// tombstoned ones).
func (p *Page) SlotCount() int {
	h := p.ReadHeader()
	return (int(h.Lower) - HeaderSize) / LineSize
}

// FreeSpace returns upper - lower: the number of unused bytes between the
// slot directory and the tuple region.
func (p *Page) FreeSpace() int {
	h := p.ReadHeader()
	return int(h.Upper) - int(h.Lower)
}

// AddTuple appends a new slot and copies data into the tuple region.
// Fails with storageerr.Usage if free space is insufficient; the page is
// left unmodified on failure. Returns the new slot index on success.
func (p *Page) AddTuple(data []byte) (int, error) {
	need := len(data) + LineSize
	if p.FreeSpace() < need {
		return -1, storageerr.Wrap("page.AddTuple", storageerr.Usage,
			fmt.Errorf("need %d bytes, have %d", need, p.FreeSpace()))
	}
	h := p.ReadHeader()
	newUpper := int(h.Upper) - len(data)
	copy(p.Buf[newUpper:int(h.Upper)], data)

	slot := p.SlotCount()
	p.setLine(slot, lineEntry{Offset: uint16(newUpper), Length: uint16(len(data))})

	h.Lower += LineSize
	h.Upper = uint16(newUpper)
	p.WriteHeader(h)
	p.Dirty = true
	return slot, nil
}

// GetTuple returns a slice into the page's tuple bytes for slot, or nil if
// the slot is out of range or tombstoned. The returned slice is only valid
// while the backing page is pinned.
func (p *Page) GetTuple(slot int) []byte {
	if slot < 0 || slot >= p.SlotCount() {
		return nil
	}
	e := p.getLine(slot)
	if e.Flags&DeletedFlag != 0 {
		return nil
	}
	return p.Buf[e.Offset : e.Offset+e.Length]
}

// DeleteTuple tombstones slot without reclaiming its space. Fails with
// storageerr.Usage if slot is out of range.
func (p *Page) DeleteTuple(slot int) error {
	if slot < 0 || slot >= p.SlotCount() {
		return storageerr.Wrap("page.DeleteTuple", storageerr.Usage,
			fmt.Errorf("slot %d out of range [0,%d)", slot, p.SlotCount()))
	}
	e := p.getLine(slot)
	e.Flags |= DeletedFlag
	p.setLine(slot, e)
	p.Dirty = true
	return nil
}

// IsDeleted reports whether slot is tombstoned. Callers must have already
// range-checked slot; out-of-range slots report as deleted.
func (p *Page) IsDeleted(slot int) bool {
	if slot < 0 || slot >= p.SlotCount() {
		return true
	}
	return p.getLine(slot).Flags&DeletedFlag != 0
}
