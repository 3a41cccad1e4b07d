// Package pager implements the Page Manager: fixed-size page I/O against a
// single heap file. It has no notion of caching (that is the buffer pool's
// job) or logging (that is the WAL's job) — it only knows how to read and
// write page.Size-byte slots of one file on disk.
package pager

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/duskdb/duskdb/internal/storage/page"
	"github.com/duskdb/duskdb/internal/storage/storageerr"
)

// heapFileName is the single on-disk heap file holding every page.
const heapFileName = "pages.dat"

// Config controls pager construction. The zero value resolves to the
// package defaults in OpenOrCreate.
type Config struct {
	// DataDir is the directory holding pages.dat. Required.
	DataDir string
	// Logger receives lifecycle messages (heap file creation or
	// reopening). Defaults to log.Default().
	Logger *log.Logger
}

func (c Config) resolve() Config {
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// Pager owns the single heap file and hands out fixed-size pages by id.
// Safe for concurrent use; Read/Write/Alloc all take the same mutex since
// the underlying file only supports one outstanding seek+I/O at a time.
type Pager struct {
	mu       sync.Mutex
	file     *os.File
	cfg      Config
	nextPage uint32
}

// OpenOrCreate opens the heap file in cfg.DataDir, creating both the
// directory and a fresh empty heap file if neither exists. The page
// count used to seed Alloc is derived from the existing file size.
func OpenOrCreate(cfg Config) (*Pager, error) {
	cfg = cfg.resolve()
	if cfg.DataDir == "" {
		return nil, storageerr.Wrap("pager.OpenOrCreate", storageerr.Usage,
			fmt.Errorf("DataDir must not be empty"))
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, storageerr.Wrap("pager.OpenOrCreate", storageerr.IO, err)
	}
	path := filepath.Join(cfg.DataDir, heapFileName)
	created := false
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, storageerr.Wrap("pager.OpenOrCreate", storageerr.IO, err)
		}
		created = true
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, storageerr.Wrap("pager.OpenOrCreate", storageerr.IO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, storageerr.Wrap("pager.OpenOrCreate", storageerr.IO, err)
	}
	p := &Pager{
		file:     f,
		cfg:      cfg,
		nextPage: uint32(info.Size() / page.Size),
	}
	if created {
		cfg.Logger.Printf("pager: created new heap file %s", path)
	} else {
		cfg.Logger.Printf("pager: opened heap file %s (%d pages)", path, p.nextPage)
	}
	return p, nil
}

// PageCount returns the number of pages currently allocated in the heap
// file (including any never written via Write).
func (p *Pager) PageCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextPage
}

// Alloc reserves the next page id and returns it without touching disk;
// the slot becomes durable only once Write is called for it.
func (p *Pager) Alloc() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextPage
	p.nextPage++
	return id
}

// AllocPage reserves the next page id, formats a fresh page for it, and
// writes that page to the heap file without fsyncing — the next flush or
// checkpoint covers its durability. The returned page has Dirty=true,
// PinCount=1, matching a page the caller now holds the only reference to.
func (p *Pager) AllocPage() (*page.Page, error) {
	p.mu.Lock()
	id := p.nextPage
	p.nextPage++
	p.mu.Unlock()

	var pg page.Page
	page.Init(&pg, id)
	pg.SetChecksum()
	off := int64(id) * page.Size
	n, err := p.file.WriteAt(pg.Buf[:], off)
	if err != nil {
		return nil, storageerr.Wrap("pager.AllocPage", storageerr.IO, err)
	}
	if n != page.Size {
		return nil, storageerr.Wrap("pager.AllocPage", storageerr.IO,
			fmt.Errorf("short write of page %d: wrote %d of %d bytes", id, n, page.Size))
	}
	pg.Dirty = true
	pg.PinCount = 1
	return &pg, nil
}

// Read loads page pageID from the heap file into dst. Reading a page
// beyond the current end of file zero-fills dst rather than erroring,
// matching a freshly-Alloc'd-but-never-written page.
func (p *Pager) Read(pageID uint32, dst *page.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	off := int64(pageID) * page.Size
	dst.Buf = [page.Size]byte{}
	n, err := p.file.ReadAt(dst.Buf[:], off)
	if err != nil && errors.Is(err, io.EOF) {
		if n == 0 {
			return nil
		}
		return storageerr.Wrap("pager.Read", storageerr.IO,
			fmt.Errorf("short read of page %d: got %d of %d bytes", pageID, n, page.Size))
	}
	if err != nil {
		return storageerr.Wrap("pager.Read", storageerr.IO, err)
	}
	dst.Dirty = false
	return nil
}

// Write persists p's full page.Size buffer at its header-declared page id
// and fsyncs before returning. A short write or failed fsync leaves the
// page's Dirty flag untouched so the caller can retry.
func (p *Pager) Write(pg *page.Page) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := pg.PageID()
	off := int64(id) * page.Size
	pg.SetChecksum()
	n, err := p.file.WriteAt(pg.Buf[:], off)
	if err != nil {
		return storageerr.Wrap("pager.Write", storageerr.IO, err)
	}
	if n != page.Size {
		return storageerr.Wrap("pager.Write", storageerr.IO,
			fmt.Errorf("short write of page %d: wrote %d of %d bytes", id, n, page.Size))
	}
	if err := p.file.Sync(); err != nil {
		return storageerr.Wrap("pager.Write", storageerr.IO, err)
	}
	if id >= p.nextPage {
		p.nextPage = id + 1
	}
	pg.Dirty = false
	return nil
}

// Sync forces the heap file's buffered writes to stable storage.
func (p *Pager) Sync() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.file.Sync(); err != nil {
		return storageerr.Wrap("pager.Sync", storageerr.IO, err)
	}
	return nil
}

// Close releases the underlying file handle.
func (p *Pager) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.file.Close(); err != nil {
		return storageerr.Wrap("pager.Close", storageerr.IO, err)
	}
	return nil
}

// Describe returns a short human-readable summary of pageID's header,
// for use by tests and operator tooling. It does not pin or cache
// anything; it performs its own Read into a scratch page.
func (p *Pager) Describe(pageID uint32) (string, error) {
	var scratch page.Page
	if err := p.Read(pageID, &scratch); err != nil {
		return "", err
	}
	h := scratch.ReadHeader()
	return fmt.Sprintf("page %d: lower=%d upper=%d special=%d flags=%d lsn=%d slots=%d",
		h.PageID, h.Lower, h.Upper, h.Special, h.Flags, h.LSN, scratch.SlotCount()), nil
}
