// Package storage implements the Storage Handle: the lifecycle and
// row-level façade that composes the Page Manager, Buffer Pool, WAL, and
// arena under one data directory. It is the only entry point the query
// layer (not part of this build) would use to reach the storage engine.
package storage

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/duskdb/duskdb/internal/storage/arena"
	"github.com/duskdb/duskdb/internal/storage/buffer"
	"github.com/duskdb/duskdb/internal/storage/page"
	"github.com/duskdb/duskdb/internal/storage/pager"
	"github.com/duskdb/duskdb/internal/storage/storageerr"
	"github.com/duskdb/duskdb/internal/storage/wal"
)

const walFileName = "wal.log"

// Options controls Handle construction. The zero value resolves to the
// package's documented defaults.
type Options struct {
	// DataDir is the directory holding pages.dat and wal.log. Required.
	DataDir string
	// BufferCapacity is the buffer pool's frame count. Defaults to
	// buffer.DefaultCapacity.
	BufferCapacity int
	// WALBufferSize is the WAL's user-space buffer size. Defaults to
	// wal.DefaultBufferSize.
	WALBufferSize int
	// ArenaSize is the bump allocator's capacity. Defaults to
	// arena.DefaultSize.
	ArenaSize int
	// CheckpointSchedule, if non-empty, is a robfig/cron/v3 expression
	// driving a background goroutine that calls Checkpoint periodically.
	// Empty means no background checkpointing; callers call Checkpoint
	// themselves.
	CheckpointSchedule string
	// Logger receives lifecycle messages. Defaults to log.Default().
	Logger *log.Logger
}

func (o Options) resolve() Options {
	if o.BufferCapacity <= 0 {
		o.BufferCapacity = buffer.DefaultCapacity
	}
	if o.WALBufferSize <= 0 {
		o.WALBufferSize = wal.DefaultBufferSize
	}
	if o.ArenaSize <= 0 {
		o.ArenaSize = arena.DefaultSize
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
	return o
}

// Handle owns exactly one Page Manager, one Buffer Pool, one WAL, and
// one arena under a single data directory.
type Handle struct {
	opts    Options
	pager   *pager.Pager
	pool    *buffer.Pool
	wal     *wal.WAL
	arena   *arena.Arena
	cron    *cron.Cron
	nextRow uint64

	mu sync.Mutex // serializes Close and Checkpoint
}

// catalogEntry is the JSON payload carried by the INSERT WAL entry a
// CreateTable call writes. TableID gives every table a stable identity
// that survives a rename; the table name alone would not.
type catalogEntry struct {
	TableID uuid.UUID       `json:"table_id"`
	Name    string          `json:"name"`
	Schema  json.RawMessage `json:"schema"`
}

// Open ensures opts.DataDir exists and constructs the Page Manager,
// Buffer Pool, WAL, and arena in that order. Any constructor failure
// tears down whatever was already built, in reverse order, before
// returning the error.
func Open(opts Options) (*Handle, error) {
	opts = opts.resolve()
	if opts.DataDir == "" {
		return nil, storageerr.Wrap("storage.Open", storageerr.Usage,
			fmt.Errorf("DataDir must not be empty"))
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, storageerr.Wrap("storage.Open", storageerr.IO, err)
	}

	pgr, err := pager.OpenOrCreate(pager.Config{DataDir: opts.DataDir, Logger: opts.Logger})
	if err != nil {
		return nil, err
	}

	pool := buffer.New(pgr, buffer.Config{Capacity: opts.BufferCapacity, Logger: opts.Logger})

	w, err := wal.OpenOrCreate(wal.Config{
		Path:       filepath.Join(opts.DataDir, walFileName),
		BufferSize: opts.WALBufferSize,
		Logger:     opts.Logger,
	})
	if err != nil {
		pgr.Close()
		return nil, err
	}

	ar := arena.New(opts.ArenaSize)

	h := &Handle{
		opts:    opts,
		pager:   pgr,
		pool:    pool,
		wal:     w,
		arena:   ar,
		nextRow: 1,
	}

	if opts.CheckpointSchedule != "" {
		h.cron = cron.New(cron.WithSeconds())
		if _, err := h.cron.AddFunc(opts.CheckpointSchedule, func() {
			if err := h.Checkpoint(); err != nil {
				opts.Logger.Printf("storage: background checkpoint failed: %v", err)
			}
		}); err != nil {
			w.Close()
			pgr.Close()
			return nil, storageerr.Wrap("storage.Open", storageerr.Usage, err)
		}
		h.cron.Start()
	}

	opts.Logger.Printf("storage: opened handle at %s", opts.DataDir)
	return h, nil
}

// Close flushes every dirty buffer pool page and the WAL buffer, then
// releases the arena, WAL, and pager in that order.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cron != nil {
		ctx := h.cron.Stop()
		<-ctx.Done()
	}
	if err := h.pool.FlushAll(); err != nil {
		return err
	}
	if err := h.wal.Flush(); err != nil {
		return err
	}
	h.arena = nil
	if err := h.wal.Close(); err != nil {
		return err
	}
	if err := h.pager.Close(); err != nil {
		return err
	}
	h.opts.Logger.Printf("storage: closed handle at %s", h.opts.DataDir)
	return nil
}

// AllocPage reserves a fresh page id, pins it through the buffer pool,
// and formats it as an empty page ready for tuples. The caller must
// eventually ReleasePage it like any other pinned page.
func (h *Handle) AllocPage() (*page.Page, error) {
	id := h.pager.Alloc()
	pg, err := h.pool.GetPage(id)
	if err != nil {
		return nil, err
	}
	page.Init(pg, id)
	pg.Dirty = true
	return pg, nil
}

// GetPage pins and returns pageID via the buffer pool.
func (h *Handle) GetPage(pageID uint32) (*page.Page, error) {
	return h.pool.GetPage(pageID)
}

// PutPage marks pg dirty. Actual persistence happens on a later
// FlushPage, Checkpoint, or eviction — this call never touches disk.
func (h *Handle) PutPage(pg *page.Page) error {
	pg.Dirty = true
	return nil
}

// FlushPage writes pageID through to the pager if resident and dirty.
func (h *Handle) FlushPage(pageID uint32) error {
	return h.pool.FlushPage(pageID)
}

// ReleasePage unpins pageID without marking it dirty.
func (h *Handle) ReleasePage(pageID uint32) error {
	return h.pool.UnpinPage(pageID, false)
}

// Arena returns the handle's bump allocator, for query-scoped scratch
// allocations.
func (h *Handle) Arena() *arena.Arena { return h.arena }

// CreateTable appends one INSERT-typed WAL entry carrying a JSON catalog
// record (a fresh table id, the name, and the caller's schema bytes),
// flushes the WAL, and returns the assigned table id.
func (h *Handle) CreateTable(name string, schemaJSON []byte) (uuid.UUID, error) {
	if name == "" {
		return uuid.Nil, storageerr.Wrap("storage.CreateTable", storageerr.Usage,
			fmt.Errorf("table name must not be empty"))
	}
	entry := catalogEntry{TableID: uuid.New(), Name: name, Schema: schemaJSON}
	payload, err := json.Marshal(entry)
	if err != nil {
		return uuid.Nil, storageerr.Wrap("storage.CreateTable", storageerr.Usage, err)
	}
	if _, err := h.wal.Append(0, wal.Insert, payload); err != nil {
		return uuid.Nil, err
	}
	if err := h.wal.Flush(); err != nil {
		return uuid.Nil, err
	}
	return entry.TableID, nil
}

// InsertRow allocates a monotonic row id, appends an INSERT WAL entry
// carrying the row's opaque bytes, flushes the WAL, and returns the
// assigned row id. The core never interprets rowBytes; encoding and
// decoding rows is the caller's concern.
func (h *Handle) InsertRow(table string, rowBytes []byte) (uint64, error) {
	if table == "" {
		return 0, storageerr.Wrap("storage.InsertRow", storageerr.Usage,
			fmt.Errorf("table name must not be empty"))
	}
	rowID := atomic.AddUint64(&h.nextRow, 1) - 1
	payload := encodeRowPayload(table, rowID, rowBytes)
	if _, err := h.wal.Append(0, wal.Insert, payload); err != nil {
		return 0, err
	}
	if err := h.wal.Flush(); err != nil {
		return 0, err
	}
	return rowID, nil
}

// UpdateRows appends an UPDATE WAL entry describing the intent (table,
// opaque predicate, and new bytes) and flushes the WAL. The returned
// count is always 0: actual predicate evaluation and row mutation is out
// of scope for the storage core — the testable contract is that the WAL
// record exists.
func (h *Handle) UpdateRows(table string, predicate, rowBytes []byte) (int, error) {
	payload := encodePredicatePayload(table, predicate, rowBytes)
	if _, err := h.wal.Append(0, wal.Update, payload); err != nil {
		return 0, err
	}
	if err := h.wal.Flush(); err != nil {
		return 0, err
	}
	return 0, nil
}

// DeleteRows appends a DELETE WAL entry, symmetric to UpdateRows.
func (h *Handle) DeleteRows(table string, predicate []byte) (int, error) {
	payload := encodePredicatePayload(table, predicate, nil)
	if _, err := h.wal.Append(0, wal.Delete, payload); err != nil {
		return 0, err
	}
	if err := h.wal.Flush(); err != nil {
		return 0, err
	}
	return 0, nil
}

// Checkpoint flushes every dirty page, appends a CHECKPOINT WAL entry,
// and flushes the WAL.
func (h *Handle) Checkpoint() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.pool.FlushAll(); err != nil {
		return err
	}
	if _, err := h.wal.Append(0, wal.Checkpoint, nil); err != nil {
		return err
	}
	if err := h.wal.Flush(); err != nil {
		return err
	}
	h.opts.Logger.Printf("storage: checkpoint complete")
	return nil
}

// Recover replays the WAL in LSN order. The per-entry apply logic is a
// no-op in the core — §4.4/§9 make the schema/index rebuild policy a
// caller concern — so apply, if non-nil, is invoked for every entry in
// order; a nil apply simply consumes the log. Recover is idempotent:
// calling it any number of times on the same log yields the same calls.
func (h *Handle) Recover(apply func(*wal.Entry) error) error {
	walPath := filepath.Join(h.opts.DataDir, walFileName)
	entries, err := wal.ReadAll(walPath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if apply == nil {
			continue
		}
		if err := apply(e); err != nil {
			return storageerr.Wrap("storage.Recover", storageerr.Usage, err)
		}
	}
	h.opts.Logger.Printf("storage: recovered %d WAL entries", len(entries))
	return nil
}

func encodeRowPayload(table string, rowID uint64, rowBytes []byte) []byte {
	t := []byte(table)
	buf := make([]byte, 2+len(t)+8+len(rowBytes))
	buf[0] = byte(len(t))
	buf[1] = byte(len(t) >> 8)
	n := copy(buf[2:], t)
	off := 2 + n
	for i := 0; i < 8; i++ {
		buf[off+i] = byte(rowID >> (8 * i))
	}
	copy(buf[off+8:], rowBytes)
	return buf
}

func encodePredicatePayload(table string, predicate, rowBytes []byte) []byte {
	t := []byte(table)
	p := predicate
	buf := make([]byte, 2+len(t)+4+len(p)+len(rowBytes))
	buf[0] = byte(len(t))
	buf[1] = byte(len(t) >> 8)
	n := copy(buf[2:], t)
	off := 2 + n
	for i := 0; i < 4; i++ {
		buf[off+i] = byte(len(p) >> (8 * i))
	}
	off += 4
	off += copy(buf[off:], p)
	copy(buf[off:], rowBytes)
	return buf
}
