// Package wal implements the write-ahead log: an append-only file of
// self-describing entries, written through a user-space buffer so many
// Append calls can share one flush (group commit), with idempotent
// crash replay that stops cleanly at a truncated tail.
//
// Unlike a simple incrementing sequence number, this package assigns
// each entry's LSN as the byte offset its header begins at within the
// log file — a caller can seek straight to any LSN it recorded
// elsewhere without consulting a separate index.
package wal

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/duskdb/duskdb/internal/storage/storageerr"
)

// HeaderSize is the fixed size of one entry's header, preceding its
// length bytes of payload:
//
//	[0:8]   LSN           uint64 LE
//	[8:12]  TransactionID  uint32 LE
//	[12:20] LogicalTime    uint64 LE
//	[20:22] Type           uint16 LE
//	[22:24] Length         uint16 LE
const HeaderSize = 24

// DefaultBufferSize is the size of the user-space write buffer before an
// Append is forced to flush early.
const DefaultBufferSize = 65536

// Type identifies the kind of logical mutation a WAL entry records.
type Type uint16

const (
	Insert     Type = 1
	Update     Type = 2
	Delete     Type = 3
	Commit     Type = 4
	Abort      Type = 5
	Checkpoint Type = 6
)

func (t Type) String() string {
	switch t {
	case Insert:
		return "INSERT"
	case Update:
		return "UPDATE"
	case Delete:
		return "DELETE"
	case Commit:
		return "COMMIT"
	case Abort:
		return "ABORT"
	case Checkpoint:
		return "CHECKPOINT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
	}
}

// Entry is the decoded form of one WAL record.
type Entry struct {
	LSN           uint64
	TransactionID uint32
	LogicalTime   uint64
	Type          Type
	Data          []byte
}

// Config controls WAL construction.
type Config struct {
	// Path is the WAL log file path. Required.
	Path string
	// BufferSize is the user-space buffer threshold. Defaults to
	// DefaultBufferSize.
	BufferSize int
	Logger     *log.Logger
}

func (c Config) resolve() Config {
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// WAL is an append-only log with a buffered writer and byte-offset LSNs.
type WAL struct {
	mu      sync.Mutex
	f       *os.File
	cfg     Config
	buf     []byte
	filePos int64 // bytes durably written to f so far
	clock   uint64
}

// OpenOrCreate opens or creates the log file at cfg.Path. next_lsn is
// initialized to the current file size, per spec.
func OpenOrCreate(cfg Config) (*WAL, error) {
	cfg = cfg.resolve()
	if cfg.Path == "" {
		return nil, storageerr.Wrap("wal.OpenOrCreate", storageerr.Usage,
			fmt.Errorf("Path must not be empty"))
	}
	f, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, storageerr.Wrap("wal.OpenOrCreate", storageerr.IO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, storageerr.Wrap("wal.OpenOrCreate", storageerr.IO, err)
	}
	w := &WAL{
		f:       f,
		cfg:     cfg,
		buf:     make([]byte, 0, cfg.BufferSize),
		filePos: info.Size(),
	}
	cfg.Logger.Printf("wal: opened %s at offset %d", cfg.Path, w.filePos)
	return w, nil
}

// nextLSN returns the offset the next appended entry would start at,
// accounting for bytes already staged in the buffer. Caller holds w.mu.
func (w *WAL) nextLSN() uint64 {
	return uint64(w.filePos) + uint64(len(w.buf))
}

// Append stages an entry in the user-space buffer — flushing first if it
// would not otherwise fit — and returns the LSN assigned to it. Returning
// a nonzero LSN does not by itself guarantee durability: call Flush (or
// rely on a subsequent one) to fsync everything appended so far.
func (w *WAL) Append(txID uint32, typ Type, data []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(data) > 1<<16-1 {
		return 0, storageerr.Wrap("wal.Append", storageerr.Usage,
			fmt.Errorf("payload length %d exceeds uint16 range", len(data)))
	}
	entrySize := HeaderSize + len(data)

	if len(w.buf) > 0 && len(w.buf)+entrySize > cap(w.buf) {
		if err := w.flushLocked(); err != nil {
			return 0, err
		}
	}

	w.clock++
	lsn := w.nextLSN()
	hdr := make([]byte, entrySize)
	binary.LittleEndian.PutUint64(hdr[0:8], lsn)
	binary.LittleEndian.PutUint32(hdr[8:12], txID)
	binary.LittleEndian.PutUint64(hdr[12:20], w.clock)
	binary.LittleEndian.PutUint16(hdr[20:22], uint16(typ))
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(len(data)))
	copy(hdr[HeaderSize:], data)

	w.buf = append(w.buf, hdr...)
	return lsn, nil
}

// Flush writes the staged buffer to the file and fsyncs it, making every
// LSN assigned so far durable. This is the group-commit boundary: many
// Append calls can share one Flush.
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *WAL) flushLocked() error {
	if len(w.buf) == 0 {
		return nil
	}
	n, err := w.f.Write(w.buf)
	if err != nil {
		return storageerr.Wrap("wal.Flush", storageerr.IO, err)
	}
	if n != len(w.buf) {
		return storageerr.Wrap("wal.Flush", storageerr.IO,
			fmt.Errorf("short write: %d of %d bytes", n, len(w.buf)))
	}
	if err := w.f.Sync(); err != nil {
		return storageerr.Wrap("wal.Flush", storageerr.IO, err)
	}
	w.filePos += int64(n)
	w.buf = w.buf[:0]
	return nil
}

// Close flushes any pending buffer and closes the file.
func (w *WAL) Close() error {
	if err := w.Flush(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Close(); err != nil {
		return storageerr.Wrap("wal.Close", storageerr.IO, err)
	}
	return nil
}

// Truncate empties the log file entirely, used after a checkpoint has
// made every prior entry's effects durable elsewhere.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(0); err != nil {
		return storageerr.Wrap("wal.Truncate", storageerr.IO, err)
	}
	w.filePos = 0
	w.buf = w.buf[:0]
	w.cfg.Logger.Printf("wal: truncated")
	return w.f.Sync()
}

// ReadAll replays every self-describing entry in path, in LSN order. An
// entry whose declared length would extend past end-of-file is a
// truncated tail — the signature of a crash mid-Append — and replay
// stops there cleanly rather than erroring.
func ReadAll(path string) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, storageerr.Wrap("wal.ReadAll", storageerr.IO, err)
	}
	defer f.Close()

	var entries []*Entry
	for {
		var hdr [HeaderSize]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			break
		}
		length := binary.LittleEndian.Uint16(hdr[22:24])
		data := make([]byte, length)
		if length > 0 {
			if _, err := io.ReadFull(f, data); err != nil {
				break
			}
		}
		entries = append(entries, &Entry{
			LSN:           binary.LittleEndian.Uint64(hdr[0:8]),
			TransactionID: binary.LittleEndian.Uint32(hdr[8:12]),
			LogicalTime:   binary.LittleEndian.Uint64(hdr[12:20]),
			Type:          Type(binary.LittleEndian.Uint16(hdr[20:22])),
			Data:          data,
		})
	}
	return entries, nil
}
