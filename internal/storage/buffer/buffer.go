// Package buffer implements the pinned buffer pool: a fixed-capacity
// in-memory cache of pages on top of a pager.Pager, with pin counting and
// approximate-LRU eviction driven by a monotonic access counter.
package buffer

import (
	"fmt"
	"log"
	"sync"

	"github.com/duskdb/duskdb/internal/storage/page"
	"github.com/duskdb/duskdb/internal/storage/pager"
	"github.com/duskdb/duskdb/internal/storage/storageerr"
)

// DefaultCapacity is the default number of frames the pool holds.
const DefaultCapacity = 1024

// Config controls pool construction. The zero value resolves to
// DefaultCapacity frames and log.Default().
type Config struct {
	Capacity int
	Logger   *log.Logger
}

func (c Config) resolve() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	return c
}

// frame is one slot in the pool's fixed-size entry array.
type frame struct {
	pg         page.Page
	pageID     uint32
	valid      bool
	lastAccess uint64
	pinCount   uint16
}

// Pool is a fixed-capacity, pinned page cache over a pager.Pager.
type Pool struct {
	mu      sync.Mutex
	pgr     *pager.Pager
	cfg     Config
	frames  []frame
	byPage  map[uint32]int // page id -> frame index
	counter uint64
}

// New wraps pgr with a buffer pool of cfg.Capacity frames.
func New(pgr *pager.Pager, cfg Config) *Pool {
	cfg = cfg.resolve()
	return &Pool{
		pgr:    pgr,
		cfg:    cfg,
		frames: make([]frame, cfg.Capacity),
		byPage: make(map[uint32]int, cfg.Capacity),
	}
}

// GetPage returns a pinned page for pageID, loading it from the pager on
// a cache miss. The caller must call UnpinPage exactly once per
// successful GetPage call. Concurrent GetPage calls for the same pageID
// while it is resident return the same backing *page.Page.
func (p *Pool) GetPage(pageID uint32) (*page.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counter++
	if idx, ok := p.byPage[pageID]; ok {
		f := &p.frames[idx]
		f.lastAccess = p.counter
		f.pinCount++
		return &f.pg, nil
	}

	idx, err := p.acquireFrame()
	if err != nil {
		return nil, err
	}
	f := &p.frames[idx]
	if err := p.pgr.Read(pageID, &f.pg); err != nil {
		f.valid = false
		return nil, err
	}
	f.pageID = pageID
	f.valid = true
	f.lastAccess = p.counter
	f.pinCount = 1
	p.byPage[pageID] = idx
	return &f.pg, nil
}

// acquireFrame finds a free frame, or evicts the least-recently-used
// unpinned resident frame. Caller holds p.mu.
func (p *Pool) acquireFrame() (int, error) {
	for i := range p.frames {
		if !p.frames[i].valid {
			return i, nil
		}
	}

	victim := -1
	var oldest uint64
	for i := range p.frames {
		f := &p.frames[i]
		if f.pinCount > 0 {
			continue
		}
		if victim == -1 || f.lastAccess < oldest {
			victim = i
			oldest = f.lastAccess
		}
	}
	if victim == -1 {
		return -1, storageerr.Wrap("buffer.GetPage", storageerr.OOM,
			fmt.Errorf("pool exhausted: all %d frames pinned", len(p.frames)))
	}

	f := &p.frames[victim]
	if f.pg.Dirty {
		if err := p.pgr.Write(&f.pg); err != nil {
			return -1, err
		}
	}
	delete(p.byPage, f.pageID)
	f.valid = false
	return victim, nil
}

// UnpinPage releases one pin on pageID. dirty, if true, marks the page as
// modified regardless of its previous dirty state; it is never cleared
// by UnpinPage alone, only by a successful flush.
func (p *Pool) UnpinPage(pageID uint32, dirty bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx, ok := p.byPage[pageID]
	if !ok {
		return storageerr.Wrap("buffer.UnpinPage", storageerr.Usage,
			fmt.Errorf("page %d not resident", pageID))
	}
	f := &p.frames[idx]
	if dirty {
		f.pg.Dirty = true
	}
	if f.pinCount == 0 {
		return storageerr.Wrap("buffer.UnpinPage", storageerr.Usage,
			fmt.Errorf("page %d not pinned", pageID))
	}
	f.pinCount--
	return nil
}

// FlushPage writes pageID's current contents to the pager if resident
// and dirty. It is a no-op (not an error) if the page is not resident.
func (p *Pool) FlushPage(pageID uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.byPage[pageID]
	if !ok {
		return nil
	}
	f := &p.frames[idx]
	if !f.pg.Dirty {
		return nil
	}
	if err := p.pgr.Write(&f.pg); err != nil {
		return err
	}
	return nil
}

// FlushAll writes every resident dirty page to the pager, then syncs the
// pager. Used by Checkpoint.
func (p *Pool) FlushAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.frames {
		f := &p.frames[i]
		if !f.valid || !f.pg.Dirty {
			continue
		}
		if err := p.pgr.Write(&f.pg); err != nil {
			return err
		}
	}
	if err := p.pgr.Sync(); err != nil {
		return err
	}
	p.cfg.Logger.Printf("buffer: flushed all dirty frames")
	return nil
}

// Stats reports the pool's current occupancy, for tests and operators.
type Stats struct {
	Capacity int
	Resident int
	Pinned   int
}

// Stats returns a point-in-time snapshot of pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Capacity: len(p.frames)}
	for i := range p.frames {
		if !p.frames[i].valid {
			continue
		}
		s.Resident++
		if p.frames[i].pinCount > 0 {
			s.Pinned++
		}
	}
	return s
}
