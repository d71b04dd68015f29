package bufferpool

import (
	"container/list"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/jamjamfong/lstore/page"
	"github.com/jamjamfong/lstore/pagestore"
)

var (
	ErrExhausted   = errors.New("bufferpool: all pages are pinned")
	ErrPinned      = errors.New("bufferpool: page is pinned")
	ErrNotResident = errors.New("bufferpool: page not resident")
)

// BufferPool keeps at most capacity pages in memory. Pages which are not pinned
// are evicted least recently used first; dirty pages are written to the store
// before they are dropped.
type BufferPool struct {
	mutex    sync.Mutex
	capacity int
	st       pagestore.Store
	frames   map[pagestore.ID]*list.Element
	lru      *list.List // most recently used at the front
	stats    Stats
}

type frame struct {
	id pagestore.ID
	pg *page.Page
}

type Stats struct {
	Capacity  int
	Resident  int
	Pinned    int
	Dirty     int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Flushes   uint64
}

func New(capacity int, st pagestore.Store) *BufferPool {
	if capacity < 1 {
		panic(fmt.Sprintf("bufferpool: capacity must be positive: %d", capacity))
	}
	return &BufferPool{
		capacity: capacity,
		st:       st,
		frames:   map[pagestore.ID]*list.Element{},
		lru:      list.New(),
	}
}

func (bp *BufferPool) Capacity() int {
	return bp.capacity
}

func (bp *BufferPool) Store() pagestore.Store {
	return bp.st
}

func (bp *BufferPool) lookup(id pagestore.ID) *page.Page {
	elem, ok := bp.frames[id]
	if !ok {
		return nil
	}
	bp.lru.MoveToFront(elem)
	return elem.Value.(*frame).pg
}

// Get returns the resident page for id, or nil; it does not touch the store.
func (bp *BufferPool) Get(id pagestore.ID) *page.Page {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	pg := bp.lookup(id)
	if pg != nil {
		bp.stats.Hits += 1
	}
	return pg
}

// Fetch returns the page for id, loading it from the store or creating a fresh
// page when the store has never seen it.
func (bp *BufferPool) Fetch(id pagestore.ID) (*page.Page, error) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	return bp.fetch(id)
}

func (bp *BufferPool) fetch(id pagestore.ID) (*page.Page, error) {
	if pg := bp.lookup(id); pg != nil {
		bp.stats.Hits += 1
		return pg, nil
	}
	bp.stats.Misses += 1

	err := bp.makeRoom()
	if err != nil {
		return nil, err
	}

	pg, err := bp.st.Read(id)
	if err == pagestore.ErrNotExist {
		pg = page.New()
	} else if err != nil {
		return nil, fmt.Errorf("bufferpool: load %s: %w", id, err)
	}

	log.WithFields(log.Fields{
		"page":     id,
		"occupied": pg.Occupied(),
	}).Trace("bufferpool: load")
	bp.add(id, pg)
	return pg, nil
}

func (bp *BufferPool) add(id pagestore.ID, pg *page.Page) {
	bp.frames[id] = bp.lru.PushFront(&frame{id: id, pg: pg})
}

// Register places an already loaded page in the pool under the id it will be
// flushed to.
func (bp *BufferPool) Register(id pagestore.ID, pg *page.Page) error {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	if _, ok := bp.frames[id]; ok {
		return fmt.Errorf("bufferpool: page %s already resident", id)
	}
	err := bp.makeRoom()
	if err != nil {
		return err
	}
	bp.add(id, pg)
	return nil
}

// Replace swaps the contents of the frame for id with pg; pg is marked dirty.
func (bp *BufferPool) Replace(id pagestore.ID, pg *page.Page) error {
	return bp.ReplaceAll(map[pagestore.ID]*page.Page{id: pg})
}

// ReplaceAll swaps in every page of pgs or none of them. No page being replaced
// may be pinned.
func (bp *BufferPool) ReplaceAll(pgs map[pagestore.ID]*page.Page) error {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	var missing int
	for id := range pgs {
		elem, ok := bp.frames[id]
		if !ok {
			missing += 1
			continue
		}
		if elem.Value.(*frame).pg.PinCount() > 0 {
			return fmt.Errorf("%w: %s", ErrPinned, id)
		}
	}

	need := len(bp.frames) + missing - bp.capacity
	if need > 0 {
		var avail int
		for _, elem := range bp.frames {
			fr := elem.Value.(*frame)
			if _, ok := pgs[fr.id]; !ok && fr.pg.PinCount() == 0 {
				avail += 1
			}
		}
		if avail < need {
			return ErrExhausted
		}
		for ; need > 0; need -= 1 {
			err := bp.evict(pgs)
			if err != nil {
				return err
			}
		}
	}

	for id, pg := range pgs {
		pg.SetDirty(true)
		if elem, ok := bp.frames[id]; ok {
			elem.Value.(*frame).pg = pg
			bp.lru.MoveToFront(elem)
		} else {
			bp.add(id, pg)
		}
	}
	return nil
}

func (bp *BufferPool) Pin(id pagestore.ID) error {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	elem, ok := bp.frames[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotResident, id)
	}
	elem.Value.(*frame).pg.Pin()
	return nil
}

// Unpin is a no-op for a page which is not resident or not pinned.
func (bp *BufferPool) Unpin(id pagestore.ID) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	if elem, ok := bp.frames[id]; ok {
		elem.Value.(*frame).pg.Unpin()
	}
}

func (bp *BufferPool) MarkDirty(id pagestore.ID) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	if elem, ok := bp.frames[id]; ok {
		elem.Value.(*frame).pg.SetDirty(true)
	}
}

// Acquire fetches the page for id and pins it in one step; the caller must
// Unpin it.
func (bp *BufferPool) Acquire(id pagestore.ID) (*page.Page, error) {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	pg, err := bp.fetch(id)
	if err != nil {
		return nil, err
	}
	pg.Pin()
	return pg, nil
}

// WithPage fetches and pins the page for id, calls fn, and unpins the page
// however fn returns.
func (bp *BufferPool) WithPage(id pagestore.ID, fn func(pg *page.Page) error) error {
	pg, err := bp.Acquire(id)
	if err != nil {
		return err
	}
	defer pg.Unpin()

	return fn(pg)
}

func (bp *BufferPool) makeRoom() error {
	if len(bp.frames) < bp.capacity {
		return nil
	}
	return bp.evict(nil)
}

// evict drops the least recently used unpinned page. When every page is
// pinned the frame table is left unchanged. Pages in keep are never chosen.
func (bp *BufferPool) evict(keep map[pagestore.ID]*page.Page) error {
	for elem := bp.lru.Back(); elem != nil; elem = elem.Prev() {
		fr := elem.Value.(*frame)
		if fr.pg.PinCount() > 0 {
			continue
		}
		if _, ok := keep[fr.id]; ok {
			continue
		}

		dirty := fr.pg.Dirty()
		if dirty {
			err := bp.flush(fr)
			if err != nil {
				return err
			}
		}

		log.WithFields(log.Fields{
			"page":  fr.id,
			"dirty": dirty,
		}).Debug("bufferpool: evict")
		bp.lru.Remove(elem)
		delete(bp.frames, fr.id)
		bp.stats.Evictions += 1
		return nil
	}

	log.WithField("resident", len(bp.frames)).Warn("bufferpool: all pages are pinned")
	return ErrExhausted
}

func (bp *BufferPool) flush(fr *frame) error {
	cp := fr.pg.Clone()
	err := bp.st.Write(fr.id, cp)
	if err != nil {
		return fmt.Errorf("bufferpool: flush %s: %w", fr.id, err)
	}
	fr.pg.MarkClean(cp.Version())
	bp.stats.Flushes += 1
	return nil
}

func (bp *BufferPool) Flush(id pagestore.ID) error {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	elem, ok := bp.frames[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotResident, id)
	}
	fr := elem.Value.(*frame)
	if !fr.pg.Dirty() {
		return nil
	}
	return bp.flush(fr)
}

func (bp *BufferPool) flushMatching(match func(id pagestore.ID) bool) error {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	var cnt int
	for elem := bp.lru.Front(); elem != nil; elem = elem.Next() {
		fr := elem.Value.(*frame)
		if !match(fr.id) || !fr.pg.Dirty() {
			continue
		}
		err := bp.flush(fr)
		if err != nil {
			return err
		}
		cnt += 1
	}

	log.WithField("pages", cnt).Debug("bufferpool: flushed")
	return nil
}

// FlushAll writes every dirty resident page to the store.
func (bp *BufferPool) FlushAll() error {
	return bp.flushMatching(func(id pagestore.ID) bool { return true })
}

func (bp *BufferPool) FlushTable(tbl string) error {
	return bp.flushMatching(func(id pagestore.ID) bool { return id.Table == tbl })
}

// DropTable discards every resident page of tbl without writing it.
func (bp *BufferPool) DropTable(tbl string) error {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	var drop []*list.Element
	for elem := bp.lru.Front(); elem != nil; elem = elem.Next() {
		fr := elem.Value.(*frame)
		if fr.id.Table != tbl {
			continue
		}
		if fr.pg.PinCount() > 0 {
			return fmt.Errorf("%w: %s", ErrPinned, fr.id)
		}
		drop = append(drop, elem)
	}

	for _, elem := range drop {
		delete(bp.frames, elem.Value.(*frame).id)
		bp.lru.Remove(elem)
	}
	return nil
}

func (bp *BufferPool) Stats() Stats {
	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	stats := bp.stats
	stats.Capacity = bp.capacity
	stats.Resident = len(bp.frames)
	for _, elem := range bp.frames {
		pg := elem.Value.(*frame).pg
		if pg.PinCount() > 0 {
			stats.Pinned += 1
		}
		if pg.Dirty() {
			stats.Dirty += 1
		}
	}
	return stats
}

// Close flushes every dirty page and closes the store.
func (bp *BufferPool) Close() error {
	err := bp.FlushAll()
	if err != nil {
		return err
	}

	bp.mutex.Lock()
	defer bp.mutex.Unlock()

	bp.frames = map[pagestore.ID]*list.Element{}
	bp.lru.Init()
	return bp.st.Close()
}
