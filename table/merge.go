package table

import (
	"fmt"
	"sync"

	"github.com/google/btree"
	log "github.com/sirupsen/logrus"

	"github.com/jamjamfong/lstore/page"
	"github.com/jamjamfong/lstore/pagestore"
)

type MergeRequest struct {
	Table *Table
	Range int
}

// Merger consolidates base page ranges in the background, one request at a
// time.
type Merger struct {
	mutex    sync.Mutex
	closed   bool
	requests chan MergeRequest
	done     chan struct{}
}

func NewMerger(queue int) *Merger {
	m := &Merger{
		requests: make(chan MergeRequest, queue),
		done:     make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Merger) run() {
	defer close(m.done)

	for req := range m.requests {
		err := req.Table.Merge(req.Range)
		if err != nil {
			log.WithFields(log.Fields{
				"table": req.Table.name,
				"range": req.Range,
			}).WithError(err).Warn("merge: failed")
		}
	}
}

// Enqueue never blocks; it returns false if the queue is full or the merger is
// closed.
func (m *Merger) Enqueue(req MergeRequest) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.closed {
		return false
	}
	select {
	case m.requests <- req:
		return true
	default:
		log.WithFields(log.Fields{
			"table": req.Table.name,
			"range": req.Range,
		}).Warn("merge: queue full")
		return false
	}
}

// Close waits for the queued requests to be merged and stops the worker.
func (m *Merger) Close() {
	m.mutex.Lock()
	if m.closed {
		m.mutex.Unlock()
		return
	}
	m.closed = true
	close(m.requests)
	m.mutex.Unlock()

	<-m.done
}

type mergeSnapshot struct {
	rng    int
	dir    *btree.BTree
	pages  []*page.Page
	merged map[int]int64
}

// Merge rewrites the base records of a full base page range with their latest
// values and drops the tail records it consumed from the page directory. The
// table is locked only while taking a snapshot and while installing the result,
// and readers see either the old chains or the consolidated base records.
func (t *Table) Merge(rng int) error {
	t.mutex.Lock()
	if t.dropped {
		t.mutex.Unlock()
		return nil
	}
	snap, err := t.mergeSnapshot(rng)
	t.mutex.Unlock()
	if err != nil || snap == nil {
		return err
	}

	consumed, err := t.consolidate(snap)
	if err != nil {
		return err
	}
	if len(snap.merged) == 0 {
		return nil
	}
	return t.install(snap, consumed)
}

func (t *Table) install(snap *mergeSnapshot, consumed []RID) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.dropped {
		log.WithFields(log.Fields{
			"table": t.name,
			"range": snap.rng,
		}).Debug("merge: table dropped")
		return nil
	}
	return t.installMerge(snap, consumed)
}

func (t *Table) mergeSnapshot(rng int) (*mergeSnapshot, error) {
	if rng < 0 || rng >= t.baseRanges {
		return nil, fmt.Errorf("table: %s: merge of range %d of %d", t.name, rng, t.baseRanges)
	}

	snap := &mergeSnapshot{
		rng:    rng,
		pages:  make([]*page.Page, MetaColumns+t.columns),
		merged: map[int]int64{},
	}
	for col := range snap.pages {
		err := t.bp.WithPage(t.pageID(pagestore.Base, rng, col),
			func(pg *page.Page) error {
				snap.pages[col] = pg.Clone()
				return nil
			})
		if err != nil {
			return nil, err
		}
	}
	if snap.pages[RIDColumn].HasCapacity() {
		// Still taking inserts.
		return nil, nil
	}
	snap.dir = t.dir.Clone()
	return snap, nil
}

// consolidate computes the latest values into the snapshot's page copies and
// returns the tail rids which are no longer needed.
func (t *Table) consolidate(snap *mergeSnapshot) ([]RID, error) {
	var consumed []RID
	pages := snap.pages

	for slot := 0; slot < pages[RIDColumn].Occupied(); slot++ {
		rid, err := pages[RIDColumn].Read(slot)
		if err != nil {
			return nil, err
		}
		loc, ok := lookup(snap.dir, RID(rid))
		if !ok || loc.Kind != pagestore.Base || loc.Range != snap.rng || loc.Slot != slot {
			continue
		}
		tail, err := pages[IndirectionColumn].Read(slot)
		if err != nil {
			return nil, err
		}
		if RID(tail) == NullRID {
			continue
		}

		for col := 0; col < t.columns; col++ {
			v, err := t.resolve(snap.dir, loc, RID(tail), 0, col)
			if err != nil {
				return nil, err
			}
			err = pages[MetaColumns+col].WriteAt(slot, v)
			if err != nil {
				return nil, err
			}
		}

		for next := RID(tail); next != NullRID; {
			tl, ok := lookup(snap.dir, next)
			if !ok || tl.Kind != pagestore.Tail {
				break
			}
			consumed = append(consumed, next)
			prev, err := t.readSlot(tl, IndirectionColumn)
			if err != nil {
				return nil, err
			}
			if RID(prev) >= next {
				break
			}
			next = RID(prev)
		}

		err = pages[IndirectionColumn].WriteAt(slot, int64(NullRID))
		if err != nil {
			return nil, err
		}
		snap.merged[slot] = tail
	}
	return consumed, nil
}

func (t *Table) installMerge(snap *mergeSnapshot, consumed []RID) error {
	// Records updated since the snapshot keep their newer tail records.
	for slot, tail := range snap.merged {
		cur, err := t.readSlot(Location{Kind: pagestore.Base, Range: snap.rng, Slot: slot},
			IndirectionColumn)
		if err != nil {
			return err
		}
		if cur != tail {
			err = snap.pages[IndirectionColumn].WriteAt(slot, cur)
			if err != nil {
				return err
			}
		}
	}

	pgs := map[pagestore.ID]*page.Page{}
	for col, pg := range snap.pages {
		pgs[t.pageID(pagestore.Base, snap.rng, col)] = pg
	}
	err := t.bp.ReplaceAll(pgs)
	if err != nil {
		return err
	}

	for _, rid := range consumed {
		t.dir.Delete(dirEntry{rid: rid})
	}
	log.WithFields(log.Fields{
		"table":   t.name,
		"range":   snap.rng,
		"records": len(snap.merged),
		"tails":   len(consumed),
	}).Debug("merge: installed")
	return nil
}
