package table

import (
	"fmt"

	"github.com/google/btree"

	"github.com/jamjamfong/lstore/bufferpool"
	"github.com/jamjamfong/lstore/index"
	"github.com/jamjamfong/lstore/pagestore"
)

type Entry struct {
	RID      RID
	Location Location
}

// Meta is everything about a table which is not in its pages.
type Meta struct {
	Name       string
	Columns    int
	Key        int
	NextRID    RID
	BaseRanges int
	TailRanges int
	Indexed    []int
	Directory  []Entry
}

func (t *Table) Meta() Meta {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	md := Meta{
		Name:       t.name,
		Columns:    t.columns,
		Key:        t.key,
		NextRID:    t.nextRID,
		BaseRanges: t.baseRanges,
		TailRanges: t.tailRanges,
		Indexed:    t.idx.Columns(),
		Directory:  make([]Entry, 0, t.dir.Len()),
	}
	t.dir.Ascend(
		func(item btree.Item) bool {
			de := item.(dirEntry)
			md.Directory = append(md.Directory, Entry{RID: de.rid, Location: de.loc})
			return true
		})
	return md
}

// Load rebuilds a table from md; its pages are read from the buffer pool's
// store as they are needed. Indexes are rebuilt from the latest values.
func Load(md Meta, bp *bufferpool.BufferPool, opts ...Option) (*Table, error) {
	t, err := newTable(md.Name, md.Columns, md.Key, bp, opts)
	if err != nil {
		return nil, err
	}
	if md.NextRID < 1 || md.BaseRanges < 0 || md.TailRanges < 0 {
		return nil, fmt.Errorf("table: %s: bad metadata", md.Name)
	}
	t.nextRID = md.NextRID
	t.baseRanges = md.BaseRanges
	t.tailRanges = md.TailRanges

	for _, e := range md.Directory {
		loc := e.Location
		n := md.BaseRanges
		if loc.Kind == pagestore.Tail {
			n = md.TailRanges
		} else if loc.Kind != pagestore.Base {
			return nil, fmt.Errorf("table: %s: rid %d: bad kind %d", md.Name, e.RID, loc.Kind)
		}
		if e.RID <= NullRID || e.RID >= md.NextRID || loc.Range < 0 || loc.Range >= n ||
			loc.Slot < 0 {

			return nil, fmt.Errorf("table: %s: rid %d: bad location %v", md.Name, e.RID, loc)
		}
		t.dir.ReplaceOrInsert(dirEntry{rid: e.RID, loc: loc})
	}

	t.idx, err = index.New(md.Columns, md.Key, source{t})
	if err != nil {
		return nil, err
	}
	for _, col := range md.Indexed {
		err = t.idx.CreateIndex(col)
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}
