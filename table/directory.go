package table

import (
	"github.com/google/btree"

	"github.com/jamjamfong/lstore/pagestore"
)

// Location is where a record lives: a slot in a base or tail page range.
type Location struct {
	Kind  pagestore.Kind
	Range int
	Slot  int
}

type dirEntry struct {
	rid RID
	loc Location
}

func (de dirEntry) Less(item btree.Item) bool {
	return de.rid < item.(dirEntry).rid
}

func lookup(dir *btree.BTree, rid RID) (Location, bool) {
	item := dir.Get(dirEntry{rid: rid})
	if item == nil {
		return Location{}, false
	}
	return item.(dirEntry).loc, true
}

func ascendBase(dir *btree.BTree, fn func(rid RID, loc Location) bool) {
	dir.Ascend(
		func(item btree.Item) bool {
			de := item.(dirEntry)
			if de.loc.Kind != pagestore.Base {
				return true
			}
			return fn(de.rid, de.loc)
		})
}
