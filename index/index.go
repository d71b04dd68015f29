package index

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

var (
	ErrColumn  = errors.New("index: column out of range")
	ErrKeyDrop = errors.New("index: key column index may not be dropped")
)

// Source is the read surface of the indexed table: Scan visits every live base
// rid in rid order and Value returns the latest value of a column for a rid.
type Source interface {
	Scan(fn func(rid int64) bool)
	Value(rid int64, col int) (int64, bool, error)
}

// Index maps column values to rids, one ordered tree per indexed column. It
// does no locking of its own; the table serializes access.
type Index struct {
	key   int
	src   Source
	trees []*btree.BTree
}

type entry struct {
	value int64
	rids  []int64
}

func (e *entry) Less(item btree.Item) bool {
	return e.value < item.(*entry).value
}

// New returns an index over columns data columns with the key column indexed
// and backfilled from src.
func New(columns, key int, src Source) (*Index, error) {
	if key < 0 || key >= columns {
		return nil, fmt.Errorf("%w: key %d of %d", ErrColumn, key, columns)
	}
	idx := &Index{
		key:   key,
		src:   src,
		trees: make([]*btree.BTree, columns),
	}
	err := idx.CreateIndex(key)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) Key() int {
	return idx.key
}

func (idx *Index) tree(col int) *btree.BTree {
	if col < 0 || col >= len(idx.trees) {
		return nil
	}
	return idx.trees[col]
}

func (idx *Index) Indexed(col int) bool {
	return idx.tree(col) != nil
}

// Columns returns the indexed columns in increasing order.
func (idx *Index) Columns() []int {
	var cols []int
	for col, tree := range idx.trees {
		if tree != nil {
			cols = append(cols, col)
		}
	}
	return cols
}

// Locate returns the rids with value in col, oldest first; nil if col is not
// indexed.
func (idx *Index) Locate(col int, value int64) []int64 {
	tree := idx.tree(col)
	if tree == nil {
		return nil
	}
	item := tree.Get(&entry{value: value})
	if item == nil {
		return nil
	}
	return append([]int64(nil), item.(*entry).rids...)
}

// LocateRange returns the rids whose value in col is between begin and end
// inclusive, in increasing value order.
func (idx *Index) LocateRange(begin, end int64, col int) []int64 {
	tree := idx.tree(col)
	if tree == nil || begin > end {
		return nil
	}

	var rids []int64
	tree.AscendGreaterOrEqual(&entry{value: begin},
		func(item btree.Item) bool {
			e := item.(*entry)
			if e.value > end {
				return false
			}
			rids = append(rids, e.rids...)
			return true
		})
	return rids
}

// CreateIndex builds the index for col from the latest values of every live
// record. It is a no-op if col is already indexed.
func (idx *Index) CreateIndex(col int) error {
	if col < 0 || col >= len(idx.trees) {
		return fmt.Errorf("%w: %d", ErrColumn, col)
	}
	if idx.trees[col] != nil {
		return nil
	}

	tree := btree.New(16)
	var err error
	idx.src.Scan(
		func(rid int64) bool {
			var val int64
			var ok bool
			val, ok, err = idx.src.Value(rid, col)
			if err != nil {
				return false
			}
			if ok {
				insert(tree, val, rid)
			}
			return true
		})
	if err != nil {
		return err
	}
	idx.trees[col] = tree
	return nil
}

func (idx *Index) DropIndex(col int) error {
	if col < 0 || col >= len(idx.trees) {
		return fmt.Errorf("%w: %d", ErrColumn, col)
	}
	if col == idx.key {
		return ErrKeyDrop
	}
	idx.trees[col] = nil
	return nil
}

func insert(tree *btree.BTree, value, rid int64) {
	item := tree.Get(&entry{value: value})
	if item == nil {
		tree.ReplaceOrInsert(&entry{value: value, rids: []int64{rid}})
		return
	}
	e := item.(*entry)
	for _, r := range e.rids {
		if r == rid {
			return
		}
	}
	e.rids = append(e.rids, rid)
}

func remove(tree *btree.BTree, value, rid int64) {
	item := tree.Get(&entry{value: value})
	if item == nil {
		return
	}
	e := item.(*entry)
	for i, r := range e.rids {
		if r == rid {
			e.rids = append(e.rids[:i], e.rids[i+1:]...)
			break
		}
	}
	if len(e.rids) == 0 {
		tree.Delete(e)
	}
}

// InsertKey adds rid under value in col; it does nothing if col is not indexed.
func (idx *Index) InsertKey(col int, value, rid int64) {
	if tree := idx.tree(col); tree != nil {
		insert(tree, value, rid)
	}
}

func (idx *Index) RemoveKey(col int, value, rid int64) {
	if tree := idx.tree(col); tree != nil {
		remove(tree, value, rid)
	}
}

// Insert adds a new record to every indexed column.
func (idx *Index) Insert(values []int64, rid int64) {
	for col, tree := range idx.trees {
		if tree != nil && col < len(values) {
			insert(tree, values[col], rid)
		}
	}
}

// Update moves rid in every indexed column whose value changed from old to new.
func (idx *Index) Update(old, new []int64, rid int64) {
	for col, tree := range idx.trees {
		if tree == nil || col >= len(old) || col >= len(new) || old[col] == new[col] {
			continue
		}
		remove(tree, old[col], rid)
		insert(tree, new[col], rid)
	}
}
