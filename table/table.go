package table

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	log "github.com/sirupsen/logrus"

	"github.com/jamjamfong/lstore/bufferpool"
	"github.com/jamjamfong/lstore/index"
	"github.com/jamjamfong/lstore/page"
	"github.com/jamjamfong/lstore/pagestore"
)

// Every page range stores the metadata columns first, followed by the data
// columns.
const (
	IndirectionColumn = iota
	RIDColumn
	TimestampColumn
	SchemaEncodingColumn
	MetaColumns
)

const (
	DefaultMergeThreshold = 50

	// MaxColumns is bounded by the width of the schema encoding.
	MaxColumns = 63
)

type RID int64

const NullRID RID = 0

var (
	ErrColumns = errors.New("table: wrong number of columns")
	ErrColumn  = errors.New("table: column out of range")
	ErrVersion = errors.New("table: relative version must not be positive")
	ErrTorn    = errors.New("table: page range out of step")
)

type Option func(t *Table)

// WithMergeThreshold sets the number of new tail page ranges after which the
// base page ranges are queued for merging.
func WithMergeThreshold(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.mergeThreshold = n
		}
	}
}

func WithMerger(m *Merger) Option {
	return func(t *Table) {
		t.merger = m
	}
}

// Table stores records column by column in page ranges held by a buffer pool.
// Updates append tail records; a base record's INDIRECTION slot points at its
// newest tail record and each tail record points at the one before it.
type Table struct {
	mutex          sync.Mutex
	name           string
	columns        int
	key            int
	bp             *bufferpool.BufferPool
	dir            *btree.BTree
	nextRID        RID
	baseRanges     int
	tailRanges     int
	idx            *index.Index
	mergeThreshold int
	merger         *Merger
	newTails       int
	dropped        bool
}

func New(name string, columns, key int, bp *bufferpool.BufferPool,
	opts ...Option) (*Table, error) {

	t, err := newTable(name, columns, key, bp, opts)
	if err != nil {
		return nil, err
	}
	t.idx, err = index.New(columns, key, source{t})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func newTable(name string, columns, key int, bp *bufferpool.BufferPool,
	opts []Option) (*Table, error) {

	if columns < 1 || columns > MaxColumns {
		return nil, fmt.Errorf("%w: %d", ErrColumns, columns)
	}
	if key < 0 || key >= columns {
		return nil, fmt.Errorf("%w: key %d of %d", ErrColumn, key, columns)
	}
	err := bp.Store().Define(name, MetaColumns+columns)
	if err != nil {
		return nil, err
	}

	t := &Table{
		name:           name,
		columns:        columns,
		key:            key,
		bp:             bp,
		dir:            btree.New(16),
		nextRID:        1,
		mergeThreshold: DefaultMergeThreshold,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Table) Name() string {
	return t.name
}

// Columns is the number of data columns.
func (t *Table) Columns() int {
	return t.columns
}

func (t *Table) Key() int {
	return t.key
}

// Drop marks the table as dropped; merges which have not yet installed their
// result discard it.
func (t *Table) Drop() {
	t.mutex.Lock()
	t.dropped = true
	t.mutex.Unlock()
}

func (t *Table) String() string {
	return t.name
}

func (t *Table) pageID(kind pagestore.Kind, rng, col int) pagestore.ID {
	return pagestore.ID{
		Table:  t.name,
		Kind:   kind,
		Range:  rng,
		Column: col,
	}
}

func (t *Table) fullMask() int64 {
	return 1<<uint(t.columns) - 1
}

func (t *Table) readSlot(loc Location, col int) (int64, error) {
	var v int64
	err := t.bp.WithPage(t.pageID(loc.Kind, loc.Range, col),
		func(pg *page.Page) error {
			var err error
			v, err = pg.Read(loc.Slot)
			return err
		})
	return v, err
}

func (t *Table) writeSlot(loc Location, col int, v int64) error {
	return t.bp.WithPage(t.pageID(loc.Kind, loc.Range, col),
		func(pg *page.Page) error {
			return pg.WriteAt(loc.Slot, v)
		})
}

func (t *Table) ranges(kind pagestore.Kind) *int {
	if kind == pagestore.Base {
		return &t.baseRanges
	}
	return &t.tailRanges
}

// currentRange returns the last page range of kind, allocating a new one when
// there is none or the last one is full.
func (t *Table) currentRange(kind pagestore.Kind) (int, error) {
	n := t.ranges(kind)
	if *n > 0 {
		var full bool
		err := t.bp.WithPage(t.pageID(kind, *n-1, RIDColumn),
			func(pg *page.Page) error {
				full = !pg.HasCapacity()
				return nil
			})
		if err != nil {
			return 0, err
		}
		if !full {
			return *n - 1, nil
		}
	}

	rng := *n
	for col := 0; col < MetaColumns+t.columns; col++ {
		_, err := t.bp.Fetch(t.pageID(kind, rng, col))
		if err != nil {
			return 0, err
		}
	}
	*n += 1
	log.WithFields(log.Fields{
		"table": t.name,
		"kind":  kind,
		"range": rng,
	}).Debug("table: new page range")

	if kind == pagestore.Tail {
		t.newTails += 1
		if t.newTails >= t.mergeThreshold {
			t.newTails = 0
			t.scheduleMerge()
		}
	}
	return rng, nil
}

func (t *Table) scheduleMerge() {
	if t.merger == nil {
		return
	}
	var cnt int
	for rng := 0; rng < t.baseRanges; rng++ {
		if t.merger.Enqueue(MergeRequest{Table: t, Range: rng}) {
			cnt += 1
		}
	}
	log.WithFields(log.Fields{
		"table":  t.name,
		"ranges": cnt,
	}).Debug("table: merge scheduled")
}

func (t *Table) acquireRange(kind pagestore.Kind, rng int) ([]*page.Page, error) {
	pgs := make([]*page.Page, 0, MetaColumns+t.columns)
	for col := 0; col < MetaColumns+t.columns; col++ {
		pg, err := t.bp.Acquire(t.pageID(kind, rng, col))
		if err != nil {
			release(pgs)
			return nil, err
		}
		pgs = append(pgs, pg)
	}
	return pgs, nil
}

func release(pgs []*page.Page) {
	for _, pg := range pgs {
		pg.Unpin()
	}
}

// appendRow writes row in lockstep across the current page range of kind. All
// pages of the range are pinned before any is written, so a failure leaves the
// range untouched.
func (t *Table) appendRow(kind pagestore.Kind, row []int64) (Location, error) {
	rng, err := t.currentRange(kind)
	if err != nil {
		return Location{}, err
	}
	pgs, err := t.acquireRange(kind, rng)
	if err != nil {
		return Location{}, err
	}
	defer release(pgs)

	slot := pgs[RIDColumn].Occupied()
	for col, pg := range pgs {
		if pg.Occupied() != slot {
			return Location{}, fmt.Errorf("%w: %s has %d slots, want %d", ErrTorn,
				t.pageID(kind, rng, col), pg.Occupied(), slot)
		}
	}
	for col, pg := range pgs {
		_, err := pg.Write(row[col])
		if err != nil {
			return Location{}, fmt.Errorf("table: write %s: %w", t.pageID(kind, rng, col), err)
		}
	}
	return Location{Kind: kind, Range: rng, Slot: slot}, nil
}

// AddBaseRecord appends a new record and indexes it.
func (t *Table) AddBaseRecord(columns []int64) (RID, error) {
	if len(columns) != t.columns {
		return NullRID, fmt.Errorf("%w: got %d, want %d", ErrColumns, len(columns), t.columns)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	rid := t.nextRID
	row := make([]int64, 0, MetaColumns+t.columns)
	row = append(row, int64(NullRID), int64(rid), time.Now().Unix(), t.fullMask())
	row = append(row, columns...)
	loc, err := t.appendRow(pagestore.Base, row)
	if err != nil {
		return NullRID, err
	}
	t.nextRID += 1
	t.dir.ReplaceOrInsert(dirEntry{rid: rid, loc: loc})
	t.idx.Insert(columns, int64(rid))
	return rid, nil
}

func (t *Table) base(rid RID) (Location, bool) {
	loc, ok := lookup(t.dir, rid)
	if !ok || loc.Kind != pagestore.Base {
		return Location{}, false
	}
	return loc, true
}

// resolve walks the version chain starting at tail: it skips skip tail records
// and then returns col from the first tail record whose schema encoding has the
// column's bit set. The base record's value is used when the chain ends, either
// at NullRID or at a rid with no directory entry.
func (t *Table) resolve(dir *btree.BTree, base Location, tail RID, skip, col int) (int64,
	error) {

	for tail != NullRID {
		loc, ok := lookup(dir, tail)
		if !ok || loc.Kind != pagestore.Tail {
			break
		}
		if skip > 0 {
			skip -= 1
		} else {
			mask, err := t.readSlot(loc, SchemaEncodingColumn)
			if err != nil {
				return 0, err
			}
			if mask&(1<<uint(col)) != 0 {
				return t.readSlot(loc, MetaColumns+col)
			}
		}

		next, err := t.readSlot(loc, IndirectionColumn)
		if err != nil {
			return 0, err
		}
		if RID(next) >= tail {
			// Chains only ever point at older records.
			break
		}
		tail = RID(next)
	}
	return t.readSlot(base, MetaColumns+col)
}

func (t *Table) checkColumn(col int) error {
	if col < 0 || col >= t.columns {
		return fmt.Errorf("%w: %d of %d", ErrColumn, col, t.columns)
	}
	return nil
}

func (t *Table) versionValue(rid RID, col, skip int) (int64, bool, error) {
	loc, ok := t.base(rid)
	if !ok {
		return 0, false, nil
	}
	tail, err := t.readSlot(loc, IndirectionColumn)
	if err != nil {
		return 0, false, err
	}
	v, err := t.resolve(t.dir, loc, RID(tail), skip, col)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// GetColumnValue returns the latest value of col for the base record rid; false
// if rid is not a live base record.
func (t *Table) GetColumnValue(rid RID, col int) (int64, bool, error) {
	err := t.checkColumn(col)
	if err != nil {
		return 0, false, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.versionValue(rid, col, 0)
}

// GetVersionColumnValue returns the value of col as of relative updates ago;
// 0 is the latest value.
func (t *Table) GetVersionColumnValue(rid RID, col, relative int) (int64, bool, error) {
	if relative > 0 {
		return 0, false, fmt.Errorf("%w: %d", ErrVersion, relative)
	}
	err := t.checkColumn(col)
	if err != nil {
		return 0, false, err
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.versionValue(rid, col, versionSkip(relative))
}

const maxSkip = int(^uint(0) >> 1)

// versionSkip turns a relative version into a count of chain hops to skip;
// it saturates for the most negative int.
func versionSkip(relative int) int {
	skip := -relative
	if skip < 0 {
		return maxSkip
	}
	return skip
}

func (t *Table) recordData(rid RID, projection []int, skip int) ([]*int64, error) {
	if len(projection) != t.columns {
		return nil, fmt.Errorf("%w: projection of %d, want %d", ErrColumns, len(projection),
			t.columns)
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	loc, ok := t.base(rid)
	if !ok {
		return nil, nil
	}
	tail, err := t.readSlot(loc, IndirectionColumn)
	if err != nil {
		return nil, err
	}

	data := make([]*int64, t.columns)
	for col, p := range projection {
		if p == 0 {
			continue
		}
		v, err := t.resolve(t.dir, loc, RID(tail), skip, col)
		if err != nil {
			return nil, err
		}
		data[col] = &v
	}
	return data, nil
}

// GetRecordData returns the latest values of the columns selected by a non-zero
// entry in projection; unselected columns are nil. The result is nil if rid is
// not a live base record.
func (t *Table) GetRecordData(rid RID, projection []int) ([]*int64, error) {
	return t.recordData(rid, projection, 0)
}

func (t *Table) GetVersionData(rid RID, projection []int, relative int) ([]*int64, error) {
	if relative > 0 {
		return nil, fmt.Errorf("%w: %d", ErrVersion, relative)
	}
	return t.recordData(rid, projection, versionSkip(relative))
}

// UpdateRecord appends a tail record holding a full snapshot of the record,
// with the non-nil columns replaced, and links it in as the newest version.
// It returns false if rid is not a live base record, if columns has the wrong
// length, or if a value is given for the key column.
func (t *Table) UpdateRecord(rid RID, columns []*int64) (bool, error) {
	if len(columns) != t.columns || columns[t.key] != nil {
		return false, nil
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	loc, ok := t.base(rid)
	if !ok {
		return false, nil
	}
	prev, err := t.readSlot(loc, IndirectionColumn)
	if err != nil {
		return false, err
	}

	old := make([]int64, t.columns)
	for col := range old {
		old[col], err = t.resolve(t.dir, loc, RID(prev), 0, col)
		if err != nil {
			return false, err
		}
	}

	vals := append([]int64(nil), old...)
	var mask int64
	for col, v := range columns {
		if v != nil {
			vals[col] = *v
			mask |= 1 << uint(col)
		}
	}
	tailRID := t.nextRID
	row := make([]int64, 0, MetaColumns+t.columns)
	row = append(row, prev, int64(tailRID), time.Now().Unix(), mask)
	row = append(row, vals...)
	tl, err := t.appendRow(pagestore.Tail, row)
	if err != nil {
		return false, err
	}
	t.nextRID += 1

	err = t.writeSlot(loc, IndirectionColumn, int64(tailRID))
	if err != nil {
		return false, err
	}
	t.dir.ReplaceOrInsert(dirEntry{rid: tailRID, loc: tl})
	t.idx.Update(old, vals, int64(rid))
	return true, nil
}

// DeleteRecord removes rid from the page directory. Page slots and index
// entries are left alone.
func (t *Table) DeleteRecord(rid RID) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.dir.Delete(dirEntry{rid: rid}) != nil
}

// Scan calls fn with each live base rid in rid order until fn returns false.
// fn is called without the table locked and may use the table.
func (t *Table) Scan(fn func(rid RID) bool) {
	var rids []RID

	t.mutex.Lock()
	ascendBase(t.dir,
		func(rid RID, loc Location) bool {
			rids = append(rids, rid)
			return true
		})
	t.mutex.Unlock()

	for _, rid := range rids {
		if !fn(rid) {
			return
		}
	}
}

func toRIDs(rids []int64) []RID {
	if rids == nil {
		return nil
	}
	ret := make([]RID, 0, len(rids))
	for _, rid := range rids {
		ret = append(ret, RID(rid))
	}
	return ret
}

// Locate returns the rids whose indexed col equals value, oldest first.
func (t *Table) Locate(col int, value int64) []RID {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return toRIDs(t.idx.Locate(col, value))
}

func (t *Table) LocateRange(begin, end int64, col int) []RID {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return toRIDs(t.idx.LocateRange(begin, end, col))
}

func (t *Table) CreateIndex(col int) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.idx.CreateIndex(col)
}

func (t *Table) DropIndex(col int) error {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.idx.DropIndex(col)
}

func (t *Table) Indexed(col int) bool {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	return t.idx.Indexed(col)
}

func (t *Table) RemoveKey(col int, value int64, rid RID) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.idx.RemoveKey(col, value, int64(rid))
}

// source is the index's view of the table; the table is already locked when
// the index calls it.
type source struct {
	t *Table
}

func (src source) Scan(fn func(rid int64) bool) {
	ascendBase(src.t.dir,
		func(rid RID, loc Location) bool {
			return fn(int64(rid))
		})
}

func (src source) Value(rid int64, col int) (int64, bool, error) {
	return src.t.versionValue(RID(rid), col, 0)
}
