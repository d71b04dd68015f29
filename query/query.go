package query

import (
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/jamjamfong/lstore/table"
)

var errNotFound = errors.New("query: key not found")

// Record is one result row; Columns holds nil for columns which were not
// selected.
type Record struct {
	RID     table.RID
	Key     int64
	Columns []*int64
}

// Query runs the verbs against one table. A verb which fails for any reason
// returns false; the reason is logged.
type Query struct {
	t *table.Table
}

func New(t *table.Table) *Query {
	return &Query{t: t}
}

func (q *Query) Table() *table.Table {
	return q.t
}

func (q *Query) fail(op string, err error) {
	entry := log.WithFields(log.Fields{
		"table": q.t.Name(),
		"op":    op,
	})
	if err == errNotFound {
		entry.Debug("query: not found")
	} else {
		entry.WithError(err).Warn("query: failed")
	}
}

func (q *Query) locateKey(key int64) (table.RID, bool) {
	rids := q.t.Locate(q.t.Key(), key)
	if len(rids) == 0 {
		return table.NullRID, false
	}
	return rids[0], true
}

// Insert adds a record unless its key is already in use.
func (q *Query) Insert(columns ...int64) bool {
	if len(columns) != q.t.Columns() {
		q.fail("insert", table.ErrColumns)
		return false
	}
	if _, ok := q.locateKey(columns[q.t.Key()]); ok {
		q.fail("insert", errors.New("query: duplicate key"))
		return false
	}

	_, err := q.t.AddBaseRecord(columns)
	if err != nil {
		q.fail("insert", err)
		return false
	}
	return true
}

// locate returns the rids with value in col, using the index on col when
// there is one and a scan of the latest values otherwise.
func (q *Query) locate(col int, value int64) ([]table.RID, error) {
	if q.t.Indexed(col) {
		return q.t.Locate(col, value), nil
	}

	var rids []table.RID
	var err error
	q.t.Scan(
		func(rid table.RID) bool {
			var v int64
			var ok bool
			v, ok, err = q.t.GetColumnValue(rid, col)
			if err != nil {
				return false
			}
			if ok && v == value {
				rids = append(rids, rid)
			}
			return true
		})
	return rids, err
}

func (q *Query) selectVersion(op string, key int64, col int, projection []int,
	relative int) ([]Record, bool) {

	rids, err := q.locate(col, key)
	if err != nil {
		q.fail(op, err)
		return nil, false
	}

	var recs []Record
	for _, rid := range rids {
		data, err := q.t.GetVersionData(rid, projection, relative)
		if err != nil {
			q.fail(op, err)
			return nil, false
		}
		if data == nil {
			continue
		}
		pk, _, err := q.t.GetColumnValue(rid, q.t.Key())
		if err != nil {
			q.fail(op, err)
			return nil, false
		}
		recs = append(recs, Record{RID: rid, Key: pk, Columns: data})
	}
	return recs, true
}

// Select returns the latest version of the records whose col equals key.
// projection selects columns with a non-zero entry.
func (q *Query) Select(key int64, col int, projection []int) ([]Record, bool) {
	return q.selectVersion("select", key, col, projection, 0)
}

func (q *Query) SelectVersion(key int64, col int, projection []int, relative int) ([]Record,
	bool) {

	return q.selectVersion("select_version", key, col, projection, relative)
}

// Update changes the non-nil columns of the record with key; a value for the
// key column makes it fail.
func (q *Query) Update(key int64, columns ...*int64) bool {
	rid, ok := q.locateKey(key)
	if !ok {
		q.fail("update", errNotFound)
		return false
	}
	ok, err := q.t.UpdateRecord(rid, columns)
	if err != nil {
		q.fail("update", err)
		return false
	}
	return ok
}

func (q *Query) Delete(key int64) bool {
	rid, ok := q.locateKey(key)
	if !ok {
		q.fail("delete", errNotFound)
		return false
	}
	if !q.t.DeleteRecord(rid) {
		q.fail("delete", errNotFound)
		return false
	}
	q.t.RemoveKey(q.t.Key(), key, rid)
	return true
}

func (q *Query) sumVersion(op string, start, end int64, col, relative int) (int64, bool) {
	var sum int64
	var found bool
	for _, rid := range q.t.LocateRange(start, end, q.t.Key()) {
		v, ok, err := q.t.GetVersionColumnValue(rid, col, relative)
		if err != nil {
			q.fail(op, err)
			return 0, false
		}
		if ok {
			sum += v
			found = true
		}
	}
	if !found {
		q.fail(op, errNotFound)
		return 0, false
	}
	return sum, true
}

// Sum adds up col over the records with keys between start and end inclusive.
// It fails if there are no such records.
func (q *Query) Sum(start, end int64, col int) (int64, bool) {
	return q.sumVersion("sum", start, end, col, 0)
}

func (q *Query) SumVersion(start, end int64, col, relative int) (int64, bool) {
	return q.sumVersion("sum_version", start, end, col, relative)
}

// Increment adds one to col of the record with key.
func (q *Query) Increment(key int64, col int) bool {
	if col < 0 || col >= q.t.Columns() {
		q.fail("increment", table.ErrColumn)
		return false
	}
	projection := make([]int, q.t.Columns())
	projection[col] = 1
	recs, ok := q.Select(key, q.t.Key(), projection)
	if !ok || len(recs) == 0 {
		q.fail("increment", errNotFound)
		return false
	}

	v := *recs[0].Columns[col] + 1
	columns := make([]*int64, q.t.Columns())
	columns[col] = &v
	return q.Update(key, columns...)
}
