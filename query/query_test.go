package query_test

import (
	"path/filepath"
	"testing"

	"github.com/jamjamfong/lstore/bufferpool"
	"github.com/jamjamfong/lstore/pagestore"
	"github.com/jamjamfong/lstore/query"
	"github.com/jamjamfong/lstore/table"
	"github.com/jamjamfong/lstore/testutil"
)

func init() {
	testutil.SetupLogger(filepath.Join("testdata", "query.log"))
}

func newQuery(t *testing.T, columns, key int) *query.Query {
	t.Helper()

	bp := bufferpool.New(64, pagestore.NewBTreeStore())
	tbl, err := table.New("grades", columns, key, bp)
	if err != nil {
		t.Fatalf("table.New() failed with %s", err)
	}
	return query.New(tbl)
}

func i64(v int64) *int64 {
	return &v
}

func columns(rec query.Record) []int64 {
	vals := make([]int64, len(rec.Columns))
	for col, v := range rec.Columns {
		if v == nil {
			vals[col] = -1
		} else {
			vals[col] = *v
		}
	}
	return vals
}

func checkSelect(t *testing.T, recs []query.Record, ok bool, want ...[]int64) {
	t.Helper()

	if !ok {
		t.Errorf("select failed")
		return
	}
	if len(recs) != len(want) {
		t.Errorf("select got %d records want %d", len(recs), len(want))
		return
	}
	for i, rec := range recs {
		got := columns(rec)
		for col := range got {
			if got[col] != want[i][col] {
				t.Errorf("select got %v want %v", got, want[i])
				break
			}
		}
	}
}

func TestScenario(t *testing.T) {
	q := newQuery(t, 3, 0)
	all := []int{1, 1, 1}

	if !q.Insert(1, 10, 100) {
		t.Fatalf("Insert(1, 10, 100) failed")
	}
	if !q.Update(1, nil, i64(20), nil) {
		t.Fatalf("Update(1, nil, 20, nil) failed")
	}
	if !q.Update(1, nil, nil, i64(200)) {
		t.Fatalf("Update(1, nil, nil, 200) failed")
	}

	recs, ok := q.Select(1, 0, all)
	checkSelect(t, recs, ok, []int64{1, 20, 200})
	if ok && len(recs) == 1 && recs[0].Key != 1 {
		t.Errorf("Select(1) got key %d want 1", recs[0].Key)
	}
	recs, ok = q.SelectVersion(1, 0, all, -1)
	checkSelect(t, recs, ok, []int64{1, 20, 100})
	recs, ok = q.SelectVersion(1, 0, all, -2)
	checkSelect(t, recs, ok, []int64{1, 10, 100})
	recs, ok = q.Select(1, 0, []int{0, 1, 0})
	checkSelect(t, recs, ok, []int64{-1, 20, -1})

	if !q.Delete(1) {
		t.Fatalf("Delete(1) failed")
	}
	recs, ok = q.Select(1, 0, all)
	checkSelect(t, recs, ok)
	if q.Delete(1) {
		t.Errorf("Delete(1) twice succeeded")
	}
	if q.Update(1, nil, i64(30), nil) {
		t.Errorf("Update(1) after delete succeeded")
	}
	if !q.Insert(1, 11, 111) {
		t.Errorf("Insert(1) after delete failed")
	}
}

func TestInsert(t *testing.T) {
	q := newQuery(t, 3, 1)

	if !q.Insert(1, 2, 3) {
		t.Errorf("Insert(1, 2, 3) failed")
	}
	if q.Insert(4, 2, 6) {
		t.Errorf("Insert(4, 2, 6) with a duplicate key succeeded")
	}
	if q.Insert(1, 2) {
		t.Errorf("Insert(1, 2) with too few columns succeeded")
	}
	if q.Update(2, nil, nil) {
		t.Errorf("Update(2) with too few columns succeeded")
	}
	if !q.Insert(4, 5, 6) {
		t.Errorf("Insert(4, 5, 6) failed")
	}
	if q.Update(2, nil, i64(5), nil) {
		t.Errorf("Update(2) to an existing key succeeded")
	}
	if q.Update(2, nil, i64(7), nil) {
		t.Errorf("Update(2) to a new key succeeded")
	}
	if q.Update(2, nil, i64(2), nil) {
		t.Errorf("Update(2) to the same key succeeded")
	}
	if !q.Update(2, i64(8), nil, nil) {
		t.Errorf("Update(2, 8, nil, nil) failed")
	}
	recs, ok := q.Select(2, 1, []int{1, 1, 1})
	checkSelect(t, recs, ok, []int64{8, 2, 3})
	recs, ok = q.Select(7, 1, []int{1, 1, 1})
	checkSelect(t, recs, ok)
}

func TestSelectColumn(t *testing.T) {
	q := newQuery(t, 3, 0)

	for n := int64(1); n <= 10; n++ {
		if !q.Insert(n, n%3, n*n) {
			t.Fatalf("Insert(%d) failed", n)
		}
	}
	q.Update(4, nil, i64(0), nil)

	recs, ok := q.Select(0, 1, []int{1, 0, 0})
	checkSelect(t, recs, ok, []int64{3, -1, -1}, []int64{4, -1, -1}, []int64{6, -1, -1},
		[]int64{9, -1, -1})

	err := q.Table().CreateIndex(1)
	if err != nil {
		t.Fatal(err)
	}
	recs, ok = q.Select(0, 1, []int{1, 0, 0})
	checkSelect(t, recs, ok, []int64{3, -1, -1}, []int64{4, -1, -1}, []int64{6, -1, -1},
		[]int64{9, -1, -1})

	q.Update(6, nil, i64(2), nil)
	q.Update(1, nil, i64(0), nil)
	recs, ok = q.Select(0, 1, []int{1, 0, 0})
	checkSelect(t, recs, ok, []int64{3, -1, -1}, []int64{4, -1, -1}, []int64{9, -1, -1},
		[]int64{1, -1, -1})

	_, ok = q.Select(0, 1, []int{1, 0})
	if ok {
		t.Errorf("Select() with a short projection succeeded")
	}
}

func TestSum(t *testing.T) {
	q := newQuery(t, 3, 0)

	for n := int64(1); n <= 10; n++ {
		if !q.Insert(n*2, n, 0) {
			t.Fatalf("Insert(%d) failed", n*2)
		}
	}

	cases := []struct {
		start, end int64
		sum        int64
		ok         bool
	}{
		{start: 2, end: 20, sum: 55, ok: true},
		{start: 3, end: 7, sum: 2 + 3, ok: true},
		{start: 20, end: 20, sum: 10, ok: true},
		{start: 21, end: 40},
		{start: 9, end: 1},
	}
	for _, c := range cases {
		sum, ok := q.Sum(c.start, c.end, 1)
		if ok != c.ok || sum != c.sum {
			t.Errorf("Sum(%d, %d, 1) got %d, %v want %d, %v", c.start, c.end, sum, ok, c.sum,
				c.ok)
		}
	}

	for n := int64(1); n <= 10; n++ {
		if !q.Update(n*2, nil, i64(n*10), nil) {
			t.Fatalf("Update(%d) failed", n*2)
		}
	}
	if sum, ok := q.Sum(2, 20, 1); !ok || sum != 550 {
		t.Errorf("Sum(2, 20, 1) got %d, %v want 550", sum, ok)
	}
	if sum, ok := q.SumVersion(2, 20, 1, -1); !ok || sum != 55 {
		t.Errorf("SumVersion(2, 20, 1, -1) got %d, %v want 55", sum, ok)
	}
	if sum, ok := q.SumVersion(2, 20, 1, 0); !ok || sum != 550 {
		t.Errorf("SumVersion(2, 20, 1, 0) got %d, %v want 550", sum, ok)
	}
	if _, ok := q.SumVersion(2, 20, 1, 1); ok {
		t.Errorf("SumVersion(2, 20, 1, 1) succeeded")
	}
}

func TestIncrement(t *testing.T) {
	q := newQuery(t, 3, 0)

	if !q.Insert(1, 10, 100) {
		t.Fatal("Insert(1) failed")
	}
	for n := 0; n < 5; n++ {
		if !q.Increment(1, 2) {
			t.Fatalf("Increment(1, 2) failed")
		}
	}
	recs, ok := q.Select(1, 0, []int{1, 1, 1})
	checkSelect(t, recs, ok, []int64{1, 10, 105})
	recs, ok = q.SelectVersion(1, 0, []int{1, 1, 1}, -2)
	checkSelect(t, recs, ok, []int64{1, 10, 103})

	if q.Increment(2, 2) {
		t.Errorf("Increment(2, 2) of a missing key succeeded")
	}
	if q.Increment(1, 3) {
		t.Errorf("Increment(1, 3) of a missing column succeeded")
	}
}
