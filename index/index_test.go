package index_test

import (
	"errors"
	"reflect"
	"sort"
	"testing"

	"github.com/jamjamfong/lstore/index"
)

type rows map[int64][]int64

func (r rows) Scan(fn func(rid int64) bool) {
	var rids []int64
	for rid := range r {
		rids = append(rids, rid)
	}
	sort.Slice(rids, func(i, j int) bool { return rids[i] < rids[j] })
	for _, rid := range rids {
		if !fn(rid) {
			return
		}
	}
}

func (r rows) Value(rid int64, col int) (int64, bool, error) {
	row, ok := r[rid]
	if !ok {
		return 0, false, nil
	}
	return row[col], true, nil
}

type failSource struct{}

var errSource = errors.New("source failed")

func (failSource) Scan(fn func(rid int64) bool) {
	fn(1)
}

func (failSource) Value(rid int64, col int) (int64, bool, error) {
	return 0, false, errSource
}

func TestNew(t *testing.T) {
	src := rows{
		1: {10, 100, 7},
		2: {20, 200, 7},
		3: {30, 100, 8},
	}
	idx, err := index.New(3, 0, src)
	if err != nil {
		t.Fatalf("New() failed with %s", err)
	}
	if !idx.Indexed(0) || idx.Indexed(1) || idx.Indexed(3) {
		t.Errorf("Indexed() got %v want [0]", idx.Columns())
	}
	if rids := idx.Locate(0, 20); !reflect.DeepEqual(rids, []int64{2}) {
		t.Errorf("Locate(0, 20) got %v want [2]", rids)
	}
	if rids := idx.Locate(1, 100); rids != nil {
		t.Errorf("Locate(1, 100) on an unindexed column got %v", rids)
	}

	_, err = index.New(3, 3, src)
	if !errors.Is(err, index.ErrColumn) {
		t.Errorf("New(3, 3) got %v want %s", err, index.ErrColumn)
	}
	_, err = index.New(3, 0, failSource{})
	if err != errSource {
		t.Errorf("New() with failing source got %v want %s", err, errSource)
	}
}

func TestLocate(t *testing.T) {
	src := rows{
		1: {10, 100},
		2: {20, 200},
		3: {30, 100},
		4: {40, 300},
		5: {50, 100},
	}
	idx, err := index.New(2, 0, src)
	if err != nil {
		t.Fatal(err)
	}
	err = idx.CreateIndex(1)
	if err != nil {
		t.Fatalf("CreateIndex(1) failed with %s", err)
	}

	cases := []struct {
		col   int
		value int64
		rids  []int64
	}{
		{col: 1, value: 100, rids: []int64{1, 3, 5}},
		{col: 1, value: 200, rids: []int64{2}},
		{col: 1, value: 999},
		{col: 0, value: 40, rids: []int64{4}},
		{col: 0, value: 41},
		{col: 5, value: 10},
	}
	for _, c := range cases {
		rids := idx.Locate(c.col, c.value)
		if !reflect.DeepEqual(rids, c.rids) {
			t.Errorf("Locate(%d, %d) got %v want %v", c.col, c.value, rids, c.rids)
		}
	}

	ranges := []struct {
		begin, end int64
		col        int
		rids       []int64
	}{
		{begin: 20, end: 40, col: 0, rids: []int64{2, 3, 4}},
		{begin: 0, end: 1000, col: 0, rids: []int64{1, 2, 3, 4, 5}},
		{begin: 100, end: 200, col: 1, rids: []int64{1, 3, 5, 2}},
		{begin: 21, end: 29, col: 0},
		{begin: 40, end: 20, col: 0},
		{begin: 0, end: 100, col: 3},
	}
	for _, r := range ranges {
		rids := idx.LocateRange(r.begin, r.end, r.col)
		if !reflect.DeepEqual(rids, r.rids) {
			t.Errorf("LocateRange(%d, %d, %d) got %v want %v", r.begin, r.end, r.col, rids,
				r.rids)
		}
	}
}

func TestMaintain(t *testing.T) {
	src := rows{}
	idx, err := index.New(3, 0, src)
	if err != nil {
		t.Fatal(err)
	}
	err = idx.CreateIndex(2)
	if err != nil {
		t.Fatal(err)
	}

	idx.Insert([]int64{1, 10, 100}, 1)
	idx.Insert([]int64{2, 20, 100}, 2)
	if rids := idx.Locate(2, 100); !reflect.DeepEqual(rids, []int64{1, 2}) {
		t.Errorf("Locate(2, 100) got %v want [1 2]", rids)
	}
	if rids := idx.Locate(1, 10); rids != nil {
		t.Errorf("Locate(1, 10) on an unindexed column got %v", rids)
	}

	idx.Update([]int64{1, 10, 100}, []int64{1, 11, 101}, 1)
	if rids := idx.Locate(2, 100); !reflect.DeepEqual(rids, []int64{2}) {
		t.Errorf("Locate(2, 100) after Update got %v want [2]", rids)
	}
	if rids := idx.Locate(2, 101); !reflect.DeepEqual(rids, []int64{1}) {
		t.Errorf("Locate(2, 101) after Update got %v want [1]", rids)
	}
	if rids := idx.Locate(0, 1); !reflect.DeepEqual(rids, []int64{1}) {
		t.Errorf("Locate(0, 1) after Update got %v want [1]", rids)
	}

	idx.RemoveKey(0, 2, 2)
	if rids := idx.Locate(0, 2); rids != nil {
		t.Errorf("Locate(0, 2) after RemoveKey got %v", rids)
	}
	idx.RemoveKey(0, 2, 2)
	idx.InsertKey(0, 1, 1)
	if rids := idx.Locate(0, 1); !reflect.DeepEqual(rids, []int64{1}) {
		t.Errorf("Locate(0, 1) after duplicate InsertKey got %v want [1]", rids)
	}
}

func TestDropIndex(t *testing.T) {
	src := rows{1: {1, 2}}
	idx, err := index.New(2, 1, src)
	if err != nil {
		t.Fatal(err)
	}

	err = idx.DropIndex(1)
	if err != index.ErrKeyDrop {
		t.Errorf("DropIndex(key) got %v want %s", err, index.ErrKeyDrop)
	}
	err = idx.CreateIndex(0)
	if err != nil {
		t.Fatal(err)
	}
	err = idx.DropIndex(0)
	if err != nil {
		t.Errorf("DropIndex(0) failed with %s", err)
	}
	if idx.Indexed(0) {
		t.Errorf("Indexed(0) after DropIndex got true")
	}
	err = idx.DropIndex(2)
	if !errors.Is(err, index.ErrColumn) {
		t.Errorf("DropIndex(2) got %v want %s", err, index.ErrColumn)
	}
	err = idx.CreateIndex(-1)
	if !errors.Is(err, index.ErrColumn) {
		t.Errorf("CreateIndex(-1) got %v want %s", err, index.ErrColumn)
	}
}
