package table

import (
	"testing"

	"github.com/jamjamfong/lstore/bufferpool"
	"github.com/jamjamfong/lstore/page"
	"github.com/jamjamfong/lstore/pagestore"
)

func TestMergeAfterDrop(t *testing.T) {
	bp := bufferpool.New(64, pagestore.NewBTreeStore())
	tbl, err := New("tbl", 2, 0, bp)
	if err != nil {
		t.Fatalf("New() failed with %s", err)
	}
	for n := 0; n < page.Slots; n++ {
		_, err = tbl.AddBaseRecord([]int64{int64(n), 0})
		if err != nil {
			t.Fatalf("AddBaseRecord(%d) failed with %s", n, err)
		}
	}
	for n := int64(0); n < 10; n++ {
		v := n * 10
		ok, err := tbl.UpdateRecord(RID(n+1), []*int64{nil, &v})
		if err != nil || !ok {
			t.Fatalf("UpdateRecord(%d) got %v, %v", n+1, ok, err)
		}
	}

	tbl.mutex.Lock()
	snap, err := tbl.mergeSnapshot(0)
	tbl.mutex.Unlock()
	if err != nil || snap == nil {
		t.Fatalf("mergeSnapshot(0) got %v, %v", snap, err)
	}
	consumed, err := tbl.consolidate(snap)
	if err != nil {
		t.Fatalf("consolidate() failed with %s", err)
	}
	if len(consumed) != 10 {
		t.Errorf("consolidate() consumed %d tail records want 10", len(consumed))
	}

	tbl.Drop()
	err = bp.DropTable("tbl")
	if err != nil {
		t.Fatalf("DropTable() failed with %s", err)
	}
	err = bp.Store().Drop("tbl")
	if err != nil {
		t.Fatalf("Store().Drop() failed with %s", err)
	}

	err = tbl.install(snap, consumed)
	if err != nil {
		t.Errorf("install() after drop failed with %s", err)
	}
	if st := bp.Stats(); st.Resident != 0 {
		t.Errorf("Stats() after drop got %d resident pages want 0", st.Resident)
	}
	err = bp.FlushAll()
	if err != nil {
		t.Errorf("FlushAll() after drop failed with %s", err)
	}

	err = tbl.Merge(0)
	if err != nil {
		t.Errorf("Merge(0) after drop failed with %s", err)
	}
	if st := bp.Stats(); st.Resident != 0 {
		t.Errorf("Stats() after Merge got %d resident pages want 0", st.Resident)
	}
}
