package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/andreyvit/diff"

	"github.com/jamjamfong/lstore/bufferpool"
	"github.com/jamjamfong/lstore/pagestore"
	"github.com/jamjamfong/lstore/table"
)

func TestDumpMeta(t *testing.T) {
	bp := bufferpool.New(32, pagestore.NewBTreeStore())
	tbl, err := table.New("grades", 2, 0, bp)
	if err != nil {
		t.Fatalf("table.New() failed with %s", err)
	}
	for _, row := range [][]int64{{1, 10}, {2, 20}} {
		_, err = tbl.AddBaseRecord(row)
		if err != nil {
			t.Fatalf("AddBaseRecord(%v) failed with %s", row, err)
		}
	}
	v := int64(11)
	ok, err := tbl.UpdateRecord(1, []*int64{nil, &v})
	if !ok || err != nil {
		t.Fatalf("UpdateRecord(1) got %v, %v", ok, err)
	}

	var buf bytes.Buffer
	dumpMeta(&buf, tbl.Meta(), false)
	want := `table: grades
columns: 2
key: 0
next rid: 4
base ranges: 1
tail ranges: 1
base records: 2
tail records: 1
indexed: [0]
`
	if buf.String() != want {
		t.Errorf("dumpMeta() did not match:\n%s", diff.LineDiff(want, buf.String()))
	}

	buf.Reset()
	dumpMeta(&buf, tbl.Meta(), true)
	if !strings.HasSuffix(buf.String(), "(3 entries)\n") {
		t.Errorf("dumpMeta(directory) got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "tail") {
		t.Errorf("dumpMeta(directory) is missing the tail entry:\n%s", buf.String())
	}
}
