package repl_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andreyvit/diff"

	"github.com/jamjamfong/lstore/db"
	"github.com/jamjamfong/lstore/repl"
	"github.com/jamjamfong/lstore/testutil"
)

func init() {
	testutil.SetupLogger(filepath.Join("testdata", "repl.log"))
}

// normalize reduces table output to the cells of each row separated by a
// single space; border lines are dropped.
func normalize(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "+") {
			continue
		}
		if strings.HasPrefix(line, "|") {
			var cells []string
			for _, cell := range strings.Split(strings.Trim(line, "|"), "|") {
				cells = append(cells, strings.TrimSpace(cell))
			}
			line = strings.Join(cells, " ")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func openShell(t *testing.T, store string) (*repl.Shell, *db.Database, *bytes.Buffer) {
	t.Helper()

	dir := filepath.Join("testdata", store)
	err := testutil.CleanDir(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	cfg := db.DefaultConfig()
	cfg.Store = store
	cfg.PoolPages = 64
	d, err := db.Open(dir, cfg)
	if err != nil {
		t.Fatalf("db.Open(%s) failed with %s", dir, err)
	}

	var buf bytes.Buffer
	return repl.New(d, &buf), d, &buf
}

func TestTranscript(t *testing.T) {
	script := `
# grades keyed on column 0
create grades 3 0
insert grades 1 10 100
insert grades 2 20 200
insert grades 2 30 300
update grades 1 _ 11 _
select grades 0 1
version grades 0 1 -1
sum grades 1 2 1
sum grades 1 2 1 -1
increment grades 2 2
select grades 0 2
index grades
index grades add 1
index grades
select grades 1 11
delete grades 1
select grades 0 1
tables
insert nope 1 2 3
select grades 0
frob
drop grades
tables
quit
insert grades 3 30 300
`
	want := `create: ok
insert: ok
insert: ok
insert: failed
update: ok
rid c0 c1 c2
1 1 11 100
(1 rows)
rid c0 c1 c2
1 1 10 100
(1 rows)
sum: 31
sum: 30
increment: ok
rid c0 c1 c2
2 2 20 201
(1 rows)
index: 0
index: ok
index: 0 1
rid c0 c1 c2
1 1 11 100
(1 rows)
delete: ok
rid c0 c1 c2
(0 rows)
table columns key records base tail
grades 3 0 1 1 1
(1 rows)
error: table nope not found
error: usage: select <table> <column> <value>
error: unknown command frob; try help
drop: ok
table columns key records base tail
(0 rows)
`

	sh, d, buf := openShell(t, "memory")
	defer d.Close()

	err := sh.Run(repl.NewReader(strings.NewReader(script)))
	if err != nil {
		t.Fatalf("Run() failed with %s", err)
	}
	got := normalize(buf.String())
	if got != want {
		t.Errorf("Run() did not match:\n%s", diff.LineDiff(want, got))
	}
}

func TestPersist(t *testing.T) {
	sh, d, buf := openShell(t, "file")
	for _, line := range []string{
		"create grades 2 0",
		"insert grades 1 10",
		"insert grades 2 20",
		"update grades 2 _ 21",
		"flush grades",
	} {
		err := sh.Exec(line)
		if err != nil {
			t.Fatalf("Exec(%s) failed with %s", line, err)
		}
	}
	err := d.Close()
	if err != nil {
		t.Fatalf("Close() failed with %s", err)
	}

	cfg := db.DefaultConfig()
	d, err = db.Open(filepath.Join("testdata", "file"), cfg)
	if err != nil {
		t.Fatalf("db.Open() failed with %s", err)
	}
	defer d.Close()

	buf.Reset()
	sh = repl.New(d, buf)
	err = sh.Exec("sum grades 1 2 1")
	if err != nil {
		t.Fatalf("Exec(sum) failed with %s", err)
	}
	if buf.String() != "sum: 31\n" {
		t.Errorf("sum after reopen got %q want %q", buf.String(), "sum: 31\n")
	}
}

func TestHelp(t *testing.T) {
	sh, d, buf := openShell(t, "memory")
	defer d.Close()

	err := sh.Exec("help")
	if err != nil {
		t.Fatalf("Exec(help) failed with %s", err)
	}
	for _, verb := range []string{"create", "select", "version", "sum", "quit"} {
		if !strings.Contains(buf.String(), verb+" ") && !strings.Contains(buf.String(), verb+"\n") {
			t.Errorf("help is missing %s:\n%s", verb, buf.String())
		}
	}
}
