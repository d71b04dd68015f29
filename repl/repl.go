package repl

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/jamjamfong/lstore/db"
	"github.com/jamjamfong/lstore/query"
	"github.com/jamjamfong/lstore/table"
)

var errQuit = errors.New("quit")

// LineReader returns one line of input at a time and io.EOF at the end.
type LineReader interface {
	ReadLine() (string, error)
}

type command struct {
	usage string
	min   int
	max   int
	run   func(sh *Shell, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"create": {"create <table> <columns> <key>", 3, 3, (*Shell).create},
		"drop":   {"drop <table>", 1, 1, (*Shell).drop},
		"tables": {"tables", 0, 0, (*Shell).tables},
		"insert": {"insert <table> <value>...", 2, -1, (*Shell).insert},
		"select": {"select <table> <column> <value>", 3, 3, (*Shell).selectVersion},
		"version": {"version <table> <column> <value> <relative>", 4, 4,
			(*Shell).selectVersion},
		"update":    {"update <table> <key> <value|_>...", 3, -1, (*Shell).update},
		"delete":    {"delete <table> <key>", 2, 2, (*Shell).delete},
		"sum":       {"sum <table> <start> <end> <column> [<relative>]", 4, 5, (*Shell).sum},
		"increment": {"increment <table> <key> <column>", 3, 3, (*Shell).increment},
		"index":     {"index <table> [add|drop <column>]", 1, 3, (*Shell).index},
		"stats":     {"stats", 0, 0, (*Shell).stats},
		"flush":     {"flush [<table>]", 0, 1, (*Shell).flush},
		"help":      {"help", 0, 0, (*Shell).help},
		"quit":      {"quit", 0, 0, (*Shell).quit},
	}
}

// Shell runs commands against a database and writes the results to w.
type Shell struct {
	db *db.Database
	w  io.Writer
}

func New(d *db.Database, w io.Writer) *Shell {
	return &Shell{
		db: d,
		w:  w,
	}
}

// Run executes each line from lr until the input ends or quit.
func (sh *Shell) Run(lr LineReader) error {
	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		err = sh.Exec(line)
		if err == errQuit {
			return nil
		} else if err != nil {
			fmt.Fprintf(sh.w, "error: %s\n", err)
		}
	}
}

// Exec runs one command line; blank lines and lines starting with # are
// ignored.
func (sh *Shell) Exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}

	verb := strings.ToLower(fields[0])
	if verb == "exit" {
		verb = "quit"
	}
	cmd, ok := commands[verb]
	if !ok {
		return fmt.Errorf("unknown command %s; try help", fields[0])
	}
	args := fields[1:]
	if len(args) < cmd.min || (cmd.max >= 0 && len(args) > cmd.max) {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(sh, append([]string{verb}, args...))
}

func parseInt(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("expected an integer: %s", s)
	}
	return n, nil
}

func parseInts(ss []string) ([]int64, error) {
	vals := make([]int64, 0, len(ss))
	for _, s := range ss {
		n, err := parseInt(s)
		if err != nil {
			return nil, err
		}
		vals = append(vals, n)
	}
	return vals, nil
}

func parseColumn(s string, tbl *table.Table) (int, error) {
	n, err := parseInt(s)
	if err != nil {
		return 0, err
	}
	if n < 0 || n >= int64(tbl.Columns()) {
		return 0, fmt.Errorf("table %s: column %d out of range", tbl.Name(), n)
	}
	return int(n), nil
}

func (sh *Shell) table(name string) (*table.Table, error) {
	tbl, ok := sh.db.GetTable(name)
	if !ok {
		return nil, fmt.Errorf("table %s not found", name)
	}
	return tbl, nil
}

func (sh *Shell) result(ok bool, verb string) {
	if ok {
		fmt.Fprintf(sh.w, "%s: ok\n", verb)
	} else {
		fmt.Fprintf(sh.w, "%s: failed\n", verb)
	}
}

func (sh *Shell) render(header []string, rows [][]string) {
	tw := tablewriter.NewWriter(sh.w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader(header)
	tw.AppendBulk(rows)
	tw.Render()
	fmt.Fprintf(sh.w, "(%d rows)\n", len(rows))
}

func (sh *Shell) create(args []string) error {
	vals, err := parseInts(args[2:])
	if err != nil {
		return err
	}
	_, err = sh.db.CreateTable(args[1], int(vals[0]), int(vals[1]))
	if err != nil {
		return err
	}
	sh.result(true, args[0])
	return nil
}

func (sh *Shell) drop(args []string) error {
	err := sh.db.DropTable(args[1])
	if err != nil {
		return err
	}
	sh.result(true, args[0])
	return nil
}

func (sh *Shell) tables(args []string) error {
	var rows [][]string
	for _, name := range sh.db.Tables() {
		tbl, ok := sh.db.GetTable(name)
		if !ok {
			continue
		}
		md := tbl.Meta()
		var records int
		tbl.Scan(
			func(rid table.RID) bool {
				records += 1
				return true
			})
		rows = append(rows, []string{
			name,
			strconv.Itoa(md.Columns),
			strconv.Itoa(md.Key),
			strconv.Itoa(records),
			strconv.Itoa(md.BaseRanges),
			strconv.Itoa(md.TailRanges),
		})
	}
	sh.render([]string{"table", "columns", "key", "records", "base", "tail"}, rows)
	return nil
}

func (sh *Shell) insert(args []string) error {
	tbl, err := sh.table(args[1])
	if err != nil {
		return err
	}
	vals, err := parseInts(args[2:])
	if err != nil {
		return err
	}
	sh.result(query.New(tbl).Insert(vals...), args[0])
	return nil
}

func (sh *Shell) selectVersion(args []string) error {
	tbl, err := sh.table(args[1])
	if err != nil {
		return err
	}
	col, err := parseColumn(args[2], tbl)
	if err != nil {
		return err
	}
	vals, err := parseInts(args[3:])
	if err != nil {
		return err
	}
	var relative int
	if len(vals) > 1 {
		relative = int(vals[1])
	}

	projection := make([]int, tbl.Columns())
	for i := range projection {
		projection[i] = 1
	}
	recs, ok := query.New(tbl).SelectVersion(vals[0], col, projection, relative)
	if !ok {
		sh.result(false, args[0])
		return nil
	}

	header := []string{"rid"}
	for i := 0; i < tbl.Columns(); i++ {
		header = append(header, fmt.Sprintf("c%d", i))
	}
	var rows [][]string
	for _, rec := range recs {
		row := []string{strconv.FormatInt(int64(rec.RID), 10)}
		for _, v := range rec.Columns {
			if v == nil {
				row = append(row, "")
			} else {
				row = append(row, strconv.FormatInt(*v, 10))
			}
		}
		rows = append(rows, row)
	}
	sh.render(header, rows)
	return nil
}

func (sh *Shell) update(args []string) error {
	tbl, err := sh.table(args[1])
	if err != nil {
		return err
	}
	key, err := parseInt(args[2])
	if err != nil {
		return err
	}

	var columns []*int64
	for _, arg := range args[3:] {
		if arg == "_" {
			columns = append(columns, nil)
			continue
		}
		v, err := parseInt(arg)
		if err != nil {
			return err
		}
		columns = append(columns, &v)
	}
	sh.result(query.New(tbl).Update(key, columns...), args[0])
	return nil
}

func (sh *Shell) delete(args []string) error {
	tbl, err := sh.table(args[1])
	if err != nil {
		return err
	}
	key, err := parseInt(args[2])
	if err != nil {
		return err
	}
	sh.result(query.New(tbl).Delete(key), args[0])
	return nil
}

func (sh *Shell) sum(args []string) error {
	tbl, err := sh.table(args[1])
	if err != nil {
		return err
	}
	vals, err := parseInts(args[2:4])
	if err != nil {
		return err
	}
	col, err := parseColumn(args[4], tbl)
	if err != nil {
		return err
	}
	var relative int64
	if len(args) > 5 {
		relative, err = parseInt(args[5])
		if err != nil {
			return err
		}
	}

	sum, ok := query.New(tbl).SumVersion(vals[0], vals[1], col, int(relative))
	if !ok {
		sh.result(false, args[0])
		return nil
	}
	fmt.Fprintf(sh.w, "sum: %d\n", sum)
	return nil
}

func (sh *Shell) increment(args []string) error {
	tbl, err := sh.table(args[1])
	if err != nil {
		return err
	}
	key, err := parseInt(args[2])
	if err != nil {
		return err
	}
	col, err := parseColumn(args[3], tbl)
	if err != nil {
		return err
	}
	sh.result(query.New(tbl).Increment(key, col), args[0])
	return nil
}

func (sh *Shell) index(args []string) error {
	tbl, err := sh.table(args[1])
	if err != nil {
		return err
	}

	switch len(args) {
	case 2:
		var cols []string
		for col := 0; col < tbl.Columns(); col++ {
			if tbl.Indexed(col) {
				cols = append(cols, strconv.Itoa(col))
			}
		}
		fmt.Fprintf(sh.w, "index: %s\n", strings.Join(cols, " "))
		return nil
	case 4:
		col, err := parseColumn(args[3], tbl)
		if err != nil {
			return err
		}
		switch args[2] {
		case "add":
			err = tbl.CreateIndex(col)
		case "drop":
			err = tbl.DropIndex(col)
		default:
			return fmt.Errorf("usage: %s", commands["index"].usage)
		}
		if err != nil {
			return err
		}
		sh.result(true, args[0])
		return nil
	}
	return fmt.Errorf("usage: %s", commands["index"].usage)
}

func (sh *Shell) stats(args []string) error {
	st := sh.db.BufferPool().Stats()
	sh.render([]string{"stat", "value"},
		[][]string{
			{"capacity", strconv.Itoa(st.Capacity)},
			{"resident", strconv.Itoa(st.Resident)},
			{"pinned", strconv.Itoa(st.Pinned)},
			{"dirty", strconv.Itoa(st.Dirty)},
			{"hits", strconv.FormatUint(st.Hits, 10)},
			{"misses", strconv.FormatUint(st.Misses, 10)},
			{"evictions", strconv.FormatUint(st.Evictions, 10)},
			{"flushes", strconv.FormatUint(st.Flushes, 10)},
		})
	return nil
}

func (sh *Shell) flush(args []string) error {
	var err error
	if len(args) > 1 {
		err = sh.db.FlushTable(args[1])
	} else {
		err = sh.db.Flush()
	}
	if err != nil {
		return err
	}
	sh.result(true, args[0])
	return nil
}

func (sh *Shell) help(args []string) error {
	var usages []string
	for _, cmd := range commands {
		usages = append(usages, cmd.usage)
	}
	sort.Strings(usages)
	for _, usage := range usages {
		fmt.Fprintln(sh.w, usage)
	}
	return nil
}

func (sh *Shell) quit(args []string) error {
	return errQuit
}
