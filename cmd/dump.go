package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/jamjamfong/lstore/pagestore"
	"github.com/jamjamfong/lstore/table"
)

var (
	dumpDirectory = false
)

func init() {
	dumpCmd := &cobra.Command{
		Use:   "dump <table>",
		Short: "Print the page ranges and page directory of a table",
		Args:  cobra.ExactArgs(1),
		RunE:  dumpRun,
	}
	dumpCmd.Flags().BoolVarP(&dumpDirectory, "directory", "d", dumpDirectory,
		"print every page directory entry")

	lstoreCmd.AddCommand(dumpCmd)
}

func dumpRun(cmd *cobra.Command, args []string) error {
	d, err := openDatabase()
	if err != nil {
		return err
	}
	defer d.Close()

	tbl, ok := d.GetTable(args[0])
	if !ok {
		return fmt.Errorf("lstore: table %s not found", args[0])
	}
	dumpMeta(os.Stdout, tbl.Meta(), dumpDirectory)
	return nil
}

func dumpMeta(w io.Writer, md table.Meta, directory bool) {
	var base, tail int
	for _, e := range md.Directory {
		if e.Location.Kind == pagestore.Base {
			base += 1
		} else {
			tail += 1
		}
	}

	fmt.Fprintf(w, "table: %s\n", md.Name)
	fmt.Fprintf(w, "columns: %d\n", md.Columns)
	fmt.Fprintf(w, "key: %d\n", md.Key)
	fmt.Fprintf(w, "next rid: %d\n", md.NextRID)
	fmt.Fprintf(w, "base ranges: %d\n", md.BaseRanges)
	fmt.Fprintf(w, "tail ranges: %d\n", md.TailRanges)
	fmt.Fprintf(w, "base records: %d\n", base)
	fmt.Fprintf(w, "tail records: %d\n", tail)
	fmt.Fprintf(w, "indexed: %v\n", md.Indexed)

	if !directory {
		return
	}
	tw := tablewriter.NewWriter(w)
	tw.SetAutoFormatHeaders(false)
	tw.SetHeader([]string{"rid", "kind", "range", "slot"})
	for _, e := range md.Directory {
		tw.Append([]string{
			strconv.FormatInt(int64(e.RID), 10),
			e.Location.Kind.String(),
			strconv.Itoa(e.Location.Range),
			strconv.Itoa(e.Location.Slot),
		})
	}
	tw.Render()
	fmt.Fprintf(w, "(%d entries)\n", len(md.Directory))
}
