package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jamjamfong/lstore/repl"
)

func init() {
	lstoreCmd.AddCommand(
		&cobra.Command{
			Use:   "shell [script...]",
			Short: "Run shell commands from scripts or an interactive console",
			RunE:  shellRun,
		})
}

func shellRun(cmd *cobra.Command, args []string) (err error) {
	d, err := openDatabase()
	if err != nil {
		return err
	}
	defer func() {
		cerr := d.Close()
		if err == nil && cerr != nil {
			err = fmt.Errorf("lstore: %s", cerr)
		}
	}()

	sh := repl.New(d, os.Stdout)
	if len(args) == 0 {
		return sh.Interact()
	}

	for _, arg := range args {
		f, err := os.Open(arg)
		if err != nil {
			return fmt.Errorf("lstore: %s", err)
		}
		err = sh.Run(repl.NewReader(f))
		f.Close()
		if err != nil {
			return fmt.Errorf("lstore: %s: %s", arg, err)
		}
	}
	return nil
}
