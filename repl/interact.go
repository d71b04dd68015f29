package repl

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
)

const (
	lstoreHistory = ".lstore_history"
	prompt        = "lstore: "
)

type lineReader struct {
	line *liner.State
}

func (lr lineReader) ReadLine() (string, error) {
	s, err := lr.line.Prompt(prompt)
	if err == liner.ErrPromptAborted {
		return "", io.EOF
	} else if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) != "" {
		lr.line.AppendHistory(s)
	}
	return s, nil
}

type scanReader struct {
	scanner *bufio.Scanner
}

// NewReader returns a LineReader over r, as used for scripts.
func NewReader(r io.Reader) LineReader {
	return scanReader{scanner: bufio.NewScanner(r)}
}

func (sr scanReader) ReadLine() (string, error) {
	if !sr.scanner.Scan() {
		if err := sr.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return sr.scanner.Text(), nil
}

// Interact runs the shell on the console with line editing and history.
func (sh *Shell) Interact() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(lstoreHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	err := sh.Run(lineReader{line: line})

	if f, err := os.Create(lstoreHistory); err != nil {
		fmt.Fprintf(os.Stderr, "lstore: error writing history file, %s: %s\n", lstoreHistory, err)
	} else {
		line.WriteHistory(f)
		f.Close()
	}
	return err
}
