package pagestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/jamjamfong/lstore/page"
)

// fileStore keeps one file per table per kind. The page for column c of range
// r is stored at offset (r*columns + c) * page.EncodedSize as the raw page
// bytes followed by the 8 byte little endian occupied count.
type fileStore struct {
	mutex   sync.Mutex
	dataDir string
	tables  map[string]*tableFiles
}

type tableFiles struct {
	columns int
	base    *os.File
	tail    *os.File
}

func NewFileStore(dataDir string) (Store, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, errors.Wrap(err, "pagestore")
	}
	return &fileStore{
		dataDir: dataDir,
		tables:  map[string]*tableFiles{},
	}, nil
}

func (fst *fileStore) path(tbl string, kind Kind) string {
	return filepath.Join(fst.dataDir, fmt.Sprintf("%s.%s", tbl, kind))
}

func (fst *fileStore) Define(tbl string, columns int) error {
	fst.mutex.Lock()
	defer fst.mutex.Unlock()

	if tf, ok := fst.tables[tbl]; ok {
		if tf.columns != columns {
			return fmt.Errorf("pagestore: table %s: defined with %d columns, got %d", tbl,
				tf.columns, columns)
		}
		return nil
	}

	base, err := os.OpenFile(fst.path(tbl, Base), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "pagestore: table %s", tbl)
	}
	tail, err := os.OpenFile(fst.path(tbl, Tail), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		base.Close()
		return errors.Wrapf(err, "pagestore: table %s", tbl)
	}
	fst.tables[tbl] = &tableFiles{
		columns: columns,
		base:    base,
		tail:    tail,
	}
	return nil
}

func (fst *fileStore) locate(id ID) (*os.File, int64, error) {
	fst.mutex.Lock()
	defer fst.mutex.Unlock()

	tf, ok := fst.tables[id.Table]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotDefined, id.Table)
	}
	if id.Column < 0 || id.Column >= tf.columns || id.Range < 0 {
		return nil, 0, fmt.Errorf("pagestore: page %s: out of range", id)
	}

	off := int64(id.Range*tf.columns+id.Column) * page.EncodedSize
	switch id.Kind {
	case Base:
		return tf.base, off, nil
	case Tail:
		return tf.tail, off, nil
	}
	return nil, 0, fmt.Errorf("pagestore: page %s: bad kind", id)
}

func (fst *fileStore) Read(id ID) (*page.Page, error) {
	f, off, err := fst.locate(id)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "pagestore: read %s", id)
	}
	if off >= fi.Size() {
		return nil, ErrNotExist
	}

	buf := make([]byte, page.EncodedSize)
	n, err := f.ReadAt(buf, off)
	if err == io.EOF {
		return nil, fmt.Errorf("pagestore: read %s: %w: truncated at %d bytes", id,
			page.ErrCorrupt, n)
	} else if err != nil {
		return nil, errors.Wrapf(err, "pagestore: read %s", id)
	}

	pg := page.New()
	err = pg.UnmarshalBinary(buf)
	if err != nil {
		return nil, fmt.Errorf("pagestore: read %s: %w", id, err)
	}
	return pg, nil
}

// Write stores the whole page with a single write call so a reader sees either
// the old or the new page, never a mix of the data and the occupied count.
func (fst *fileStore) Write(id ID, pg *page.Page) error {
	f, off, err := fst.locate(id)
	if err != nil {
		return err
	}

	buf, err := pg.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = f.WriteAt(buf, off)
	if err != nil {
		return errors.Wrapf(err, "pagestore: write %s", id)
	}
	return nil
}

func (fst *fileStore) Drop(tbl string) error {
	fst.mutex.Lock()
	defer fst.mutex.Unlock()

	if tf, ok := fst.tables[tbl]; ok {
		tf.base.Close()
		tf.tail.Close()
		delete(fst.tables, tbl)
	}

	for _, kind := range []Kind{Base, Tail} {
		err := os.Remove(fst.path(tbl, kind))
		if err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "pagestore: drop %s", tbl)
		}
	}
	return nil
}

func (fst *fileStore) Close() error {
	fst.mutex.Lock()
	defer fst.mutex.Unlock()

	var lastErr error
	for tbl, tf := range fst.tables {
		for _, f := range []*os.File{tf.base, tf.tail} {
			err := f.Sync()
			if err != nil {
				lastErr = errors.Wrapf(err, "pagestore: sync %s", tbl)
			}
			err = f.Close()
			if err != nil {
				lastErr = errors.Wrapf(err, "pagestore: close %s", tbl)
			}
		}
	}
	fst.tables = map[string]*tableFiles{}
	return lastErr
}
