package pagestore

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/OneOfOne/xxhash"
	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/jamjamfong/lstore/page"
)

// kv is the small surface a key-value engine has to provide to hold pages. Get
// returns io.EOF when the key is missing.
type kv interface {
	Get(key []byte, fn func(val []byte) error) error
	Set(key, val []byte) error
	DeletePrefix(prefix []byte) error
	Close() error
}

type kvStore struct {
	name    string
	kv      kv
	mutex   sync.Mutex
	defined map[string]int
}

func newKVStore(name string, kv kv) *kvStore {
	return &kvStore{
		name:    name,
		kv:      kv,
		defined: map[string]int{},
	}
}

// A stored value is the xxhash64 of the page encoding followed by the snappy
// compressed page encoding.
func encodeValue(pg *page.Page) ([]byte, error) {
	payload, err := pg.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8, 8+snappy.MaxEncodedLen(len(payload)))
	binary.BigEndian.PutUint64(buf, xxhash.Checksum64(payload))
	return append(buf, snappy.Encode(nil, payload)...), nil
}

func decodeValue(val []byte) (*page.Page, error) {
	if len(val) < 8 {
		return nil, fmt.Errorf("%w: value length %d", page.ErrCorrupt, len(val))
	}
	sum := binary.BigEndian.Uint64(val)
	payload, err := snappy.Decode(nil, val[8:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", page.ErrCorrupt, err)
	}
	if xxhash.Checksum64(payload) != sum {
		return nil, fmt.Errorf("%w: checksum mismatch", page.ErrCorrupt)
	}

	pg := page.New()
	err = pg.UnmarshalBinary(payload)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

func (kvst *kvStore) Define(tbl string, columns int) error {
	kvst.mutex.Lock()
	defer kvst.mutex.Unlock()

	if cols, ok := kvst.defined[tbl]; ok && cols != columns {
		return fmt.Errorf("pagestore: table %s: defined with %d columns, got %d", tbl, cols,
			columns)
	}
	kvst.defined[tbl] = columns
	return nil
}

func (kvst *kvStore) check(id ID) error {
	kvst.mutex.Lock()
	defer kvst.mutex.Unlock()

	cols, ok := kvst.defined[id.Table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotDefined, id.Table)
	}
	if id.Column < 0 || id.Column >= cols || id.Range < 0 {
		return fmt.Errorf("pagestore: page %s: out of range", id)
	}
	return nil
}

func (kvst *kvStore) Read(id ID) (*page.Page, error) {
	err := kvst.check(id)
	if err != nil {
		return nil, err
	}

	var pg *page.Page
	err = kvst.kv.Get(id.Key(),
		func(val []byte) error {
			var err error
			pg, err = decodeValue(val)
			return err
		})
	if err == io.EOF {
		return nil, ErrNotExist
	} else if err != nil {
		return nil, errors.Wrapf(err, "pagestore: %s: read %s", kvst.name, id)
	}
	return pg, nil
}

func (kvst *kvStore) Write(id ID, pg *page.Page) error {
	err := kvst.check(id)
	if err != nil {
		return err
	}

	val, err := encodeValue(pg)
	if err != nil {
		return err
	}
	err = kvst.kv.Set(id.Key(), val)
	if err != nil {
		return errors.Wrapf(err, "pagestore: %s: write %s", kvst.name, id)
	}
	return nil
}

func (kvst *kvStore) Drop(tbl string) error {
	kvst.mutex.Lock()
	delete(kvst.defined, tbl)
	kvst.mutex.Unlock()

	err := kvst.kv.DeletePrefix(tablePrefix(tbl))
	if err != nil {
		return errors.Wrapf(err, "pagestore: %s: drop %s", kvst.name, tbl)
	}
	return nil
}

func (kvst *kvStore) Close() error {
	return kvst.kv.Close()
}
