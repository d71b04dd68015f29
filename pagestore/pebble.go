package pagestore

import (
	"io"
	"os"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"
)

type pebbleKV struct {
	db *pebble.DB
}

func NewPebbleStore(dataDir string, logger *log.Logger) (Store, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.StandardLogger()
	}

	db, err := pebble.Open(dataDir, &pebble.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	return newKVStore("pebble", pebbleKV{db: db}), nil
}

func (pkv pebbleKV) Get(key []byte, fn func(val []byte) error) error {
	val, closer, err := pkv.db.Get(key)
	if err == pebble.ErrNotFound {
		return io.EOF
	} else if err != nil {
		return err
	}
	defer closer.Close()

	return fn(val)
}

func (pkv pebbleKV) Set(key, val []byte) error {
	return pkv.db.Set(key, val, pebble.Sync)
}

// DeletePrefix relies on every prefix ending with a zero byte; the range ends at
// the same prefix with a one byte instead.
func (pkv pebbleKV) DeletePrefix(prefix []byte) error {
	end := append(make([]byte, 0, len(prefix)), prefix...)
	end[len(end)-1] += 1
	return pkv.db.DeleteRange(prefix, end, pebble.Sync)
}

func (pkv pebbleKV) Close() error {
	return pkv.db.Close()
}
