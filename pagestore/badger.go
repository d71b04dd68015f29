package pagestore

import (
	"bytes"
	"io"
	"os"

	"github.com/dgraph-io/badger"
	log "github.com/sirupsen/logrus"
)

type badgerKV struct {
	db *badger.DB
}

func NewBadgerStore(dataDir string, logger *log.Logger) (Store, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = log.StandardLogger()
	}

	opts := badger.DefaultOptions(dataDir)
	opts = opts.WithLogger(logger)
	opts = opts.WithSyncWrites(false)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return newKVStore("badger", badgerKV{db: db}), nil
}

func (bkv badgerKV) Get(key []byte, fn func(val []byte) error) error {
	return bkv.db.View(
		func(tx *badger.Txn) error {
			item, err := tx.Get(key)
			if err == badger.ErrKeyNotFound {
				return io.EOF
			} else if err != nil {
				return err
			}
			return item.Value(fn)
		})
}

func (bkv badgerKV) Set(key, val []byte) error {
	return bkv.db.Update(
		func(tx *badger.Txn) error {
			return tx.Set(key, val)
		})
}

func (bkv badgerKV) DeletePrefix(prefix []byte) error {
	var keys [][]byte
	err := bkv.db.View(
		func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			it := tx.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
			return nil
		})
	if err != nil {
		return err
	}

	return bkv.db.Update(
		func(tx *badger.Txn) error {
			for _, key := range keys {
				if !bytes.HasPrefix(key, prefix) {
					continue
				}
				err := tx.Delete(key)
				if err != nil {
					return err
				}
			}
			return nil
		})
}

func (bkv badgerKV) Close() error {
	return bkv.db.Close()
}
