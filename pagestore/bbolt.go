package pagestore

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
)

var (
	pagesBucket = []byte{'p', 'a', 'g', 'e', 's'}
)

type bboltKV struct {
	db *bbolt.DB
}

func NewBBoltStore(dataDir string) (Store, error) {
	err := os.MkdirAll(dataDir, 0755)
	if err != nil {
		return nil, err
	}
	db, err := bbolt.Open(filepath.Join(dataDir, "lstore.bbolt"), 0644, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(
		func(tx *bbolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(pagesBucket)
			return err
		})
	if err != nil {
		db.Close()
		return nil, err
	}

	return newKVStore("bbolt", bboltKV{db: db}), nil
}

func bucket(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bkt := tx.Bucket(pagesBucket)
	if bkt == nil {
		return nil, errors.New("bbolt: missing pages bucket")
	}
	return bkt, nil
}

func (bkv bboltKV) Get(key []byte, fn func(val []byte) error) error {
	return bkv.db.View(
		func(tx *bbolt.Tx) error {
			bkt, err := bucket(tx)
			if err != nil {
				return err
			}
			val := bkt.Get(key)
			if val == nil {
				return io.EOF
			}
			return fn(val)
		})
}

func (bkv bboltKV) Set(key, val []byte) error {
	return bkv.db.Update(
		func(tx *bbolt.Tx) error {
			bkt, err := bucket(tx)
			if err != nil {
				return err
			}
			return bkt.Put(key, val)
		})
}

func (bkv bboltKV) DeletePrefix(prefix []byte) error {
	return bkv.db.Update(
		func(tx *bbolt.Tx) error {
			bkt, err := bucket(tx)
			if err != nil {
				return err
			}

			cr := bkt.Cursor()
			for key, _ := cr.Seek(prefix); key != nil && bytes.HasPrefix(key, prefix); {
				err = cr.Delete()
				if err != nil {
					return err
				}
				key, _ = cr.Seek(prefix)
			}
			return nil
		})
}

func (bkv bboltKV) Close() error {
	return bkv.db.Close()
}
