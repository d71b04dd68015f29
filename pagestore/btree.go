package pagestore

import (
	"bytes"
	"io"
	"sync"

	"github.com/google/btree"
)

type btreeKV struct {
	mutex sync.Mutex
	tree  *btree.BTree
}

type btreeItem struct {
	key []byte
	val []byte
}

func (bi btreeItem) Less(item btree.Item) bool {
	return bytes.Compare(bi.key, item.(btreeItem).key) < 0
}

// NewBTreeStore returns a store which keeps every page in memory.
func NewBTreeStore() Store {
	return newKVStore("memory",
		&btreeKV{
			tree: btree.New(16),
		})
}

func (bkv *btreeKV) Get(key []byte, fn func(val []byte) error) error {
	bkv.mutex.Lock()
	item := bkv.tree.Get(btreeItem{key: key})
	bkv.mutex.Unlock()

	if item == nil {
		return io.EOF
	}
	return fn(item.(btreeItem).val)
}

func (bkv *btreeKV) Set(key, val []byte) error {
	bkv.mutex.Lock()
	defer bkv.mutex.Unlock()

	bkv.tree.ReplaceOrInsert(
		btreeItem{
			key: append(make([]byte, 0, len(key)), key...),
			val: append(make([]byte, 0, len(val)), val...),
		})
	return nil
}

func (bkv *btreeKV) DeletePrefix(prefix []byte) error {
	bkv.mutex.Lock()
	defer bkv.mutex.Unlock()

	var items []btree.Item
	bkv.tree.AscendGreaterOrEqual(btreeItem{key: prefix},
		func(item btree.Item) bool {
			if !bytes.HasPrefix(item.(btreeItem).key, prefix) {
				return false
			}
			items = append(items, item)
			return true
		})
	for _, item := range items {
		bkv.tree.Delete(item)
	}
	return nil
}

func (bkv *btreeKV) Close() error {
	return nil
}
