package pagestore

import (
	"encoding/binary"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/jamjamfong/lstore/page"
)

var (
	ErrNotExist   = errors.New("pagestore: page does not exist")
	ErrNotDefined = errors.New("pagestore: table not defined")
)

type Kind byte

const (
	Base Kind = 1
	Tail Kind = 2
)

func (k Kind) String() string {
	switch k {
	case Base:
		return "base"
	case Tail:
		return "tail"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// ID names a page by where it belongs: one column of one page range of one
// table. It is stable across restarts.
type ID struct {
	Table  string
	Kind   Kind
	Range  int
	Column int
}

func (id ID) String() string {
	return fmt.Sprintf("%s/%s/%d/%d", id.Table, id.Kind, id.Range, id.Column)
}

func tablePrefix(tbl string) []byte {
	buf := make([]byte, 0, len(tbl)+1)
	buf = append(buf, tbl...)
	return append(buf, 0)
}

// Key encodes the id so that keys sort by table, kind, range and column.
func (id ID) Key() []byte {
	buf := tablePrefix(id.Table)
	buf = append(buf, byte(id.Kind))
	buf = encodeUint32(buf, uint32(id.Range))
	return encodeUint32(buf, uint32(id.Column))
}

func encodeUint32(buf []byte, u uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], u)
	return append(buf, b[:]...)
}

// Store persists pages. Read returns ErrNotExist for a page which was never
// written; damaged data is reported as an error wrapping page.ErrCorrupt.
type Store interface {
	Define(tbl string, columns int) error
	Read(id ID) (*page.Page, error)
	Write(id ID, pg *page.Page) error
	Drop(tbl string) error
	Close() error
}

func Open(kind, dataDir string, logger *log.Logger) (Store, error) {
	switch kind {
	case "file":
		return NewFileStore(dataDir)
	case "bbolt":
		return NewBBoltStore(dataDir)
	case "badger":
		return NewBadgerStore(dataDir, logger)
	case "pebble":
		return NewPebbleStore(dataDir, logger)
	case "memory":
		return NewBTreeStore(), nil
	}
	return nil, fmt.Errorf(
		"pagestore: got %s for store; want file, bbolt, badger, pebble, or memory", kind)
}
