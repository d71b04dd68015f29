package db

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/jamjamfong/lstore/pagestore"
	"github.com/jamjamfong/lstore/table"
)

// Field numbers of the table metadata record.
const (
	metaName       protowire.Number = 1
	metaColumns    protowire.Number = 2
	metaKey        protowire.Number = 3
	metaNextRID    protowire.Number = 4
	metaBaseRanges protowire.Number = 5
	metaTailRanges protowire.Number = 6
	metaIndexed    protowire.Number = 7
	metaEntry      protowire.Number = 8
)

// Field numbers of a page directory entry.
const (
	entryRID   protowire.Number = 1
	entryKind  protowire.Number = 2
	entryRange protowire.Number = 3
	entrySlot  protowire.Number = 4
)

const catalogTable protowire.Number = 1

var errMeta = errors.New("db: bad metadata")

func appendVarint(buf []byte, num protowire.Number, v uint64) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, v)
}

func encodeMeta(md table.Meta) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, metaName, protowire.BytesType)
	buf = protowire.AppendString(buf, md.Name)
	buf = appendVarint(buf, metaColumns, uint64(md.Columns))
	buf = appendVarint(buf, metaKey, uint64(md.Key))
	buf = appendVarint(buf, metaNextRID, uint64(md.NextRID))
	buf = appendVarint(buf, metaBaseRanges, uint64(md.BaseRanges))
	buf = appendVarint(buf, metaTailRanges, uint64(md.TailRanges))
	for _, col := range md.Indexed {
		buf = appendVarint(buf, metaIndexed, uint64(col))
	}

	var entry []byte
	for _, e := range md.Directory {
		entry = appendVarint(entry[:0], entryRID, uint64(e.RID))
		entry = appendVarint(entry, entryKind, uint64(e.Location.Kind))
		entry = appendVarint(entry, entryRange, uint64(e.Location.Range))
		entry = appendVarint(entry, entrySlot, uint64(e.Location.Slot))

		buf = protowire.AppendTag(buf, metaEntry, protowire.BytesType)
		buf = protowire.AppendBytes(buf, entry)
	}
	return buf
}

// fields calls fn for each field in buf; fn returns the number of bytes of the
// field value it consumed, or zero to skip the value.
func fields(buf []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) int) error {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return fmt.Errorf("%w: %s", errMeta, protowire.ParseError(n))
		}
		buf = buf[n:]

		n = fn(num, typ, buf)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, buf)
		}
		if n < 0 {
			return fmt.Errorf("%w: field %d: %s", errMeta, num, protowire.ParseError(n))
		}
		buf = buf[n:]
	}
	return nil
}

func consumeVarint(typ protowire.Type, b []byte, v *int) int {
	if typ != protowire.VarintType {
		return 0
	}
	u, n := protowire.ConsumeVarint(b)
	if n > 0 {
		*v = int(u)
	}
	return n
}

func decodeEntry(buf []byte) (table.Entry, error) {
	var rid, kind, rng, slot int
	err := fields(buf,
		func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch num {
			case entryRID:
				return consumeVarint(typ, b, &rid)
			case entryKind:
				return consumeVarint(typ, b, &kind)
			case entryRange:
				return consumeVarint(typ, b, &rng)
			case entrySlot:
				return consumeVarint(typ, b, &slot)
			}
			return 0
		})
	if err != nil {
		return table.Entry{}, err
	}
	return table.Entry{
		RID: table.RID(rid),
		Location: table.Location{
			Kind:  pagestore.Kind(kind),
			Range: rng,
			Slot:  slot,
		},
	}, nil
}

func decodeMeta(buf []byte) (table.Meta, error) {
	var md table.Meta
	var nextRID int
	var entryErr error
	err := fields(buf,
		func(num protowire.Number, typ protowire.Type, b []byte) int {
			switch num {
			case metaName:
				if typ != protowire.BytesType {
					return 0
				}
				s, n := protowire.ConsumeBytes(b)
				if n > 0 {
					md.Name = string(s)
				}
				return n
			case metaColumns:
				return consumeVarint(typ, b, &md.Columns)
			case metaKey:
				return consumeVarint(typ, b, &md.Key)
			case metaNextRID:
				return consumeVarint(typ, b, &nextRID)
			case metaBaseRanges:
				return consumeVarint(typ, b, &md.BaseRanges)
			case metaTailRanges:
				return consumeVarint(typ, b, &md.TailRanges)
			case metaIndexed:
				var col int
				n := consumeVarint(typ, b, &col)
				if n > 0 {
					md.Indexed = append(md.Indexed, col)
				}
				return n
			case metaEntry:
				if typ != protowire.BytesType {
					return 0
				}
				eb, n := protowire.ConsumeBytes(b)
				if n > 0 {
					e, err := decodeEntry(eb)
					if err != nil {
						entryErr = err
						return -1
					}
					md.Directory = append(md.Directory, e)
				}
				return n
			}
			return 0
		})
	if entryErr != nil {
		return table.Meta{}, entryErr
	}
	if err != nil {
		return table.Meta{}, err
	}
	if md.Name == "" {
		return table.Meta{}, fmt.Errorf("%w: missing table name", errMeta)
	}
	md.NextRID = table.RID(nextRID)
	return md, nil
}

func encodeCatalog(names []string) []byte {
	var buf []byte
	for _, name := range names {
		buf = protowire.AppendTag(buf, catalogTable, protowire.BytesType)
		buf = protowire.AppendString(buf, name)
	}
	return buf
}

func decodeCatalog(buf []byte) ([]string, error) {
	var names []string
	err := fields(buf,
		func(num protowire.Number, typ protowire.Type, b []byte) int {
			if num != catalogTable || typ != protowire.BytesType {
				return 0
			}
			s, n := protowire.ConsumeBytes(b)
			if n > 0 {
				names = append(names, string(s))
			}
			return n
		})
	if err != nil {
		return nil, err
	}
	return names, nil
}
