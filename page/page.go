package page

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

const (
	Size        = 4096
	SlotSize    = 8
	Slots       = Size / SlotSize
	EncodedSize = Size + 8
)

var (
	ErrFull    = errors.New("page: no capacity")
	ErrSlot    = errors.New("page: slot out of range")
	ErrCorrupt = errors.New("page: corrupt encoding")
)

// Page is a fixed size block of 512 little endian int64 slots. Slots are
// appended in order and a page never shrinks.
type Page struct {
	mu       sync.RWMutex
	data     [Size]byte
	occupied int
	dirty    bool
	pins     int
	version  uint64
}

func New() *Page {
	return &Page{}
}

func (pg *Page) HasCapacity() bool {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	return pg.occupied < Slots
}

func (pg *Page) Occupied() int {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	return pg.occupied
}

// Write appends v at the next free slot and returns that slot.
func (pg *Page) Write(v int64) (int, error) {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.occupied >= Slots {
		return 0, ErrFull
	}
	slot := pg.occupied
	binary.LittleEndian.PutUint64(pg.data[slot*SlotSize:], uint64(v))
	pg.occupied += 1
	pg.dirty = true
	pg.version += 1
	return slot, nil
}

func (pg *Page) Read(slot int) (int64, error) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	if slot < 0 || slot >= pg.occupied {
		return 0, fmt.Errorf("%w: %d of %d", ErrSlot, slot, pg.occupied)
	}
	return int64(binary.LittleEndian.Uint64(pg.data[slot*SlotSize:])), nil
}

// WriteAt overwrites an occupied slot in place.
func (pg *Page) WriteAt(slot int, v int64) error {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if slot < 0 || slot >= pg.occupied {
		return fmt.Errorf("%w: %d of %d", ErrSlot, slot, pg.occupied)
	}
	binary.LittleEndian.PutUint64(pg.data[slot*SlotSize:], uint64(v))
	pg.dirty = true
	pg.version += 1
	return nil
}

func (pg *Page) Dirty() bool {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	return pg.dirty
}

func (pg *Page) SetDirty(dirty bool) {
	pg.mu.Lock()
	pg.dirty = dirty
	if dirty {
		pg.version += 1
	}
	pg.mu.Unlock()
}

// Version counts modifications; a copy taken with Clone carries the version it
// was taken at.
func (pg *Page) Version() uint64 {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	return pg.version
}

// MarkClean clears the dirty flag unless the page was modified after version.
func (pg *Page) MarkClean(version uint64) bool {
	pg.mu.Lock()
	defer pg.mu.Unlock()

	if pg.version != version {
		return false
	}
	pg.dirty = false
	return true
}

func (pg *Page) PinCount() int {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	return pg.pins
}

func (pg *Page) Pin() {
	pg.mu.Lock()
	pg.pins += 1
	pg.mu.Unlock()
}

// Unpin never takes the pin count below zero.
func (pg *Page) Unpin() {
	pg.mu.Lock()
	if pg.pins > 0 {
		pg.pins -= 1
	}
	pg.mu.Unlock()
}

// Clone copies the contents of the page; the copy is unpinned and keeps the
// dirty flag.
func (pg *Page) Clone() *Page {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	return &Page{
		data:     pg.data,
		occupied: pg.occupied,
		dirty:    pg.dirty,
		version:  pg.version,
	}
}

// MarshalBinary encodes the raw slot bytes followed by the occupied count as
// 8 little endian bytes.
func (pg *Page) MarshalBinary() ([]byte, error) {
	pg.mu.RLock()
	defer pg.mu.RUnlock()

	buf := make([]byte, EncodedSize)
	copy(buf, pg.data[:])
	binary.LittleEndian.PutUint64(buf[Size:], uint64(pg.occupied))
	return buf, nil
}

func (pg *Page) UnmarshalBinary(buf []byte) error {
	if len(buf) != EncodedSize {
		return fmt.Errorf("%w: length %d, want %d", ErrCorrupt, len(buf), EncodedSize)
	}
	occupied := binary.LittleEndian.Uint64(buf[Size:])
	if occupied > Slots {
		return fmt.Errorf("%w: occupied %d", ErrCorrupt, occupied)
	}

	pg.mu.Lock()
	defer pg.mu.Unlock()

	copy(pg.data[:], buf[:Size])
	pg.occupied = int(occupied)
	pg.dirty = false
	return nil
}
