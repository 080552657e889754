package diskio

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/btree"
	"go.uber.org/multierr"

	isync "github.com/moffa90/go-flashdisk/internal/sync"
)

// SectorSize is the fixed block-device sector size in bytes.
const SectorSize = 512

// Sentinel errors returned by Disk.
var (
	// ErrOutOfRange indicates an access past the end of the device.
	ErrOutOfRange = errors.New("sector out of range")

	// ErrShortBuffer indicates a sector buffer smaller than SectorSize.
	ErrShortBuffer = errors.New("buffer shorter than one sector")
)

// SectorDevice is the sector-addressed contract a storage driver implements.
// Buffers are at least SectorSize bytes; exactly SectorSize bytes are moved.
type SectorDevice interface {
	// SectRead reads one sector into p.
	SectRead(sector uint32, p []byte) error

	// SectWrite writes one sector from p.
	SectWrite(sector uint32, p []byte) error
}

// CacheDesc is one cache slot. Callers allocate the slots and hand them to
// SetCache; the Disk only fills them in.
type CacheDesc struct {
	// Sector is the sector held by the slot when it is valid
	Sector uint32

	// Data holds the cached sector contents
	Data [SectorSize]byte

	valid bool
	dirty bool
	stamp uint64
}

// Valid reports whether the slot holds a sector.
func (c *CacheDesc) Valid() bool { return c.valid }

// Dirty reports whether the slot holds data not yet written to the device.
func (c *CacheDesc) Dirty() bool { return c.dirty }

// slotItem indexes a cache slot by sector number.
type slotItem struct {
	sector uint32
	slot   int
}

func (a slotItem) Less(b btree.Item) bool {
	return a.sector < b.(slotItem).sector
}

// Disk layers byte-level access and an optional read-through/write-back
// sector cache over a SectorDevice.
//
// Disk is safe for concurrent use. The SectorDevice underneath is only ever
// called with the Disk's lock held.
type Disk struct {
	dev     SectorDevice
	sectors uint32

	mu    isync.Mutex
	cache []CacheDesc
	index *btree.BTree
	tick  uint64
}

// New creates a Disk over dev. sectors is the device capacity in sectors;
// 0 disables bounds checking.
func New(dev SectorDevice, sectors uint32) *Disk {
	if dev == nil {
		panic("diskio: device cannot be nil")
	}

	return &Disk{
		dev:     dev,
		sectors: sectors,
		index:   btree.New(4),
	}
}

// Sectors returns the capacity in sectors, 0 when unknown.
func (d *Disk) Sectors() uint32 {
	return d.sectors
}

// Size returns the capacity in bytes, 0 when unknown.
func (d *Disk) Size() int64 {
	return int64(d.sectors) * SectorSize
}

// SetCache attaches caller-owned cache slots, replacing any previous set.
// Dirty sectors of the previous set are written back first; if that fails
// the previous set stays attached. Passing no slots disables caching.
func (d *Disk) SetCache(slots []CacheDesc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.flushLocked(); err != nil {
		return fmt.Errorf("flush previous cache: %w", err)
	}

	for i := range slots {
		slots[i].valid = false
		slots[i].dirty = false
		slots[i].stamp = 0
	}

	d.cache = slots
	d.index.Clear(false)
	d.tick = 0

	return nil
}

// CacheSize returns the number of attached cache slots.
func (d *Disk) CacheSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.cache)
}

// ReadSector reads one sector through the cache.
func (d *Disk) ReadSector(sector uint32, p []byte) error {
	if len(p) < SectorSize {
		return ErrShortBuffer
	}
	if err := d.check(sector); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.cache) == 0 {
		return d.dev.SectRead(sector, p)
	}

	c, err := d.slot(sector, true)
	if err != nil {
		return err
	}
	copy(p, c.Data[:])

	return nil
}

// WriteSector writes one sector through the cache. With a cache attached the
// data reaches the device on eviction or Flush.
func (d *Disk) WriteSector(sector uint32, p []byte) error {
	if len(p) < SectorSize {
		return ErrShortBuffer
	}
	if err := d.check(sector); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.cache) == 0 {
		return d.dev.SectWrite(sector, p)
	}

	c, err := d.slot(sector, false)
	if err != nil {
		return err
	}
	copy(c.Data[:], p[:SectorSize])
	c.dirty = true

	return nil
}

// ReadAt implements io.ReaderAt over the sector space.
func (d *Disk) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}

	var eof error
	if size := d.Size(); size > 0 {
		if off >= size {
			return 0, io.EOF
		}
		if off+int64(len(p)) > size {
			p = p[:size-off]
			eof = io.EOF
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var tmp [SectorSize]byte
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		sector := uint32(pos / SectorSize)
		within := int(pos % SectorSize)

		data, err := d.sectorData(sector, &tmp)
		if err != nil {
			return n, fmt.Errorf("read sector %d: %w", sector, err)
		}
		n += copy(p[n:], data[within:])
	}

	return n, eof
}

// WriteAt implements io.WriterAt over the sector space. Partial sectors are
// read, patched and written back.
func (d *Disk) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if size := d.Size(); size > 0 && off+int64(len(p)) > size {
		return 0, ErrOutOfRange
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var tmp [SectorSize]byte
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		sector := uint32(pos / SectorSize)
		within := int(pos % SectorSize)
		whole := within == 0 && len(p)-n >= SectorSize

		if len(d.cache) > 0 {
			c, err := d.slot(sector, !whole)
			if err != nil {
				return n, fmt.Errorf("write sector %d: %w", sector, err)
			}
			n += copy(c.Data[within:], p[n:])
			c.dirty = true
			continue
		}

		if !whole {
			if err := d.dev.SectRead(sector, tmp[:]); err != nil {
				return n, fmt.Errorf("read sector %d: %w", sector, err)
			}
		}
		k := copy(tmp[within:], p[n:])
		if err := d.dev.SectWrite(sector, tmp[:]); err != nil {
			return n, fmt.Errorf("write sector %d: %w", sector, err)
		}
		n += k
	}

	return n, nil
}

// Flush writes every dirty cache slot back to the device in ascending sector
// order. All slots are attempted; failures are combined.
func (d *Disk) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked()
}

// Invalidate drops cached copies of count sectors starting at first without
// writing them back. Drivers call it after erasing the underlying range.
func (d *Disk) Invalidate(first, count uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var drop []slotItem
	d.index.AscendRange(slotItem{sector: first}, slotItem{sector: first + count}, func(i btree.Item) bool {
		drop = append(drop, i.(slotItem))
		return true
	})

	for _, it := range drop {
		d.index.Delete(it)
		c := &d.cache[it.slot]
		c.valid = false
		c.dirty = false
	}
}

func (d *Disk) flushLocked() error {
	var err error

	d.index.Ascend(func(i btree.Item) bool {
		c := &d.cache[i.(slotItem).slot]
		if !c.dirty {
			return true
		}
		if werr := d.dev.SectWrite(c.Sector, c.Data[:]); werr != nil {
			err = multierr.Append(err, fmt.Errorf("sector %d: %w", c.Sector, werr))
			return true
		}
		c.dirty = false
		return true
	})

	return err
}

// sectorData returns the contents of sector, from the cache when attached or
// read into tmp otherwise. Callers hold d.mu.
func (d *Disk) sectorData(sector uint32, tmp *[SectorSize]byte) ([]byte, error) {
	if len(d.cache) > 0 {
		c, err := d.slot(sector, true)
		if err != nil {
			return nil, err
		}
		return c.Data[:], nil
	}

	if err := d.dev.SectRead(sector, tmp[:]); err != nil {
		return nil, err
	}
	return tmp[:], nil
}

// slot returns the cache slot holding sector, claiming the least recently
// used slot on a miss. When load is set a miss reads the sector from the
// device. Callers hold d.mu.
func (d *Disk) slot(sector uint32, load bool) (*CacheDesc, error) {
	d.tick++

	if it := d.index.Get(slotItem{sector: sector}); it != nil {
		c := &d.cache[it.(slotItem).slot]
		c.stamp = d.tick
		return c, nil
	}

	victim := 0
	for i := range d.cache {
		if !d.cache[i].valid {
			victim = i
			break
		}
		if d.cache[i].stamp < d.cache[victim].stamp {
			victim = i
		}
	}

	c := &d.cache[victim]
	if c.valid {
		if c.dirty {
			if err := d.dev.SectWrite(c.Sector, c.Data[:]); err != nil {
				return nil, fmt.Errorf("write back sector %d: %w", c.Sector, err)
			}
			c.dirty = false
		}
		d.index.Delete(slotItem{sector: c.Sector})
		c.valid = false
	}

	if load {
		if err := d.dev.SectRead(sector, c.Data[:]); err != nil {
			return nil, err
		}
	}

	c.Sector = sector
	c.valid = true
	c.stamp = d.tick
	d.index.ReplaceOrInsert(slotItem{sector: sector, slot: victim})

	return c, nil
}

func (d *Disk) check(sector uint32) error {
	if d.sectors > 0 && sector >= d.sectors {
		return fmt.Errorf("sector %d of %d: %w", sector, d.sectors, ErrOutOfRange)
	}
	return nil
}
