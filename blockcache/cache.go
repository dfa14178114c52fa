// Package blockcache keeps a bounded number of device sectors in memory and
// defers writes until a block is evicted or the cache is flushed.
package blockcache

import (
	"container/list"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultCapacity is the number of blocks cached if Config.Capacity is zero.
	DefaultCapacity = 64
	// MinCapacity is the smallest accepted capacity. One FAT sector spanning
	// two blocks and a directory block must fit at the same time.
	MinCapacity = 4
)

// Config tunes a Cache.
type Config struct {
	// Capacity is the maximum number of blocks held in memory.
	Capacity int
	Logger   logrus.FieldLogger
}

// Stats counts cache activity since the cache was created.
type Stats struct {
	Hits       uint64
	Misses     uint64
	Retries    uint64
	Evictions  uint64
	WriteBacks uint64
	// Lost counts dirty blocks dropped after a failed write-back.
	Lost uint64
}

type block struct {
	idx   int64
	data  []byte
	dirty bool
}

// Cache is a write-back LRU cache of device blocks. One block is exactly one
// sector. All methods are safe for concurrent use. The cache lock is held
// during device I/O, so a slow device serializes cache misses.
type Cache struct {
	dev Device
	blk blkIdxer
	log logrus.FieldLogger

	mu       sync.Mutex
	capacity int
	items    map[int64]*list.Element
	lru      *list.List
	stats    Stats
	closed   bool
}

// New sets up a cache in front of dev.
func New(dev Device, cfg Config) (*Cache, error) {
	blk, err := makeBlockIndexer(dev.SectorSize())
	if err != nil {
		return nil, err
	}

	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < MinCapacity {
		capacity = MinCapacity
	}

	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Cache{
		dev:      dev,
		blk:      blk,
		log:      log.WithField("component", "blockcache"),
		capacity: capacity,
		items:    make(map[int64]*list.Element, capacity),
		lru:      list.New(),
	}, nil
}

// BlockSize is the size of one cached block which equals the sector size.
func (c *Cache) BlockSize() int {
	return int(c.blk.size())
}

// Size is the number of addressable bytes.
func (c *Cache) Size() int64 {
	return c.dev.SectorCount() * c.blk.size()
}

func (c *Cache) checkRange(p []byte, off int64) error {
	if off < 0 || off+int64(len(p)) > c.Size() {
		return checkpoint.With(ErrOutOfRange, "%d bytes at offset %d, device has %d", len(p), off, c.Size())
	}
	return nil
}

// ReadAt fills p from the byte offset off. It either reads len(p) bytes or
// returns an error.
func (c *Cache) ReadAt(p []byte, off int64) (int, error) {
	if err := c.checkRange(p, off); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for n < len(p) {
		pos := off + int64(n)
		b, err := c.load(c.blk.idx(pos), true)
		if err != nil {
			return n, err
		}
		n += copy(p[n:], b.data[c.blk.off(pos):])
	}
	return n, nil
}

// WriteAt stores p at the byte offset off. The data reaches the device when
// the touched blocks get evicted or flushed. Blocks which are overwritten
// completely are not read from the device first.
func (c *Cache) WriteAt(p []byte, off int64) (int, error) {
	if err := c.checkRange(p, off); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	bs := int(c.blk.size())
	n := 0
	for n < len(p) {
		pos := off + int64(n)
		o := int(c.blk.off(pos))
		chunk := bs - o
		if rest := len(p) - n; rest < chunk {
			chunk = rest
		}

		b, err := c.load(c.blk.idx(pos), o != 0 || chunk != bs)
		if err != nil {
			return n, err
		}
		copy(b.data[o:o+chunk], p[n:n+chunk])
		b.dirty = true
		n += chunk
	}
	return n, nil
}

// load returns the cached block idx. On a miss it makes room for the block
// and reads it from the device if fill is set.
func (c *Cache) load(idx int64, fill bool) (*block, error) {
	if el, ok := c.items[idx]; ok {
		c.stats.Hits++
		c.lru.MoveToFront(el)
		return el.Value.(*block), nil
	}
	c.stats.Misses++

	b := &block{idx: idx, data: make([]byte, c.blk.size())}
	if fill {
		if err := c.readSector(idx, b.data); err != nil {
			return nil, err
		}
	}

	if err := c.makeRoom(); err != nil {
		return nil, err
	}
	c.items[idx] = c.lru.PushFront(b)
	return b, nil
}

// readSector retries a failed read once before giving up.
func (c *Cache) readSector(idx int64, dst []byte) error {
	err := c.dev.ReadSector(idx, dst)
	if err == nil {
		return nil
	}

	c.stats.Retries++
	c.log.WithError(err).WithField("sector", idx).Debug("sector read failed, retrying")
	if err = c.dev.ReadSector(idx, dst); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	return nil
}

func (c *Cache) makeRoom() error {
	for c.lru.Len() >= c.capacity {
		el := c.lru.Back()
		b := el.Value.(*block)
		c.removeElement(el)
		c.stats.Evictions++

		if b.dirty {
			if err := c.writeBack(b); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeBack writes b to the device. The caller drops b from the cache if it
// fails.
func (c *Cache) writeBack(b *block) error {
	if err := c.dev.WriteSector(b.idx, b.data); err != nil {
		c.stats.Lost++
		c.log.WithError(err).WithField("sector", b.idx).Warn("sector write-back failed, block dropped")
		return checkpoint.Wrap(checkpoint.Wrap(err, ErrIO), ErrWriteBack)
	}
	b.dirty = false
	c.stats.WriteBacks++
	return nil
}

func (c *Cache) removeElement(el *list.Element) {
	c.lru.Remove(el)
	delete(c.items, el.Value.(*block).idx)
}

// Flush writes every dirty block back in ascending block order. A block
// whose write fails is dropped from the cache while the remaining blocks
// are still written. All failures are returned together.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushLocked()
}

func (c *Cache) flushLocked() error {
	var dirty []*block
	for _, el := range c.items {
		if b := el.Value.(*block); b.dirty {
			dirty = append(dirty, b)
		}
	}
	sort.Slice(dirty, func(i, j int) bool {
		return dirty[i].idx < dirty[j].idx
	})

	var errs []error
	for _, b := range dirty {
		if err := c.writeBack(b); err != nil {
			c.removeElement(c.items[b.idx])
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		c.log.WithField("failed", len(errs)).Warn("flush incomplete")
	}
	return errors.Join(errs...)
}

// Dirty returns the number of blocks not yet written to the device.
func (c *Cache) Dirty() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, el := range c.items {
		if el.Value.(*block).dirty {
			n++
		}
	}
	return n
}

// Len returns the number of cached blocks.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Invalidate drops every clean block so that the next access reads the
// device again. Dirty blocks are kept.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		if !el.Value.(*block).dirty {
			c.removeElement(el)
		}
		el = next
	}
}

// Close flushes the cache and drops all blocks. Calling Close twice is a no-op.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	err := c.flushLocked()
	c.items = make(map[int64]*list.Element)
	c.lru.Init()
	return err
}
