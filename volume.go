package fatfs

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aligator/fatfs/blockcache"
	"github.com/aligator/fatfs/checkpoint"
	"github.com/sirupsen/logrus"
)

var errNotMounted = checkpoint.With(ErrInvalidArgument, "volume is not mounted")

// Options configure a mounted volume.
type Options struct {
	// CacheBlocks is the capacity of the block cache, see blockcache.DefaultCapacity.
	CacheBlocks int
	// MaxOpenFiles is the number of handle slots, see DefaultMaxOpenFiles.
	MaxOpenFiles int
	// ReadOnly refuses every mutation with ErrReadOnly.
	ReadOnly bool
	Logger   logrus.FieldLogger
	// Clock returns the time used for timestamps. Defaults to time.Now.
	Clock func() time.Time
}

// metaStorage counts the writes of a mutation. A device failure after the
// first write leaves the on-disk structures half updated.
type metaStorage struct {
	storage
	writes int
}

func (m *metaStorage) WriteAt(p []byte, off int64) (int, error) {
	m.writes++
	return m.storage.WriteAt(p, off)
}

// Volume is a mounted FAT volume. All methods are safe for concurrent use.
//
// Mutations, every write included, hold the volume lock exclusively and run
// to completion once they hold it. Stat, listings and reads share the lock.
type Volume struct {
	mu sync.RWMutex

	cache   *blockcache.Cache
	meta    *metaStorage
	geo     *Geometry
	fat     *fatTable
	handles *handleTable
	log     logrus.FieldLogger
	now     func() time.Time

	readOnly     bool
	mounted      bool
	inconsistent atomic.Bool
}

// Mount reads the boot sector of dev and prepares the volume for use.
func Mount(dev blockcache.Device, opts Options) (*Volume, error) {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}

	if dev.SectorSize() < 512 {
		return nil, checkpoint.With(ErrGeometry, "sector size %d is too small", dev.SectorSize())
	}
	cache, err := blockcache.New(dev, blockcache.Config{Capacity: opts.CacheBlocks, Logger: log})
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrGeometry)
	}

	boot := make([]byte, dev.SectorSize())
	if _, err := cache.ReadAt(boot, 0); err != nil {
		return nil, checkpoint.From(err)
	}
	geo, err := ParseGeometry(boot)
	if err != nil {
		return nil, err
	}
	if geo.BytesPerSector != uint32(dev.SectorSize()) {
		return nil, checkpoint.With(ErrGeometry, "volume uses %d byte sectors, device %d", geo.BytesPerSector, dev.SectorSize())
	}
	if int64(geo.TotalSectors) > dev.SectorCount() {
		return nil, checkpoint.With(ErrGeometry, "volume has %d sectors, device only %d", geo.TotalSectors, dev.SectorCount())
	}

	meta := &metaStorage{storage: cache}
	v := &Volume{
		cache:    cache,
		meta:     meta,
		geo:      geo,
		fat:      newFatTable(geo, meta, log.WithField("component", "fat")),
		handles:  newHandleTable(opts.MaxOpenFiles),
		log:      log,
		now:      clock,
		readOnly: opts.ReadOnly,
		mounted:  true,
	}

	if err := v.fat.load(); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"type":     geo.Type,
		"clusters": geo.ClusterCount,
		"free":     v.fat.free,
		"label":    geo.Label,
		"readonly": opts.ReadOnly,
	}).Info("volume mounted")
	return v, nil
}

// Unmount closes all open handles, writes back everything cached and
// releases the volume.
func (v *Volume) Unmount() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		return errNotMounted
	}

	var errs []error
	for _, h := range v.handles.openHandles() {
		if err := v.closeLocked(h); err != nil {
			errs = append(errs, err)
		}
	}
	if !v.readOnly && !v.inconsistent.Load() {
		if err := v.fat.sync(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.cache.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := v.lostWrites(); err != nil {
		errs = append(errs, err)
	} else if v.inconsistent.Load() {
		errs = append(errs, checkpoint.With(ErrInconsistent, "changes of the volume may be incomplete on the device"))
	}
	v.mounted = false

	err := errors.Join(errs...)
	v.log.WithError(err).WithField("stats", v.cache.Stats()).Info("volume unmounted")
	return err
}

// Sync writes back the state of all open files, the free cluster count and
// every dirty block.
func (v *Volume) Sync() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.mounted {
		return errNotMounted
	}
	if v.readOnly {
		err := checkpoint.From(v.cache.Flush())
		v.observe(err)
		return err
	}

	return v.mutateLocked(func() error {
		for _, h := range v.handles.openHandles() {
			f, err := v.handles.get(h)
			if err != nil {
				return err
			}
			if f.node.dirty {
				if err := v.writeBack(f.node); err != nil {
					return err
				}
			}
		}
		if err := v.fat.sync(); err != nil {
			return err
		}
		return checkpoint.From(v.cache.Flush())
	})
}

// Geometry returns the layout of the volume.
func (v *Volume) Geometry() Geometry {
	return *v.geo
}

// Label returns the volume label from the boot sector.
func (v *Volume) Label() string {
	return v.geo.Label
}

// FSStat describes the volume as a whole.
type FSStat struct {
	Type         FATType
	ClusterSize  uint32
	Clusters     uint32
	Free         uint32
	Label        string
	VolumeID     uint32
	ReadOnly     bool
	Inconsistent bool
	OpenHandles  int
}

func (v *Volume) StatFS() (FSStat, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.mounted {
		return FSStat{}, errNotMounted
	}
	return FSStat{
		Type:         v.geo.Type,
		ClusterSize:  v.geo.ClusterSize(),
		Clusters:     v.geo.ClusterCount,
		Free:         v.fat.free,
		Label:        v.geo.Label,
		VolumeID:     v.geo.VolumeID,
		ReadOnly:     v.readOnly,
		Inconsistent: v.inconsistent.Load(),
		OpenHandles:  v.handles.inUse(),
	}, nil
}

// CacheStats returns the counters of the block cache.
func (v *Volume) CacheStats() blockcache.Stats {
	return v.cache.Stats()
}

// Inconsistent reports whether a failed mutation left the volume in a state
// that refuses further mutations.
func (v *Volume) Inconsistent() bool {
	return v.inconsistent.Load()
}

func isKind(err, kind error) bool {
	return errors.Is(err, kind)
}

// writable returns why the volume can not be changed, if it can not.
func (v *Volume) writable() error {
	switch {
	case !v.mounted:
		return errNotMounted
	case v.readOnly:
		return checkpoint.With(ErrReadOnly, "volume is mounted read-only")
	case v.inconsistent.Load():
		return checkpoint.With(ErrInconsistent, "volume is marked inconsistent")
	}
	return nil
}

// mutate runs fn under the exclusive lock.
func (v *Volume) mutate(fn func() error) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mutateLocked(fn)
}

// mutateLocked runs fn which changes the on-disk structures. The caller
// holds the exclusive lock. A device failure after fn started writing
// marks the volume inconsistent.
func (v *Volume) mutateLocked(fn func() error) error {
	if err := v.writable(); err != nil {
		return err
	}

	v.meta.writes = 0
	err := fn()
	if err != nil && (isKind(err, ErrInconsistent) || isKind(err, blockcache.ErrWriteBack) || (isKind(err, ErrIoFault) && v.meta.writes > 0)) {
		v.markInconsistent(err)
	}
	if lost := v.lostWrites(); err == nil {
		err = lost
	}
	return err
}

// observe marks the volume inconsistent if a read found a broken structure
// or the cache dropped a dirty block while serving it. It is safe to be
// called under the shared lock.
func (v *Volume) observe(err error) {
	if err != nil && (isKind(err, ErrInconsistent) || isKind(err, blockcache.ErrWriteBack)) {
		v.markInconsistent(err)
	}
	_ = v.lostWrites()
}

// lostWrites reports dirty blocks the cache dropped after their write-back
// failed. Their changes never reached the device, so the volume is marked
// inconsistent.
func (v *Volume) lostWrites() error {
	lost := v.cache.Stats().Lost
	if lost == 0 {
		return nil
	}
	err := checkpoint.With(ErrInconsistent, "%d dirty blocks could not be written back", lost)
	v.markInconsistent(err)
	return err
}

func (v *Volume) markInconsistent(err error) {
	if v.inconsistent.CompareAndSwap(false, true) {
		v.log.WithError(err).Error("volume marked inconsistent, mutations are refused from now on")
	}
}

// view runs fn under the shared lock.
func (v *Volume) view(fn func() error) error {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.mounted {
		return errNotMounted
	}
	err := fn()
	v.observe(err)
	return err
}
