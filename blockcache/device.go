package blockcache

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"github.com/aligator/fatfs/checkpoint"
	"github.com/spf13/afero"
	"golang.org/x/time/rate"
)

// Device is the raw sector device beneath the cache. It must not cache
// anything on its own and its sector size is fixed for its lifetime.
// Generated mock using mockgen:
//  mockgen -source=device.go -destination=device_mock.go -package blockcache Device
type Device interface {
	// ReadSector fills dst, which is exactly one sector long, with sector index.
	ReadSector(index int64, dst []byte) error
	// WriteSector stores src, which is exactly one sector long, at sector index.
	WriteSector(index int64, src []byte) error
	// SectorSize returns the size of one sector in bytes.
	SectorSize() int
	// SectorCount returns the number of addressable sectors.
	SectorCount() int64
}

var (
	// ErrIO indicates that the device failed to read or write a sector.
	ErrIO = errors.New("device I/O fault")

	// ErrOutOfRange indicates an access outside of the device.
	ErrOutOfRange = errors.New("access outside of the device")

	// ErrSectorSize indicates a sector size that is not a positive power of two.
	ErrSectorSize = errors.New("invalid sector size")

	// ErrWriteBack indicates that a dirty block could not be written and was
	// dropped. Its data is lost. Errors of this kind also match ErrIO.
	ErrWriteBack = errors.New("dirty block lost")

	errSectorLength = errors.New("buffer is not exactly one sector long")
)

func checkSector(d Device, index int64, buf []byte) error {
	if len(buf) != d.SectorSize() {
		return checkpoint.With(errSectorLength, "got %d bytes, sector size %d", len(buf), d.SectorSize())
	}
	if index < 0 || index >= d.SectorCount() {
		return checkpoint.With(ErrOutOfRange, "sector %d of %d", index, d.SectorCount())
	}
	return nil
}

// MemDevice is a sector device kept entirely in memory.
type MemDevice struct {
	mu         sync.RWMutex
	sectorSize int
	data       []byte
}

// NewMemDevice allocates a zeroed device of the given geometry.
func NewMemDevice(sectorSize int, sectors int64) *MemDevice {
	return &MemDevice{
		sectorSize: sectorSize,
		data:       make([]byte, int64(sectorSize)*sectors),
	}
}

// NewMemDeviceFrom wraps an existing image. Trailing bytes that do not
// form a full sector are not addressable.
func NewMemDeviceFrom(image []byte, sectorSize int) *MemDevice {
	return &MemDevice{
		sectorSize: sectorSize,
		data:       image,
	}
}

func (d *MemDevice) ReadSector(index int64, dst []byte) error {
	if err := checkSector(d, index, dst); err != nil {
		return err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	off := index * int64(d.sectorSize)
	copy(dst, d.data[off:off+int64(d.sectorSize)])
	return nil
}

func (d *MemDevice) WriteSector(index int64, src []byte) error {
	if err := checkSector(d, index, src); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	off := index * int64(d.sectorSize)
	copy(d.data[off:off+int64(d.sectorSize)], src)
	return nil
}

func (d *MemDevice) SectorSize() int { return d.sectorSize }

func (d *MemDevice) SectorCount() int64 { return int64(len(d.data) / d.sectorSize) }

// Bytes returns a copy of the whole device content.
func (d *MemDevice) Bytes() []byte {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b := make([]byte, len(d.data))
	copy(b, d.data)
	return b
}

// FileDevice exposes an image file as a sector device. Any afero backend
// works, so images may live on the OS filesystem or in memory.
type FileDevice struct {
	f          afero.File
	sectorSize int
	sectors    int64
}

// NewFileDevice uses the already open file f. Its current size determines
// the number of sectors.
func NewFileDevice(f afero.File, sectorSize int) (*FileDevice, error) {
	if sectorSize <= 0 {
		return nil, checkpoint.With(ErrSectorSize, "%d", sectorSize)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, checkpoint.From(err)
	}
	return &FileDevice{
		f:          f,
		sectorSize: sectorSize,
		sectors:    info.Size() / int64(sectorSize),
	}, nil
}

// OpenImage opens an existing image file on fs.
func OpenImage(fs afero.Fs, path string, sectorSize int, readOnly bool) (*FileDevice, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := fs.OpenFile(path, flag, 0)
	if err != nil {
		return nil, checkpoint.From(err)
	}
	d, err := NewFileDevice(f, sectorSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

// CreateImage creates (or truncates) an image file of the given number of
// sectors on fs.
func CreateImage(fs afero.Fs, path string, sectorSize int, sectors int64) (*FileDevice, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, checkpoint.From(err)
	}
	if err := f.Truncate(int64(sectorSize) * sectors); err != nil {
		f.Close()
		return nil, checkpoint.From(err)
	}
	d, err := NewFileDevice(f, sectorSize)
	if err != nil {
		f.Close()
		return nil, err
	}
	return d, nil
}

func (d *FileDevice) ReadSector(index int64, dst []byte) error {
	if err := checkSector(d, index, dst); err != nil {
		return err
	}
	n, err := d.f.ReadAt(dst, index*int64(d.sectorSize))
	if n == len(dst) && (err == nil || err == io.EOF) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return checkpoint.Wrap(err, ErrIO)
}

func (d *FileDevice) WriteSector(index int64, src []byte) error {
	if err := checkSector(d, index, src); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(src, index*int64(d.sectorSize)); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	return nil
}

func (d *FileDevice) SectorSize() int { return d.sectorSize }

func (d *FileDevice) SectorCount() int64 { return d.sectors }

// Sync commits the image file to its storage.
func (d *FileDevice) Sync() error {
	return checkpoint.From(d.f.Sync())
}

func (d *FileDevice) Close() error {
	return checkpoint.From(d.f.Close())
}

// ThrottledDevice limits the number of sector operations per second of the
// wrapped device. It models slow media and keeps a runaway client from
// saturating a shared device.
type ThrottledDevice struct {
	Device
	limiter *rate.Limiter
}

// NewThrottledDevice allows opsPerSecond sector operations with bursts of
// up to burst operations.
func NewThrottledDevice(dev Device, opsPerSecond float64, burst int) *ThrottledDevice {
	if burst < 1 {
		burst = 1
	}
	return &ThrottledDevice{
		Device:  dev,
		limiter: rate.NewLimiter(rate.Limit(opsPerSecond), burst),
	}
}

func (d *ThrottledDevice) ReadSector(index int64, dst []byte) error {
	if err := d.limiter.Wait(context.Background()); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	return d.Device.ReadSector(index, dst)
}

func (d *ThrottledDevice) WriteSector(index int64, src []byte) error {
	if err := d.limiter.Wait(context.Background()); err != nil {
		return checkpoint.Wrap(err, ErrIO)
	}
	return d.Device.WriteSector(index, src)
}
