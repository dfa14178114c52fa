package blockcache

import (
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDevice(t *testing.T) {
	dev := NewMemDevice(512, 4)
	assert.Equal(t, int64(4), dev.SectorCount())

	require.NoError(t, dev.WriteSector(3, fill(5, 512)))
	got := make([]byte, 512)
	require.NoError(t, dev.ReadSector(3, got))
	assert.Equal(t, fill(5, 512), got)

	assert.ErrorIs(t, dev.ReadSector(4, got), ErrOutOfRange)
	assert.ErrorIs(t, dev.ReadSector(-1, got), ErrOutOfRange)
	assert.Error(t, dev.WriteSector(0, make([]byte, 100)))
}

func TestFileDevice(t *testing.T) {
	fs := afero.NewMemMapFs()

	dev, err := CreateImage(fs, "/disk.img", 512, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(8), dev.SectorCount())

	require.NoError(t, dev.WriteSector(7, fill(0x55, 512)))
	require.NoError(t, dev.Sync())
	require.NoError(t, dev.Close())

	raw, err := afero.ReadFile(fs, "/disk.img")
	require.NoError(t, err)
	assert.Len(t, raw, 8*512)
	assert.Equal(t, fill(0x55, 512), raw[7*512:])

	ro, err := OpenImage(fs, "/disk.img", 512, true)
	require.NoError(t, err)
	defer ro.Close()

	got := make([]byte, 512)
	require.NoError(t, ro.ReadSector(7, got))
	assert.Equal(t, fill(0x55, 512), got)
	assert.ErrorIs(t, ro.ReadSector(8, got), ErrOutOfRange)
}

func TestOpenImage_Missing(t *testing.T) {
	_, err := OpenImage(afero.NewMemMapFs(), "/nope.img", 512, false)
	assert.Error(t, err)
}

func TestNewFileDevice_InvalidSectorSize(t *testing.T) {
	f, err := afero.NewMemMapFs().Create("/disk.img")
	require.NoError(t, err)
	defer f.Close()

	for _, size := range []int{0, -512} {
		_, err := NewFileDevice(f, size)
		assert.ErrorIs(t, err, ErrSectorSize, "sector size %d", size)
	}
}

func TestThrottledDevice(t *testing.T) {
	// A burst of two and 100 ops per second: the third op waits ~10ms.
	dev := NewThrottledDevice(NewMemDevice(512, 4), 100, 2)
	buf := make([]byte, 512)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, dev.ReadSector(0, buf))
	}
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Equal(t, 512, dev.SectorSize())
}
