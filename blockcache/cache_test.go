package blockcache

import (
	"bytes"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDevice = errors.New("device unplugged")

func newMock(t *testing.T, sectors int64) (*gomock.Controller, *MockDevice) {
	ctrl := gomock.NewController(t)
	dev := NewMockDevice(ctrl)
	dev.EXPECT().SectorSize().Return(512).AnyTimes()
	dev.EXPECT().SectorCount().Return(sectors).AnyTimes()
	return ctrl, dev
}

func fill(b byte, n int) []byte {
	return bytes.Repeat([]byte{b}, n)
}

func TestCache_ReadWrite(t *testing.T) {
	dev := NewMemDevice(512, 16)
	c, err := New(dev, Config{Capacity: 8})
	require.NoError(t, err)

	// Spans the end of block 0, all of block 1 and the start of block 2.
	data := fill(0xAB, 1000)
	n, err := c.WriteAt(data, 300)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)
	assert.Equal(t, 3, c.Dirty())

	assert.Equal(t, make([]byte, 1000), dev.Bytes()[300:1300], "writes must be deferred")

	got := make([]byte, 1000)
	_, err = c.ReadAt(got, 300)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, c.Flush())
	assert.Equal(t, 0, c.Dirty())
	assert.Equal(t, data, dev.Bytes()[300:1300])
}

func TestCache_OutOfRange(t *testing.T) {
	c, err := New(NewMemDevice(512, 2), Config{})
	require.NoError(t, err)

	tests := []struct {
		name string
		off  int64
		len  int
	}{
		{name: "negative offset", off: -1, len: 1},
		{name: "past the end", off: 1024, len: 1},
		{name: "crossing the end", off: 1000, len: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ReadAt(make([]byte, tt.len), tt.off)
			assert.ErrorIs(t, err, ErrOutOfRange)
			_, err = c.WriteAt(make([]byte, tt.len), tt.off)
			assert.ErrorIs(t, err, ErrOutOfRange)
		})
	}
}

func TestCache_MinimumCapacity(t *testing.T) {
	c, err := New(NewMemDevice(512, 16), Config{Capacity: 1})
	require.NoError(t, err)

	for i := int64(0); i < 8; i++ {
		_, err := c.ReadAt(make([]byte, 1), i*512)
		require.NoError(t, err)
	}
	assert.Equal(t, MinCapacity, c.Len())
}

func TestCache_EvictionWritesBack(t *testing.T) {
	dev := NewMemDevice(512, 16)
	c, err := New(dev, Config{Capacity: 4})
	require.NoError(t, err)

	_, err = c.WriteAt(fill(1, 512), 0)
	require.NoError(t, err)

	// Touch four more blocks so that block 0 is the least recently used one.
	for i := int64(1); i <= 4; i++ {
		_, err := c.ReadAt(make([]byte, 1), i*512)
		require.NoError(t, err)
	}

	assert.Equal(t, fill(1, 512), dev.Bytes()[:512])
	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Evictions)
	assert.Equal(t, uint64(1), stats.WriteBacks)
	assert.Equal(t, 4, c.Len())
}

func TestCache_LRUOrder(t *testing.T) {
	dev := NewMemDevice(512, 16)
	c, err := New(dev, Config{Capacity: 4})
	require.NoError(t, err)

	for i := int64(0); i < 4; i++ {
		_, err := c.ReadAt(make([]byte, 1), i*512)
		require.NoError(t, err)
	}
	// Block 0 becomes the most recently used, block 1 is evicted next.
	_, err = c.ReadAt(make([]byte, 1), 0)
	require.NoError(t, err)
	_, err = c.ReadAt(make([]byte, 1), 4*512)
	require.NoError(t, err)

	before := c.Stats()
	_, err = c.ReadAt(make([]byte, 1), 0)
	require.NoError(t, err)
	assert.Equal(t, before.Hits+1, c.Stats().Hits, "block 0 must still be cached")

	_, err = c.ReadAt(make([]byte, 1), 512)
	require.NoError(t, err)
	assert.Equal(t, before.Misses+1, c.Stats().Misses, "block 1 must have been evicted")
}

func TestCache_FullBlockWriteSkipsRead(t *testing.T) {
	ctrl, dev := newMock(t, 8)
	defer ctrl.Finish()

	c, err := New(dev, Config{})
	require.NoError(t, err)

	// No ReadSector expectation: a read would fail the test.
	_, err = c.WriteAt(fill(7, 1024), 1024)
	require.NoError(t, err)

	gomock.InOrder(
		dev.EXPECT().WriteSector(int64(2), fill(7, 512)).Return(nil),
		dev.EXPECT().WriteSector(int64(3), fill(7, 512)).Return(nil),
	)
	require.NoError(t, c.Flush())
}

func TestCache_PartialWriteReadsFirst(t *testing.T) {
	ctrl, dev := newMock(t, 8)
	defer ctrl.Finish()

	c, err := New(dev, Config{})
	require.NoError(t, err)

	dev.EXPECT().ReadSector(int64(1), gomock.Any()).DoAndReturn(func(_ int64, dst []byte) error {
		copy(dst, fill(9, 512))
		return nil
	})
	_, err = c.WriteAt([]byte{1, 2}, 512+10)
	require.NoError(t, err)

	want := fill(9, 512)
	want[10], want[11] = 1, 2
	dev.EXPECT().WriteSector(int64(1), want).Return(nil)
	require.NoError(t, c.Flush())
}

func TestCache_ReadRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantErr   bool
		wantReads int
	}{
		{name: "first read succeeds", failures: 0, wantReads: 1},
		{name: "retry succeeds", failures: 1, wantReads: 2},
		{name: "retry fails", failures: 2, wantErr: true, wantReads: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl, dev := newMock(t, 8)
			defer ctrl.Finish()

			reads := 0
			dev.EXPECT().ReadSector(int64(0), gomock.Any()).DoAndReturn(func(_ int64, dst []byte) error {
				reads++
				if reads <= tt.failures {
					return errDevice
				}
				dst[0] = 42
				return nil
			}).Times(tt.wantReads)

			c, err := New(dev, Config{})
			require.NoError(t, err)

			got := make([]byte, 1)
			_, err = c.ReadAt(got, 0)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrIO)
				assert.ErrorIs(t, err, errDevice)
				assert.Equal(t, 0, c.Len())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, byte(42), got[0])
			assert.Equal(t, uint64(tt.failures), c.Stats().Retries)
		})
	}
}

func TestCache_FlushFailureEvicts(t *testing.T) {
	ctrl, dev := newMock(t, 8)
	defer ctrl.Finish()

	c, err := New(dev, Config{})
	require.NoError(t, err)

	for _, idx := range []int64{5, 1, 3} {
		_, err := c.WriteAt(fill(byte(idx), 512), idx*512)
		require.NoError(t, err)
	}

	gomock.InOrder(
		dev.EXPECT().WriteSector(int64(1), gomock.Any()).Return(nil),
		dev.EXPECT().WriteSector(int64(3), gomock.Any()).Return(errDevice),
		dev.EXPECT().WriteSector(int64(5), gomock.Any()).Return(nil),
	)

	err = c.Flush()
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, ErrWriteBack)
	assert.ErrorIs(t, err, errDevice)
	assert.Equal(t, 0, c.Dirty())
	assert.Equal(t, 2, c.Len(), "the failed block must be evicted")
	assert.Equal(t, uint64(1), c.Stats().Lost)
}

func TestCache_EvictionFailure(t *testing.T) {
	ctrl, dev := newMock(t, 8)
	defer ctrl.Finish()

	c, err := New(dev, Config{Capacity: 4})
	require.NoError(t, err)

	for i := int64(0); i < 4; i++ {
		_, err := c.WriteAt(fill(1, 512), i*512)
		require.NoError(t, err)
	}

	dev.EXPECT().WriteSector(int64(0), gomock.Any()).Return(errDevice)
	_, err = c.WriteAt(fill(2, 512), 4*512)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, ErrWriteBack)
	assert.Equal(t, 3, c.Dirty())
	assert.Equal(t, uint64(1), c.Stats().Lost)
}

func TestCache_Invalidate(t *testing.T) {
	dev := NewMemDevice(512, 4)
	c, err := New(dev, Config{})
	require.NoError(t, err)

	_, err = c.ReadAt(make([]byte, 1), 0)
	require.NoError(t, err)
	_, err = c.WriteAt([]byte{1}, 512)
	require.NoError(t, err)

	// Changed behind the back of the cache.
	require.NoError(t, dev.WriteSector(0, fill(3, 512)))

	c.Invalidate()
	assert.Equal(t, 1, c.Len())

	got := make([]byte, 1)
	_, err = c.ReadAt(got, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(3), got[0])
}

func TestCache_Close(t *testing.T) {
	dev := NewMemDevice(512, 4)
	c, err := New(dev, Config{})
	require.NoError(t, err)

	_, err = c.WriteAt([]byte{1, 2, 3}, 100)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, []byte{1, 2, 3}, dev.Bytes()[100:103])
	assert.Equal(t, 0, c.Len())
	assert.NoError(t, c.Close())
}

func TestNew_InvalidBlockSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	dev := NewMockDevice(ctrl)
	dev.EXPECT().SectorSize().Return(500)

	_, err := New(dev, Config{})
	assert.ErrorIs(t, err, ErrSectorSize)
}
