package blockcache

import (
	"math/bits"

	"github.com/aligator/fatfs/checkpoint"
)

// blkIdxer splits byte offsets into a block index and an offset inside the
// block. Block sizes are powers of two.
type blkIdxer struct {
	shift uint16
	mask  uint32
}

func makeBlockIndexer(blockSize int) (blkIdxer, error) {
	if blockSize <= 0 || bits.OnesCount(uint(blockSize)) != 1 {
		return blkIdxer{}, checkpoint.With(ErrSectorSize, "block size %d is not a power of two", blockSize)
	}
	tz := bits.TrailingZeros(uint(blockSize))
	return blkIdxer{
		shift: uint16(tz),
		mask:  uint32(1<<tz) - 1,
	}, nil
}

func (b blkIdxer) size() int64 {
	return 1 << b.shift
}

func (b blkIdxer) idx(off int64) int64 {
	return off >> b.shift
}

func (b blkIdxer) off(off int64) int64 {
	return off & int64(b.mask)
}
