package fs

import (
	"jfsd/internal/defs"
)

// Bitmap is the free-block allocator: one bit per block, starting at
// block defs.BitmapStart, bit value 1 meaning free. Grounded on the
// original fs/fs.c's alloc_block/free_block/block_is_free.
//
// The original scans 32-bit words looking for a non-zero word before
// finding the lowest set bit inside it; this scans bit by bit instead.
// Both give the same answer (numerically lowest free block first) —
// the word-at-a-time version only matters when scanning needs to run
// fast under interrupt pressure, which a hosted simulation never does.
type Bitmap struct {
	dm      *DiskMap
	nblocks int
}

func NewBitmap(dm *DiskMap, nblocks int) *Bitmap {
	return &Bitmap{dm: dm, nblocks: nblocks}
}

const bitsPerBlock = defs.BLKSIZE * 8

func (bm *Bitmap) locate(b int) (blockno, byteIdx, bitIdx int) {
	blockno = defs.BitmapStart + b/bitsPerBlock
	off := b % bitsPerBlock
	return blockno, off / 8, off % 8
}

// IsFree reports whether block b is currently marked free.
func (bm *Bitmap) IsFree(b int) bool {
	blockno, byteIdx, bitIdx := bm.locate(b)
	data := bm.dm.Touch(blockno)
	return data[byteIdx]&(1<<uint(bitIdx)) != 0
}

func (bm *Bitmap) setBit(b int, free bool) {
	blockno, byteIdx, bitIdx := bm.locate(b)
	data := bm.dm.Touch(blockno)
	if free {
		data[byteIdx] |= 1 << uint(bitIdx)
	} else {
		data[byteIdx] &^= 1 << uint(bitIdx)
	}
	bm.dm.MarkDirty(blockno)
}

// Alloc returns the numerically lowest free block, marking it
// allocated and flushing the bitmap block synchronously so a crash
// between allocation and use cannot double-allocate the block. Fails
// with NoDisk if every block is in use.
func (bm *Bitmap) Alloc() (int, defs.Err_t) {
	for b := 1; b < bm.nblocks; b++ {
		if bm.IsFree(b) {
			bm.setBit(b, false)
			blockno, _, _ := bm.locate(b)
			bm.dm.Flush(blockno, true)
			if bm.dm.metrics != nil {
				bm.dm.metrics.BitmapAllocs.Inc()
			}
			return b, 0
		}
	}
	return 0, defs.NoDisk
}

// Free marks b available again. Freeing block 0 is a programmer error
// since it is permanently reserved. The bitmap block is left dirty;
// it is flushed lazily on the ordinary sync/close path.
func (bm *Bitmap) Free(b int) {
	if b == 0 {
		panic("free of block 0")
	}
	bm.setBit(b, true)
	if bm.dm.metrics != nil {
		bm.dm.metrics.BitmapFrees.Inc()
	}
}
