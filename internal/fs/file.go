package fs

import (
	"github.com/sirupsen/logrus"

	"jfsd/internal/defs"
	"jfsd/internal/util"
)

// FileSystem_t combines the buffer cache, the bitmap allocator, and
// the super block into the operations the path resolver and IPC
// dispatcher call: block_walk, get_block, free_block,
// truncate_blocks, set_size, flush, plus byte-range Read/Write built
// on top of them.
type FileSystem_t struct {
	DM     *DiskMap
	Bitmap *Bitmap
	Super  Superblock_t
	log    *logrus.Entry
}

func (fsys *FileSystem_t) markDirty(fr FileRecord_t) {
	blk := fr.Block
	if blk == 0 {
		blk = defs.SuperBlockNo
	}
	fsys.DM.MarkDirty(blk)
}

func (fsys *FileSystem_t) zeroBlock(b int) {
	data, err := fsys.DM.TouchForWrite(b)
	if err != 0 {
		fsys.log.WithField("block", b).Fatal("out of simulated physical pages duplicating for write")
		panic("out of simulated physical pages duplicating for write")
	}
	for i := range data {
		data[i] = 0
	}
	fsys.DM.MarkDirty(b)
}

// blockWalk resolves file_bno to the slot holding its block number,
// allocating an indirect block on the way if alloc is set and none
// exists yet. Grounded on the original fs/fs.c file_block_walk.
func (fsys *FileSystem_t) blockWalk(fr FileRecord_t, fileBno int, alloc bool) (get func() int, set func(int), err defs.Err_t) {
	if fileBno < defs.N_DIRECT {
		i := fileBno
		return func() int { return fr.Direct(i) },
			func(v int) { fr.SetDirect(i, v); fsys.markDirty(fr) },
			0
	}
	if fileBno < defs.N_DIRECT+defs.EntriesPerBlock {
		ib := fr.Indirect()
		if ib == 0 {
			if !alloc {
				return nil, nil, defs.NotFound
			}
			nb, aerr := fsys.Bitmap.Alloc()
			if aerr != 0 {
				return nil, nil, aerr
			}
			fsys.zeroBlock(nb)
			fr.SetIndirect(nb)
			fsys.markDirty(fr)
			ib = nb
		}
		idx := fileBno - defs.N_DIRECT
		data := fsys.DM.Touch(ib)
		return func() int { return util.Readn(data[:], 4, idx*4) },
			func(v int) { util.Writen(data[:], 4, idx*4, v); fsys.DM.MarkDirty(ib) },
			0
	}
	return nil, nil, defs.Invalid
}

// GetBlock walks to file_bno, allocating both the indirect block (if
// needed) and the data block itself when the slot is empty.
func (fsys *FileSystem_t) GetBlock(fr FileRecord_t, fileBno int) (int, defs.Err_t) {
	get, set, err := fsys.blockWalk(fr, fileBno, true)
	if err != 0 {
		return 0, err
	}
	b := get()
	if b == 0 {
		nb, aerr := fsys.Bitmap.Alloc()
		if aerr != 0 {
			return 0, aerr
		}
		fsys.zeroBlock(nb)
		set(nb)
		b = nb
	}
	return b, 0
}

// FreeBlock frees file_bno's backing block, if any, and zeros its slot.
func (fsys *FileSystem_t) FreeBlock(fr FileRecord_t, fileBno int) {
	get, set, err := fsys.blockWalk(fr, fileBno, false)
	if err != 0 {
		// No indirect block means nothing was ever allocated here.
		return
	}
	if b := get(); b != 0 {
		fsys.Bitmap.Free(b)
		set(0)
	}
}

// TruncateBlocks frees every file block in [new_nblocks, old_nblocks)
// and, if the file no longer needs an indirect block, frees that too.
// It does not touch fr's stored size.
func (fsys *FileSystem_t) TruncateBlocks(fr FileRecord_t, newSize int) {
	oldNblocks := util.Ceildiv(fr.Size(), defs.BLKSIZE)
	newNblocks := util.Ceildiv(newSize, defs.BLKSIZE)
	for b := newNblocks; b < oldNblocks; b++ {
		fsys.FreeBlock(fr, b)
	}
	if newNblocks <= defs.N_DIRECT && fr.Indirect() != 0 {
		fsys.Bitmap.Free(fr.Indirect())
		fr.SetIndirect(0)
		fsys.markDirty(fr)
	}
}

// SetSize shrinks or grows fr to newSize, truncating blocks first when
// shrinking, then flushing the metadata.
func (fsys *FileSystem_t) SetSize(fr FileRecord_t, newSize int) defs.Err_t {
	if newSize < fr.Size() {
		fsys.TruncateBlocks(fr, newSize)
	}
	fr.SetSize(newSize)
	fsys.markDirty(fr)
	return fsys.FlushMeta(fr)
}

// FlushMeta flushes only the block holding fr's own record (the
// directory block it lives in, or the super block for the root).
func (fsys *FileSystem_t) FlushMeta(fr FileRecord_t) defs.Err_t {
	blk := fr.Block
	if blk == 0 {
		blk = defs.SuperBlockNo
	}
	return fsys.DM.Flush(blk, false)
}

// Flush flushes fr's metadata block, then its indirect block (if any),
// then every data block touched by [offset, offset+length) — or the
// whole file when length is 0. A block is written only if dirty,
// unless force is set.
//
// The original source's length<=0 branch is inverted relative to its
// own comments; this implements the evidently intended "length == 0
// means whole file" behavior (see DESIGN.md Open Question decision 2).
func (fsys *FileSystem_t) Flush(fr FileRecord_t, offset, length int, force bool) defs.Err_t {
	fsys.FlushMeta(fr)
	if ib := fr.Indirect(); ib != 0 {
		fsys.DM.Flush(ib, force)
	}
	if length == 0 {
		length = fr.Size()
		offset = 0
	}
	first := offset / defs.BLKSIZE
	last := util.Ceildiv(offset+length, defs.BLKSIZE)
	nblocks := util.Ceildiv(fr.Size(), defs.BLKSIZE)
	if last > nblocks {
		last = nblocks
	}
	for bno := first; bno < last; bno++ {
		get, _, err := fsys.blockWalk(fr, bno, false)
		if err != 0 {
			continue
		}
		if b := get(); b != 0 {
			fsys.DM.Flush(b, force)
		}
	}
	return 0
}

// Read copies up to len(buf) bytes starting at pos into buf, returning
// the number of bytes actually read. Reads past fr's size, or of a
// hole (an unallocated block), return zero bytes for that range.
func (fsys *FileSystem_t) Read(fr FileRecord_t, pos int, buf []byte) int {
	if pos >= fr.Size() {
		return 0
	}
	n := len(buf)
	if pos+n > fr.Size() {
		n = fr.Size() - pos
	}
	read := 0
	for read < n {
		bno := (pos + read) / defs.BLKSIZE
		boff := (pos + read) % defs.BLKSIZE
		chunk := util.Min(n-read, defs.BLKSIZE-boff)

		get, _, err := fsys.blockWalk(fr, bno, false)
		var blk int
		if err == 0 {
			blk = get()
		}
		if blk == 0 {
			// hole: zero bytes
			for i := 0; i < chunk; i++ {
				buf[read+i] = 0
			}
		} else {
			data := fsys.DM.Touch(blk)
			copy(buf[read:read+chunk], data[boff:boff+chunk])
		}
		read += chunk
	}
	return read
}

// Write copies buf into fr starting at pos, allocating blocks as
// needed, and returns the number of bytes written.
//
// The original source indexes the write loop by offset/BLKSIZE (the
// call's starting position) instead of the running position, which
// repeatedly clobbers the first block of any write spanning more than
// one block. This implements the intended per-position indexing (see
// DESIGN.md Open Question decision 1).
func (fsys *FileSystem_t) Write(fr FileRecord_t, pos int, buf []byte) (int, defs.Err_t) {
	n := len(buf)
	written := 0
	for written < n {
		cur := pos + written
		bno := cur / defs.BLKSIZE
		boff := cur % defs.BLKSIZE
		chunk := util.Min(n-written, defs.BLKSIZE-boff)

		blk, err := fsys.GetBlock(fr, bno)
		if err != 0 {
			return written, err
		}
		data, werr := fsys.DM.TouchForWrite(blk)
		if werr != 0 {
			return written, werr
		}
		copy(data[boff:boff+chunk], buf[written:written+chunk])
		fsys.DM.MarkDirty(blk)
		written += chunk
	}
	if pos+written > fr.Size() {
		fr.SetSize(pos + written)
		fsys.markDirty(fr)
	}
	return written, 0
}
