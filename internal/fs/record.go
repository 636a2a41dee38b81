// Package fs implements the on-disk file-system core: the buffer
// cache, the block bitmap allocator, the file-block walker, and the
// path resolver. It is grounded on biscuit's fs/blk.go and fs/super.go
// for the view-over-raw-bytes accessor style, and on the original
// JOS-descendant fs/fs.c and fs/bc.c for the algorithms themselves.
package fs

import (
	"jfsd/internal/defs"
	"jfsd/internal/mem"
	"jfsd/internal/ustr"
	"jfsd/internal/util"
)

// FileRecord_t is a view over the 256-byte on-disk file record stored
// at Data[Off:Off+FileRecordSize], following the same
// wrap-a-byte-page-with-accessors pattern as biscuit's Superblock_t.
// Block names the buffer-cache block Data came from (a directory data
// block, or 0 for the root record embedded in the super block, which
// markDirty and FlushMeta map to defs.SuperBlockNo) so callers know
// which block to mark dirty after a mutation.
type FileRecord_t struct {
	Data  *mem.Bytepg_t
	Off   int
	Block int
}

const (
	foffName     = 0
	foffSize     = defs.MAX_NAME
	foffFtype    = foffSize + 4
	foffDirect   = foffFtype + 4
	foffIndirect = foffDirect + 4*defs.N_DIRECT
)

func (fr FileRecord_t) bytes() []uint8 {
	return fr.Data[fr.Off : fr.Off+defs.FileRecordSize]
}

// Name returns the record's name, truncated at its NUL terminator.
func (fr FileRecord_t) Name() ustr.Ustr {
	return ustr.MkUstrSlice(fr.bytes()[foffName : foffName+defs.MAX_NAME])
}

// SetName writes name into the fixed-size name field, NUL-padding the
// remainder (and NUL-filling it entirely to clear a removed slot).
func (fr FileRecord_t) SetName(name ustr.Ustr) {
	b := fr.bytes()[foffName : foffName+defs.MAX_NAME]
	for i := range b {
		b[i] = 0
	}
	copy(b, name)
}

// Empty reports whether this slot holds no file (an empty name).
func (fr FileRecord_t) Empty() bool {
	return len(fr.Name()) == 0
}

func (fr FileRecord_t) Size() int {
	return util.Readn(fr.bytes(), 4, foffSize)
}

func (fr FileRecord_t) SetSize(n int) {
	util.Writen(fr.bytes(), 4, foffSize, n)
}

func (fr FileRecord_t) Ftype() int {
	return util.Readn(fr.bytes(), 4, foffFtype)
}

func (fr FileRecord_t) SetFtype(t int) {
	util.Writen(fr.bytes(), 4, foffFtype, t)
}

func (fr FileRecord_t) IsDir() bool {
	return fr.Ftype() == defs.FTypeDir
}

// Direct returns the i'th direct block pointer (0 means unallocated).
func (fr FileRecord_t) Direct(i int) int {
	return util.Readn(fr.bytes(), 4, foffDirect+4*i)
}

func (fr FileRecord_t) SetDirect(i int, blk int) {
	util.Writen(fr.bytes(), 4, foffDirect+4*i, blk)
}

func (fr FileRecord_t) Indirect() int {
	return util.Readn(fr.bytes(), 4, foffIndirect)
}

func (fr FileRecord_t) SetIndirect(blk int) {
	util.Writen(fr.bytes(), 4, foffIndirect, blk)
}

// Clear zeroes the entire record, turning it into a free slot.
func (fr FileRecord_t) Clear() {
	b := fr.bytes()
	for i := range b {
		b[i] = 0
	}
}
