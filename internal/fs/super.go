package fs

import (
	"jfsd/internal/mem"
	"jfsd/internal/util"
)

// Superblock_t is a view over block 1: magic, total block count, and
// the embedded root directory record.
type Superblock_t struct {
	Data *mem.Bytepg_t
}

const (
	soffMagic   = 0
	soffNblocks = 4
	soffRoot    = 8
)

func (sb Superblock_t) Magic() uint32 {
	return uint32(util.Readn(sb.Data[:], 4, soffMagic))
}

func (sb Superblock_t) SetMagic(m uint32) {
	util.Writen(sb.Data[:], 4, soffMagic, int(m))
}

func (sb Superblock_t) NBlocks() int {
	return util.Readn(sb.Data[:], 4, soffNblocks)
}

func (sb Superblock_t) SetNBlocks(n int) {
	util.Writen(sb.Data[:], 4, soffNblocks, n)
}

func (sb Superblock_t) Root() FileRecord_t {
	return FileRecord_t{Data: sb.Data, Off: soffRoot, Block: 0}
}
