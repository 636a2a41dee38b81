package fs

import (
	"github.com/sirupsen/logrus"

	"jfsd/internal/block"
	"jfsd/internal/defs"
	"jfsd/internal/mem"
	"jfsd/internal/metrics"
	"jfsd/internal/vm"
)

// DiskMapBase is the fixed virtual address where the buffer cache
// begins in the server's simulated address space.
const DiskMapBase uintptr = 0x40000000

// Open mounts an already-formatted disk: it maps the super block,
// validates its magic, and builds the bitmap allocator over it.
func Open(disk block.Disk_i, phys *mem.Physmem_t, as *vm.AddrSpace_t, m *metrics.Registry, log *logrus.Entry) (*FileSystem_t, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	dm := NewDiskMap(disk, phys, as, DiskMapBase, m, log)
	superData := dm.Touch(defs.SuperBlockNo)
	sb := Superblock_t{Data: superData}
	if sb.Magic() != defs.FSMagic {
		log.WithField("magic", sb.Magic()).Fatal("bad file-system magic")
		panic("bad file-system magic")
	}
	bm := NewBitmap(dm, sb.NBlocks())
	return &FileSystem_t{DM: dm, Bitmap: bm, Super: sb, log: log.WithField("component", "fs")}, nil
}

// Format writes a fresh super block, an all-free bitmap (with block 0
// marked permanently allocated), and an empty root directory to disk,
// the way cmd/mkfs lays out a brand-new image.
func Format(disk block.Disk_i, phys *mem.Physmem_t, as *vm.AddrSpace_t, m *metrics.Registry, log *logrus.Entry) (*FileSystem_t, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	nblocks := disk.NBlocks()
	dm := NewDiskMap(disk, phys, as, DiskMapBase, m, log)

	superData := dm.Touch(defs.SuperBlockNo)
	sb := Superblock_t{Data: superData}
	sb.SetMagic(defs.FSMagic)
	sb.SetNBlocks(nblocks)
	root := sb.Root()
	root.Clear()
	root.SetFtype(defs.FTypeDir)
	root.SetSize(0)
	dm.MarkDirty(defs.SuperBlockNo)

	nbitmapblocks := (nblocks + bitsPerBlock - 1) / bitsPerBlock
	for i := 0; i < nbitmapblocks; i++ {
		blockno := defs.BitmapStart + i
		data := dm.Touch(blockno)
		for j := range data {
			data[j] = 0xff
		}
		dm.MarkDirty(blockno)
	}
	bm := NewBitmap(dm, nblocks)
	// Block 0 is reserved and never allocated; every block consumed by
	// the super block and the bitmap itself is marked used too.
	lastReserved := defs.BitmapStart + nbitmapblocks
	for b := 0; b < lastReserved; b++ {
		bm.setBit(b, false)
	}
	for i := 0; i < nbitmapblocks; i++ {
		dm.Flush(defs.BitmapStart+i, true)
	}
	dm.Flush(defs.SuperBlockNo, true)

	return &FileSystem_t{DM: dm, Bitmap: bm, Super: sb, log: log.WithField("component", "fs")}, nil
}

// Sync flushes the super block and every bitmap block back to disk.
// File data and metadata blocks are flushed individually via Flush as
// part of close/explicit-flush requests, per the ordering guarantees
// in the concurrency model.
func (fsys *FileSystem_t) Sync() defs.Err_t {
	nbitmapblocks := (fsys.Super.NBlocks() + bitsPerBlock - 1) / bitsPerBlock
	for i := 0; i < nbitmapblocks; i++ {
		fsys.DM.Flush(defs.BitmapStart+i, false)
	}
	fsys.DM.Flush(defs.SuperBlockNo, false)
	return 0
}
