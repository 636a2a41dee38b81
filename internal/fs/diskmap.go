package fs

import (
	"github.com/sirupsen/logrus"

	"jfsd/internal/block"
	"jfsd/internal/defs"
	"jfsd/internal/mem"
	"jfsd/internal/metrics"
	"jfsd/internal/vm"
)

// DiskMap is the buffer cache: a reserved region of the server's
// address space where block b lives at Base+b*BLKSIZE, materialized
// lazily on first fault and tracked dirty via the simulated PTE dirty
// bit. Grounded on the contract in the original fs/bc.c
// (diskaddr/va_is_mapped/va_is_dirty/flush_block/bc_pgfault) and the
// page-fault-driven shape of biscuit's fs/blk.go buffer management.
type DiskMap struct {
	Disk    block.Disk_i
	AS      *vm.AddrSpace_t
	Phys    *mem.Physmem_t
	Base    uintptr
	NBlocks int
	metrics *metrics.Registry
	log     *logrus.Entry
}

// NewDiskMap reserves [base, base+nblocks*BLKSIZE) in as and installs
// the buffer cache's fault handler over it.
func NewDiskMap(disk block.Disk_i, phys *mem.Physmem_t, as *vm.AddrSpace_t, base uintptr, m *metrics.Registry, log *logrus.Entry) *DiskMap {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	dm := &DiskMap{
		Disk:    disk,
		AS:      as,
		Phys:    phys,
		Base:    base,
		NBlocks: disk.NBlocks(),
		metrics: m,
		log:     log.WithField("component", "diskmap"),
	}
	end := base + uintptr(dm.NBlocks)*defs.BLKSIZE
	if err := as.SetRegionHandler(base, end, dm.pgfault); err != 0 {
		panic("could not reserve buffer cache region")
	}
	return dm
}

// AddrOf returns the fixed virtual address of block b. An out-of-range
// block number is a programmer error: every caller is expected to
// have validated b against the file record or superblock first.
func (dm *DiskMap) AddrOf(b int) uintptr {
	if b == 0 || b >= dm.NBlocks {
		dm.log.WithField("block", b).Fatal("bad block number")
		panic("bad block number")
	}
	return dm.Base + uintptr(b)*defs.BLKSIZE
}

// BlockOf recovers the block number backing a buffer-cache address.
func (dm *DiskMap) BlockOf(va uintptr) int {
	return int((vm.Rounddown(va) - dm.Base) / defs.BLKSIZE)
}

// IsMapped reports whether b's page has ever been faulted in.
func (dm *DiskMap) IsMapped(b int) bool {
	return dm.AS.IsMapped(dm.AddrOf(b))
}

// IsDirty reports whether b's page has been written since its last
// flush.
func (dm *DiskMap) IsDirty(b int) bool {
	return dm.AS.IsDirty(dm.AddrOf(b))
}

// pgfault services a fault anywhere in the buffer cache's region by
// reading the backing block. Faults outside the region never reach
// here; vm.AddrSpace_t.Pgfault only dispatches within registered
// ranges, and any other range is its own fatal case.
func (dm *DiskMap) pgfault(as *vm.AddrSpace_t, va uintptr, iswrite bool) defs.Err_t {
	dm.readBlock(va)
	return 0
}

// readBlock allocates a fresh page at va and fills it from disk,
// mapping it in with read/write permission so the first write simply
// sets the dirty bit rather than faulting again.
func (dm *DiskMap) readBlock(va uintptr) {
	b := dm.BlockOf(va)
	data, err := dm.Disk.ReadBlock(b)
	if err != nil {
		dm.log.WithError(err).WithField("block", b).Fatal("disk read failed")
		panic(err)
	}
	pg, pa, ok := dm.Phys.Refpg_new_nozero()
	if !ok {
		dm.log.Fatal("out of simulated physical pages")
		panic("out of simulated physical pages")
	}
	copy(pg[:], data[:])
	dm.Phys.Refup(pa)
	dm.AS.MapPage(va, pa, defs.PTE_P|defs.PTE_W|defs.PTE_U)
	if dm.metrics != nil {
		dm.metrics.CacheFaults.Inc()
	}
}

// Touch ensures block b is mapped, faulting it in on demand, and
// returns its backing bytes.
func (dm *DiskMap) Touch(b int) *mem.Bytepg_t {
	va := dm.AddrOf(b)
	if !dm.AS.IsMapped(va) {
		dm.readBlock(va)
	}
	pte, _ := dm.AS.Pte(va)
	return dm.Phys.Dmap(pte.Pa)
}

// MarkDirty records that block b has been written through the cache.
func (dm *DiskMap) MarkDirty(b int) {
	dm.AS.MarkDirty(dm.AddrOf(b))
}

// EnsureWritable resolves a pending copy-on-write duplication of the
// server's own mapping of block b, the server-side counterpart of
// Client_t.EnsureWritable. serveBlockReq downgrades the server's own
// PTE to PTE_COW alongside the client's whenever it hands out a COW
// block, exactly as the original's bc_pgfault path does, so that a
// write coming in through FileSystem_t can never land on the same
// physical page a client is still holding pre-divergence: it forces
// the server to fault off onto a private copy first, the same way the
// client itself would on its own first write.
func (dm *DiskMap) EnsureWritable(b int) defs.Err_t {
	va := dm.AddrOf(b)
	if !dm.AS.IsMapped(va) {
		dm.readBlock(va)
	}
	pte, _ := dm.AS.Pte(va)
	if pte.Perm&defs.PTE_W != 0 {
		return 0
	}
	if pte.Perm&defs.PTE_COW == 0 {
		return defs.ModeErr
	}
	old := dm.Phys.Dmap(pte.Pa)
	pg, pa, ok := dm.Phys.Refpg_new_nozero()
	if !ok {
		return defs.NoMem
	}
	copy(pg[:], old[:])
	dm.Phys.Refup(pa)
	dm.Phys.Refdown(pte.Pa)
	dm.AS.MapPage(va, pa, defs.PTE_P|defs.PTE_U|defs.PTE_W)
	dm.AS.MarkDirty(va)
	return 0
}

// TouchForWrite is Touch for callers about to mutate the returned
// bytes in place: it resolves any pending COW duplication first so the
// write can never alias a physical page a COW-mmap'd client still
// expects to read back unchanged.
func (dm *DiskMap) TouchForWrite(b int) (*mem.Bytepg_t, defs.Err_t) {
	if err := dm.EnsureWritable(b); err != 0 {
		return nil, err
	}
	return dm.Touch(b), 0
}

// Flush writes block b back to disk if it is mapped and (force or
// dirty), then clears its dirty bit. It takes a block number rather
// than an address, so there is no address to round to a block boundary.
func (dm *DiskMap) Flush(b int, force bool) defs.Err_t {
	va := dm.AddrOf(b)
	if !dm.AS.IsMapped(va) {
		return 0
	}
	if !force && !dm.AS.IsDirty(va) {
		return 0
	}
	pte, _ := dm.AS.Pte(va)
	data := dm.Phys.Dmap(pte.Pa)
	if err := dm.Disk.WriteBlock(b, *data); err != nil {
		dm.log.WithError(err).WithField("block", b).Fatal("disk write failed")
		panic(err)
	}
	dm.AS.ClearDirty(va)
	if dm.metrics != nil {
		dm.metrics.CacheFlushes.Inc()
	}
	return 0
}
