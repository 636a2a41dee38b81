package openfile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jfsd/internal/block"
	"jfsd/internal/defs"
	"jfsd/internal/fs"
	"jfsd/internal/mem"
	"jfsd/internal/metrics"
	"jfsd/internal/ustr"
	"jfsd/internal/vm"
)

func newTestFixture(t *testing.T) (*Table, *mem.Physmem_t, fs.FileRecord_t) {
	t.Helper()
	disk := block.NewMemDisk(64)
	phys := mem.NewPhysmem(nil)
	as := vm.NewAddrSpace(phys, nil)
	fsys, err := fs.Format(disk, phys, as, metrics.New(), nil)
	require.NoError(t, err)
	fr, cerr := fsys.Create(ustr.Ustr("f"), false)
	require.Zero(t, cerr)

	tbl := NewTable(phys, metrics.New(), nil)
	return tbl, phys, fr
}

func TestAllocAndLookup(t *testing.T) {
	tbl, phys, fr := newTestFixture(t)

	fileid, pa, err := tbl.Alloc(fr, defs.O_RDWR)
	require.Zero(t, err)

	// The server's own reference alone should not make the slot "live".
	_, lerr := tbl.Lookup(fileid)
	require.Equal(t, defs.Invalid, lerr)

	// A client mapping the descriptor page bumps the refcount past one.
	phys.Refup(pa)
	e, lerr := tbl.Lookup(fileid)
	require.Zero(t, lerr)
	require.Equal(t, fileid, e.FileId)
}

func TestLookupRejectsStaleGeneration(t *testing.T) {
	tbl, phys, fr := newTestFixture(t)

	fileid, pa, err := tbl.Alloc(fr, defs.O_RDWR)
	require.Zero(t, err)
	phys.Refup(pa)

	_, lerr := tbl.Lookup(fileid + defs.MAX_OPEN)
	require.Equal(t, defs.Invalid, lerr)
}

func TestAllocReusesFreedSlot(t *testing.T) {
	tbl, _, fr := newTestFixture(t)

	fileid1, pa1, err := tbl.Alloc(fr, defs.O_RDONLY)
	require.Zero(t, err)
	require.Equal(t, pa1, tbl.entries[fileid1%defs.MAX_OPEN].DescPA)

	// Never mapped into any client: refcount stays at 1 (server only),
	// so the slot is free to reuse on the next Alloc.
	fileid2, pa2, err := tbl.Alloc(fr, defs.O_WRONLY)
	require.Zero(t, err)
	require.Equal(t, pa1, pa2)
	require.Equal(t, fileid1+defs.MAX_OPEN, fileid2)
}

func TestAllocExhaustsTable(t *testing.T) {
	tbl, phys, fr := newTestFixture(t)

	for i := 0; i < defs.MAX_OPEN; i++ {
		fileid, pa, err := tbl.Alloc(fr, defs.O_RDONLY)
		require.Zero(t, err)
		phys.Refup(pa) // keep every slot live so the next Alloc can't reuse it
		_ = fileid
	}

	_, _, err := tbl.Alloc(fr, defs.O_RDONLY)
	require.Equal(t, defs.MaxOpen, err)
}
