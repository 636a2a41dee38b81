package fs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"jfsd/internal/block"
	"jfsd/internal/defs"
	"jfsd/internal/mem"
	"jfsd/internal/metrics"
	"jfsd/internal/ustr"
	"jfsd/internal/vm"
)

func newTestFS(t *testing.T) *FileSystem_t {
	t.Helper()
	disk := block.NewMemDisk(256)
	phys := mem.NewPhysmem(nil)
	as := vm.NewAddrSpace(phys, nil)
	m := metrics.New()
	fsys, err := Format(disk, phys, as, m, nil)
	require.NoError(t, err)
	return fsys
}

func TestFormatProducesEmptyRoot(t *testing.T) {
	fsys := newTestFS(t)
	root := fsys.Super.Root()
	require.True(t, root.IsDir())
	require.Equal(t, 0, root.Size())
}

func TestCreateAndWalk(t *testing.T) {
	fsys := newTestFS(t)
	fr, cerr := fsys.Create(ustr.Ustr("hello.txt"), false)
	require.Zero(t, cerr)
	require.False(t, fr.IsDir())

	found, _, _, werr := fsys.WalkPath(ustr.Ustr("hello.txt"))
	require.Zero(t, werr)
	require.True(t, found.Name().Eq(ustr.Ustr("hello.txt")))
}

func TestCreateRejectsDuplicate(t *testing.T) {
	fsys := newTestFS(t)
	_, cerr := fsys.Create(ustr.Ustr("dup"), false)
	require.Zero(t, cerr)
	_, cerr = fsys.Create(ustr.Ustr("dup"), false)
	require.Equal(t, defs.FileExists, cerr)
}

func TestWalkMissingParentIsNotFound(t *testing.T) {
	fsys := newTestFS(t)
	_, _, _, err := fsys.WalkPath(ustr.Ustr("nope/also-missing"))
	require.Equal(t, defs.NotFound, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	fsys := newTestFS(t)
	fr, cerr := fsys.Create(ustr.Ustr("data.bin"), false)
	require.Zero(t, cerr)

	payload := make([]byte, defs.BLKSIZE*2+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, werr := fsys.Write(fr, 0, payload)
	require.Zero(t, werr)
	require.Equal(t, len(payload), n)

	out := make([]byte, len(payload))
	got := fsys.Read(fr, 0, out)
	require.Equal(t, len(payload), got)
	require.Equal(t, payload, out)
}

func TestSetSizeTruncatesBlocks(t *testing.T) {
	fsys := newTestFS(t)
	fr, _ := fsys.Create(ustr.Ustr("shrink"), false)
	_, werr := fsys.Write(fr, 0, make([]byte, defs.BLKSIZE*3))
	require.Zero(t, werr)

	serr := fsys.SetSize(fr, defs.BLKSIZE)
	require.Zero(t, serr)
	require.Equal(t, defs.BLKSIZE, fr.Size())
}

func TestRemoveClearsSlot(t *testing.T) {
	fsys := newTestFS(t)
	_, cerr := fsys.Create(ustr.Ustr("gone"), false)
	require.Zero(t, cerr)

	rerr := fsys.Remove(ustr.Ustr("gone"))
	require.Zero(t, rerr)

	_, _, _, werr := fsys.WalkPath(ustr.Ustr("gone"))
	require.Equal(t, defs.NotFound, werr)
}

func TestCreateDirectory(t *testing.T) {
	fsys := newTestFS(t)
	dir, cerr := fsys.Create(ustr.Ustr("sub"), true)
	require.Zero(t, cerr)
	require.True(t, dir.IsDir())

	_, cerr = fsys.Create(ustr.Ustr("sub/inner"), false)
	require.Zero(t, cerr)

	found, _, _, werr := fsys.WalkPath(ustr.Ustr("sub/inner"))
	require.Zero(t, werr)
	require.False(t, found.IsDir())
}

// TestBitmapExhaustionAndReuse covers bitmap exhaustion followed by
// reuse of the lowest-numbered block freed in the meantime: allocate
// every block a tiny disk has, confirm the next allocation fails with
// NoDisk, free one, and confirm the next allocation returns exactly
// that block back.
func TestBitmapExhaustionAndReuse(t *testing.T) {
	disk := block.NewMemDisk(8)
	phys := mem.NewPhysmem(nil)
	as := vm.NewAddrSpace(phys, nil)
	fsys, err := Format(disk, phys, as, metrics.New(), nil)
	require.NoError(t, err)

	var allocated []int
	for {
		b, aerr := fsys.Bitmap.Alloc()
		if aerr != 0 {
			require.Equal(t, defs.NoDisk, aerr)
			break
		}
		allocated = append(allocated, b)
	}
	require.NotEmpty(t, allocated)

	freed := allocated[len(allocated)/2]
	fsys.Bitmap.Free(freed)

	got, aerr := fsys.Bitmap.Alloc()
	require.Zero(t, aerr)
	require.Equal(t, freed, got)
}

// TestIndirectBlockGrowth covers a write large enough to exhaust every
// direct block slot, forcing an indirect block to be allocated, and
// confirms the full byte range still round-trips once the file spans
// both direct and indirect blocks.
func TestIndirectBlockGrowth(t *testing.T) {
	fsys := newTestFS(t)
	fr, cerr := fsys.Create(ustr.Ustr("grows"), false)
	require.Zero(t, cerr)
	require.Zero(t, fr.Indirect())

	payload := make([]byte, (defs.N_DIRECT+2)*defs.BLKSIZE)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, werr := fsys.Write(fr, 0, payload)
	require.Zero(t, werr)
	require.Equal(t, len(payload), n)
	require.NotZero(t, fr.Indirect())

	out := make([]byte, len(payload))
	got := fsys.Read(fr, 0, out)
	require.Equal(t, len(payload), got)
	require.Equal(t, payload, out)
}

// TestDirectoryGrowsToExactlyTwoBlocks covers a directory crossing its
// first block-boundary: BLKFILES entries fill the first block exactly,
// and the next Create must allocate a second directory block, leaving
// the directory's size at precisely 2*BLKSIZE.
func TestDirectoryGrowsToExactlyTwoBlocks(t *testing.T) {
	fsys := newTestFS(t)
	for i := 0; i < defs.BLKFILES+1; i++ {
		_, cerr := fsys.Create(ustr.Ustr(fmt.Sprintf("f%d", i)), false)
		require.Zero(t, cerr)
	}
	root := fsys.Super.Root()
	require.Equal(t, 2*defs.BLKSIZE, root.Size())
}

func TestSyncThenReopenPreservesData(t *testing.T) {
	disk := block.NewMemDisk(256)
	phys := mem.NewPhysmem(nil)
	as := vm.NewAddrSpace(phys, nil)
	m := metrics.New()
	fsys, err := Format(disk, phys, as, m, nil)
	require.NoError(t, err)

	fr, cerr := fsys.Create(ustr.Ustr("persisted"), false)
	require.Zero(t, cerr)
	_, werr := fsys.Write(fr, 0, []byte("durable bytes"))
	require.Zero(t, werr)
	require.Zero(t, fsys.Flush(fr, 0, 0, true))
	require.Zero(t, fsys.Sync())

	phys2 := mem.NewPhysmem(nil)
	as2 := vm.NewAddrSpace(phys2, nil)
	reopened, err := Open(disk, phys2, as2, metrics.New(), nil)
	require.NoError(t, err)

	found, _, _, werr := reopened.WalkPath(ustr.Ustr("persisted"))
	require.Zero(t, werr)
	out := make([]byte, len("durable bytes"))
	n := reopened.Read(found, 0, out)
	require.Equal(t, len("durable bytes"), n)
	require.Equal(t, "durable bytes", string(out))
}
