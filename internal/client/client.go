// Package client implements the library side of the file-system
// protocol: RPC stubs over ipc, the mmap region manager with its
// shared/private fault handling, and fork/duppage address-space
// duplication. Grounded on the original lib/fsipc.c, lib/mmap.c,
// lib/pgfault.c, and lib/fork.c.
package client

import (
	"sync"

	"github.com/sirupsen/logrus"

	"jfsd/internal/defs"
	"jfsd/internal/ipc"
	"jfsd/internal/mem"
	"jfsd/internal/proto"
	"jfsd/internal/ustr"
	"jfsd/internal/vm"
)

// descVABase is where this process parks the descriptor pages it is
// handed on open, one page per open file-id slot, mirroring the
// original's fixed FILEVA scheme.
const descVABase uintptr = 0xd0000000

// mmapVABase is where the bump allocator for fresh mmap regions starts.
// Freed ranges are never reused — an accepted simplification for a
// test harness that does not need to pack virtual address space.
const mmapVABase uintptr = 0x50000000

// region_t records the metadata a Region's fault handler needs: which
// file and file-offset backs the range, and what protection/sharing it
// was mapped with. Kept outside AddrSpace_t's handler table (which
// only carries a dispatch func) so Fork can replicate it into a child
// Client_t without needing to introspect closures.
type region_t struct {
	Min, Max   uintptr
	FileId     int
	OffsetBase int
	Prot       int
	Flags      int
}

// Client_t is one simulated user environment's file-system client
// state: its own address space, its own IPC identity, and the set of
// mmap'd regions it currently has registered.
type Client_t struct {
	mu      sync.Mutex
	AS      *vm.AddrSpace_t
	Phys    *mem.Physmem_t
	sys     *ipc.System_t
	Envid   ipc.Envid_t
	Inbox   *ipc.Mailbox
	server  *ipc.Mailbox
	regions []region_t
	bump    uintptr
	log     *logrus.Entry
}

func New(as *vm.AddrSpace_t, phys *mem.Physmem_t, sys *ipc.System_t, server *ipc.Mailbox, log *logrus.Entry) *Client_t {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	envid, mbox := sys.NewEnv()
	return &Client_t{
		AS:     as,
		Phys:   phys,
		sys:    sys,
		Envid:  envid,
		Inbox:  mbox,
		server: server,
		bump:   mmapVABase,
		log:    log.WithField("component", "client"),
	}
}

// call sends req to the server and blocks for its reply.
func (c *Client_t) call(req proto.Request) ipc.Msg {
	ipc.Send(c.server, c.Envid, 0, req, 0)
	return ipc.Recv(c.Inbox)
}

// Open opens path, returning the new file-id. The server's descriptor
// page is mapped into this client at a fixed per-slot address,
// establishing the second reference that marks the open-file slot
// live (see internal/openfile's liveness rule).
func (c *Client_t) Open(path ustr.Ustr, omode int) (int, defs.Err_t) {
	m := c.call(proto.OpenReq{Path: path, Omode: omode})
	if m.Val < 0 {
		return 0, defs.Err_t(m.Val)
	}
	payload, ok := m.Page.(struct {
		Resp proto.OpenResp
		PA   mem.Pa_t
	})
	if !ok {
		return 0, defs.Invalid
	}
	fileid := payload.Resp.FileId
	va := descVABase + uintptr(fileid%defs.MAX_OPEN)*uintptr(vm.PGSIZE)
	c.AS.MapPage(va, payload.PA, m.Perm)
	c.Phys.Refup(payload.PA)
	return fileid, 0
}

// Close drops this client's reference to fileid's descriptor page.
func (c *Client_t) Close(fileid int) {
	va := descVABase + uintptr(fileid%defs.MAX_OPEN)*uintptr(vm.PGSIZE)
	pa, ok := c.AS.Unmap(va)
	if !ok {
		return
	}
	c.Phys.Refdown(pa)
}

func (c *Client_t) Read(fileid, n int) ([]byte, defs.Err_t) {
	m := c.call(proto.ReadReq{FileId: fileid, N: n})
	if m.Val < 0 {
		return nil, defs.Err_t(m.Val)
	}
	resp, ok := m.Page.(proto.ReadResp)
	if !ok {
		return nil, defs.Invalid
	}
	return resp.Buf, 0
}

func (c *Client_t) Write(fileid int, buf []byte) (int, defs.Err_t) {
	m := c.call(proto.WriteReq{FileId: fileid, Buf: buf})
	if m.Val < 0 {
		return 0, defs.Err_t(m.Val)
	}
	return m.Val, 0
}

func (c *Client_t) Stat(fileid int) (proto.StatResp, defs.Err_t) {
	m := c.call(proto.StatReq{FileId: fileid})
	if m.Val < 0 {
		return proto.StatResp{}, defs.Err_t(m.Val)
	}
	resp, ok := m.Page.(proto.StatResp)
	if !ok {
		return proto.StatResp{}, defs.Invalid
	}
	return resp, 0
}

func (c *Client_t) Flush(fileid, offset, length int, force bool) defs.Err_t {
	m := c.call(proto.FlushReq{FileId: fileid, Offset: offset, Length: length, Force: force})
	return defs.Err_t(m.Val)
}

func (c *Client_t) Remove(path ustr.Ustr) defs.Err_t {
	m := c.call(proto.RemoveReq{Path: path})
	return defs.Err_t(m.Val)
}

func (c *Client_t) Sync() defs.Err_t {
	m := c.call(proto.SyncReq{})
	return defs.Err_t(m.Val)
}

func (c *Client_t) SetSize(fileid, size int) defs.Err_t {
	m := c.call(proto.SetSizeReq{FileId: fileid, Size: size})
	return defs.Err_t(m.Val)
}

// Mmap reserves a fresh range of length bytes (rounded up to a whole
// number of pages) backed by fileid starting at file offset off, and
// installs the region's fault handler. off must be page-aligned. addr
// is a placement hint, not a requirement: a non-zero addr is honored
// verbatim (rounded down to a page boundary) instead of bump-allocating,
// the same way the original's mmap(addr, ...) treats addr as advisory
// when MAP_FIXED isn't part of this protocol's flag set. There is no
// collision check against already-mapped ranges; callers that pass a
// bad hint get to find out the same way a first access would.
func (c *Client_t) Mmap(addr uintptr, fileid int, off, length, prot, flags int) (uintptr, defs.Err_t) {
	if off%vm.PGSIZE != 0 {
		return 0, defs.Invalid
	}
	npages := (length + vm.PGSIZE - 1) / vm.PGSIZE

	c.mu.Lock()
	if addr != 0 {
		addr = vm.Rounddown(addr)
	} else {
		addr = c.bump
		c.bump += uintptr(npages) * uintptr(vm.PGSIZE)
	}
	c.mu.Unlock()

	max := addr + uintptr(npages)*uintptr(vm.PGSIZE)
	if err := c.AS.SetRegionHandler(addr, max, c.regionFault); err != 0 {
		return 0, err
	}
	c.mu.Lock()
	c.regions = append(c.regions, region_t{Min: addr, Max: max, FileId: fileid, OffsetBase: off, Prot: prot, Flags: flags})
	c.mu.Unlock()
	return addr, 0
}

// Munmap tears down every page mapped in [addr, addr+length) and
// clears the region's fault handler. A region record that only
// partially falls inside [addr, max) is split rather than dropped:
// Contained records are removed outright, Straddling records are
// trimmed to their surviving edge, and a record that strictly
// contains [addr, max) is cut into two surviving records, one on each
// side of the hole.
func (c *Client_t) Munmap(addr uintptr, length int) defs.Err_t {
	max := addr + uintptr((length+vm.PGSIZE-1)/vm.PGSIZE)*uintptr(vm.PGSIZE)
	for _, va := range c.AS.PagesIn(addr, max) {
		if pa, ok := c.AS.Unmap(va); ok {
			c.Phys.Refdown(pa)
		}
	}
	c.AS.ClearRegionHandler(addr, max)

	c.mu.Lock()
	defer c.mu.Unlock()
	var kept []region_t
	for _, r := range c.regions {
		if r.Max <= addr || r.Min >= max {
			// Unaffected: entirely outside the unmapped range.
			kept = append(kept, r)
			continue
		}
		if r.Min >= addr && r.Max <= max {
			// Contained: the whole record falls inside the hole.
			continue
		}
		if r.Min < addr && r.Max > max {
			// Strictly inside: the hole splits this record in two.
			kept = append(kept, region_t{Min: r.Min, Max: addr, FileId: r.FileId, OffsetBase: r.OffsetBase, Prot: r.Prot, Flags: r.Flags})
			kept = append(kept, region_t{Min: max, Max: r.Max, FileId: r.FileId, OffsetBase: r.OffsetBase + int(max-r.Min), Prot: r.Prot, Flags: r.Flags})
			continue
		}
		if r.Min < addr {
			// Straddling the low edge: keep [r.Min, addr).
			kept = append(kept, region_t{Min: r.Min, Max: addr, FileId: r.FileId, OffsetBase: r.OffsetBase, Prot: r.Prot, Flags: r.Flags})
			continue
		}
		// Straddling the high edge: keep [max, r.Max).
		kept = append(kept, region_t{Min: max, Max: r.Max, FileId: r.FileId, OffsetBase: r.OffsetBase + int(max-r.Min), Prot: r.Prot, Flags: r.Flags})
	}
	c.regions = kept
	return 0
}

// Region is a snapshot of one entry from a client's mmap region table,
// exported for inspection the way vm.AddrSpace_t.Handlers() exposes
// its own handler table.
type Region struct {
	Min, Max    uintptr
	FileId      int
	OffsetBase  int
	Prot, Flags int
}

// Regions returns a snapshot of every live region record.
func (c *Client_t) Regions() []Region {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Region, len(c.regions))
	for i, r := range c.regions {
		out[i] = Region{Min: r.Min, Max: r.Max, FileId: r.FileId, OffsetBase: r.OffsetBase, Prot: r.Prot, Flags: r.Flags}
	}
	return out
}

func (c *Client_t) findRegion(va uintptr) (region_t, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.regions {
		if va >= r.Min && va < r.Max {
			return r, true
		}
	}
	return region_t{}, false
}

// regionFault services a first-touch fault anywhere inside a client's
// mmap'd region by fetching the backing block from the server. It is
// a method value, so each Client_t registers a handler bound to
// itself; Fork relies on that to give a child its own working
// handlers without needing to parse the parent's closures.
func (c *Client_t) regionFault(as *vm.AddrSpace_t, va uintptr, iswrite bool) defs.Err_t {
	r, ok := c.findRegion(va)
	if !ok {
		return defs.Invalid
	}
	offset := r.OffsetBase + int(va-r.Min)

	perm := defs.PTE_P | defs.PTE_U
	if r.Flags == defs.MAP_SHARED {
		perm |= defs.PTE_SHARE
		if r.Prot&defs.PROT_WRITE != 0 {
			perm |= defs.PTE_W
		}
	} else {
		perm |= defs.PTE_COW
		if r.Prot&defs.PROT_WRITE != 0 {
			perm |= defs.PTE_W
		}
	}

	m := c.call(proto.BlockReq{FileId: r.FileId, Offset: offset, Perm: perm})
	if m.Val < 0 {
		return defs.Err_t(m.Val)
	}
	payload, ok := m.Page.(struct {
		Resp proto.BlockResp
		PA   mem.Pa_t
	})
	if !ok {
		return defs.Invalid
	}
	as.MapPage(va, payload.PA, payload.Resp.Perm)
	c.Phys.Refup(payload.PA)
	return 0
}

// EnsureWritable resolves a pending copy-on-write duplication for va,
// the explicit stand-in for the original's write-fault trap: without a
// real MMU, the point where a write would fault has to be named by the
// caller instead of detected by hardware. It is a no-op if va is
// already mapped writable.
func (c *Client_t) EnsureWritable(va uintptr) defs.Err_t {
	va = vm.Rounddown(va)
	pte, ok := c.AS.Pte(va)
	if !ok {
		if err := c.AS.Pgfault(va, true); err != 0 {
			return err
		}
		pte, ok = c.AS.Pte(va)
		if !ok {
			return defs.Invalid
		}
	}
	if pte.Perm&defs.PTE_W != 0 {
		return 0
	}
	if pte.Perm&defs.PTE_COW == 0 {
		return defs.ModeErr
	}
	old := c.Phys.Dmap(pte.Pa)
	pg, pa, ok := c.Phys.Refpg_new_nozero()
	if !ok {
		return defs.NoMem
	}
	copy(pg[:], old[:])
	c.Phys.Refup(pa)
	c.Phys.Refdown(pte.Pa)
	newPerm := (pte.Perm &^ defs.PTE_COW) | defs.PTE_W
	c.AS.MapPage(va, pa, newPerm)
	c.AS.MarkDirty(va)
	return 0
}

// Fork creates a child environment sharing this client's physical
// pages: PTE_SHARE mappings are mapped directly into the child,
// everything else is marked copy-on-write in both parent and child.
// Region handlers and their metadata are replicated so the child's
// mmap ranges keep working independently. Grounded on lib/fork.c,
// fixing the stray always-true `if` that precedes its unconditional
// panic (Open Question decision 5): a region-handler copy only panics
// when SetRegionHandler itself fails, not on every region.
func (c *Client_t) Fork(log *logrus.Entry) *Client_t {
	child := New(vm.NewAddrSpace(c.Phys, log), c.Phys, c.sys, c.server, log)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, va := range c.AS.PagesIn(0, ^uintptr(0)) {
		pte, ok := c.AS.Pte(va)
		if !ok {
			continue
		}
		if pte.Perm&defs.PTE_SHARE != 0 {
			child.AS.MapPage(va, pte.Pa, pte.Perm)
			c.Phys.Refup(pte.Pa)
			continue
		}
		if pte.Perm&defs.PTE_W != 0 || pte.Perm&defs.PTE_COW != 0 {
			cowPerm := (pte.Perm &^ defs.PTE_W) | defs.PTE_COW
			// The child's mapping must be installed before the
			// parent's own page is remapped to COW: remapping the
			// parent first would leave a window where the page is
			// already read-only in the parent but still only has
			// one owner on record, racing a concurrent write fault
			// in the parent against this loop.
			child.AS.MapPage(va, pte.Pa, cowPerm)
			c.AS.MapPage(va, pte.Pa, cowPerm)
			c.Phys.Refup(pte.Pa)
			continue
		}
		child.AS.MapPage(va, pte.Pa, pte.Perm)
		c.Phys.Refup(pte.Pa)
	}

	child.regions = make([]region_t, len(c.regions))
	copy(child.regions, c.regions)
	for _, r := range child.regions {
		if err := child.AS.SetRegionHandler(r.Min, r.Max, child.regionFault); err != 0 {
			panic("fork: could not replicate region handler")
		}
	}
	return child
}
