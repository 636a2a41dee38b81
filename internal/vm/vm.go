// Package vm simulates a process address space: a page table mapping
// virtreal addresses to simulated physical pages, and the kernel's
// per-region page-fault handler table. Real hardware has no place in a
// hosted Go process, so the page table here is a plain map keyed by virtual
// address rather than a multi-level page-table walk; the region
// handler table keeps the split/overlap-adjustment algorithm from the
// kernel syscall that installs them, since that algorithm is exactly
// what both the buffer cache (installing the DISK_MAP fault handler)
// and the client mmap manager (installing per-region handlers) need.
package vm

import (
	"sync"

	"github.com/sirupsen/logrus"

	"jfsd/internal/defs"
	"jfsd/internal/mem"
)

const PGSIZE = mem.PGSIZE

// Handler is invoked on a fault inside its registered range. va is
// already rounded down to a page boundary.
type Handler func(as *AddrSpace_t, va uintptr, iswrite bool) defs.Err_t

type regionHandler_t struct {
	min     uintptr
	max     uintptr
	handler Handler
}

func (e *regionHandler_t) empty() bool { return e.handler == nil }

// PTE is one simulated page-table entry.
type PTE struct {
	Pa    mem.Pa_t
	Perm  int
	Dirty bool
}

// AddrSpace_t is one simulated process address space: a page table
// plus its installed region fault handlers. The mutex plays the role
// of biscuit's Vm_t.Lock_pmap/Unlock_pmap pairing.
type AddrSpace_t struct {
	sync.Mutex
	pmap     map[uintptr]*PTE
	handlers [defs.MAXHANDLERS]regionHandler_t
	Phys     *mem.Physmem_t
	log      *logrus.Entry
}

// NewAddrSpace constructs an empty address space backed by phys.
func NewAddrSpace(phys *mem.Physmem_t, log *logrus.Entry) *AddrSpace_t {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &AddrSpace_t{
		pmap: make(map[uintptr]*PTE),
		Phys: phys,
		log:  log.WithField("component", "vm"),
	}
}

// Rounddown rounds a virtual address down to the containing page.
func Rounddown(va uintptr) uintptr {
	return va &^ uintptr(PGSIZE-1)
}

// MapPage installs or replaces the PTE at va.
func (as *AddrSpace_t) MapPage(va uintptr, pa mem.Pa_t, perm int) {
	as.Lock()
	defer as.Unlock()
	as.pmap[Rounddown(va)] = &PTE{Pa: pa, Perm: perm}
}

// Unmap removes the PTE at va, returning the physical page it named.
func (as *AddrSpace_t) Unmap(va uintptr) (mem.Pa_t, bool) {
	as.Lock()
	defer as.Unlock()
	va = Rounddown(va)
	pte, ok := as.pmap[va]
	if !ok {
		return 0, false
	}
	delete(as.pmap, va)
	return pte.Pa, true
}

// Pte returns a copy of the PTE at va, if mapped.
func (as *AddrSpace_t) Pte(va uintptr) (PTE, bool) {
	as.Lock()
	defer as.Unlock()
	pte, ok := as.pmap[Rounddown(va)]
	if !ok {
		return PTE{}, false
	}
	return *pte, true
}

// IsMapped reports whether va has a present mapping.
func (as *AddrSpace_t) IsMapped(va uintptr) bool {
	_, ok := as.Pte(va)
	return ok
}

// IsDirty reports whether va's page has been written since its last
// flush, the simulated stand-in for the hardware PTE dirty bit.
func (as *AddrSpace_t) IsDirty(va uintptr) bool {
	pte, ok := as.Pte(va)
	return ok && pte.Dirty
}

// MarkDirty sets the dirty bit for va, as the simulated MMU would on a
// write through a writable mapping.
func (as *AddrSpace_t) MarkDirty(va uintptr) {
	as.Lock()
	defer as.Unlock()
	if pte, ok := as.pmap[Rounddown(va)]; ok {
		pte.Dirty = true
	}
}

// ClearDirty clears the dirty bit for va after a flush.
func (as *AddrSpace_t) ClearDirty(va uintptr) {
	as.Lock()
	defer as.Unlock()
	if pte, ok := as.pmap[Rounddown(va)]; ok {
		pte.Dirty = false
	}
}

// SetRegionHandler installs h over [min, max), splitting or trimming
// any existing handler ranges that overlap it. Passing a nil handler
// clears the range instead of installing anything, mirroring the
// func==NULL path of the syscall this is grounded on.
func (as *AddrSpace_t) SetRegionHandler(min, max uintptr, h Handler) defs.Err_t {
	if min%uintptr(PGSIZE) != 0 || max%uintptr(PGSIZE) != 0 {
		return defs.Invalid
	}
	as.Lock()
	defer as.Unlock()

	dst := -1
	if h != nil {
		for i := range as.handlers {
			e := &as.handlers[i]
			if e.empty() || (e.min >= min && e.max < max) {
				dst = i
				break
			}
		}
		if dst == -1 {
			return defs.NoMem
		}
	}

	for i := range as.handlers {
		e := &as.handlers[i]
		if e.empty() {
			continue
		}

		if e.min < min && e.max > max {
			// The new range is strictly inside this one: split it,
			// keeping the low half in place and placing the high
			// half in the first free slot after dst. The break
			// below is load-bearing — ranges never overlap once
			// split, so continuing the scan would risk reusing the
			// slot this split just filled for some other entry.
			placed := false
			for j := dst + 1; j < len(as.handlers); j++ {
				f := &as.handlers[j]
				if f.empty() {
					f.handler = e.handler
					f.min = max
					f.max = e.max
					e.max = min
					placed = true
					break
				}
			}
			if !placed {
				return defs.NoMem
			}
			break
		}

		if e.min >= min && e.max <= max {
			// The new range fully covers this one: delete it.
			e.handler = nil
			e.min, e.max = 0, 0
		}
		if e.min < max && e.max > max {
			e.min = max
		}
		if e.min < min && e.max > min {
			e.max = min
		}
	}

	if h != nil {
		as.handlers[dst] = regionHandler_t{min: min, max: max, handler: h}
	}
	return 0
}

// ClearRegionHandler removes any handler coverage over [min, max).
func (as *AddrSpace_t) ClearRegionHandler(min, max uintptr) defs.Err_t {
	return as.SetRegionHandler(min, max, nil)
}

// HandlerFor returns the handler covering va, if any.
func (as *AddrSpace_t) HandlerFor(va uintptr) (Handler, uintptr, uintptr, bool) {
	as.Lock()
	defer as.Unlock()
	for i := range as.handlers {
		e := &as.handlers[i]
		if e.empty() {
			continue
		}
		if va >= e.min && va < e.max {
			return e.handler, e.min, e.max, true
		}
	}
	return nil, 0, 0, false
}

// Handlers returns a snapshot of all installed (min, max, handler)
// entries, for inspection.
func (as *AddrSpace_t) Handlers() []struct {
	Min, Max uintptr
	Handler  Handler
} {
	as.Lock()
	defer as.Unlock()
	var out []struct {
		Min, Max uintptr
		Handler  Handler
	}
	for i := range as.handlers {
		e := &as.handlers[i]
		if e.empty() {
			continue
		}
		out = append(out, struct {
			Min, Max uintptr
			Handler  Handler
		}{e.min, e.max, e.handler})
	}
	return out
}

// Pgfault dispatches a fault at va to its registered region handler.
// A fault with no covering handler is a programmer/protocol error: it
// means either the kernel delivered a fault outside any region this
// process reserved, or a handler was cleared out from under a still
// live mapping.
func (as *AddrSpace_t) Pgfault(va uintptr, iswrite bool) defs.Err_t {
	va = Rounddown(va)
	h, min, max, ok := as.HandlerFor(va)
	if !ok {
		as.log.WithField("va", va).Error("page fault outside any registered region")
		panic("page fault outside any registered region")
	}
	as.log.WithFields(logrus.Fields{"va": va, "min": min, "max": max, "write": iswrite}).Trace("dispatching fault")
	return h(as, va, iswrite)
}

// PagesIn returns every mapped virtual address in [min, max), used by
// munmap to find the pages it must tear down.
func (as *AddrSpace_t) PagesIn(min, max uintptr) []uintptr {
	as.Lock()
	defer as.Unlock()
	var out []uintptr
	for va := range as.pmap {
		if va >= min && va < max {
			out = append(out, va)
		}
	}
	return out
}
