// Package mem simulates the kernel's refcounted physical page allocator.
// Real hardware physical memory and the direct map are unavailable to a
// hosted process, so Pa_t here is an opaque handle into an in-process
// page pool rather than a real physical address; the refcounting and
// allocation API is kept in the teacher's shape (Physmem_t, Page_i,
// Refpg_new/Refup/Refdown) so the rest of the tree can be written
// exactly as it would be against the real allocator.
package mem

import (
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	PGSHIFT uint = 12
	PGSIZE  int  = 1 << PGSHIFT
)

// Pa_t is an opaque handle naming one simulated physical page.
type Pa_t uintptr

// Bytepg_t is the byte-addressed content of one page.
type Bytepg_t [PGSIZE]uint8

// Page_i abstracts page allocation, the same seam biscuit uses so the
// buffer cache and client mmap code can be tested against a fake.
type Page_i interface {
	Refpg_new() (*Bytepg_t, Pa_t, bool)
	Refpg_new_nozero() (*Bytepg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Bytepg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

type physpg_t struct {
	refcnt int32
	data   *Bytepg_t
}

// Physmem_t is the simulated physical page pool. Unlike the teacher's
// per-CPU free lists (needed to avoid lock contention under real
// concurrent cores), a single mutex is enough here: the server and
// each simulated client run as goroutines, not separate address
// spaces, and page allocation is not a hot path in the test harness.
type Physmem_t struct {
	mu    sync.Mutex
	pages map[Pa_t]*physpg_t
	next  Pa_t
	log   *logrus.Entry
}

// NewPhysmem constructs an empty page pool.
func NewPhysmem(log *logrus.Entry) *Physmem_t {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Physmem_t{
		pages: make(map[Pa_t]*physpg_t),
		next:  1,
		log:   log.WithField("component", "mem"),
	}
}

func (phys *Physmem_t) alloc(zero bool) (*Bytepg_t, Pa_t, bool) {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	pg := &Bytepg_t{}
	_ = zero // already zero-valued by allocation; kept for API parity
	p_pg := phys.next
	phys.next++
	phys.pages[p_pg] = &physpg_t{refcnt: 0, data: pg}
	return pg, p_pg, true
}

// Refpg_new allocates a zeroed page. Its refcount starts at zero; the
// caller is expected to Refup it, matching the teacher's convention
// that allocation and reference-taking are separate steps.
func (phys *Physmem_t) Refpg_new() (*Bytepg_t, Pa_t, bool) {
	return phys.alloc(true)
}

// Refpg_new_nozero allocates a page without a zeroing guarantee beyond
// what Go gives new slices (i.e. it is zeroed, same as Refpg_new, since
// a hosted simulation has no uninitialized-memory fast path to skip).
func (phys *Physmem_t) Refpg_new_nozero() (*Bytepg_t, Pa_t, bool) {
	return phys.alloc(false)
}

// Refcnt returns the current reference count of a page.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	pp, ok := phys.pages[p_pg]
	if !ok {
		return 0
	}
	return int(pp.refcnt)
}

// Refup increments the reference count of a page.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	pp, ok := phys.pages[p_pg]
	if !ok {
		panic("refup of unknown page")
	}
	pp.refcnt++
}

// Refdown decrements the reference count of a page, freeing it from the
// pool when it reaches zero. It returns true when the page was freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	pp, ok := phys.pages[p_pg]
	if !ok {
		panic("refdown of unknown page")
	}
	pp.refcnt--
	if pp.refcnt < 0 {
		panic("negative refcount")
	}
	if pp.refcnt == 0 {
		delete(phys.pages, p_pg)
		phys.log.WithField("page", p_pg).Trace("freed page")
		return true
	}
	return false
}

// Dmap returns the byte page backing p_pg, the simulated stand-in for
// biscuit's direct-mapped access to physical memory.
func (phys *Physmem_t) Dmap(p_pg Pa_t) *Bytepg_t {
	phys.mu.Lock()
	defer phys.mu.Unlock()
	pp, ok := phys.pages[p_pg]
	if !ok {
		panic("dmap of unknown page")
	}
	return pp.data
}
