// Package openfile implements the server-side open-file table: a
// fixed array of slots whose liveness signal is the kernel refcount on
// each slot's descriptor page, exactly as spec'd in the original
// fs/serv.c's opentab.
package openfile

import (
	"sync"

	"github.com/sirupsen/logrus"

	"jfsd/internal/defs"
	"jfsd/internal/fs"
	"jfsd/internal/mem"
	"jfsd/internal/metrics"
)

// Entry_t is one open-file slot: the file-id (versioned on reuse), the
// buffer-cached file record it refers to, the mode it was opened with,
// and the descriptor page shared with whichever clients hold it open.
type Entry_t struct {
	FileId int
	File   fs.FileRecord_t
	Mode   int
	DescPA mem.Pa_t
	Desc   *mem.Bytepg_t
	Offset int
}

// Table is the fixed MAX_OPEN-entry open-file table.
type Table struct {
	mu      sync.Mutex
	phys    *mem.Physmem_t
	entries [defs.MAX_OPEN]*Entry_t
	metrics *metrics.Registry
	log     *logrus.Entry
}

func NewTable(phys *mem.Physmem_t, m *metrics.Registry, log *logrus.Entry) *Table {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Table{phys: phys, metrics: m, log: log.WithField("component", "openfile")}
}

// Alloc finds a free slot (refcount 0, never used, or refcount 1, only
// the server holding it) and initializes it for fr opened with mode.
// It returns the new file-id and the descriptor page's physical
// address, which the caller (the IPC dispatcher) maps into the
// requesting client to establish the second reference that makes the
// slot "live".
func (t *Table) Alloc(fr fs.FileRecord_t, mode int) (int, mem.Pa_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for slot := 0; slot < defs.MAX_OPEN; slot++ {
		e := t.entries[slot]
		if e == nil {
			pg, pa, ok := t.phys.Refpg_new()
			if !ok {
				return 0, 0, defs.NoMem
			}
			t.phys.Refup(pa) // the server's own permanent reference
			e = &Entry_t{FileId: slot, File: fr, Mode: mode, DescPA: pa, Desc: pg}
			t.entries[slot] = e
			t.updateMetric()
			return e.FileId, e.DescPA, 0
		}
		if t.phys.Refcnt(e.DescPA) <= 1 {
			e.FileId += defs.MAX_OPEN
			e.File = fr
			e.Mode = mode
			e.Offset = 0
			t.updateMetric()
			return e.FileId, e.DescPA, 0
		}
	}
	return 0, 0, defs.MaxOpen
}

func (t *Table) updateMetric() {
	if t.metrics == nil {
		return
	}
	n := 0
	for _, e := range t.entries {
		if e != nil && t.phys.Refcnt(e.DescPA) > 1 {
			n++
		}
	}
	t.metrics.OpenFilesInUse.Set(float64(n))
}

// Lookup maps fileid to its slot, validating both that the slot is
// live (refcount > 1, i.e. at least one client still holds the
// descriptor page) and that the stored file-id matches the requested
// one — catching stale handles from a reused, lower-generation id.
func (t *Table) Lookup(fileid int) (*Entry_t, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slot := fileid % defs.MAX_OPEN
	if slot < 0 {
		return nil, defs.Invalid
	}
	e := t.entries[slot]
	if e == nil {
		return nil, defs.Invalid
	}
	if t.phys.Refcnt(e.DescPA) <= 1 {
		return nil, defs.Invalid
	}
	if e.FileId != fileid {
		return nil, defs.Invalid
	}
	return e, 0
}
