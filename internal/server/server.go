// Package server implements the file-system daemon's IPC dispatch
// loop and block hand-off logic, grounded on the original fs/serv.c.
package server

import (
	"github.com/sirupsen/logrus"

	"jfsd/internal/defs"
	"jfsd/internal/fs"
	"jfsd/internal/ipc"
	"jfsd/internal/mem"
	"jfsd/internal/metrics"
	"jfsd/internal/openfile"
	"jfsd/internal/proto"
	"jfsd/internal/vm"
)

// Server owns the mounted file system, the open-file table, and the
// server's own address space (which maps the buffer cache).
type Server struct {
	Fsys    *fs.FileSystem_t
	Files   *openfile.Table
	AS      *vm.AddrSpace_t
	Phys    *mem.Physmem_t
	Metrics *metrics.Registry
	log     *logrus.Entry
	Envid   ipc.Envid_t
	Inbox   *ipc.Mailbox
	sys     *ipc.System_t
}

func New(fsys *fs.FileSystem_t, as *vm.AddrSpace_t, phys *mem.Physmem_t, m *metrics.Registry, sys *ipc.System_t, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	envid, mbox := sys.NewEnv()
	return &Server{
		Fsys:    fsys,
		Files:   openfile.NewTable(phys, m, log),
		AS:      as,
		Phys:    phys,
		Metrics: m,
		log:     log.WithField("component", "server"),
		Envid:   envid,
		Inbox:   mbox,
		sys:     sys,
	}
}

// Serve runs the dispatch loop until stop is closed, mirroring the
// original's infinite serve() loop.
func (s *Server) Serve(stop <-chan struct{}) {
	for {
		m, ok := ipc.RecvStop(s.Inbox, stop)
		if !ok {
			return
		}
		s.dispatch(m)
	}
}

func (s *Server) dispatch(m ipc.Msg) {
	req, ok := m.Page.(proto.Request)
	if !ok {
		s.log.WithField("from", m.From).Warn("request with no argument page")
		return
	}
	from := s.sys.Mailbox(m.From)
	if from == nil {
		s.log.WithField("from", m.From).Warn("reply mailbox for unknown env")
		return
	}

	switch req := req.(type) {
	case proto.OpenReq:
		fileid, pa, err := s.serveOpen(req)
		if err != 0 {
			ipc.Send(from, s.Envid, int(err), nil, 0)
			return
		}
		ipc.Send(from, s.Envid, 0, struct {
			Resp proto.OpenResp
			PA   mem.Pa_t
		}{proto.OpenResp{FileId: fileid}, pa}, defs.PTE_P|defs.PTE_U|defs.PTE_W|defs.PTE_SHARE)

	case proto.BlockReq:
		pa, perm, err := s.serveBlockReq(req)
		if err != 0 {
			ipc.Send(from, s.Envid, int(err), nil, 0)
			return
		}
		ipc.Send(from, s.Envid, 0, struct {
			Resp proto.BlockResp
			PA   mem.Pa_t
		}{proto.BlockResp{Perm: perm}, pa}, perm)

	case proto.ReadReq:
		buf, n, err := s.serveRead(req)
		if err != 0 {
			ipc.Send(from, s.Envid, int(err), nil, 0)
			return
		}
		ipc.Send(from, s.Envid, n, proto.ReadResp{Buf: buf}, 0)

	case proto.WriteReq:
		n, err := s.serveWrite(req)
		if err != 0 {
			ipc.Send(from, s.Envid, int(err), nil, 0)
			return
		}
		ipc.Send(from, s.Envid, n, proto.WriteResp{N: n}, 0)

	case proto.StatReq:
		resp, err := s.serveStat(req)
		if err != 0 {
			ipc.Send(from, s.Envid, int(err), nil, 0)
			return
		}
		ipc.Send(from, s.Envid, 0, resp, 0)

	case proto.FlushReq:
		err := s.serveFlush(req)
		ipc.Send(from, s.Envid, int(err), nil, 0)

	case proto.RemoveReq:
		err := s.Fsys.Remove(req.Path)
		ipc.Send(from, s.Envid, int(err), nil, 0)

	case proto.SyncReq:
		err := s.Fsys.Sync()
		ipc.Send(from, s.Envid, int(err), nil, 0)

	case proto.SetSizeReq:
		err := s.serveSetSize(req)
		ipc.Send(from, s.Envid, int(err), nil, 0)

	default:
		s.log.WithField("from", m.From).Warn("invalid request code")
		ipc.Send(from, s.Envid, int(defs.Invalid), nil, 0)
	}
}

func (s *Server) serveOpen(req proto.OpenReq) (int, mem.Pa_t, defs.Err_t) {
	if req.Omode&defs.O_MKDIR != 0 {
		return 0, 0, defs.Invalid
	}
	file, _, _, err := s.Fsys.WalkPath(req.Path)
	if err != 0 {
		if err == defs.NotFound && req.Omode&defs.O_CREAT != 0 {
			file, err = s.Fsys.Create(req.Path, false)
		}
		if err != 0 {
			return 0, 0, err
		}
	} else if req.Omode&defs.O_EXCL != 0 && req.Omode&defs.O_CREAT == 0 {
		return 0, 0, defs.FileExists
	}
	if req.Omode&defs.O_TRUNC != 0 {
		if err := s.Fsys.SetSize(file, 0); err != 0 {
			return 0, 0, err
		}
	}

	fileid, pa, aerr := s.Files.Alloc(file, req.Omode)
	if aerr != 0 {
		return 0, 0, aerr
	}
	return fileid, pa, 0
}

// serveBlockReq hands over the page backing the block containing
// Offset. A read-only open may not request a writable mapping
// (Open Question decision 4: the original's `== 1` comparison against
// PTE_W never matches a bitmask field, silently admitting writable
// requests on read-only files; this checks `!= 0` as intended).
func (s *Server) serveBlockReq(req proto.BlockReq) (mem.Pa_t, int, defs.Err_t) {
	e, err := s.Files.Lookup(req.FileId)
	if err != 0 {
		return 0, 0, err
	}
	accmode := e.Mode & defs.O_ACCMODE
	if accmode == defs.O_WRONLY || (accmode == defs.O_RDONLY && req.Perm&defs.PTE_W != 0) {
		return 0, 0, defs.ModeErr
	}
	if req.Perm&defs.PTE_COW != 0 && req.Perm&defs.PTE_SHARE != 0 {
		return 0, 0, defs.Invalid
	}
	if req.Offset < 0 || req.Offset >= e.File.Size() {
		return 0, 0, defs.Invalid
	}
	blk, gerr := s.Fsys.GetBlock(e.File, req.Offset/defs.BLKSIZE)
	if gerr != 0 {
		return 0, 0, gerr
	}
	va := s.Fsys.DM.AddrOf(blk)
	pte, _ := s.AS.Pte(va)
	pa := pte.Pa

	perm := req.Perm
	if perm&defs.PTE_COW != 0 {
		// Mirrors the original's bc_pgfault behavior: remap the
		// server's own view of this block to PTE_COW too, so a later
		// write arriving through FileSystem_t.Write (e.g. from a
		// second client's ordinary Write() on this same block) faults
		// the server off onto its own private copy via
		// DiskMap.EnsureWritable instead of mutating the page this
		// client was just handed. Without this, the buffer cache and
		// the COW-mmap'd client alias the same physical page and a
		// concurrent write corrupts the client's pre-divergence view.
		s.AS.MapPage(va, pa, defs.PTE_P|defs.PTE_U|defs.PTE_COW)
		if perm&defs.PTE_W != 0 {
			perm &^= defs.PTE_W
		} else {
			perm &^= defs.PTE_COW
		}
	}
	return pa, perm, 0
}

func (s *Server) serveRead(req proto.ReadReq) ([]byte, int, defs.Err_t) {
	e, err := s.Files.Lookup(req.FileId)
	if err != 0 {
		return nil, 0, err
	}
	accmode := e.Mode & defs.O_ACCMODE
	if accmode != defs.O_RDONLY && accmode != defs.O_RDWR {
		return nil, 0, defs.ModeErr
	}
	buf := make([]byte, req.N)
	n := s.Fsys.Read(e.File, e.Offset, buf)
	e.Offset += n
	return buf[:n], n, 0
}

func (s *Server) serveWrite(req proto.WriteReq) (int, defs.Err_t) {
	e, err := s.Files.Lookup(req.FileId)
	if err != 0 {
		return 0, err
	}
	accmode := e.Mode & defs.O_ACCMODE
	if accmode != defs.O_WRONLY && accmode != defs.O_RDWR {
		return 0, defs.ModeErr
	}
	n, werr := s.Fsys.Write(e.File, e.Offset, req.Buf)
	if werr != 0 {
		return n, werr
	}
	e.Offset += n
	return n, 0
}

func (s *Server) serveStat(req proto.StatReq) (proto.StatResp, defs.Err_t) {
	e, err := s.Files.Lookup(req.FileId)
	if err != 0 {
		return proto.StatResp{}, err
	}
	return proto.StatResp{
		Name:  e.File.Name().String(),
		Size:  e.File.Size(),
		IsDir: e.File.IsDir(),
	}, 0
}

func (s *Server) serveFlush(req proto.FlushReq) defs.Err_t {
	e, err := s.Files.Lookup(req.FileId)
	if err != 0 {
		return err
	}
	return s.Fsys.Flush(e.File, req.Offset, req.Length, req.Force)
}

func (s *Server) serveSetSize(req proto.SetSizeReq) defs.Err_t {
	e, err := s.Files.Lookup(req.FileId)
	if err != 0 {
		return err
	}
	return s.Fsys.SetSize(e.File, req.Size)
}
