// Package proto defines the file-system IPC protocol as a set of
// discriminated request/response types, replacing the original
// union-of-structs wire format (see DESIGN.md's resolution of the
// corresponding redesign flag) with Go's native sum-type idiom: a
// sealed interface implemented by one concrete type per request kind.
package proto

import (
	"jfsd/internal/defs"
	"jfsd/internal/ustr"
)

// Request is implemented by every request payload the client can send
// to the server. A request travels alongside an IPC value (unused
// here, since the type switch on Request itself carries the tag) and,
// where noted, a shared page.
type Request interface {
	isRequest()
}

type OpenReq struct {
	Path  ustr.Ustr
	Omode int
}

// BlockReq asks the server to hand over the page backing the block
// containing Offset in FileId, mapped with Perm (PTE_W/PTE_COW/PTE_SHARE
// as appropriate for the client's mmap flags).
type BlockReq struct {
	FileId int
	Offset int
	Perm   int
}

type ReadReq struct {
	FileId int
	N      int
}

type WriteReq struct {
	FileId int
	Buf    []byte
}

type StatReq struct {
	FileId int
}

// FlushReq flushes the dirty range [Offset, Offset+Length) of FileId's
// data, or the whole file when Length is 0.
type FlushReq struct {
	FileId int
	Offset int
	Length int
	Force  bool
}

type RemoveReq struct {
	Path ustr.Ustr
}

type SyncReq struct{}

type SetSizeReq struct {
	FileId int
	Size   int
}

func (OpenReq) isRequest()    {}
func (BlockReq) isRequest()   {}
func (ReadReq) isRequest()    {}
func (WriteReq) isRequest()   {}
func (StatReq) isRequest()    {}
func (FlushReq) isRequest()   {}
func (RemoveReq) isRequest()  {}
func (SyncReq) isRequest()    {}
func (SetSizeReq) isRequest() {}

// Response is implemented by every non-error payload a request can
// produce. Requests with no interesting payload (Flush, Remove, Sync,
// SetSize) report success via a bare Err_t and carry no Response.
type Response interface {
	isResponse()
}

// OpenResp carries the new file-id; the descriptor page itself crosses
// in the IPC page-transfer, not in this struct.
type OpenResp struct {
	FileId int
}

// BlockResp carries the permissions the block was actually granted
// (which may have been downgraded from what was requested — see the
// COW/PTE_W resolution in the server's block handoff); the page itself
// crosses in the IPC page-transfer.
type BlockResp struct {
	Perm int
}

type ReadResp struct {
	Buf []byte
}

type WriteResp struct {
	N int
}

type StatResp struct {
	Name  string
	Size  int
	IsDir bool
}

func (OpenResp) isResponse()  {}
func (BlockResp) isResponse() {}
func (ReadResp) isResponse()  {}
func (WriteResp) isResponse() {}
func (StatResp) isResponse()  {}

// Result bundles a response payload (nil for requests with none) with
// the server's Err_t, exactly mirroring the original protocol's
// convention that every reply's IPC value doubles as its status code.
type Result struct {
	Resp Response
	Err  defs.Err_t
}
