// Package ipc simulates the microkernel's one-page synchronous IPC
// primitive (ipc_send/ipc_recv) as a Go channel with a single buffered
// slot, standing in for the kernel's single pending-message-per-env
// limit. A Msg carries an integer value plus, for the calls that
// transfer a page, the contents of that page and its permissions.
package ipc

import (
	"runtime"

	"jfsd/internal/defs"
)

type Envid_t int

// Msg is the unit of IPC: Val is the request/response code, Page
// carries a request/response payload or a descriptor page being
// handed over, and Perm carries page permissions for transfers
// (0 when no page is attached, matching the kernel's PTE_P convention).
type Msg struct {
	From Envid_t
	Val  int
	Page any
	Perm int
}

// Mailbox is one environment's single-slot IPC inbox.
type Mailbox struct {
	ch chan Msg
}

func NewMailbox() *Mailbox {
	return &Mailbox{ch: make(chan Msg, 1)}
}

// TrySend attempts to deliver m without blocking, returning
// IpcNotRecv if the mailbox's one slot is occupied — mirroring
// sys_ipc_try_send's non-blocking contract.
func (mb *Mailbox) TrySend(m Msg) defs.Err_t {
	select {
	case mb.ch <- m:
		return 0
	default:
		return defs.IpcNotRecv
	}
}

// Send retries TrySend, yielding the goroutine between attempts, until
// the mailbox accepts the message — ipc_send's "keep trying until it
// succeeds" loop. Any error other than IpcNotRecv is a protocol
// violation and panics, exactly as the original does.
func Send(mb *Mailbox, from Envid_t, val int, page any, perm int) {
	m := Msg{From: from, Val: val, Page: page, Perm: perm}
	for {
		err := mb.TrySend(m)
		if err == 0 {
			return
		}
		if err != defs.IpcNotRecv {
			panic("ipc_send failed with an unexpected error")
		}
		runtime.Gosched()
	}
}

// Recv blocks until a message arrives in mb.
func Recv(mb *Mailbox) Msg {
	return <-mb.ch
}

// RecvStop blocks until a message arrives in mb or stop is closed,
// reporting false in the latter case.
func RecvStop(mb *Mailbox, stop <-chan struct{}) (Msg, bool) {
	select {
	case m := <-mb.ch:
		return m, true
	case <-stop:
		return Msg{}, false
	}
}

// System_t is the simulated kernel's env/mailbox registry, used by the
// server to address replies back to whichever client sent a request.
type System_t struct {
	next    Envid_t
	mailbox map[Envid_t]*Mailbox
}

func NewSystem() *System_t {
	return &System_t{next: 1, mailbox: make(map[Envid_t]*Mailbox)}
}

// NewEnv allocates a fresh envid and mailbox, as sys_exofork would.
func (s *System_t) NewEnv() (Envid_t, *Mailbox) {
	id := s.next
	s.next++
	mb := NewMailbox()
	s.mailbox[id] = mb
	return id, mb
}

func (s *System_t) Mailbox(id Envid_t) *Mailbox {
	return s.mailbox[id]
}
