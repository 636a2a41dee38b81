// Package testfs wires an in-memory disk, a simulated server, and one
// simulated client into a single harness for tests, the way biscuit's
// ufs package wraps BootFS/BootMemFS/ShutdownFS around a real kernel
// boot for its own test suite.
package testfs

import (
	"github.com/sirupsen/logrus"

	"jfsd/internal/block"
	"jfsd/internal/client"
	"jfsd/internal/fs"
	"jfsd/internal/ipc"
	"jfsd/internal/mem"
	"jfsd/internal/metrics"
	"jfsd/internal/server"
	"jfsd/internal/vm"
)

// Harness bundles everything a test needs: the formatted file system,
// the running server goroutine, and one client ready to issue RPCs.
type Harness struct {
	Disk   *block.MemDisk
	Fsys   *fs.FileSystem_t
	Server *server.Server
	Client *client.Client_t
	Phys   *mem.Physmem_t
	sys    *ipc.System_t
	stop   chan struct{}
}

// Boot formats a fresh nblocks-block in-memory disk, starts a server
// goroutine over it, and attaches one client.
func Boot(nblocks int) *Harness {
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetLevel(logrus.WarnLevel)

	disk := block.NewMemDisk(nblocks)
	phys := mem.NewPhysmem(log)
	sys := ipc.NewSystem()
	m := metrics.New()

	serverAS := vm.NewAddrSpace(phys, log)
	fsys, err := fs.Format(disk, phys, serverAS, m, log)
	if err != nil {
		panic(err)
	}

	srv := server.New(fsys, serverAS, phys, m, sys, log)
	stop := make(chan struct{})
	go srv.Serve(stop)

	clientAS := vm.NewAddrSpace(phys, log)
	cl := client.New(clientAS, phys, sys, srv.Inbox, log)

	return &Harness{Disk: disk, Fsys: fsys, Server: srv, Client: cl, Phys: phys, sys: sys, stop: stop}
}

// NewClient attaches a fresh client to the same running server,
// simulating a second environment opening the file system.
func (h *Harness) NewClient() *client.Client_t {
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetLevel(logrus.WarnLevel)
	as := vm.NewAddrSpace(h.Phys, log)
	return client.New(as, h.Phys, h.sys, h.Server.Inbox, log)
}

// Shutdown stops the server goroutine.
func (h *Harness) Shutdown() {
	close(h.stop)
}

// ReOpen re-mounts the harness's disk under a fresh server and client,
// simulating a restart, to test that writes survived a Sync.
func (h *Harness) ReOpen() *Harness {
	log := logrus.NewEntry(logrus.New())
	log.Logger.SetLevel(logrus.WarnLevel)

	phys := mem.NewPhysmem(log)
	sys := ipc.NewSystem()
	m := metrics.New()
	serverAS := vm.NewAddrSpace(phys, log)
	fsys, err := fs.Open(h.Disk, phys, serverAS, m, log)
	if err != nil {
		panic(err)
	}
	srv := server.New(fsys, serverAS, phys, m, sys, log)
	stop := make(chan struct{})
	go srv.Serve(stop)

	clientAS := vm.NewAddrSpace(phys, log)
	cl := client.New(clientAS, phys, sys, srv.Inbox, log)

	return &Harness{Disk: h.Disk, Fsys: fsys, Server: srv, Client: cl, Phys: phys, sys: sys, stop: stop}
}
