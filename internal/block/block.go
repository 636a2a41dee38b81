// Package block provides the sector-addressed disk façade the buffer
// cache reads and writes through. It is the one layer allowed to talk
// to an actual storage backend; everything above it only ever sees
// whole blocks delivered through the simulated address space.
package block

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"jfsd/internal/defs"
)

// Disk_i is the seam the buffer cache programs against, mirroring
// biscuit's fs.Disk_i interface so the rest of the tree is agnostic to
// whether blocks come from a real file or an in-memory fake.
type Disk_i interface {
	ReadBlock(blkno int) ([defs.BLKSIZE]byte, error)
	WriteBlock(blkno int, data [defs.BLKSIZE]byte) error
	NBlocks() int
}

// FileDisk is a disk image backed by a regular file, grounded on
// ufs/driver.go's ahci_disk_t file-backed simulation.
type FileDisk struct {
	mu      sync.Mutex
	f       *os.File
	nblocks int
	log     *logrus.Entry
}

// OpenFileDisk opens (or creates, if create is set) a disk image of
// nblocks blocks at path.
func OpenFileDisk(path string, nblocks int, create bool, log *logrus.Entry) (*FileDisk, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening disk image %s", path)
	}
	if create {
		if err := f.Truncate(int64(nblocks) * defs.BLKSIZE); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "sizing disk image %s", path)
		}
	}
	return &FileDisk{f: f, nblocks: nblocks, log: log.WithField("component", "block")}, nil
}

// NBlocks returns the disk's block count.
func (d *FileDisk) NBlocks() int { return d.nblocks }

func (d *FileDisk) checkBounds(blkno int) error {
	if blkno < 0 || blkno >= d.nblocks {
		return errors.Errorf("block %d out of range [0, %d)", blkno, d.nblocks)
	}
	return nil
}

// ReadBlock reads one whole block synchronously.
func (d *FileDisk) ReadBlock(blkno int) ([defs.BLKSIZE]byte, error) {
	var buf [defs.BLKSIZE]byte
	if err := d.checkBounds(blkno); err != nil {
		return buf, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.Seek(int64(blkno)*defs.BLKSIZE, 0); err != nil {
		return buf, errors.Wrapf(err, "seeking to block %d", blkno)
	}
	if _, err := d.f.Read(buf[:]); err != nil {
		return buf, errors.Wrapf(err, "reading block %d", blkno)
	}
	return buf, nil
}

// WriteBlock writes one whole block synchronously. A failed write is a
// fatal, not a reported, error: the spec treats synchronous disk-write
// completion as non-negotiable.
func (d *FileDisk) WriteBlock(blkno int, data [defs.BLKSIZE]byte) error {
	if err := d.checkBounds(blkno); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.f.Seek(int64(blkno)*defs.BLKSIZE, 0); err != nil {
		return errors.Wrapf(err, "seeking to block %d", blkno)
	}
	if _, err := d.f.Write(data[:]); err != nil {
		return errors.Wrapf(err, "writing block %d", blkno)
	}
	return nil
}

// Close releases the underlying file.
func (d *FileDisk) Close() error {
	return d.f.Close()
}

// MemDisk is an in-memory disk used by the test harness, grounded on
// the same ahci_disk_t shape but backed by a byte slice instead of a
// file so tests never touch the filesystem.
type MemDisk struct {
	mu      sync.Mutex
	blocks  [][defs.BLKSIZE]byte
	nblocks int
}

// NewMemDisk constructs a zeroed in-memory disk of nblocks blocks.
func NewMemDisk(nblocks int) *MemDisk {
	return &MemDisk{blocks: make([][defs.BLKSIZE]byte, nblocks), nblocks: nblocks}
}

func (d *MemDisk) NBlocks() int { return d.nblocks }

func (d *MemDisk) ReadBlock(blkno int) ([defs.BLKSIZE]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if blkno < 0 || blkno >= d.nblocks {
		return [defs.BLKSIZE]byte{}, errors.Errorf("block %d out of range [0, %d)", blkno, d.nblocks)
	}
	return d.blocks[blkno], nil
}

func (d *MemDisk) WriteBlock(blkno int, data [defs.BLKSIZE]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if blkno < 0 || blkno >= d.nblocks {
		return errors.Errorf("block %d out of range [0, %d)", blkno, d.nblocks)
	}
	d.blocks[blkno] = data
	return nil
}
