// Command mkfs formats a fresh disk image and optionally populates it
// by copying in a host directory tree, grounded on biscuit's
// mkfs/mkfs.go addfiles/copydata walk. Population writes directly
// through the FileSystem_t, the way mkfs.go builds an image straight
// off the fs package rather than by running a server and talking IPC
// to it — there is no running environment to be a client of yet.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"jfsd/internal/block"
	"jfsd/internal/defs"
	"jfsd/internal/fs"
	"jfsd/internal/mem"
	"jfsd/internal/metrics"
	"jfsd/internal/ustr"
	"jfsd/internal/vm"
)

var (
	nblocks int
	skelDir string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mkfs <image-path>",
		Short:         "Format a new file-system image",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE:          runMkfs,
	}
	cmd.Flags().IntVar(&nblocks, "nblocks", 4096, "total number of blocks in the new image")
	cmd.Flags().StringVar(&skelDir, "populate", "", "host directory tree to copy into the new image")
	return cmd
}

func runMkfs(cmd *cobra.Command, args []string) error {
	imagePath := args[0]
	log := logrus.NewEntry(logrus.StandardLogger())

	disk, err := block.OpenFileDisk(imagePath, nblocks, true, log)
	if err != nil {
		return err
	}
	defer disk.Close()

	phys := mem.NewPhysmem(log)
	as := vm.NewAddrSpace(phys, log)
	m := metrics.New()
	fsys, err := fs.Format(disk, phys, as, m, log)
	if err != nil {
		return err
	}

	if skelDir != "" {
		if err := addFiles(fsys, skelDir); err != nil {
			return err
		}
	}

	if serr := fsys.Sync(); serr != 0 {
		return serr
	}
	return nil
}

// addFiles walks skelDir and recreates every entry under the image's
// root, directories first so their parents exist before their
// children are created.
func addFiles(fsys *fs.FileSystem_t, skelDir string) error {
	return filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, skelDir)
		if rel == "" {
			return nil
		}
		dst := ustr.Ustr(rel)

		if d.IsDir() {
			if _, cerr := fsys.Create(dst, true); cerr != 0 {
				return fmt.Errorf("mkdir %s: %w", rel, cerr)
			}
			return nil
		}

		fr, cerr := fsys.Create(dst, false)
		if cerr != 0 {
			return fmt.Errorf("create %s: %w", rel, cerr)
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		buf := make([]byte, defs.BLKSIZE)
		pos := 0
		for {
			n, rerr := src.Read(buf)
			if n > 0 {
				written, werr := fsys.Write(fr, pos, buf[:n])
				if werr != 0 {
					return fmt.Errorf("write %s: %w", rel, werr)
				}
				pos += written
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				return rerr
			}
		}
		return nil
	})
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
