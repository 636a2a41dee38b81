// Command fsd runs the file-system server daemon: it mounts a disk
// image, serves IPC requests from in-process clients, and exposes
// buffer-cache/bitmap/open-file metrics over HTTP.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"jfsd/internal/block"
	"jfsd/internal/config"
	"jfsd/internal/fs"
	"jfsd/internal/ipc"
	"jfsd/internal/mem"
	"jfsd/internal/metrics"
	"jfsd/internal/server"
	"jfsd/internal/vm"
)

var (
	configPath string
	diskPath   string
	nblocks    int
	logLevel   string
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fsd",
		Short:         "User-space file-system server",
		Long:          "fsd mounts a disk image and serves page-granularity file-system IPC requests.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          runServe,
	}
	pflags := cmd.PersistentFlags()
	pflags.StringVar(&configPath, "config", "fsd.toml", "path to the server's TOML config file")
	pflags.StringVar(&diskPath, "disk", "", "override the disk image path from the config file")
	pflags.IntVar(&nblocks, "nblocks", 0, "format a new disk image of this many blocks if one doesn't exist")
	pflags.StringVar(&logLevel, "log-level", "", "override the config file's log level")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if diskPath != "" {
		cfg.DiskPath = diskPath
	}
	if nblocks != 0 {
		cfg.NBlocks = nblocks
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logrus.New()
	logger.SetLevel(level)
	log := logrus.NewEntry(logger)

	create := false
	if _, statErr := os.Stat(cfg.DiskPath); statErr != nil {
		create = true
	}
	disk, err := block.OpenFileDisk(cfg.DiskPath, cfg.NBlocks, create, log)
	if err != nil {
		return err
	}
	defer disk.Close()

	phys := mem.NewPhysmem(log)
	as := vm.NewAddrSpace(phys, log)
	m := metrics.New()

	var fsys *fs.FileSystem_t
	if create {
		fsys, err = fs.Format(disk, phys, as, m, log)
	} else {
		fsys, err = fs.Open(disk, phys, as, m, log)
	}
	if err != nil {
		return err
	}

	sys := ipc.NewSystem()
	srv := server.New(fsys, as, phys, m, sys, log)

	if cfg.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.Reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics server exited")
			}
		}()
		log.WithField("addr", cfg.MetricsAddr).Info("metrics listening")
	}

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	log.WithFields(logrus.Fields{"disk": cfg.DiskPath, "nblocks": cfg.NBlocks, "envid": srv.Envid}).Info("fsd running")
	go srv.Serve(stop)

	<-sig
	close(stop)
	fsys.Sync()
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
