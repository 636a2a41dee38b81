// Package metrics registers the prometheus instruments exported by the
// server: buffer-cache activity, bitmap allocation, and open-file/mmap
// table occupancy. None of this is on the IPC protocol's critical
// path; it is purely operational visibility, grounded on the
// client_golang usage in talyz-systemd_exporter and
// containerd-nydus-snapshotter.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every instrument the server updates. A fresh Registry
// is created per server instance (rather than using the global
// prometheus default registerer) so tests can spin up multiple
// simulated servers without colliding on metric names.
type Registry struct {
	Reg *prometheus.Registry

	CacheFaults     prometheus.Counter
	CacheFlushes    prometheus.Counter
	BitmapAllocs    prometheus.Counter
	BitmapFrees     prometheus.Counter
	OpenFilesInUse  prometheus.Gauge
	MmapRegionCount prometheus.Gauge
}

// New constructs and registers a fresh instrument set.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		Reg: reg,
		CacheFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jfsd_cache_faults_total",
			Help: "Buffer-cache page faults serviced by reading a block from disk.",
		}),
		CacheFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jfsd_cache_flushes_total",
			Help: "Buffer-cache pages written back to disk.",
		}),
		BitmapAllocs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jfsd_bitmap_allocs_total",
			Help: "Blocks allocated from the free-block bitmap.",
		}),
		BitmapFrees: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jfsd_bitmap_frees_total",
			Help: "Blocks returned to the free-block bitmap.",
		}),
		OpenFilesInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jfsd_open_files_in_use",
			Help: "Occupied slots in the open-file table.",
		}),
		MmapRegionCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jfsd_mmap_regions",
			Help: "Active client mmap region records.",
		}),
	}
	reg.MustRegister(r.CacheFaults, r.CacheFlushes, r.BitmapAllocs, r.BitmapFrees, r.OpenFilesInUse, r.MmapRegionCount)
	return r
}
