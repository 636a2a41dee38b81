// Package config loads the server's TOML configuration file, the way
// containerd-nydus-snapshotter's config package loads daemon settings.
package config

import (
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

const (
	DefaultLogLevel  = "info"
	DefaultNBlocks   = 4096
	DefaultDiskPath  = "fs.img"
	DefaultMetricsOn = true
)

// Config is the server's on-disk configuration, loaded from a TOML
// file and filled out with defaults for anything left unset.
type Config struct {
	DiskPath     string `toml:"disk_path"`
	NBlocks      int    `toml:"nblocks"`
	LogLevel     string `toml:"log_level"`
	EnableMetrics bool  `toml:"enable_metrics"`
	MetricsAddr  string `toml:"metrics_addr"`
}

// Load reads path as TOML into a Config, tolerating a missing file
// (in which case FillupWithDefaults alone determines the result).
func Load(path string) (*Config, error) {
	c := &Config{}
	tree, err := toml.LoadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to load server config file %q", path)
	}
	if tree != nil {
		if err := tree.Unmarshal(c); err != nil {
			return nil, errors.Wrapf(err, "failed to unmarshal server config file %q", path)
		}
	}
	c.FillupWithDefaults()
	return c, nil
}

// FillupWithDefaults replaces any zero-valued string or integer field
// with its default. EnableMetrics is left as loaded.
func (c *Config) FillupWithDefaults() {
	if c.DiskPath == "" {
		c.DiskPath = DefaultDiskPath
	}
	if c.NBlocks == 0 {
		c.NBlocks = DefaultNBlocks
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9100"
	}
}
