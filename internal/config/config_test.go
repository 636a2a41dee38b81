package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFillsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultDiskPath, c.DiskPath)
	require.Equal(t, DefaultNBlocks, c.NBlocks)
	require.Equal(t, DefaultLogLevel, c.LogLevel)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsd.toml")
	body := "disk_path = \"/tmp/custom.img\"\nnblocks = 8192\nlog_level = \"debug\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.img", c.DiskPath)
	require.Equal(t, 8192, c.NBlocks)
	require.Equal(t, "debug", c.LogLevel)
	require.Equal(t, ":9100", c.MetricsAddr) // still defaulted
}

func TestFillupWithDefaultsLeavesSetFieldsAlone(t *testing.T) {
	c := &Config{DiskPath: "keep.img"}
	c.FillupWithDefaults()
	require.Equal(t, "keep.img", c.DiskPath)
	require.Equal(t, DefaultNBlocks, c.NBlocks)
}
