package block

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"jfsd/internal/defs"
)

func TestMemDiskReadWriteRoundTrip(t *testing.T) {
	d := NewMemDisk(4)
	var data [defs.BLKSIZE]byte
	data[0] = 0xab
	data[defs.BLKSIZE-1] = 0xcd

	require.NoError(t, d.WriteBlock(2, data))
	got, err := d.ReadBlock(2)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestMemDiskRejectsOutOfRange(t *testing.T) {
	d := NewMemDisk(4)
	_, err := d.ReadBlock(4)
	require.Error(t, err)
	require.Error(t, d.WriteBlock(-1, [defs.BLKSIZE]byte{}))
}

func TestFileDiskPersistsAcrossReopen(t *testing.T) {
	path := t.TempDir() + "/fs.img"
	d, err := OpenFileDisk(path, 4, true, nil)
	require.NoError(t, err)

	var data [defs.BLKSIZE]byte
	data[3] = 0x42
	require.NoError(t, d.WriteBlock(1, data))
	require.NoError(t, d.Close())

	stat, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(4*defs.BLKSIZE), stat.Size())

	reopened, err := OpenFileDisk(path, 4, false, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.ReadBlock(1)
	require.NoError(t, err)
	require.Equal(t, data, got)
}
