//go:build linux

package probe_test

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
)

// fakeDevice writes data at off in a sparse regular file standing in for a
// character device.
func fakeDevice(t *testing.T, path string, off int64, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteAt(data, off)
	require.NoError(t, err)
}

func TestDevCPU_CPUID(t *testing.T) {
	root := t.TempDir()

	var raw [16]byte
	binary.LittleEndian.PutUint32(raw[0:4], 0x11)
	binary.LittleEndian.PutUint32(raw[4:8], 1<<15)
	binary.LittleEndian.PutUint32(raw[8:12], 0x33)
	binary.LittleEndian.PutUint32(raw[12:16], 0x44)
	fakeDevice(t, filepath.Join(root, "cpu", "0", "cpuid"), 0x7, raw[:])

	d := probe.NewDevCPU(root)
	require.NoError(t, d.Open(0))
	defer d.Close()

	regs, err := d.CPUID(0x7, 0)
	require.NoError(t, err)
	assert.Equal(t, probe.Regs{EAX: 0x11, EBX: 1 << 15, ECX: 0x33, EDX: 0x44}, regs)
	assert.True(t, probe.Bit(regs.EBX, 15))
	assert.False(t, probe.Bit(regs.EBX, 12))
}

func TestDevCPU_MSRRoundTrip(t *testing.T) {
	root := t.TempDir()
	fakeDevice(t, filepath.Join(root, "cpu", "1", "msr"), 0, []byte{0})

	d := probe.NewDevCPU(root)
	require.NoError(t, d.Open(1))

	require.NoError(t, d.WriteMSR(1, 0xC81, 1))
	v, err := d.ReadMSR(1, 0xC81)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	require.NoError(t, d.Close())
}

func TestDevCPU_Errors(t *testing.T) {
	d := probe.NewDevCPU(t.TempDir())

	_, err := d.ReadMSR(0, 0xC81)
	assert.ErrorIs(t, err, probe.ErrNotOpen)

	require.NoError(t, d.Open(2))
	_, err = d.ReadMSR(3, 0xC81)
	assert.ErrorIs(t, err, probe.ErrCoreRange)

	_, err = d.ReadMSR(0, 0xC81)
	assert.Error(t, err, "missing device")

	assert.ErrorIs(t, d.Open(-1), probe.ErrCoreRange)
	assert.NoError(t, d.Close())
}
