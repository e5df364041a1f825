package probetest_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe/probetest"
)

func TestFake(t *testing.T) {
	f := probetest.New().
		SetCPUID(0x10, 1, probe.Regs{EAX: 11, EDX: 15}).
		SetMSR(0, 0xC81, 1)

	regs, err := f.CPUID(0x10, 1)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), regs.EAX)

	regs, err = f.CPUID(0x10, 2)
	require.NoError(t, err)
	assert.Equal(t, probe.Regs{}, regs, "unscripted leaf reads as zero")

	v, err := f.ReadMSR(0, 0xC81)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	_, err = f.ReadMSR(1, 0xC81)
	assert.ErrorIs(t, err, probetest.ErrNoRegister)

	require.NoError(t, f.WriteMSR(2, 0xC90, 0x7ff))
	assert.Equal(t, []probetest.Write{{Core: 2, Addr: 0xC90, Value: 0x7ff}}, f.Writes())

	require.NoError(t, f.Open(3))
	assert.True(t, f.Opened())
	assert.Equal(t, 3, f.MaxCore())
	require.NoError(t, f.Close())
	opens, closes := f.Calls()
	assert.Equal(t, 1, opens)
	assert.Equal(t, 1, closes)
}

func TestFake_SetBrand(t *testing.T) {
	f := probetest.New().SetBrand("Intel(R) Xeon(R) CPU E5-2658 v3 @ 2.20GHz")

	ext, err := f.CPUID(0x80000000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80000004), ext.EAX)

	first, err := f.CPUID(0x80000002, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32('I')|uint32('n')<<8|uint32('t')<<16|uint32('e')<<24, first.EAX)
}
