package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe/probetest"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

func TestL3Allocation_BrandFallback(t *testing.T) {
	p := probetest.New().SetBrand("Intel(R) Xeon(R) CPU E5-2658 v3 @ 2.20GHz")

	rec, err := newTestEngine(p, twoSockets()).l3Allocation()
	require.NoError(t, err)

	l3 := rec.(*capability.L3Allocation)
	assert.Equal(t, uint32(4), l3.NumClasses)
	assert.Equal(t, uint32(12), l3.NumWays)
	assert.Equal(t, uint64(2<<20), l3.WaySizeBytes)
	assert.False(t, l3.SplitSupported)
	assert.Empty(t, p.Writes())
}

func TestL3Allocation_BrandNotListed(t *testing.T) {
	p := probetest.New().SetBrand("Intel(R) Core(TM) i7-8700 CPU @ 3.20GHz")

	_, err := newTestEngine(p, twoSockets()).l3Allocation()
	assert.ErrorIs(t, err, qoserr.ErrResource)
}

func TestL3Allocation_RegisterProbing(t *testing.T) {
	p := probetest.New()
	for i := uint32(0); i < 6; i++ {
		p.SetMSR(0, 0xC90+i, 0xfff)
	}

	rec, err := newTestEngine(p, twoSockets()).l3Allocation()
	require.NoError(t, err)
	assert.Equal(t, uint32(6), rec.(*capability.L3Allocation).NumClasses)
}

func TestL3Allocation_ProbingStopsAtLimit(t *testing.T) {
	p := probetest.New()
	for i := uint32(0); i < 200; i++ {
		p.SetMSR(0, 0xC90+i, 0xfff)
	}

	rec, err := newTestEngine(p, twoSockets()).l3Allocation()
	require.NoError(t, err)
	assert.Equal(t, uint32(128), rec.(*capability.L3Allocation).NumClasses)
}

func TestL3Allocation_FallbackWithoutGeometry(t *testing.T) {
	topo := twoSockets()
	topo.L3 = topology.CacheGeometry{}
	p := probetest.New().SetBrand("Intel(R) Xeon(R) CPU E3-1258L v4 @ 1.80GHz")

	rec, err := newTestEngine(p, topo).l3Allocation()
	require.NoError(t, err)
	l3 := rec.(*capability.L3Allocation)
	assert.Equal(t, uint32(4), l3.NumClasses)
	assert.Zero(t, l3.NumWays)
	assert.Zero(t, l3.WaySizeBytes)
}

func TestL3Allocation_CPUIDWithoutGeometryIsAbsent(t *testing.T) {
	topo := twoSockets()
	topo.L3 = topology.CacheGeometry{}

	_, err := newTestEngine(fullPlatform(), topo).l3Allocation()
	assert.ErrorIs(t, err, qoserr.ErrResource)
}

func TestL3Allocation_OddClassesWithSplitIsFatal(t *testing.T) {
	p := fullPlatform().
		SetCPUID(0x10, 1, probe.Regs{EAX: 11, ECX: bits(2), EDX: 14})
	setSplit(p, 0xC81, 1, 1)

	_, err := newTestEngine(p, twoSockets()).l3Allocation()
	assert.ErrorIs(t, err, qoserr.ErrFatal)
}

func TestL3Allocation_SplitRegisterUnreadable(t *testing.T) {
	p := probetest.New().
		SetCPUID(0x7, 0, probe.Regs{EBX: bits(15)}).
		SetCPUID(0x10, 0, probe.Regs{EBX: bits(1)}).
		SetCPUID(0x10, 1, probe.Regs{EAX: 11, ECX: bits(2), EDX: 15})

	_, err := newTestEngine(p, twoSockets()).l3Allocation()
	assert.ErrorIs(t, err, qoserr.ErrFatal)
}

func TestL2Allocation(t *testing.T) {
	tests := []struct {
		name    string
		prober  *probetest.Fake
		topo    func() *topology.Topology
		wantErr error
	}{
		{
			name:   "present",
			prober: fullPlatform(),
			topo:   twoSockets,
		},
		{
			name:    "allocation not advertised",
			prober:  probetest.New(),
			topo:    twoSockets,
			wantErr: qoserr.ErrResource,
		},
		{
			name:    "resource not enumerated",
			prober:  fullPlatform().SetCPUID(0x10, 0, probe.Regs{EBX: bits(1)}),
			topo:    twoSockets,
			wantErr: qoserr.ErrResource,
		},
		{
			name:   "geometry missing",
			prober: fullPlatform(),
			topo: func() *topology.Topology {
				topo := twoSockets()
				topo.L2 = topology.CacheGeometry{}
				return topo
			},
			wantErr: qoserr.ErrFatal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := newTestEngine(tt.prober, tt.topo()).l2Allocation()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, capability.KindL2Alloc, rec.Kind())
		})
	}
}
