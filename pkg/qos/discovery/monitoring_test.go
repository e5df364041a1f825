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

func monitoringPlatform(events uint32) *probetest.Fake {
	return probetest.New().
		SetCPUID(0x7, 0, probe.Regs{EBX: bits(12)}).
		SetCPUID(0xF, 0, probe.Regs{EBX: 63, EDX: bits(1)}).
		SetCPUID(0xF, 1, probe.Regs{EBX: 32768, ECX: 55, EDX: events})
}

func eventKinds(mon *capability.MonitoringCapability) []capability.EventKind {
	kinds := make([]capability.EventKind, 0, len(mon.Events))
	for _, ev := range mon.Events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func TestMonitoring_Events(t *testing.T) {
	tests := []struct {
		name   string
		events uint32
		perf   probe.Regs
		want   []capability.EventKind
	}{
		{
			name:   "occupancy only",
			events: bits(0),
			want:   []capability.EventKind{capability.EventL3Occupancy},
		},
		{
			name:   "local bandwidth only has no remote",
			events: bits(0, 2),
			want:   []capability.EventKind{capability.EventL3Occupancy, capability.EventLocalMemBW},
		},
		{
			name:   "total and local derive remote",
			events: bits(1, 2),
			want: []capability.EventKind{
				capability.EventTotalMemBW, capability.EventLocalMemBW, capability.EventRemoteMemBW,
			},
		},
		{
			name:   "ipc needs fixed counters and all events available",
			events: bits(0),
			perf:   probe.Regs{EBX: 1, EDX: 3},
			want:   []capability.EventKind{capability.EventL3Occupancy},
		},
		{
			name:   "perf events",
			events: bits(0),
			perf:   probe.Regs{EAX: 2 << 8, EDX: 3},
			want: []capability.EventKind{
				capability.EventL3Occupancy, capability.EventIPC, capability.EventLLCMiss,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := monitoringPlatform(tt.events).SetCPUID(0xA, 0, tt.perf)

			rec, err := newTestEngine(p, twoSockets()).monitoring()
			require.NoError(t, err)

			mon := rec.(*capability.MonitoringCapability)
			assert.Equal(t, uint32(64), mon.MaxRMID)
			assert.Equal(t, tt.want, eventKinds(mon))
			for _, ev := range mon.Events {
				if ev.Kind == capability.EventIPC || ev.Kind == capability.EventLLCMiss {
					assert.Zero(t, ev.MaxRMID)
					assert.Zero(t, ev.ScaleFactor)
					continue
				}
				assert.Equal(t, uint32(56), ev.MaxRMID)
				assert.Equal(t, uint32(32768), ev.ScaleFactor)
			}
		})
	}
}

func TestMonitoring_Absent(t *testing.T) {
	_, err := newTestEngine(probetest.New(), twoSockets()).monitoring()
	assert.ErrorIs(t, err, qoserr.ErrResource)

	p := probetest.New().SetCPUID(0x7, 0, probe.Regs{EBX: bits(12)})
	_, err = newTestEngine(p, twoSockets()).monitoring()
	assert.ErrorIs(t, err, qoserr.ErrResource)
}

func TestMonitoring_NoEventsIsFatal(t *testing.T) {
	_, err := newTestEngine(monitoringPlatform(0), twoSockets()).monitoring()
	assert.ErrorIs(t, err, qoserr.ErrFatal)
}

func TestMonitoring_NoGeometryIsFatal(t *testing.T) {
	topo := twoSockets()
	topo.L3 = topology.CacheGeometry{}

	_, err := newTestEngine(monitoringPlatform(bits(0)), topo).monitoring()
	assert.ErrorIs(t, err, qoserr.ErrFatal)
}
