package discovery

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

// monitoring detects cache and memory bandwidth monitoring through CPUID.
func (e *engine) monitoring() (capability.Record, error) {
	features, err := e.cpuid(leafExtendedFeatures, 0)
	if err != nil {
		return nil, err
	}
	if !probe.Bit(features.EBX, bitMonitoring) {
		return nil, absent("CPUID.0x7.0: monitoring not supported")
	}

	mon, err := e.cpuid(leafMonitoring, 0)
	if err != nil {
		return nil, err
	}
	if !probe.Bit(mon.EDX, bitL3Monitoring) {
		return nil, absent("CPUID.0xF.0: L3 monitoring not supported")
	}
	maxRMID := mon.EBX + 1

	l3 := e.topo.L3
	if !l3.Detected {
		return nil, fmt.Errorf("%w: L3 cache geometry unavailable", qoserr.ErrFatal)
	}

	l3mon, err := e.cpuid(leafMonitoring, 1)
	if err != nil {
		return nil, err
	}
	occupancy := probe.Bit(l3mon.EDX, bitOccupancy)
	total := probe.Bit(l3mon.EDX, bitTotalBW)
	local := probe.Bit(l3mon.EDX, bitLocalBW)
	remote := total && local

	perf, err := e.cpuid(leafArchPerfMon, 0)
	if err != nil {
		return nil, err
	}
	ipc := perf.EBX&3 == 0 && perf.EDX&31 > 1
	llcMiss := (perf.EAX>>8)&0xff > 1

	if !occupancy && !total && !local {
		return nil, fmt.Errorf("%w: CPUID.0xF.1 advertises no monitoring event", qoserr.ErrFatal)
	}

	candidates := []struct {
		kind    capability.EventKind
		present bool
		perf    bool
	}{
		{capability.EventL3Occupancy, occupancy, false},
		{capability.EventTotalMemBW, total, false},
		{capability.EventLocalMemBW, local, false},
		{capability.EventRemoteMemBW, remote, false},
		{capability.EventIPC, ipc, true},
		{capability.EventLLCMiss, llcMiss, true},
	}

	n := 0
	for _, c := range candidates {
		if c.present {
			n++
		}
	}

	table := capability.NewEventTable(n)
	for _, c := range candidates {
		if !c.present {
			continue
		}
		ev := capability.MonitorEvent{Kind: c.kind}
		if !c.perf {
			ev.MaxRMID = l3mon.ECX + 1
			ev.ScaleFactor = l3mon.EBX
		}
		if err := table.Add(ev); err != nil {
			return nil, err
		}
	}
	events, err := table.Events()
	if err != nil {
		return nil, err
	}

	e.log.Info("monitoring detected",
		"max_rmid", maxRMID,
		"l3", humanize.IBytes(l3.TotalSizeBytes),
		"events", len(events))

	return &capability.MonitoringCapability{
		MaxRMID:     maxRMID,
		L3SizeBytes: l3.TotalSizeBytes,
		Events:      events,
	}, nil
}
