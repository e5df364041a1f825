package discovery

import (
	"errors"
	"fmt"
	mathbits "math/bits"
	"slices"

	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
	"github.com/jamesainslie/rdtcap/pkg/qos/resctrl"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

// Event names in info/L3_MON/mon_features and under the perf event
// directory.
var osEventNames = map[capability.EventKind]struct{ resctrl, perf string }{
	capability.EventL3Occupancy: {"llc_occupancy", "llc_occupancy"},
	capability.EventLocalMemBW:  {"mbm_local_bytes", "local_bytes"},
	capability.EventTotalMemBW:  {"mbm_total_bytes", "total_bytes"},
}

// osMonitoring detects monitoring through the kernel.
func (e *engine) osMonitoring() (capability.Record, error) {
	fs := e.cfg.Resctrl

	cqm, err := fs.CPUFlag("cqm")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", qoserr.ErrFatal, err)
	}
	if !cqm {
		return nil, absent("CPU flag cqm not present")
	}

	var maxRMID uint32
	if n, err := fs.InfoUint(resctrl.InfoL3Mon, "num_rmids"); err == nil {
		maxRMID = uint32(n)
	} else if !errors.Is(err, resctrl.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", qoserr.ErrFatal, err)
	}

	var features []string
	if fs.HasInfo(resctrl.InfoL3Mon) {
		if features, err = fs.MonFeatures(); err != nil && !errors.Is(err, resctrl.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", qoserr.ErrFatal, err)
		}
	}

	detect := func(kind capability.EventKind) (bool, uint32, error) {
		names := osEventNames[kind]
		if slices.Contains(features, names.resctrl) {
			return true, 1, nil
		}
		scale, ok, err := fs.PerfEvent(names.perf)
		if err != nil {
			return false, 0, fmt.Errorf("%w: %w", qoserr.ErrFatal, err)
		}
		if ok {
			e.log.Warn("monitoring event served by perf; per-core perf results may be inaccurate", "event", names.perf)
		}
		return ok, scale, nil
	}

	mon := &capability.MonitoringCapability{
		MaxRMID:     maxRMID,
		L3SizeBytes: e.topo.L3.TotalSizeBytes,
	}
	var local, total bool
	var remoteScale uint32
	for _, kind := range []capability.EventKind{
		capability.EventL3Occupancy,
		capability.EventLocalMemBW,
		capability.EventTotalMemBW,
	} {
		ok, scale, err := detect(kind)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		switch kind {
		case capability.EventLocalMemBW:
			local = true
		case capability.EventTotalMemBW:
			total = true
			remoteScale = scale
		}
		mon.Events = append(mon.Events, capability.MonitorEvent{Kind: kind, MaxRMID: maxRMID, ScaleFactor: scale})
	}
	if local && total {
		mon.Events = append(mon.Events, capability.MonitorEvent{
			Kind: capability.EventRemoteMemBW, MaxRMID: maxRMID, ScaleFactor: remoteScale,
		})
	}
	// Derived from core performance counters; the kernel always offers them.
	for _, kind := range []capability.EventKind{capability.EventLLCMiss, capability.EventIPC} {
		mon.Events = append(mon.Events, capability.MonitorEvent{Kind: kind, MaxRMID: maxRMID, ScaleFactor: 1})
	}

	e.log.Info("monitoring detected", "max_rmid", maxRMID, "events", len(mon.Events))
	return mon, nil
}

// osAllocation detects L3 or L2 allocation from the resctrl info tree.
func (e *engine) osAllocation(level topology.Level) (capability.Record, error) {
	fs := e.cfg.Resctrl

	plain, code, data, flag := resctrl.InfoL3, resctrl.InfoL3Code, resctrl.InfoL3Data, "cdp_l3"
	if level == topology.L2 {
		plain, code, data, flag = resctrl.InfoL2, resctrl.InfoL2Code, resctrl.InfoL2Data, "cdp_l2"
	}

	var alloc capability.AllocationCapability
	var info string
	switch {
	case fs.HasInfo(plain):
		info = plain
	case fs.HasInfo(code) && fs.HasInfo(data):
		info = code
		alloc.SplitSupported = true
		alloc.SplitEnabled = true
	default:
		return nil, absent("no %s allocation info in resctrl", level)
	}

	classes, err := fs.InfoUint(info, "num_closids")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", qoserr.ErrFatal, err)
	}
	mask, err := fs.InfoHex(info, "cbm_mask")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", qoserr.ErrFatal, err)
	}
	shareable, err := fs.InfoHex(info, "shareable_bits")
	if err != nil && !errors.Is(err, resctrl.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", qoserr.ErrFatal, err)
	}

	alloc.NumClasses = uint32(classes)
	alloc.NumWays = uint32(mathbits.Len64(mask))
	alloc.WayContentionMask = shareable

	geom, err := e.topo.Geometry(level)
	if err != nil {
		return nil, err
	}
	alloc.WaySizeBytes = geom.WaySizeBytes()

	if !alloc.SplitEnabled {
		if alloc.SplitSupported, err = fs.CPUFlag(flag); err != nil {
			return nil, fmt.Errorf("%w: %w", qoserr.ErrFatal, err)
		}
	}

	e.logAllocation(level, alloc)
	if level == topology.L2 {
		return &capability.L2Allocation{AllocationCapability: alloc}, nil
	}
	return &capability.L3Allocation{AllocationCapability: alloc}, nil
}

// osBandwidth detects memory bandwidth allocation from info/MB.
func (e *engine) osBandwidth() (capability.Record, error) {
	fs := e.cfg.Resctrl
	if !fs.HasInfo(resctrl.InfoMB) {
		return nil, absent("no memory bandwidth allocation info in resctrl")
	}

	read := func(file string) (uint64, error) {
		v, err := fs.InfoUint(resctrl.InfoMB, file)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", qoserr.ErrFatal, err)
		}
		return v, nil
	}

	classes, err := read("num_closids")
	if err != nil {
		return nil, err
	}
	minBW, err := read("min_bandwidth")
	if err != nil {
		return nil, err
	}
	gran, err := read("bandwidth_gran")
	if err != nil {
		return nil, err
	}
	linear, err := read("delay_linear")
	if err != nil {
		return nil, err
	}
	if minBW > 100 {
		return nil, fmt.Errorf("%w: min_bandwidth %d exceeds 100", qoserr.ErrFatal, minBW)
	}

	mba := &capability.BandwidthCapability{
		NumClasses:          uint32(classes),
		ThrottleMaxPercent:  uint32(100 - minBW),
		ThrottleStepPercent: uint32(gran),
		Linear:              linear == 1,
	}
	if !mba.Linear {
		return nil, absent("non-linear memory bandwidth throttling")
	}

	on, err := fs.MountOption(resctrl.MountOptionMBps)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", qoserr.ErrFatal, err)
	}
	if on {
		mba.ControlEnabled = true
		mba.ControlSupported = capability.Yes
	}

	e.log.Info("memory bandwidth allocation detected",
		"classes", mba.NumClasses,
		"throttle_max", mba.ThrottleMaxPercent,
		"step", mba.ThrottleStepPercent,
		"ctrl", mba.ControlEnabled)
	return mba, nil
}
