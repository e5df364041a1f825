package discovery

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

// l3Allocation detects L3 cache allocation. CPUs that predate the CPUID
// enumeration are recognised by brand string, then by probing class mask
// registers.
func (e *engine) l3Allocation() (capability.Record, error) {
	features, err := e.cpuid(leafExtendedFeatures, 0)
	if err != nil {
		return nil, err
	}

	var alloc capability.AllocationCapability
	if probe.Bit(features.EBX, bitAllocation) {
		alloc, err = e.cpuidAllocation(topology.L3, resL3Alloc)
		if err != nil {
			return nil, err
		}
		geom := e.topo.L3
		if !geom.Detected {
			return nil, absent("L3 cache geometry unavailable")
		}
		alloc.WaySizeBytes = waySize(geom.TotalSizeBytes, alloc.NumWays)
	} else {
		e.log.Info("CPUID.0x7.0: L3 allocation not advertised, checking brand string")
		classes, err := e.brandClasses()
		if err != nil {
			return nil, err
		}
		if classes == 0 {
			if classes, err = e.probeClasses(); err != nil {
				return nil, err
			}
		}
		alloc.NumClasses = classes
		if geom := e.topo.L3; geom.Detected {
			alloc.NumWays = geom.Ways
			alloc.WaySizeBytes = waySize(geom.TotalSizeBytes, geom.Ways)
		}
	}

	e.logAllocation(topology.L3, alloc)
	return &capability.L3Allocation{AllocationCapability: alloc}, nil
}

// l2Allocation detects L2 cache allocation. Only CPUID enumeration counts.
func (e *engine) l2Allocation() (capability.Record, error) {
	features, err := e.cpuid(leafExtendedFeatures, 0)
	if err != nil {
		return nil, err
	}
	if !probe.Bit(features.EBX, bitAllocation) {
		return nil, absent("CPUID.0x7.0: L2 allocation not supported")
	}

	alloc, err := e.cpuidAllocation(topology.L2, resL2Alloc)
	if err != nil {
		return nil, err
	}

	geom := e.topo.L2
	if !geom.Detected {
		return nil, fmt.Errorf("%w: L2 cache geometry unavailable", qoserr.ErrFatal)
	}
	alloc.WaySizeBytes = waySize(geom.TotalSizeBytes, alloc.NumWays)

	e.logAllocation(topology.L2, alloc)
	return &capability.L2Allocation{AllocationCapability: alloc}, nil
}

// cpuidAllocation reads CPUID leaf 0x10 for resource res and resolves the
// current split mode.
func (e *engine) cpuidAllocation(level topology.Level, res uint) (capability.AllocationCapability, error) {
	var alloc capability.AllocationCapability

	enum, err := e.cpuid(leafAllocation, 0)
	if err != nil {
		return alloc, err
	}
	if !probe.Bit(enum.EBX, res) {
		return alloc, absent("CPUID.0x10.0: %s allocation not supported", level)
	}

	regs, err := e.cpuid(leafAllocation, uint32(res))
	if err != nil {
		return alloc, err
	}
	alloc.NumClasses = regs.EDX&0xffff + 1
	alloc.NumWays = regs.EAX&0x1f + 1
	alloc.WayContentionMask = uint64(regs.EBX)
	alloc.SplitSupported = probe.Bit(regs.ECX, bitSplitSupported)

	if alloc.SplitSupported {
		enabled, err := CheckSplitMode(e.cfg.Prober, e.topo, level)
		if err != nil {
			return alloc, err
		}
		if enabled {
			if alloc.NumClasses%2 != 0 {
				return alloc, fmt.Errorf("%w: %s split mode on with odd class count %d",
					qoserr.ErrFatal, level, alloc.NumClasses)
			}
			alloc.SplitEnabled = true
			alloc.NumClasses /= 2
		}
	}
	return alloc, nil
}

// brandClasses returns the class count implied by the brand string, or 0
// when the CPU is not on the list.
func (e *engine) brandClasses() (uint32, error) {
	brand, err := e.brand()
	if err != nil {
		return 0, err
	}
	if brand == "" {
		e.log.Debug("brand string unavailable")
		return 0, nil
	}
	for _, model := range allocationBrands {
		if strings.Contains(brand, model) {
			e.log.Info("L3 allocation inferred from brand string", "brand", brand)
			return brandClasses, nil
		}
	}
	e.log.Debug("brand string not on allocation list", "brand", brand)
	return 0, nil
}

// brand reads the 48-byte processor brand string.
func (e *engine) brand() (string, error) {
	ext, err := e.cpuid(leafExtendedMax, 0)
	if err != nil {
		return "", err
	}
	if ext.EAX < leafBrandLast {
		return "", nil
	}

	var b strings.Builder
	for leaf := uint32(leafBrandFirst); leaf <= leafBrandLast; leaf++ {
		regs, err := e.cpuid(leaf, 0)
		if err != nil {
			return "", err
		}
		for _, r := range []uint32{regs.EAX, regs.EBX, regs.ECX, regs.EDX} {
			b.WriteByte(byte(r))
			b.WriteByte(byte(r >> 8))
			b.WriteByte(byte(r >> 16))
			b.WriteByte(byte(r >> 24))
		}
	}
	return strings.TrimSpace(strings.TrimRight(b.String(), "\x00")), nil
}

// probeClasses counts readable L3 class mask registers on the first core.
func (e *engine) probeClasses() (uint32, error) {
	if len(e.topo.Cores) == 0 {
		return 0, fmt.Errorf("%w: topology has no cores", qoserr.ErrFatal)
	}
	core := e.topo.Cores[0].ID

	var n uint32
	for ; n < maxL3Classes; n++ {
		if _, err := e.cfg.Prober.ReadMSR(core, msrL3MaskBase+n); err != nil {
			break
		}
	}
	if n == 0 {
		return 0, absent("class 0 mask register unreadable on core %d", core)
	}
	e.log.Info("L3 allocation found by register probing", "classes", n, "core", core)
	return n, nil
}

func (e *engine) logAllocation(level topology.Level, a capability.AllocationCapability) {
	e.log.Info(level.String()+" allocation detected",
		"classes", a.NumClasses,
		"ways", a.NumWays,
		"way_size", humanize.IBytes(a.WaySizeBytes),
		"split_supported", a.SplitSupported,
		"split_enabled", a.SplitEnabled)
}

func waySize(total uint64, ways uint32) uint64 {
	if ways == 0 {
		return 0
	}
	return total / uint64(ways)
}
