package discovery

import (
	"fmt"

	"github.com/jamesainslie/rdtcap/pkg/logging"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

// RepresentativeCores returns one core per partition that owns a split
// mode setting for level: one per socket for L3 and one per L2 cluster for
// L2.
func RepresentativeCores(topo *topology.Topology, level topology.Level) ([]int, error) {
	var cores []int
	switch level {
	case topology.L3:
		for _, socket := range topo.Sockets() {
			core, ok := topo.SocketCore(socket)
			if !ok {
				return nil, fmt.Errorf("%w: no core on socket %d", qoserr.ErrFatal, socket)
			}
			cores = append(cores, core)
		}
	case topology.L2:
		clusters, err := topo.Clusters(topology.L2)
		if err != nil {
			return nil, err
		}
		for _, id := range clusters {
			core, ok := topo.ClusterCore(topology.L2, id)
			if !ok {
				return nil, fmt.Errorf("%w: no core in L2 cluster %d", qoserr.ErrFatal, id)
			}
			cores = append(cores, core)
		}
	default:
		return nil, fmt.Errorf("%w: split mode not defined for cache level %d", qoserr.ErrParameter, int(level))
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("%w: no %s partitions in topology", qoserr.ErrFatal, level)
	}
	return cores, nil
}

// CheckSplitMode reads the split mode enable bit of level on one core per
// partition. All partitions must agree; a mixed platform is ErrFatal.
func CheckSplitMode(p probe.Prober, topo *topology.Topology, level topology.Level) (bool, error) {
	cores, err := RepresentativeCores(topo, level)
	if err != nil {
		return false, err
	}

	reg := uint32(msrL3SplitConfig)
	if level == topology.L2 {
		reg = msrL2SplitConfig
	}

	var on, off int
	for _, core := range cores {
		v, err := p.ReadMSR(core, reg)
		if err != nil {
			return false, fmt.Errorf("%w: read %s split mode on core %d: %w", qoserr.ErrFatal, level, core, err)
		}
		if v&1 != 0 {
			on++
		} else {
			off++
		}
	}

	if on > 0 && off > 0 {
		logging.Get("discovery").Error("split mode disagrees across partitions",
			"level", level, "enabled", on, "disabled", off)
		return false, fmt.Errorf("%w: %s split mode enabled on %d and disabled on %d partitions",
			qoserr.ErrFatal, level, on, off)
	}
	return on > 0, nil
}
