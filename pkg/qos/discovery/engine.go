// Package discovery probes the platform for QoS capabilities and builds the
// capability registry. Each of the four technologies is discovered
// independently; a technology that is absent is simply left out, while an
// inconsistent platform aborts the whole discovery.
package discovery

import (
	"errors"
	"fmt"

	"github.com/jamesainslie/rdtcap/pkg/logging"
	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/iface"
	"github.com/jamesainslie/rdtcap/pkg/qos/metrics"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
	"github.com/jamesainslie/rdtcap/pkg/qos/resctrl"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

// Config carries the collaborators discovery runs against.
type Config struct {
	Interface iface.Interface
	// Prober is required for the register interface.
	Prober probe.Prober
	// Resctrl is required for the OS-mediated interfaces.
	Resctrl *resctrl.FS
	// Metrics may be nil.
	Metrics *metrics.Collector
}

type engine struct {
	cfg  Config
	topo *topology.Topology
	log  *logging.Logger
}

type detector struct {
	kind capability.Kind
	run  func() (capability.Record, error)
}

// Discover runs every technology probe against topo and returns the
// resulting registry. It fails with ErrFatal when a probe reports an
// inconsistency or when no technology is present. topo is only read for
// the duration of the call.
func Discover(topo *topology.Topology, cfg Config) (*capability.Registry, error) {
	if topo == nil {
		return nil, fmt.Errorf("%w: nil topology", qoserr.ErrParameter)
	}
	if !cfg.Interface.Valid() {
		return nil, fmt.Errorf("%w: interface %s", qoserr.ErrParameter, cfg.Interface)
	}
	if cfg.Interface.IsOS() && cfg.Resctrl == nil {
		return nil, fmt.Errorf("%w: OS interface requires a resctrl filesystem", qoserr.ErrParameter)
	}
	if !cfg.Interface.IsOS() && cfg.Prober == nil {
		return nil, fmt.Errorf("%w: register interface requires a prober", qoserr.ErrParameter)
	}

	e := &engine{cfg: cfg, topo: topo, log: logging.Get("discovery")}

	var detectors []detector
	if cfg.Interface.IsOS() {
		detectors = []detector{
			{capability.KindMonitoring, e.osMonitoring},
			{capability.KindL3Alloc, func() (capability.Record, error) { return e.osAllocation(topology.L3) }},
			{capability.KindL2Alloc, func() (capability.Record, error) { return e.osAllocation(topology.L2) }},
			{capability.KindBandwidth, e.osBandwidth},
		}
	} else {
		detectors = []detector{
			{capability.KindMonitoring, e.monitoring},
			{capability.KindL3Alloc, e.l3Allocation},
			{capability.KindL2Alloc, e.l2Allocation},
			{capability.KindBandwidth, e.bandwidth},
		}
	}

	records := make([]capability.Record, 0, len(detectors))
	for _, d := range detectors {
		rec, err := d.run()
		switch {
		case err == nil:
			e.cfg.Metrics.ObserveProbe(d.kind.String(), metrics.OutcomePresent)
			records = append(records, rec)
		case qoserr.Classify(err) == qoserr.KindResource:
			e.cfg.Metrics.ObserveProbe(d.kind.String(), metrics.OutcomeAbsent)
			e.log.Info("capability not present", "kind", d.kind, "reason", err)
		default:
			e.cfg.Metrics.ObserveProbe(d.kind.String(), metrics.OutcomeFailed)
			e.log.Error("capability discovery failed", "kind", d.kind, "err", err)
			return nil, fatal(d.kind, err)
		}
	}

	reg, err := capability.NewRegistry(cfg.Interface, records...)
	if err != nil {
		e.log.Error("no capability discovered", "interface", cfg.Interface)
		return nil, err
	}
	return reg, nil
}

// fatal makes sure a failure that is not a plain absence aborts discovery.
func fatal(kind capability.Kind, err error) error {
	if errors.Is(err, qoserr.ErrFatal) {
		return fmt.Errorf("%s discovery: %w", kind, err)
	}
	return fmt.Errorf("%w: %s discovery: %w", qoserr.ErrFatal, kind, err)
}

// absent reports a technology that is not present.
func absent(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{qoserr.ErrResource}, args...)...)
}

func (e *engine) cpuid(leaf, subleaf uint32) (probe.Regs, error) {
	regs, err := e.cfg.Prober.CPUID(leaf, subleaf)
	if err != nil {
		return probe.Regs{}, fmt.Errorf("%w: cpuid 0x%x.%d: %w", qoserr.ErrFatal, leaf, subleaf, err)
	}
	return regs, nil
}
