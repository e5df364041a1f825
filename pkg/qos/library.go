// Package qos is the entry point to platform QoS capability discovery. A
// Library owns the lifecycle: Initialize probes the machine and builds the
// capability registry, Shutdown discards it. Every public method runs under
// the dual lock shared with cooperating processes.
package qos

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jamesainslie/rdtcap/pkg/logging"
	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/discovery"
	"github.com/jamesainslie/rdtcap/pkg/qos/iface"
	"github.com/jamesainslie/rdtcap/pkg/qos/lock"
	"github.com/jamesainslie/rdtcap/pkg/qos/metrics"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
	"github.com/jamesainslie/rdtcap/pkg/qos/resctrl"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

// State is the lifecycle state of a Library.
type State int32

// Lifecycle states.
const (
	Uninitialized State = iota
	Initialized
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config selects how Initialize reaches the hardware.
type Config struct {
	Interface iface.Interface
}

// Library is one handle on the platform QoS hardware.
type Library struct {
	id        string
	lock      *lock.Dual
	machine   probe.Machine
	provider  topology.Provider
	resctrl   *resctrl.FS
	metrics   *metrics.Collector
	autoMount bool
	getenv    func(string) string
	log       *logging.Logger

	state atomic.Int32

	// Guarded by the dual lock.
	cfg         Config
	topo        *topology.Topology
	reg         *capability.Registry
	machineOpen bool
}

// New prepares a Library. Nothing is probed until Initialize.
func New(opts ...Option) (*Library, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	var col *metrics.Collector
	if o.registerer != nil {
		var err error
		if col, err = metrics.New(o.registerer); err != nil {
			return nil, err
		}
	}

	l, err := lock.New(o.lockPath,
		lock.WithTimeout(o.lockTimeout),
		lock.WithWaitObserver(col.ObserveLockWait))
	if err != nil {
		return nil, err
	}

	lib := &Library{
		id:        uuid.NewString(),
		lock:      l,
		machine:   o.machine,
		provider:  o.topology,
		resctrl:   o.resctrl,
		metrics:   col,
		autoMount: o.autoMount,
		getenv:    o.getenv,
	}
	if lib.machine == nil {
		lib.machine = probe.NewDevCPU("")
	}
	if lib.provider == nil {
		lib.provider = topology.NewSysfsProvider("")
	}
	if lib.resctrl == nil {
		lib.resctrl = resctrl.New()
	}
	lib.log = logging.Get("lifecycle").With("instance", lib.id)
	return lib, nil
}

// ID returns the instance id carried in this library's log lines.
func (l *Library) ID() string { return l.id }

// State returns the current lifecycle state.
func (l *Library) State() State { return State(l.state.Load()) }

// Initialize discovers the platform capabilities through cfg.Interface. It
// fails with ErrState when already initialized and with ErrParameter when
// the RDT_IFACE restriction forbids the interface. On any later failure
// every step already taken is undone and the Library stays uninitialized.
// Once the Library is initialized a failure to release the lock is logged
// rather than returned.
func (l *Library) Initialize(cfg Config) (err error) {
	defer func() { l.metrics.ObserveTransition("initialize", err) }()

	if !cfg.Interface.Valid() {
		return fmt.Errorf("%w: interface %s", qoserr.ErrParameter, cfg.Interface)
	}
	if err := iface.CheckOverride(l.getenv(iface.OverrideEnv), cfg.Interface); err != nil {
		l.log.Error("interface rejected", "interface", cfg.Interface, "err", err)
		return err
	}

	guard, err := l.lock.Acquire(context.Background())
	if err != nil {
		return err
	}
	defer func() {
		rerr := guard.Release()
		if rerr != nil && err == nil {
			l.log.Warn("lock release failed after initialization", "err", rerr)
			return
		}
		err = errors.Join(err, rerr)
	}()

	if l.State() == Initialized {
		return fmt.Errorf("%w: already initialized", qoserr.ErrState)
	}

	var undo []func() error
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			if uerr := undo[i](); uerr != nil {
				l.log.Warn("unwind step failed", "err", uerr)
			}
		}
		l.log.Error("initialization failed", "interface", cfg.Interface, "err", err)
	}()

	topo, err := l.provider.Discover()
	if err != nil {
		return wrapFatal("topology", err)
	}

	if !cfg.Interface.IsOS() {
		if err := l.machine.Open(topo.MaxCore()); err != nil {
			return fmt.Errorf("%w: open hardware access: %w", qoserr.ErrFatal, err)
		}
		undo = append(undo, l.machine.Close)
	}

	prep, err := discovery.Prepare(l.resctrl, cfg.Interface, l.autoMount)
	if err != nil {
		return err
	}
	if prep.Mounted {
		undo = append(undo, l.resctrl.Unmount)
	}

	dcfg := discovery.Config{Interface: cfg.Interface, Resctrl: l.resctrl, Metrics: l.metrics}
	if !cfg.Interface.IsOS() {
		dcfg.Prober = l.machine
	}
	reg, err := discovery.Discover(topo, dcfg)
	if err != nil {
		return err
	}
	if cfg.Interface.IsOS() {
		discovery.ConfirmControlMode(reg, l.resctrl, prep)
	}

	l.cfg = cfg
	l.topo = topo
	l.reg = reg
	l.machineOpen = !cfg.Interface.IsOS()
	l.state.Store(int32(Initialized))
	l.log.Info("initialized", "interface", cfg.Interface, "capabilities", reg.Len(), "cores", len(topo.Cores))
	return nil
}

// Shutdown discards the registry and topology and closes hardware access.
// It fails with ErrState when not initialized. Every step is attempted;
// their errors are joined.
func (l *Library) Shutdown() (err error) {
	defer func() { l.metrics.ObserveTransition("shutdown", err) }()

	guard, err := l.lock.Acquire(context.Background())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, guard.Release()) }()

	if l.State() != Initialized {
		return fmt.Errorf("%w: not initialized", qoserr.ErrState)
	}

	var errs []error
	if l.machineOpen {
		if cerr := l.machine.Close(); cerr != nil {
			errs = append(errs, fmt.Errorf("close hardware access: %w", cerr))
		}
	}
	l.reg = nil
	l.topo = nil
	l.machineOpen = false
	l.cfg = Config{}
	l.state.Store(int32(Uninitialized))

	if err := errors.Join(errs...); err != nil {
		l.log.Warn("shutdown incomplete", "err", err)
		return err
	}
	l.log.Info("shut down")
	return nil
}

// Capabilities returns copies of the registry and topology. Mutating the
// copies has no effect on the Library.
func (l *Library) Capabilities() (reg *capability.Registry, topo *topology.Topology, err error) {
	err = l.locked(func() error {
		reg, topo = l.reg.Clone(), l.topo.Clone()
		return nil
	})
	return reg, topo, err
}

// Find returns a copy of the record of kind, if discovered.
func (l *Library) Find(kind capability.Kind) (rec capability.Record, ok bool, err error) {
	err = l.locked(func() error {
		if r, found := l.reg.Find(kind); found {
			rec, ok = r.Clone(), true
		}
		return nil
	})
	return rec, ok, err
}

// Interface returns the interface the Library was initialized with.
func (l *Library) Interface() (inter iface.Interface, err error) {
	err = l.locked(func() error {
		inter = l.cfg.Interface
		return nil
	})
	return inter, err
}

// SetSplitMode records that the code/data split of the level cache was
// switched in hardware. The hardware itself is not touched.
func (l *Library) SetSplitMode(level topology.Level, enabled bool) error {
	var kind capability.Kind
	switch level {
	case topology.L3:
		kind = capability.KindL3Alloc
	case topology.L2:
		kind = capability.KindL2Alloc
	default:
		return fmt.Errorf("%w: no split mode for cache level %d", qoserr.ErrParameter, int(level))
	}
	return l.locked(func() error {
		return l.reg.SetSplitMode(kind, enabled)
	})
}

// SetBandwidthControlMode records that the memory bandwidth allocation
// mode was switched.
func (l *Library) SetBandwidthControlMode(mode capability.BandwidthMode) error {
	return l.locked(func() error {
		return l.reg.SetBandwidthControlMode(mode)
	})
}

// Close shuts the Library down if needed and stops further lock
// acquisitions. Closing a Library that is already shut down is not an
// error.
func (l *Library) Close() error {
	var errs []error
	if l.State() == Initialized {
		if err := l.Shutdown(); !errors.Is(err, qoserr.ErrState) {
			errs = append(errs, err)
		}
	}
	errs = append(errs, l.lock.Close())
	return errors.Join(errs...)
}

// locked runs fn under the dual lock once the Library is initialized.
func (l *Library) locked(fn func() error) (err error) {
	guard, err := l.lock.Acquire(context.Background())
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, guard.Release()) }()

	if l.State() != Initialized {
		return fmt.Errorf("%w: not initialized", qoserr.ErrState)
	}
	return fn()
}

func wrapFatal(step string, err error) error {
	if qoserr.Classify(err) != qoserr.KindUnknown {
		return fmt.Errorf("%s: %w", step, err)
	}
	return fmt.Errorf("%w: %s: %w", qoserr.ErrFatal, step, err)
}
