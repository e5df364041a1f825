package capability

import (
	"fmt"

	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

// BandwidthMode is a memory bandwidth allocation operating mode requested by
// the allocation layer.
type BandwidthMode int

// Bandwidth modes.
const (
	// BandwidthAny leaves the current mode untouched.
	BandwidthAny BandwidthMode = iota
	// BandwidthDefault is percentage-based throttling.
	BandwidthDefault
	// BandwidthController is the OS software controller (MBps targets).
	BandwidthController
)

// String returns the mode name.
func (m BandwidthMode) String() string {
	switch m {
	case BandwidthAny:
		return "any"
	case BandwidthDefault:
		return "default"
	case BandwidthController:
		return "ctrl"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// SetSplitMode reconciles the cached code/data split state of the L3 or L2
// allocation record after the hardware mode was changed. Enabling halves the
// class count and disabling doubles it. The call is a no-op when the record
// is absent or already in the requested state. Enabling with an odd class
// count fails with ErrFatal and leaves the record untouched.
func (r *Registry) SetSplitMode(kind Kind, enabled bool) error {
	var alloc *AllocationCapability
	switch kind {
	case KindL3Alloc:
		l3, ok := r.L3()
		if !ok {
			return nil
		}
		alloc = &l3.AllocationCapability
	case KindL2Alloc:
		l2, ok := r.L2()
		if !ok {
			return nil
		}
		alloc = &l2.AllocationCapability
	default:
		return fmt.Errorf("%w: split mode not applicable to %s", qoserr.ErrParameter, kind)
	}

	return alloc.setSplit(kind, enabled)
}

func (a *AllocationCapability) setSplit(kind Kind, enabled bool) error {
	if a.SplitEnabled == enabled {
		return nil
	}

	if enabled {
		if a.NumClasses%2 != 0 {
			return fmt.Errorf("%w: cannot split %d %s classes into code/data pairs",
				qoserr.ErrFatal, a.NumClasses, kind)
		}
		a.SplitEnabled = true
		a.NumClasses /= 2
		return nil
	}

	a.SplitEnabled = false
	a.NumClasses *= 2
	return nil
}

// SetBandwidthControlMode reconciles the cached bandwidth control state.
// BandwidthDefault clears the enabled flag. BandwidthController sets it and,
// under an OS-mediated interface, resolves support to Yes. BandwidthAny and
// an absent record are no-ops.
func (r *Registry) SetBandwidthControlMode(mode BandwidthMode) error {
	switch mode {
	case BandwidthAny, BandwidthDefault, BandwidthController:
	default:
		return fmt.Errorf("%w: unknown bandwidth mode %d", qoserr.ErrParameter, int(mode))
	}

	mba, ok := r.Bandwidth()
	if !ok {
		return nil
	}

	switch mode {
	case BandwidthDefault:
		mba.ControlEnabled = false
	case BandwidthController:
		if r.inter.IsOS() {
			mba.ControlSupported = Yes
		}
		mba.ControlEnabled = true
	}
	return nil
}
