package discovery

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/jamesainslie/rdtcap/pkg/logging"
	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/iface"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
	"github.com/jamesainslie/rdtcap/pkg/qos/resctrl"
)

// mbaControllerProbe is written to the default group while resctrl is
// mounted with the software controller; only the controller accepts
// values above 100.
const mbaControllerProbe = "MB:0=200\n"

// Preparation is what Prepare learnt about the OS interface.
type Preparation struct {
	// ControlSupport is the bandwidth controller support found while
	// mounting resctrl. Unknown when resctrl was already mounted.
	ControlSupport capability.Tristate
	// Mounted is true when Prepare mounted resctrl itself and left it
	// mounted. The caller owns the unmount.
	Mounted bool
}

// Prepare readies the hardware-access interface before discovery. For the
// OS interfaces resctrl must be supported by the kernel and is mounted when
// absent and autoMount is set. For the register interface a mounted
// resctrl only draws a warning.
func Prepare(rfs *resctrl.FS, inter iface.Interface, autoMount bool) (Preparation, error) {
	log := logging.Get("resctrl")
	var prep Preparation

	if !inter.IsOS() {
		if rfs != nil && rfs.Mounted() {
			log.Warn("resctrl is mounted; direct register access may corrupt its state", "root", rfs.Root())
		}
		return prep, nil
	}
	if rfs == nil {
		return prep, fmt.Errorf("%w: OS interface requires a resctrl filesystem", qoserr.ErrParameter)
	}

	supported, err := rfs.Supported()
	if err != nil {
		return prep, fmt.Errorf("%w: resctrl detection: %w", qoserr.ErrFatal, err)
	}
	if !supported {
		log.Error("OS interface selected but resctrl not supported; kernel 4.10 or newer required")
		return prep, fmt.Errorf("%w: resctrl not supported by the kernel", qoserr.ErrParameter)
	}
	log.Info("resctrl detected")

	if !rfs.Mounted() {
		if !autoMount {
			return prep, fmt.Errorf("%w: resctrl not mounted at %s", qoserr.ErrResource, rfs.Root())
		}
		log.Info("resctrl not mounted, mounting", "root", rfs.Root())

		prep.ControlSupport = probeController(rfs)
		if err := rfs.Mount(""); err != nil {
			log.Error("unable to mount resctrl", "err", err)
			return prep, fmt.Errorf("%w: %w", qoserr.ErrResource, err)
		}
		prep.Mounted = true
	}

	if inter == iface.OSResctrlMon && !rfs.HasInfo(resctrl.InfoL3Mon) {
		log.Error("resctrl monitoring selected but not supported")
		if prep.Mounted {
			if err := rfs.Unmount(); err != nil {
				log.Warn("unable to unmount resctrl", "err", err)
			}
			prep.Mounted = false
		}
		return prep, fmt.Errorf("%w: resctrl monitoring not supported", qoserr.ErrParameter)
	}
	return prep, nil
}

// probeController mounts resctrl with the bandwidth software controller to
// learn whether the kernel and platform support it, then unmounts again.
func probeController(rfs *resctrl.FS) capability.Tristate {
	log := logging.Get("resctrl")
	if err := rfs.Mount(resctrl.MountOptionMBps); err != nil {
		log.Debug("bandwidth controller mount rejected", "err", err)
		return capability.No
	}

	support := capability.Yes
	if err := rfs.WriteSchemata(mbaControllerProbe); err != nil {
		support = capability.No
		if errors.Is(err, fs.ErrNotExist) {
			support = capability.Unknown
		}
	}
	if err := rfs.Unmount(); err != nil {
		log.Warn("unable to unmount probe mount", "err", err)
	}
	return support
}

// ConfirmControlMode settles the bandwidth controller state of reg after
// OS-mediated discovery. A result learnt while mounting wins; otherwise
// the mount flag decides, and support stays Unknown unless it can be
// inferred from local bandwidth monitoring.
func ConfirmControlMode(reg *capability.Registry, rfs *resctrl.FS, prep Preparation) {
	mba, ok := reg.Bandwidth()
	if !ok {
		return
	}

	supported, enabled := mba.ControlSupported, mba.ControlEnabled
	if prep.ControlSupport != capability.Unknown {
		supported, enabled = prep.ControlSupport, false
	} else {
		if !rfs.Mounted() {
			enabled = false
		}
		if supported == capability.Unknown {
			switch {
			case enabled:
				supported = capability.Yes
			case !localBandwidthMonitoring(rfs):
				supported = capability.No
			}
		}
	}
	if supported == capability.No {
		enabled = false
	}

	mba.ControlSupported, mba.ControlEnabled = supported, enabled
	logging.Get("discovery").Info("bandwidth controller", "supported", supported, "enabled", enabled)
}

func localBandwidthMonitoring(rfs *resctrl.FS) bool {
	if !rfs.HasInfo(resctrl.InfoL3Mon) {
		return false
	}
	features, err := rfs.MonFeatures()
	if err != nil {
		return false
	}
	return slices.Contains(features, osEventNames[capability.EventLocalMemBW].resctrl)
}
