// Package iface names the hardware-access interfaces the library can drive
// and enforces the out-of-band interface restriction.
package iface

import (
	"fmt"
	"strings"

	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

// Interface selects how the platform QoS hardware is accessed.
type Interface int

// Supported interfaces.
const (
	// MSR accesses per-core model specific registers directly.
	MSR Interface = iota
	// OS goes through the kernel resctrl control filesystem.
	OS
	// OSResctrlMon is OS with monitoring also served by resctrl.
	OSResctrlMon
)

// OverrideEnv is the environment variable that pins the allowed interface.
const OverrideEnv = "RDT_IFACE"

// String returns the configuration spelling of the interface.
func (i Interface) String() string {
	switch i {
	case MSR:
		return "msr"
	case OS:
		return "os"
	case OSResctrlMon:
		return "os-resctrl-mon"
	default:
		return fmt.Sprintf("interface(%d)", int(i))
	}
}

// IsOS reports whether the interface is mediated by the kernel.
func (i Interface) IsOS() bool {
	return i == OS || i == OSResctrlMon
}

// Valid reports whether i is one of the known interfaces.
func (i Interface) Valid() bool {
	return i == MSR || i == OS || i == OSResctrlMon
}

// Parse parses a configuration value such as "msr", "os" or
// "os-resctrl-mon". Matching is case-insensitive.
func Parse(s string) (Interface, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "msr", "":
		return MSR, nil
	case "os":
		return OS, nil
	case "os-resctrl-mon", "os_resctrl_mon", "resctrl-mon":
		return OSResctrlMon, nil
	default:
		return MSR, fmt.Errorf("%w: unknown interface %q", qoserr.ErrParameter, s)
	}
}

// CheckOverride validates the requested interface against the restriction
// signal value (normally the RDT_IFACE environment variable). An empty value
// means no restriction. "OS" only admits OS and "MSR" only admits MSR; the
// comparison is a case-insensitive prefix match. Any other value is rejected.
func CheckOverride(value string, requested Interface) error {
	if value == "" {
		return nil
	}

	upper := strings.ToUpper(value)
	switch {
	case strings.HasPrefix(upper, "OS"):
		if requested != OS {
			return fmt.Errorf("%w: system restricted to the OS interface, %s requested",
				qoserr.ErrParameter, requested)
		}
	case strings.HasPrefix(upper, "MSR"):
		if requested != MSR {
			return fmt.Errorf("%w: system restricted to the MSR interface, %s requested",
				qoserr.ErrParameter, requested)
		}
	default:
		return fmt.Errorf("%w: invalid interface enforcement %q in %s",
			qoserr.ErrParameter, value, OverrideEnv)
	}
	return nil
}
