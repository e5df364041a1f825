// Package config loads rdtcap configuration from file and environment.
package config

import "time"

// Default configuration values.
const (
	// DefaultInterface is the hardware-access interface used when none is
	// configured.
	DefaultInterface = "msr"

	// DefaultLockPath is the cross-process lock file.
	DefaultLockPath = "/var/lock/libpqos"

	// DefaultLockTimeout of zero waits for the lock forever.
	DefaultLockTimeout = time.Duration(0)

	// DefaultResctrlRoot is the resctrl mount point.
	DefaultResctrlRoot = "/sys/fs/resctrl"

	// DefaultSysfsRoot, DefaultProcfsRoot and DefaultDevRoot locate the
	// kernel interfaces read during discovery.
	DefaultSysfsRoot  = "/sys"
	DefaultProcfsRoot = "/proc"
	DefaultDevRoot    = "/dev"

	// DefaultLogMaxSize is the log size that triggers rotation.
	DefaultLogMaxSize = "10MB"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "RDTCAP"
