package qos

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jamesainslie/rdtcap/pkg/qos/lock"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/resctrl"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

type options struct {
	lockPath    string
	lockTimeout time.Duration
	machine     probe.Machine
	topology    topology.Provider
	resctrl     *resctrl.FS
	registerer  prometheus.Registerer
	autoMount   bool
	getenv      func(string) string
}

func defaultOptions() options {
	return options{
		lockPath:  lock.DefaultPath,
		autoMount: true,
		getenv:    os.Getenv,
	}
}

// Option configures a Library.
type Option func(*options)

// WithLockPath sets the cross-process lock file.
func WithLockPath(path string) Option {
	return func(o *options) { o.lockPath = path }
}

// WithLockTimeout bounds every lock acquisition. Zero waits forever.
func WithLockTimeout(d time.Duration) Option {
	return func(o *options) { o.lockTimeout = d }
}

// WithProber replaces the /dev/cpu hardware access.
func WithProber(m probe.Machine) Option {
	return func(o *options) { o.machine = m }
}

// WithTopologyProvider replaces the sysfs topology provider.
func WithTopologyProvider(p topology.Provider) Option {
	return func(o *options) { o.topology = p }
}

// WithResctrl replaces the resctrl filesystem view used by the OS
// interfaces.
func WithResctrl(fs *resctrl.FS) Option {
	return func(o *options) { o.resctrl = fs }
}

// WithMetrics registers the library's collectors on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithAutoMount controls whether Initialize mounts resctrl when an OS
// interface is requested and it is not mounted. Defaults to true.
func WithAutoMount(enabled bool) Option {
	return func(o *options) { o.autoMount = enabled }
}

// WithGetenv replaces the environment lookup used for the RDT_IFACE
// interface restriction.
func WithGetenv(fn func(string) string) Option {
	return func(o *options) { o.getenv = fn }
}
