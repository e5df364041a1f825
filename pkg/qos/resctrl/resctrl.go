// Package resctrl reads the kernel's resource control filesystem and the
// related /proc and perf files the OS-mediated interface depends on.
package resctrl

import (
	"bufio"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// Default locations.
const (
	DefaultRoot     = "/sys/fs/resctrl"
	DefaultProcRoot = "/proc"
	DefaultSysRoot  = "/sys"
)

// Info directory names.
const (
	InfoL3     = "L3"
	InfoL3Code = "L3CODE"
	InfoL3Data = "L3DATA"
	InfoL2     = "L2"
	InfoL2Code = "L2CODE"
	InfoL2Data = "L2DATA"
	InfoMB     = "MB"
	InfoL3Mon  = "L3_MON"
)

// MountOptionMBps is the mount option that switches bandwidth allocation to
// the software controller.
const MountOptionMBps = "mba_MBps"

// ErrNotFound is returned when an info file or directory is absent.
var ErrNotFound = errors.New("resctrl: not found")

// Mounter performs the mount system calls.
type Mounter interface {
	Mount(target, options string) error
	Unmount(target string) error
}

// FS is a view of the resctrl filesystem and its companions.
type FS struct {
	root     string
	procRoot string
	sysRoot  string
	mounter  Mounter
}

// Option configures an FS.
type Option func(*FS)

// WithRoot sets the resctrl mount point.
func WithRoot(root string) Option { return func(f *FS) { f.root = root } }

// WithProcRoot sets the procfs mount point.
func WithProcRoot(root string) Option { return func(f *FS) { f.procRoot = root } }

// WithSysRoot sets the sysfs mount point, used for perf event files.
func WithSysRoot(root string) Option { return func(f *FS) { f.sysRoot = root } }

// WithMounter replaces the system mounter.
func WithMounter(m Mounter) Option { return func(f *FS) { f.mounter = m } }

// New returns an FS with default paths unless overridden.
func New(opts ...Option) *FS {
	f := &FS{
		root:     DefaultRoot,
		procRoot: DefaultProcRoot,
		sysRoot:  DefaultSysRoot,
		mounter:  systemMounter{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Root returns the resctrl mount point.
func (f *FS) Root() string { return f.root }

// Supported reports whether the kernel lists resctrl in /proc/filesystems.
func (f *FS) Supported() (bool, error) {
	file, err := os.Open(filepath.Join(f.procRoot, "filesystems"))
	if err != nil {
		return false, fmt.Errorf("reading filesystems: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && fields[len(fields)-1] == "resctrl" {
			return true, nil
		}
	}
	return false, scanner.Err()
}

// Mounted reports whether resctrl is mounted at the root. A mounted resctrl
// always exposes the default group's cpus file.
func (f *FS) Mounted() bool {
	_, err := os.Stat(filepath.Join(f.root, "cpus"))
	return err == nil
}

// Mount mounts resctrl at the root with options ("" for defaults).
func (f *FS) Mount(options string) error {
	if err := f.mounter.Mount(f.root, options); err != nil {
		return fmt.Errorf("mount resctrl at %s (%q): %w", f.root, options, err)
	}
	return nil
}

// Unmount unmounts resctrl.
func (f *FS) Unmount() error {
	if err := f.mounter.Unmount(f.root); err != nil {
		return fmt.Errorf("unmount resctrl at %s: %w", f.root, err)
	}
	return nil
}

// WriteSchemata writes line to the default group's schemata file.
func (f *FS) WriteSchemata(line string) error {
	file, err := os.OpenFile(filepath.Join(f.root, "schemata"), os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(line); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// MountOption reports whether the resctrl mount carries option.
func (f *FS) MountOption(option string) (bool, error) {
	fs, err := procfs.NewFS(f.procRoot)
	if err != nil {
		return false, fmt.Errorf("opening procfs: %w", err)
	}
	self, err := fs.Self()
	if err != nil {
		return false, fmt.Errorf("reading own process: %w", err)
	}
	mounts, err := self.MountInfo()
	if err != nil {
		return false, fmt.Errorf("reading mountinfo: %w", err)
	}

	for _, m := range mounts {
		if m.FSType != "resctrl" {
			continue
		}
		if _, ok := m.SuperOptions[option]; ok {
			return true, nil
		}
		if _, ok := m.Options[option]; ok {
			return true, nil
		}
	}
	return false, nil
}

// CPUFlag reports whether the first processor in /proc/cpuinfo advertises
// flag.
func (f *FS) CPUFlag(flag string) (bool, error) {
	fs, err := procfs.NewFS(f.procRoot)
	if err != nil {
		return false, fmt.Errorf("opening procfs: %w", err)
	}
	cpus, err := fs.CPUInfo()
	if err != nil {
		return false, fmt.Errorf("reading cpuinfo: %w", err)
	}
	if len(cpus) == 0 {
		return false, nil
	}
	for _, fl := range cpus[0].Flags {
		if fl == flag {
			return true, nil
		}
	}
	return false, nil
}

// HasInfo reports whether info/<name> exists.
func (f *FS) HasInfo(name string) bool {
	st, err := os.Stat(f.infoPath(name))
	return err == nil && st.IsDir()
}

// InfoString reads info/<dir>/<file>.
func (f *FS) InfoString(dir, file string) (string, error) {
	data, err := os.ReadFile(filepath.Join(f.infoPath(dir), file))
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: info/%s/%s", ErrNotFound, dir, file)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// InfoUint reads a decimal value from info/<dir>/<file>.
func (f *FS) InfoUint(dir, file string) (uint64, error) {
	return f.infoParse(dir, file, 10)
}

// InfoHex reads a hexadecimal value from info/<dir>/<file>.
func (f *FS) InfoHex(dir, file string) (uint64, error) {
	return f.infoParse(dir, file, 16)
}

func (f *FS) infoParse(dir, file string, base int) (uint64, error) {
	s, err := f.InfoString(dir, file)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), base, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing info/%s/%s: %w", dir, file, err)
	}
	return v, nil
}

// MonFeatures returns the event names listed in info/L3_MON/mon_features.
func (f *FS) MonFeatures() ([]string, error) {
	s, err := f.InfoString(InfoL3Mon, "mon_features")
	if err != nil {
		return nil, err
	}
	return strings.Fields(s), nil
}

// PerfEvent looks up a cache monitoring event exported through perf. It
// returns ok=false when the event is absent and an error when it is present
// but its scale or unit cannot be read.
func (f *FS) PerfEvent(name string) (scale uint32, ok bool, err error) {
	dir := filepath.Join(f.sysRoot, "devices", "intel_cqm", "events")
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		return 0, false, nil
	}

	raw, err := os.ReadFile(filepath.Join(dir, name+".scale"))
	if err != nil {
		return 0, true, fmt.Errorf("reading %s scale: %w", name, err)
	}
	factor, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return 0, true, fmt.Errorf("parsing %s scale: %w", name, err)
	}

	raw, err = os.ReadFile(filepath.Join(dir, name+".unit"))
	if err != nil {
		return 0, true, fmt.Errorf("reading %s unit: %w", name, err)
	}
	var unit float64
	switch u := strings.TrimSpace(string(raw)); u {
	case "Bytes":
		unit = 1
	case "MB":
		unit = 1e6
	default:
		return 0, true, fmt.Errorf("unknown %s scale unit %q", name, u)
	}

	return uint32(math.Min(factor*unit, math.MaxUint32)), true, nil
}

func (f *FS) infoPath(name string) string {
	return filepath.Join(f.root, "info", name)
}
