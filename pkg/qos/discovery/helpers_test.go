package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rdtcap/pkg/logging"
	"github.com/jamesainslie/rdtcap/pkg/qos/iface"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe/probetest"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

// twoSockets is a four-core, two-socket machine with one L2 cluster per
// core pair and one L3 per socket.
func twoSockets() *topology.Topology {
	return &topology.Topology{
		Cores: []topology.Core{
			{ID: 0, Socket: 0, L2ID: 0, L3ID: 0},
			{ID: 1, Socket: 0, L2ID: 0, L3ID: 0},
			{ID: 2, Socket: 1, L2ID: 1, L3ID: 1},
			{ID: 3, Socket: 1, L2ID: 1, L3ID: 1},
		},
		L2: topology.CacheGeometry{Detected: true, TotalSizeBytes: 1 << 20, Ways: 16},
		L3: topology.CacheGeometry{Detected: true, TotalSizeBytes: 24 << 20, Ways: 12},
	}
}

func bits(n ...uint) uint32 {
	var v uint32
	for _, b := range n {
		v |= 1 << b
	}
	return v
}

// fullPlatform advertises every technology through CPUID: 144 RMIDs with
// all events, L3 with 16 classes and 12 ways, L2 with 8 classes and 16
// ways, bandwidth allocation with 8 classes and a 90% linear maximum.
// Split mode is supported and off everywhere.
func fullPlatform() *probetest.Fake {
	f := probetest.New().
		SetCPUID(0x7, 0, probe.Regs{EBX: bits(12, 15)}).
		SetCPUID(0xF, 0, probe.Regs{EBX: 143, EDX: bits(1)}).
		SetCPUID(0xF, 1, probe.Regs{EBX: 65536, ECX: 143, EDX: bits(0, 1, 2)}).
		SetCPUID(0xA, 0, probe.Regs{EAX: 4 << 8, EBX: 0, EDX: 3}).
		SetCPUID(0x10, 0, probe.Regs{EBX: bits(1, 2, 3)}).
		SetCPUID(0x10, 1, probe.Regs{EAX: 11, EBX: 0xC00, ECX: bits(2), EDX: 15}).
		SetCPUID(0x10, 2, probe.Regs{EAX: 15, ECX: bits(2), EDX: 7}).
		SetCPUID(0x10, 3, probe.Regs{EAX: 89, ECX: bits(2), EDX: 7})
	setSplit(f, 0xC81, 0, 0)
	setSplit(f, 0xC82, 0, 0)
	return f
}

// setSplit scripts the split mode register on the representative cores 0
// and 2.
func setSplit(f *probetest.Fake, reg uint32, first, second uint64) {
	f.SetMSR(0, reg, first)
	f.SetMSR(2, reg, second)
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func newTestEngine(p probe.Prober, topo *topology.Topology) *engine {
	return &engine{cfg: Config{Interface: iface.MSR, Prober: p}, topo: topo, log: logging.Get("discovery")}
}

// fakeMounter simulates resctrl mounts by creating and removing the
// default group's files under the root.
type fakeMounter struct {
	t       *testing.T
	root    string
	reject  map[string]error
	mounts  []string
	unmount int
	// schemata, when false, leaves the schemata file out of a mount.
	schemata bool
}

func (m *fakeMounter) Mount(target, options string) error {
	m.mounts = append(m.mounts, options)
	if err, ok := m.reject[options]; ok {
		return err
	}
	files := map[string]string{"cpus": "f\n"}
	if m.schemata {
		files["schemata"] = "L3:0=fff\n"
	}
	writeTree(m.t, target, files)
	return nil
}

func (m *fakeMounter) Unmount(target string) error {
	m.unmount++
	require.NoError(m.t, os.Remove(filepath.Join(target, "cpus")))
	_ = os.Remove(filepath.Join(target, "schemata"))
	return nil
}
