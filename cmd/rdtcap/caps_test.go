package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rdtcap/pkg/qos"
	"github.com/jamesainslie/rdtcap/pkg/qos/iface"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe"
	"github.com/jamesainslie/rdtcap/pkg/qos/probe/probetest"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
	"github.com/jamesainslie/rdtcap/pkg/qos/resctrl"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

func testOptions(t *testing.T, prober *probetest.Fake) []qos.Option {
	t.Helper()
	dir := t.TempDir()
	return []qos.Option{
		qos.WithLockPath(filepath.Join(dir, "lock")),
		qos.WithProber(prober),
		qos.WithTopologyProvider(topology.ProviderFunc(func() (*topology.Topology, error) {
			return &topology.Topology{
				Cores: []topology.Core{
					{ID: 0, Socket: 0},
					{ID: 1, Socket: 0},
				},
				L3: topology.CacheGeometry{Detected: true, TotalSizeBytes: 12 << 20, Ways: 12},
			}, nil
		})),
		qos.WithResctrl(resctrl.New(
			resctrl.WithRoot(filepath.Join(dir, "resctrl")),
			resctrl.WithProcRoot(filepath.Join(dir, "proc")),
		)),
		qos.WithGetenv(func(string) string { return "" }),
	}
}

func l3Prober() *probetest.Fake {
	return probetest.New().
		SetCPUID(0x7, 0, probe.Regs{EBX: 1 << 15}).
		SetCPUID(0x10, 0, probe.Regs{EBX: 1 << 1}).
		SetCPUID(0x10, 1, probe.Regs{EAX: 11, EDX: 15}).
		SetMSR(0, 0xC81, 0)
}

func TestDiscover(t *testing.T) {
	prober := l3Prober()

	report, err := discover(qos.Config{Interface: iface.MSR}, testOptions(t, prober)...)
	require.NoError(t, err)

	assert.Equal(t, "msr", report.Interface)
	assert.Equal(t, 2, report.Cores)
	require.NotNil(t, report.L3Alloc)
	assert.Equal(t, uint32(16), report.L3Alloc.NumClasses)
	assert.Equal(t, uint32(12), report.L3Alloc.NumWays)
	assert.Nil(t, report.Bandwidth)
	assert.False(t, prober.Opened(), "machine left open after discovery")
}

func TestDiscover_Nothing(t *testing.T) {
	prober := probetest.New()

	_, err := discover(qos.Config{Interface: iface.MSR}, testOptions(t, prober)...)
	assert.ErrorIs(t, err, qoserr.ErrFatal)
	assert.False(t, prober.Opened())
}

func TestDiscover_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	opts := append(testOptions(t, l3Prober()), qos.WithMetrics(registry))

	_, err := discover(qos.Config{Interface: iface.MSR}, opts...)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rdtcap.prom")
	require.NoError(t, prometheus.WriteToTextfile(path, registry))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rdtcap_discovery_probe_total")
	assert.Contains(t, string(data), "rdtcap_lifecycle_transition_total")
}

func TestExplain(t *testing.T) {
	tests := []struct {
		name string
		err  error
		hint string
	}{
		{"parameter", fmt.Errorf("%w: bad", qoserr.ErrParameter), "RDT_IFACE"},
		{"resource", fmt.Errorf("%w: gone", qoserr.ErrResource), "root is usually required"},
		{"fatal", fmt.Errorf("%w: broken", qoserr.ErrFatal), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := explain(tt.err)
			assert.ErrorIs(t, got, tt.err)
			if tt.hint == "" {
				assert.Equal(t, tt.err.Error(), got.Error())
				return
			}
			assert.Contains(t, got.Error(), tt.hint)
		})
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		capsFormat = "pretty"
		capsInterface = ""
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestCaps_UnknownFormat(t *testing.T) {
	_, err := execute(t, "caps", "-o", "xml")
	assert.ErrorContains(t, err, "unknown formatter: xml")
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "rdtcap dev")
	assert.Contains(t, out, "format:  v1")
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	out, err := execute(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "rdtcap", "config.yaml")+"\n", out)
}

func TestConfigInitShow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("RDTCAP_INTERFACE", "os")

	out, err := execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Created default config file")
	assert.FileExists(t, filepath.Join(dir, "rdtcap", "config.yaml"))

	out, err = execute(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	out, err = execute(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "interface: os")
	assert.Contains(t, out, "RDTCAP_INTERFACE=os")
}
