package discovery

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rdtcap/pkg/qos/capability"
	"github.com/jamesainslie/rdtcap/pkg/qos/iface"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
	"github.com/jamesainslie/rdtcap/pkg/qos/resctrl"
)

type resctrlEnv struct {
	root    string
	mounter *fakeMounter
	fs      *resctrl.FS
}

func newResctrlEnv(t *testing.T, filesystems string) *resctrlEnv {
	t.Helper()
	dir := t.TempDir()
	env := &resctrlEnv{root: filepath.Join(dir, "resctrl")}
	proc := filepath.Join(dir, "proc")
	writeTree(t, proc, map[string]string{"filesystems": filesystems})

	env.mounter = &fakeMounter{t: t, schemata: true, reject: map[string]error{}}
	env.fs = resctrl.New(
		resctrl.WithRoot(env.root),
		resctrl.WithProcRoot(proc),
		resctrl.WithSysRoot(filepath.Join(dir, "sys")),
		resctrl.WithMounter(env.mounter),
	)
	return env
}

const withResctrl = "nodev\tsysfs\nnodev\tresctrl\n"

func TestPrepare_RegisterInterface(t *testing.T) {
	prep, err := Prepare(nil, iface.MSR, true)
	require.NoError(t, err)
	assert.Equal(t, Preparation{}, prep)

	env := newResctrlEnv(t, withResctrl)
	writeTree(t, env.root, map[string]string{"cpus": "f\n"})
	prep, err = Prepare(env.fs, iface.MSR, true)
	require.NoError(t, err)
	assert.Equal(t, Preparation{}, prep)
	assert.Empty(t, env.mounter.mounts)
}

func TestPrepare_NotSupported(t *testing.T) {
	env := newResctrlEnv(t, "nodev\tsysfs\n")

	_, err := Prepare(env.fs, iface.OS, true)
	assert.ErrorIs(t, err, qoserr.ErrParameter)

	_, err = Prepare(nil, iface.OS, true)
	assert.ErrorIs(t, err, qoserr.ErrParameter)
}

func TestPrepare_NotMountedWithoutAutoMount(t *testing.T) {
	env := newResctrlEnv(t, withResctrl)

	_, err := Prepare(env.fs, iface.OS, false)
	assert.ErrorIs(t, err, qoserr.ErrResource)
	assert.Empty(t, env.mounter.mounts)
}

func TestPrepare_Mounts(t *testing.T) {
	tests := []struct {
		name     string
		reject   map[string]error
		schemata bool
		want     capability.Tristate
	}{
		{name: "controller accepted", schemata: true, want: capability.Yes},
		{name: "controller mount rejected", schemata: true, reject: map[string]error{resctrl.MountOptionMBps: errors.New("EINVAL")}, want: capability.No},
		{name: "no schemata", schemata: false, want: capability.Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newResctrlEnv(t, withResctrl)
			env.mounter.schemata = tt.schemata
			if tt.reject != nil {
				env.mounter.reject = tt.reject
			}

			prep, err := Prepare(env.fs, iface.OS, true)
			require.NoError(t, err)
			assert.Equal(t, Preparation{ControlSupport: tt.want, Mounted: true}, prep)
			assert.Equal(t, []string{resctrl.MountOptionMBps, ""}, env.mounter.mounts)
			assert.True(t, env.fs.Mounted())
		})
	}
}

func TestPrepare_MountFailure(t *testing.T) {
	env := newResctrlEnv(t, withResctrl)
	env.mounter.reject = map[string]error{"": errors.New("EBUSY")}

	_, err := Prepare(env.fs, iface.OS, true)
	assert.ErrorIs(t, err, qoserr.ErrResource)
}

func TestPrepare_AlreadyMounted(t *testing.T) {
	env := newResctrlEnv(t, withResctrl)
	writeTree(t, env.root, map[string]string{"cpus": "f\n"})

	prep, err := Prepare(env.fs, iface.OS, true)
	require.NoError(t, err)
	assert.Equal(t, Preparation{}, prep)
	assert.Empty(t, env.mounter.mounts)
}

func TestPrepare_ResctrlMonitoring(t *testing.T) {
	env := newResctrlEnv(t, withResctrl)
	writeTree(t, env.root, map[string]string{"cpus": "f\n"})

	_, err := Prepare(env.fs, iface.OSResctrlMon, true)
	assert.ErrorIs(t, err, qoserr.ErrParameter)

	writeTree(t, env.root, map[string]string{"info/L3_MON/num_rmids": "176\n"})
	_, err = Prepare(env.fs, iface.OSResctrlMon, true)
	assert.NoError(t, err)
}

func TestConfirmControlMode(t *testing.T) {
	tests := []struct {
		name          string
		prep          capability.Tristate
		mounted       bool
		features      string
		record        capability.BandwidthCapability
		wantSupported capability.Tristate
		wantEnabled   bool
	}{
		{
			name:          "probe found support",
			prep:          capability.Yes,
			mounted:       true,
			record:        capability.BandwidthCapability{ControlSupported: capability.Yes, ControlEnabled: true},
			wantSupported: capability.Yes,
		},
		{
			name:          "probe found no support",
			prep:          capability.No,
			mounted:       true,
			wantSupported: capability.No,
		},
		{
			name:          "mounted with controller",
			mounted:       true,
			record:        capability.BandwidthCapability{ControlSupported: capability.Yes, ControlEnabled: true},
			wantSupported: capability.Yes,
			wantEnabled:   true,
		},
		{
			name:          "without local bandwidth monitoring",
			mounted:       true,
			features:      "llc_occupancy\n",
			wantSupported: capability.No,
		},
		{
			name:          "with local bandwidth monitoring",
			mounted:       true,
			features:      "llc_occupancy\nmbm_local_bytes\n",
			wantSupported: capability.Unknown,
		},
		{
			name:          "not mounted",
			record:        capability.BandwidthCapability{ControlSupported: capability.Yes, ControlEnabled: true},
			wantSupported: capability.Yes,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newResctrlEnv(t, withResctrl)
			if tt.mounted {
				writeTree(t, env.root, map[string]string{"cpus": "f\n"})
			}
			if tt.features != "" {
				writeTree(t, env.root, map[string]string{"info/L3_MON/mon_features": tt.features})
			}

			rec := tt.record
			rec.NumClasses, rec.ThrottleMaxPercent, rec.ThrottleStepPercent, rec.Linear = 8, 90, 10, true
			reg, err := capability.NewRegistry(iface.OS, &rec)
			require.NoError(t, err)

			ConfirmControlMode(reg, env.fs, Preparation{ControlSupport: tt.prep})

			mba, ok := reg.Bandwidth()
			require.True(t, ok)
			assert.Equal(t, tt.wantSupported, mba.ControlSupported)
			assert.Equal(t, tt.wantEnabled, mba.ControlEnabled)
		})
	}
}

func TestConfirmControlMode_NoBandwidth(t *testing.T) {
	env := newResctrlEnv(t, withResctrl)
	reg, err := capability.NewRegistry(iface.OS, &capability.L3Allocation{
		AllocationCapability: capability.AllocationCapability{NumClasses: 16, NumWays: 11},
	})
	require.NoError(t, err)

	ConfirmControlMode(reg, env.fs, Preparation{ControlSupport: capability.Yes})
	assert.Equal(t, 1, reg.Len())
}

func TestPrepare_ResctrlMonitoringUnmountsOwnMount(t *testing.T) {
	env := newResctrlEnv(t, withResctrl)

	prep, err := Prepare(env.fs, iface.OSResctrlMon, true)
	assert.ErrorIs(t, err, qoserr.ErrParameter)
	assert.False(t, prep.Mounted)
	assert.False(t, env.fs.Mounted())
	// One unmount after the controller check, one for the default mount.
	assert.Equal(t, 2, env.mounter.unmount)
}
