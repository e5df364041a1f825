//go:build amd64

package resctrl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rdtcap/pkg/qos/resctrl"
)

const cpuinfo = `processor	: 0
vendor_id	: GenuineIntel
cpu family	: 6
model		: 85
model name	: Intel(R) Xeon(R) Gold 6140 CPU @ 2.30GHz
stepping	: 4
microcode	: 0x2000065
cpu MHz		: 2300.000
cache size	: 25344 KB
physical id	: 0
siblings	: 36
core id		: 0
cpu cores	: 18
apicid		: 0
initial apicid	: 0
fpu		: yes
fpu_exception	: yes
cpuid level	: 22
wp		: yes
flags		: fpu vme de pse cqm rdt_a cat_l3 cdp_l3 mba cqm_llc cqm_occup_llc cqm_mbm_total cqm_mbm_local
bugs		: spectre_v1
bogomips	: 4600.00
clflush size	: 64
cache_alignment	: 64
address sizes	: 46 bits physical, 48 bits virtual
power management:

`

func TestCPUFlag(t *testing.T) {
	proc := t.TempDir()
	tree(t, proc, map[string]string{"cpuinfo": cpuinfo})
	fs := resctrl.New(resctrl.WithProcRoot(proc))

	for flag, want := range map[string]bool{"cqm": true, "cdp_l3": true, "cdp_l2": false} {
		got, err := fs.CPUFlag(flag)
		require.NoError(t, err)
		assert.Equal(t, want, got, flag)
	}
}
