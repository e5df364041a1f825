package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rdtcap/pkg/qos/probe/probetest"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
	"github.com/jamesainslie/rdtcap/pkg/qos/topology"
)

func TestRepresentativeCores(t *testing.T) {
	topo := twoSockets()

	cores, err := RepresentativeCores(topo, topology.L3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, cores)

	cores, err = RepresentativeCores(topo, topology.L2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, cores)

	_, err = RepresentativeCores(topo, topology.Level(1))
	assert.ErrorIs(t, err, qoserr.ErrParameter)

	_, err = RepresentativeCores(&topology.Topology{}, topology.L3)
	assert.ErrorIs(t, err, qoserr.ErrFatal)
}

func TestCheckSplitMode(t *testing.T) {
	tests := []struct {
		name          string
		first, second uint64
		want          bool
		wantErr       bool
	}{
		{name: "all off", first: 0, second: 0, want: false},
		{name: "all on", first: 1, second: 1, want: true},
		{name: "other bits ignored", first: 0x6, second: 0x2, want: false},
		{name: "mixed", first: 1, second: 0, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := probetest.New()
			setSplit(p, 0xC81, tt.first, tt.second)

			got, err := CheckSplitMode(p, twoSockets(), topology.L3)
			if tt.wantErr {
				assert.ErrorIs(t, err, qoserr.ErrFatal)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckSplitMode_ReadFailure(t *testing.T) {
	p := probetest.New().SetMSR(0, 0xC82, 1)

	_, err := CheckSplitMode(p, twoSockets(), topology.L2)
	assert.ErrorIs(t, err, qoserr.ErrFatal)
}
