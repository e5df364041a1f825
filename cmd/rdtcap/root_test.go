package main

import (
	"bytes"
	"io"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/rdtcap/pkg/logging"
)

func TestPrintTrail(t *testing.T) {
	require.NoError(t, logging.Init(logging.Config{Level: "info", Sink: io.Discard, TrailSize: trailSize}))
	t.Cleanup(func() { _ = logging.Close() })

	log := logging.Get("discovery")
	log.Info("L3 allocation detected")
	log.Warn("resctrl is mounted while using register access")

	var buf bytes.Buffer
	printTrail(&buf)
	assert.Contains(t, buf.String(), "Recent log entries:")
	assert.Contains(t, buf.String(), "warn discovery: resctrl is mounted")
	assert.NotContains(t, buf.String(), "L3 allocation detected")

	viper.Set("verbose", true)
	t.Cleanup(func() { viper.Set("verbose", false) })
	buf.Reset()
	printTrail(&buf)
	assert.Empty(t, buf.String())
}

func TestPrintTrail_Empty(t *testing.T) {
	require.NoError(t, logging.Init(logging.Config{Level: "info", Sink: io.Discard}))
	t.Cleanup(func() { _ = logging.Close() })

	var buf bytes.Buffer
	printTrail(&buf)
	assert.Empty(t, buf.String())
}
