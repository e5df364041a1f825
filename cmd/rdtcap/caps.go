package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/rdtcap/pkg/output"
	"github.com/jamesainslie/rdtcap/pkg/qos"
	"github.com/jamesainslie/rdtcap/pkg/qos/qoserr"
)

var (
	capsInterface   string
	capsFormat      string
	capsMetricsFile string
)

var capsCmd = &cobra.Command{
	Use:   "caps",
	Short: "Discover and print platform QoS capabilities",
	Long: `Initialize the QoS library, print the discovered capabilities and
topology summary, then shut the library down.

With --metrics-file the discovery probe outcomes, lock waits and lifecycle
transitions are written in Prometheus text format, suitable for the node
exporter textfile collector.`,
	Args: cobra.NoArgs,
	RunE: runCaps,
}

func init() {
	capsCmd.Flags().StringVarP(&capsInterface, "interface", "i", "",
		"hardware access interface: msr, os or os-resctrl-mon (default from config)")
	capsCmd.Flags().StringVarP(&capsFormat, "output", "o", "pretty",
		"output format: "+strings.Join(output.Available(), ", "))
	capsCmd.Flags().StringVar(&capsMetricsFile, "metrics-file", "",
		"write Prometheus metrics to this file")
	rootCmd.AddCommand(capsCmd)
}

func runCaps(cmd *cobra.Command, args []string) error {
	formatter, err := output.Get(capsFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if capsInterface != "" {
		cfg.Interface = capsInterface
	}
	libCfg, err := cfg.LibraryConfig()
	if err != nil {
		return err
	}

	opts := cfg.LibraryOptions()
	var registry *prometheus.Registry
	if capsMetricsFile != "" {
		registry = prometheus.NewRegistry()
		opts = append(opts, qos.WithMetrics(registry))
	}

	report, err := discover(libCfg, opts...)
	if registry != nil {
		if werr := prometheus.WriteToTextfile(capsMetricsFile, registry); werr != nil {
			err = errors.Join(err, fmt.Errorf("writing metrics: %w", werr))
		}
	}
	if err != nil {
		printTrail(cmd.ErrOrStderr())
		return explain(err)
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, report); err != nil {
		return fmt.Errorf("formatting output: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

// discover runs one initialize/report/shutdown cycle.
func discover(cfg qos.Config, opts ...qos.Option) (report *output.Report, err error) {
	lib, err := qos.New(opts...)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, lib.Close())
	}()

	if err := lib.Initialize(cfg); err != nil {
		return nil, err
	}
	reg, topo, err := lib.Capabilities()
	if err != nil {
		return nil, err
	}
	if err := lib.Shutdown(); err != nil {
		return nil, err
	}
	return output.NewReport(reg, topo), nil
}

// explain adds a hint for the error classes a user can act on.
func explain(err error) error {
	switch qoserr.Classify(err) {
	case qoserr.KindParameter:
		return fmt.Errorf("%w (check --interface and RDT_IFACE)", err)
	case qoserr.KindResource:
		return fmt.Errorf("%w (is the resctrl filesystem or /dev/cpu/*/msr available? root is usually required)", err)
	default:
		return err
	}
}
