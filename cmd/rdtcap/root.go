package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jamesainslie/rdtcap/pkg/config"
	"github.com/jamesainslie/rdtcap/pkg/logging"
)

// trailSize is how many recent log entries are kept for error reports.
const trailSize = 32

var rootCmd = &cobra.Command{
	Use:   "rdtcap",
	Short: "Discover platform cache and memory bandwidth QoS capabilities",
	Long: `rdtcap detects the cache monitoring, cache allocation and memory
bandwidth allocation features of the processor and reports them.

Discovery runs either through per-core registers (/dev/cpu/N/{cpuid,msr})
or through the kernel resctrl filesystem. A lock shared with other QoS
tools serializes access to the hardware.

Examples:
  rdtcap caps                  # Discover using the configured interface
  rdtcap caps -i os -o json    # Discover through resctrl, print JSON
  rdtcap config show           # Show configuration
  RDT_IFACE=OS rdtcap caps     # Restrict discovery to the OS interface`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "mirror debug logs to stderr")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// Execute runs the root command.
func Execute() error {
	defer func() { _ = logging.Close() }()
	return rootCmd.Execute()
}

// getVerbose returns true if verbose mode is enabled.
func getVerbose() bool {
	return viper.GetBool("verbose")
}

// loadConfig loads configuration and starts logging from it. A logging
// failure is reported but does not stop the command.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		if lerr := logging.Init(logging.DefaultConfig()); lerr == nil {
			logging.Get("cli").Error("loading configuration", "error", err)
		}
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	logCfg, err := cfg.LogConfig()
	if err != nil {
		return nil, err
	}
	logCfg.TrailSize = trailSize
	if getVerbose() {
		logCfg.ConsoleLevel = "debug"
	}
	if cfg.Logging.Path == "" {
		if err := config.EnsureStateDir(); err != nil {
			printWarning("%v", err)
		}
	}
	if err := logging.Init(logCfg); err != nil {
		printWarning("logging disabled: %v", err)
	}
	return cfg, nil
}

// printTrail prints the warnings and errors logged so far, unless they
// already went to the console.
func printTrail(w io.Writer) {
	if getVerbose() {
		return
	}
	var lines []string
	for _, e := range logging.Recent() {
		if e.Level >= logging.LevelWarn {
			lines = append(lines, fmt.Sprintf("  %s %s: %s", e.Level, e.Component, e.Message))
		}
	}
	if len(lines) == 0 {
		return
	}
	fmt.Fprintln(w, "Recent log entries:")
	fmt.Fprintln(w, strings.Join(lines, "\n"))
}

// printWarning prints a warning to stderr.
func printWarning(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", args...)
}
