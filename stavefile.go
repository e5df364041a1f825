//go:build stave

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yaklabco/stave/pkg/sh"
	"github.com/yaklabco/stave/pkg/st"
)

// Default target when running `stave` with no arguments.
var Default = Build

// Aliases for common targets.
var Aliases = map[string]interface{}{
	"b": Build,
	"t": Test,
	"l": Lint,
	"c": Clean,
}

const (
	binaryName = "rdtcap"
	mainPkg    = "./cmd/rdtcap"
	binDir     = "bin"
	coverFile  = "coverage.out"
)

// All runs the complete build pipeline.
func All() error {
	st.Deps(Lint, Test, CrossBuild)
	st.Deps(Build)
	return nil
}

// Build compiles the rdtcap binary.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating bin directory: %w", err)
	}
	return sh.RunV("go", "build", "-ldflags", buildLdflags(), "-o", filepath.Join(binDir, binaryName), mainPkg)
}

// CrossBuild checks that the library still compiles where only the flock
// fallback and the mount stubs are available.
func CrossBuild() error {
	for _, goos := range []string{"darwin", "freebsd"} {
		env := map[string]string{"GOOS": goos, "GOARCH": "amd64"}
		if err := sh.RunWith(env, "go", "build", "./pkg/..."); err != nil {
			return fmt.Errorf("building for %s: %w", goos, err)
		}
	}
	return nil
}

// Test runs all tests with race detection and coverage.
func Test() error {
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// Cover writes a coverage profile for the library packages and prints the
// per-function summary.
func Cover() error {
	if err := sh.RunV("go", "test", "-coverprofile="+coverFile, "./pkg/..."); err != nil {
		return err
	}
	return sh.RunV("go", "tool", "cover", "-func="+coverFile)
}

// Caps builds rdtcap and prints the capabilities of this machine. Register
// access usually needs root; set RDTCAP_INTERFACE=os to go through resctrl.
func Caps() error {
	st.Deps(Build)
	return sh.RunV(filepath.Join(binDir, binaryName), "caps", "-o", "plain")
}

// HostCheck runs discovery through both interfaces on this host under sudo
// and keeps the metrics of each run in bin/. It exercises the real lock
// file, /dev/cpu and resctrl, so it is not part of All.
func HostCheck() error {
	st.Deps(Build)
	bin := filepath.Join(binDir, binaryName)
	for _, inter := range []string{"msr", "os"} {
		metrics := filepath.Join(binDir, "caps-"+inter+".prom")
		if err := sh.RunV("sudo", bin, "caps", "-i", inter, "-o", "json", "--metrics-file", metrics); err != nil {
			return fmt.Errorf("discovery through %s: %w", inter, err)
		}
	}
	return nil
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Clean removes build and coverage artifacts.
func Clean() error {
	if st.Verbose() {
		fmt.Printf("Removing %s/ and %s\n", binDir, coverFile)
	}
	if err := sh.Rm(coverFile); err != nil {
		return err
	}
	return sh.Rm(binDir + "/")
}

// Tidy runs go mod tidy.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

// buildLdflags returns ldflags for version injection.
func buildLdflags() string {
	version := "dev"
	commit := "unknown"
	date := time.Now().Format(time.RFC3339)

	if v, err := sh.Output("git", "describe", "--tags", "--always"); err == nil && v != "" {
		version = strings.TrimSpace(v)
	}
	if c, err := sh.Output("git", "rev-parse", "--short", "HEAD"); err == nil && c != "" {
		commit = strings.TrimSpace(c)
	}

	pkg := "github.com/jamesainslie/rdtcap/cmd/rdtcap"
	return fmt.Sprintf(
		"-X %s.version=%s -X %s.commit=%s -X %s.date=%s",
		pkg, version, pkg, commit, pkg, date,
	)
}
