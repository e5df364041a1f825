// Package main provides the entry point for the rdtcap platform QoS
// capability reporter.
package main

import (
	"os"
)

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
