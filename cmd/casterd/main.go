// Command casterd drives a Caster base's dual-channel wheel controller over
// CAN and serves its telemetry.
package main

import (
	"fmt"
	"os"
)

// Set with -ldflags at build time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
