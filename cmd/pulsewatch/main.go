// Package main is the entry point for the PulseWatch CLI application
package main

import (
	"fmt"
	"os"

	"github.com/pulsepoint/pulsewatch/internal/cli"
	pplogger "github.com/pulsepoint/pulsewatch/pkg/logger"
)

// Version information (set during build)
var (
	Version   = "dev"
	BuildDate = "unknown"
)

func main() {
	cli.SetVersionInfo(Version, BuildDate)

	err := cli.Execute()
	_ = pplogger.Sync()

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
