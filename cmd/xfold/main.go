// Package main is the entry point of the xfold CLI.
//
// Usage:
//
//	xfold [flags] <command> [subcommand] [args]
//
// Commands:
//
//	fold     - Fold a model flux through a spectrum's responses
//	stat     - Evaluate the fit statistic of a folded model
//	gof      - Monte-Carlo goodness of fit
//	rebin    - Rebin a model flux onto a new energy grid
//	rsp      - Inspect, normalize and compress responses
//	schema   - Print the JSON Schema of a product kind
//	caldb    - Calibration database (put, get, list)
//	config   - Configuration profiles
//	version  - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/xfold/cmd/xfold/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
