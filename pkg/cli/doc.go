// Package cli holds the configuration and output helpers of the xfold
// command.
//
// Configuration lives in ~/.xfold/config.yaml and holds named profiles,
// similar to kubectl contexts. A profile selects the statistic, rebinning
// tolerance, product archive and calibration database used by a run.
//
// Example usage:
//
//	cfg, err := cli.LoadConfig("")
//	p, err := cfg.ResolveProfile("")
//	store, err := p.OpenArchive()
//
//	cli.Output(result, cli.OutputOptions{
//	    Format: cli.FormatJSON,
//	    Query:  ".fraction",
//	})
package cli
