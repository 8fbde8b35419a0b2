// Package main is the entry point for the weft CLI.
//
// weft provisions the cloud scaffolding needed to run batch
// computations on AWS (IAM roles, VPC and security group, registry
// repo, staging bucket) and tears it down again as one unit.
//
// Commands: configure, down, version.
//
// For detailed usage information, run:
//
//	weft --help
package main

import (
	"fmt"
	"os"

	"github.com/weftlabs/weft/cmd/weft/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
