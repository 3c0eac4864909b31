// Command forge is a thin CLI shell delegating into the core packages.
// Compilation orchestration, remappings and Solc invocation are out of
// scope; each subcommand only wires the already-implemented core
// components (C3-C8) behind a command line.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{Use: "forge", Short: "build, test and measure coverage for a fork-backed contract suite"}
	RegisterTest(root)
	RegisterCoverage(root)
	RegisterScript(root)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
