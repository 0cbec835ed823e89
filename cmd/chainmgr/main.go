// Command chainmgr runs the consortium chain orchestrator and its CLI.
package main

import (
	"fmt"
	"os"

	"evalgo.org/chainmgr/internal/commands"
	"evalgo.org/chainmgr/internal/version"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime
	version.GitCommit = GitCommit

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
