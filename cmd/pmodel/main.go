package main

import (
	"os"

	"github.com/dyluth/protomodels/cmd/pmodel/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are printed directly by the printer package with color formatting
	os.Exit(commands.ExitCode(commands.Execute()))
}
