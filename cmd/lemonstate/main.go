package main

import (
	"fmt"
	"os"

	"github.com/roach88/lemonstate/internal/cli"
)

// Version information set at build time.
var version = "dev"

func main() {
	rootCmd := cli.NewRootCommand()
	rootCmd.Version = version
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
