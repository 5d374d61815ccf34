package main

import (
	"os"

	"github.com/strandlabs/strand-memory/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
