package main

import (
	"fmt"
	"os"

	"github.com/ekaya-inc/puzzle-engine/pkg/cli"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := cli.BuildCLI(Version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
