// Command relhist records and queries relationship history for versioned
// entities.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/relhist/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
