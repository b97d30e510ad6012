// Command pacer replays timestamped records at their original pace.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/pacer/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
