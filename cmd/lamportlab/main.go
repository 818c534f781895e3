// Command lamportlab runs and analyses Lamport clock simulations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/lamportlab/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
