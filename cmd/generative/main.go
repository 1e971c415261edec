// Command generative runs declarative generative node trees.
package main

import (
	"fmt"
	"os"

	"github.com/randalmurphal/generative/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
