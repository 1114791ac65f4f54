// Command thingengine runs the engine and talks to it over its control socket.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/thingengine/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
