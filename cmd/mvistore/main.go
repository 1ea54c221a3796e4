// Command mvistore runs, journals, replays and tests MVI stores.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/mvistore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
