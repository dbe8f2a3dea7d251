// Command refexgrid browses refex grids over a SQLite terminology store.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roach88/refexgrid/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// cobra reports the error itself; only the exit code is left to set.
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	os.Exit(cli.GetExitCode(err))
}
