package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/px-dev/px/internal/cli"
)

// Statically-populated build metadata, set by the release build.
var version string

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
		<-sigs // a second SIGINT/SIGTERM is treated as SIGKILL
		os.Exit(137)
	}()

	root := cli.NewRootCmd(cli.RootConfig{Name: "px", Version: version})
	err := root.ExecuteContext(ctx)
	if ctx.Err() != nil {
		os.Exit(130)
	}
	os.Exit(cli.ExitCode(err))
}
