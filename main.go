package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lance13c/portalpilot/cmd"
)

var version = "dev"

func main() {
	// Ctrl+C cancels running submissions; their records are still finalized
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd.SetVersion(version)
	if err := cmd.Execute(ctx); err != nil {
		if !cmd.Reported(err) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(1)
	}
}
