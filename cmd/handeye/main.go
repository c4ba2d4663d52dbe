// Command handeye calibrates a wrist camera against a robot arm and drives
// the arm to targets seen by the camera.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	// Errors are printed here in colour; cobra's own printing is silenced.
	if err := root.ExecuteContext(ctx); err != nil {
		printError(root.ErrOrStderr(), err)
		stop()
		os.Exit(1)
	}
}
