package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// One context for the whole process: SIGINT/SIGTERM/SIGHUP cancel
	// it, and every cleanup hangs off a defer, so teardown runs exactly
	// once no matter which signal arrived. SIGHUP matters for daemons
	// whose terminal goes away; without it the PID file never clears.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	os.Exit(Execute(ctx))
}
