// Command kvorm inspects and maintains a store written by the kvorm mapper:
// reading entities, verifying backlinks and moving snapshots in and out of an
// archive.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := exitSuccess
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "kvorm:", err)
		code = exitFailure
	}
	stop()
	os.Exit(code)
}
