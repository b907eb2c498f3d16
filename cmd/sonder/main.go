// Command sonder is the journal command line: browse the archive and
// playlist, manage entries posted from this device, read proximity
// notifications and drop new memories.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// BuildDate can be set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := execute(ctx, os.Args[1:], os.Stdout, nil)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
