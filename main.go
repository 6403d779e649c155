// main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/embano1/transcribe/internal/cli"
)

func main() {
	// Cancel in-flight transcriptions on interrupt so that backends can clean up.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
