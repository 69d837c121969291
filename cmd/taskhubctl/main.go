// Package main runs the taskhub notifications terminal client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/taskhub/internal/cmd/taskhubctl"
	"github.com/louisbranch/taskhub/internal/platform/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := taskhubctl.NewRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		config.Exitf("taskhubctl: %v", err)
	}
}
