// Package cmd holds the startup plumbing shared by taskhub commands: env and
// flag parsing, and the telemetry wrapper around a run loop.
package cmd

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/louisbranch/taskhub/internal/platform/config"
	"github.com/louisbranch/taskhub/internal/platform/otel"
	"github.com/sirupsen/logrus"
)

const otelShutdownTimeout = 5 * time.Second

// Names reported as the otel service and used in log fields.
const (
	ServiceNotifications = "notifications"
	ServiceClient        = "taskhubctl"
)

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags over the env defaults already in place.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	return fs.Parse(args)
}

// RunWithTelemetry sets up otel for service, runs run, then flushes
// telemetry. Flush failures are logged to log, not returned.
func RunWithTelemetry(ctx context.Context, service string, log logrus.FieldLogger, run func(context.Context) error) error {
	if service == "" {
		return errors.New("service name is required")
	}
	if run == nil {
		return errors.New("run function is required")
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	shutdown, err := otel.Setup(ctx, service)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), otelShutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("otel shutdown")
		}
	}()
	return run(ctx)
}
