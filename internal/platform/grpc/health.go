// Package grpc holds gRPC client helpers shared by commands.
package grpc

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/sirupsen/logrus"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

// checkTimeout bounds one Check call.
const checkTimeout = time.Second

// NotServingError reports the last status seen before giving up.
type NotServingError struct {
	Service string
	Status  grpc_health_v1.HealthCheckResponse_ServingStatus
}

func (e *NotServingError) Error() string {
	name := e.Service
	if name == "" {
		name = "server"
	}
	return fmt.Sprintf("gRPC health for %s is %s", name, e.Status)
}

// WaitForHealth polls the health service on conn until service reports
// SERVING or ctx ends.
func WaitForHealth(ctx context.Context, conn *gogrpc.ClientConn, service string, log logrus.FieldLogger) error {
	if conn == nil {
		return fmt.Errorf("gRPC connection is not configured")
	}
	if log == nil {
		log = logging.Discard()
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 200 * time.Millisecond
	expo.MaxInterval = time.Second

	client := grpc_health_v1.NewHealthClient(conn)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		defer cancel()
		resp, err := client.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: service})
		if err != nil {
			return struct{}{}, err
		}
		if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
			return struct{}{}, &NotServingError{Service: service, Status: resp.GetStatus()}
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(expo),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.WithError(err).WithField("retry_in", wait).Debug("waiting for gRPC health")
		}),
	)
	if err != nil {
		return fmt.Errorf("wait for gRPC health: %w", err)
	}
	return nil
}

// Probe connects to addr and waits until service is SERVING.
func Probe(ctx context.Context, addr string, service string, log logrus.FieldLogger) error {
	conn, err := gogrpc.NewClient(addr, gogrpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	return WaitForHealth(ctx, conn, service, log)
}
