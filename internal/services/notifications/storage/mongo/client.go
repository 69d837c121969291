// Package mongo stores notifications in MongoDB and reads the task and user
// collections owned by the task service.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection names shared with the task service.
const (
	NotificationsCollection = "notifications"
	UsersCollection         = "users"
	TasksCollection         = "tasks"
)

// Connect dials uri and pings the primary, retrying up to attempts times.
func Connect(ctx context.Context, uri string, attempts int, interval time.Duration, log logrus.FieldLogger) (*mongo.Client, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("mongo uri is required")
	}
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err == nil {
			if err = client.Ping(ctx, readpref.Primary()); err == nil {
				return client, nil
			}
			_ = client.Disconnect(context.Background())
		}
		lastErr = err
		if log != nil {
			log.WithError(err).Warnf("mongo connect attempt %d/%d failed", attempt, attempts)
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
	return nil, fmt.Errorf("connect mongo after %d attempts: %w", attempts, lastErr)
}
