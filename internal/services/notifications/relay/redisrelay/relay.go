package redisrelay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/services/notifications/dispatch"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the Redis channel carrying relayed notifications.
const DefaultChannel = "taskhub:notifications"

type message struct {
	Origin       string              `json:"origin"`
	Notification domain.Notification `json:"notification"`
}

// Relay is a dispatch.Deliverer that routes every record through the broker
// so whichever instance holds the recipient's sessions can push it.
type Relay struct {
	broker   Broker
	local    dispatch.Deliverer
	channel  string
	instance string
	log      logrus.FieldLogger
}

// New builds a relay. instance identifies this process in relayed messages.
func New(broker Broker, local dispatch.Deliverer, instance string, log logrus.FieldLogger) *Relay {
	if log == nil {
		log = logging.Discard()
	}
	return &Relay{broker: broker, local: local, channel: DefaultChannel, instance: instance, log: log}
}

// Deliver publishes notification for the other instances and pushes it to
// this instance's sessions directly. A publish failure is logged and the
// record still reaches local sessions.
func (r *Relay) Deliver(ctx context.Context, notification domain.Notification) dispatch.Outcome {
	payload, err := json.Marshal(message{Origin: r.instance, Notification: notification})
	if err == nil {
		err = r.broker.Publish(ctx, r.channel, string(payload))
	}
	if err != nil {
		r.log.WithError(err).WithField("notification_id", notification.ID).Warn("relay publish failed, delivering locally")
	}
	return r.local.Deliver(ctx, notification)
}

// Run subscribes to the relay channel and hands records published by other
// instances to the local dispatcher until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	messages, err := r.broker.Subscribe(ctx, r.channel)
	if err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("relay subscription closed")
			}
			var msg message
			if err := json.Unmarshal([]byte(raw), &msg); err != nil {
				r.log.WithError(err).Warn("discarding malformed relay message")
				continue
			}
			if msg.Origin == r.instance {
				continue
			}
			r.local.Deliver(ctx, msg.Notification)
		}
	}
}
