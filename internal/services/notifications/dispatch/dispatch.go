// Package dispatch pushes freshly persisted notifications to the recipient's
// live sessions.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/platform/otel"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/louisbranch/taskhub/internal/services/notifications/metrics"
	"github.com/louisbranch/taskhub/internal/services/notifications/registry"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// EventNotification is the envelope event name for pushed records.
const EventNotification = "notification"

// Envelope is the push frame written to a session.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Outcome summarizes one Deliver call.
type Outcome string

const (
	// Delivered means at least one session was handed the envelope.
	Delivered Outcome = "delivered"
	// DeliveryNoop means the recipient had no live session. The record stays
	// available through the pull API; this is not a failure.
	DeliveryNoop Outcome = "noop"
)

// Deliverer hands persisted notifications to live sessions.
type Deliverer interface {
	Deliver(ctx context.Context, notification domain.Notification) Outcome
}

// Sessions is the registry surface the dispatcher needs.
type Sessions interface {
	SessionsFor(identityID string) []registry.Session
	Unregister(session registry.Session) bool
}

// Dispatcher fans a record out to every session of its recipient. Each push
// runs on its own goroutine so one slow peer never delays another.
type Dispatcher struct {
	sessions Sessions
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	inflight sync.WaitGroup
}

// New builds a dispatcher over sessions.
func New(sessions Sessions, log logrus.FieldLogger, m *metrics.Metrics) *Dispatcher {
	if log == nil {
		log = logging.Discard()
	}
	return &Dispatcher{sessions: sessions, log: log, metrics: m}
}

// Deliver pushes notification to every live session of its recipient without
// waiting for the writes. A failed write unregisters and closes that session;
// the record is never retried on it.
func (d *Dispatcher) Deliver(ctx context.Context, notification domain.Notification) Outcome {
	_, span := otel.Tracer("dispatch").Start(ctx, "dispatch.Deliver")
	defer span.End()
	started := time.Now()

	sessions := d.sessions.SessionsFor(notification.Recipient)
	span.SetAttributes(
		attribute.String("notification.id", notification.ID),
		attribute.Int("dispatch.sessions", len(sessions)),
	)
	entry := d.log.WithFields(logrus.Fields{
		"notification_id": notification.ID,
		"recipient":       notification.Recipient,
	})
	if len(sessions) == 0 {
		entry.Debug("recipient has no live session, leaving record for pull")
		d.metrics.Push(metrics.OutcomeNoop)
		return DeliveryNoop
	}

	envelope := Envelope{Event: EventNotification, Payload: notification}
	for _, session := range sessions {
		d.inflight.Add(1)
		go func(session registry.Session) {
			defer d.inflight.Done()
			if err := session.Send(envelope); err != nil {
				entry.WithError(err).WithField("session_id", session.ID()).Warn("push failed, dropping session")
				d.metrics.Push(metrics.OutcomeFailed)
				if d.sessions.Unregister(session) {
					_ = session.Close()
				}
				return
			}
			d.metrics.Push(metrics.OutcomeDelivered)
		}(session)
	}
	d.metrics.ObserveDispatch(time.Since(started).Seconds())
	return Delivered
}

// Wait blocks until every push started so far has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}
