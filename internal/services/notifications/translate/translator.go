package translate

import (
	"context"
	"errors"
	"fmt"

	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/platform/otel"
	"github.com/louisbranch/taskhub/internal/platform/timeouts"
	"github.com/louisbranch/taskhub/internal/services/notifications/dispatch"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/louisbranch/taskhub/internal/services/notifications/events"
	"github.com/louisbranch/taskhub/internal/services/notifications/metrics"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Creator persists validated notifications.
type Creator interface {
	Create(ctx context.Context, input domain.CreateInput) (domain.Notification, error)
}

// UserDirectory resolves a user id to its display projection.
type UserDirectory interface {
	LookupUser(ctx context.Context, userID string) (domain.Identity, error)
}

// Translator is the single place a task event becomes notification records.
type Translator struct {
	creator   Creator
	deliverer dispatch.Deliverer
	users     UserDirectory
	log       logrus.FieldLogger
	metrics   *metrics.Metrics
}

// New builds a translator. users may be nil, in which case senders are
// rendered by id.
func New(creator Creator, deliverer dispatch.Deliverer, users UserDirectory, log logrus.FieldLogger, m *metrics.Metrics) *Translator {
	if log == nil {
		log = logging.Discard()
	}
	return &Translator{creator: creator, deliverer: deliverer, users: users, log: log, metrics: m}
}

// HandleTaskEvent translates event and logs failures. It never reports back to
// the emitter so a notification problem cannot fail the task mutation.
func (t *Translator) HandleTaskEvent(ctx context.Context, event events.TaskEvent) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.StoreOperation)
	defer cancel()
	if _, err := t.Translate(ctx, event); err != nil {
		t.log.WithError(err).WithFields(logrus.Fields{
			"task_id": event.Task.ID,
			"kind":    event.Kind,
		}).Error("translate task event")
	}
}

// Translate persists every notification event calls for and hands each one
// to the deliverer once stored. Records that persisted are returned even when
// others failed.
func (t *Translator) Translate(ctx context.Context, event events.TaskEvent) ([]domain.Notification, error) {
	ctx, span := otel.Tracer("translate").Start(ctx, "translate.Translate")
	defer span.End()
	span.SetAttributes(
		attribute.String("task.id", event.Task.ID),
		attribute.String("task.event", string(event.Kind)),
	)

	event.Normalize()
	if err := event.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	intents := Plan(event)
	if len(intents) == 0 {
		return nil, nil
	}

	sender := t.resolveSender(ctx, event.ActorID)
	var (
		created []domain.Notification
		errs    []error
	)
	for _, intent := range intents {
		input := domain.CreateInput{
			Recipient: intent.Recipient,
			Type:      intent.Type,
			Title:     intent.Title,
			Message:   intent.Message(displayName(sender)),
			Task: &domain.TaskRef{
				ID:          event.Task.ID,
				Title:       event.Task.Title,
				Description: event.Task.Description,
			},
		}
		if !intent.System && sender != nil {
			input.Sender = sender
		}
		notification, err := t.creator.Create(ctx, input)
		if err != nil {
			t.metrics.TranslateFailed(metrics.StagePersist)
			errs = append(errs, fmt.Errorf("create %s notification for %s: %w", intent.Type, intent.Recipient, err))
			continue
		}
		t.metrics.NotificationCreated(string(notification.Type))
		created = append(created, notification)
		if t.deliverer != nil {
			t.deliverer.Deliver(ctx, notification)
		}
	}
	span.SetAttributes(attribute.Int("notifications.created", len(created)))
	if err := errors.Join(errs...); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return created, err
	}
	return created, nil
}

func (t *Translator) resolveSender(ctx context.Context, actorID string) *domain.Identity {
	if actorID == "" {
		return nil
	}
	fallback := &domain.Identity{ID: actorID}
	if t.users == nil {
		return fallback
	}
	identity, err := t.users.LookupUser(ctx, actorID)
	if err != nil {
		t.metrics.TranslateFailed(metrics.StageLookup)
		t.log.WithError(err).WithField("user_id", actorID).Warn("sender lookup failed, using raw id")
		return fallback
	}
	if identity.ID == "" {
		identity.ID = actorID
	}
	return &identity
}

func displayName(sender *domain.Identity) string {
	switch {
	case sender == nil:
		return "Someone"
	case sender.Name != "":
		return sender.Name
	default:
		return sender.ID
	}
}
