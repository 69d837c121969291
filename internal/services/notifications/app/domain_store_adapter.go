package server

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/taskhub/internal/platform/otel"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/louisbranch/taskhub/internal/services/notifications/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// domainStoreAdapter maps storage records onto the domain store contract.
type domainStoreAdapter struct {
	notificationStore storage.NotificationStore
}

func newDomainStoreAdapter(notificationStore storage.NotificationStore) *domainStoreAdapter {
	return &domainStoreAdapter{notificationStore: notificationStore}
}

func (a *domainStoreAdapter) PutNotification(ctx context.Context, notification domain.Notification) error {
	if a == nil || a.notificationStore == nil {
		return domain.ErrStoreNotConfigured
	}
	ctx, span := startStoreSpan(ctx, "PutNotification", notification.Recipient)
	defer span.End()
	return mapStorageError(a.notificationStore.PutNotification(ctx, toStorageNotification(notification)))
}

func (a *domainStoreAdapter) GetNotification(ctx context.Context, notificationID string) (domain.Notification, error) {
	if a == nil || a.notificationStore == nil {
		return domain.Notification{}, domain.ErrStoreNotConfigured
	}
	record, err := a.notificationStore.GetNotification(ctx, notificationID)
	if err != nil {
		return domain.Notification{}, mapStorageError(err)
	}
	return toDomainNotification(record), nil
}

func (a *domainStoreAdapter) ListNotificationsByRecipient(ctx context.Context, recipient string, query domain.ListQuery) ([]domain.Notification, int, error) {
	if a == nil || a.notificationStore == nil {
		return nil, 0, domain.ErrStoreNotConfigured
	}
	ctx, span := startStoreSpan(ctx, "ListNotificationsByRecipient", recipient)
	defer span.End()
	records, total, err := a.notificationStore.ListNotificationsByRecipient(ctx, recipient, storage.ListQuery{
		Offset: query.Offset,
		Limit:  query.Limit,
		Read:   query.Read,
	})
	if err != nil {
		return nil, 0, mapStorageError(err)
	}
	notifications := make([]domain.Notification, 0, len(records))
	for _, record := range records {
		notifications = append(notifications, toDomainNotification(record))
	}
	return notifications, total, nil
}

func (a *domainStoreAdapter) CountUnreadNotificationsByRecipient(ctx context.Context, recipient string) (int, error) {
	if a == nil || a.notificationStore == nil {
		return 0, domain.ErrStoreNotConfigured
	}
	unreadCount, err := a.notificationStore.CountUnreadNotificationsByRecipient(ctx, recipient)
	if err != nil {
		return 0, mapStorageError(err)
	}
	return unreadCount, nil
}

func (a *domainStoreAdapter) MarkNotificationRead(ctx context.Context, notificationID string, readAt time.Time) (domain.Notification, error) {
	if a == nil || a.notificationStore == nil {
		return domain.Notification{}, domain.ErrStoreNotConfigured
	}
	record, err := a.notificationStore.MarkNotificationRead(ctx, notificationID, readAt)
	if err != nil {
		return domain.Notification{}, mapStorageError(err)
	}
	return toDomainNotification(record), nil
}

func (a *domainStoreAdapter) MarkAllNotificationsRead(ctx context.Context, recipient string, readAt time.Time) (int, error) {
	if a == nil || a.notificationStore == nil {
		return 0, domain.ErrStoreNotConfigured
	}
	ctx, span := startStoreSpan(ctx, "MarkAllNotificationsRead", recipient)
	defer span.End()
	changed, err := a.notificationStore.MarkAllNotificationsRead(ctx, recipient, readAt)
	if err != nil {
		return 0, mapStorageError(err)
	}
	return changed, nil
}

func (a *domainStoreAdapter) DeleteNotification(ctx context.Context, notificationID string) error {
	if a == nil || a.notificationStore == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapStorageError(a.notificationStore.DeleteNotification(ctx, notificationID))
}

func startStoreSpan(ctx context.Context, operation string, recipient string) (context.Context, trace.Span) {
	return otel.Tracer("notifications.store").Start(ctx, "store."+operation,
		trace.WithAttributes(attribute.String("notification.recipient", recipient)))
}

func toStorageNotification(notification domain.Notification) storage.NotificationRecord {
	record := storage.NotificationRecord{
		ID:              notification.ID,
		RecipientUserID: notification.Recipient,
		Type:            notification.Type.String(),
		Title:           notification.Title,
		Message:         notification.Message,
		IsRead:          notification.IsRead,
		CreatedAt:       notification.CreatedAt,
		UpdatedAt:       notification.UpdatedAt,
	}
	if notification.Sender != nil {
		record.SenderUserID = notification.Sender.ID
		record.SenderName = notification.Sender.Name
		record.SenderEmail = notification.Sender.Email
	}
	if notification.Task != nil {
		record.TaskID = notification.Task.ID
		record.TaskTitle = notification.Task.Title
		record.TaskDescription = notification.Task.Description
	}
	return record
}

func toDomainNotification(record storage.NotificationRecord) domain.Notification {
	notification := domain.Notification{
		ID:        record.ID,
		Recipient: record.RecipientUserID,
		Type:      domain.Type(record.Type),
		Title:     record.Title,
		Message:   record.Message,
		IsRead:    record.IsRead,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}
	if record.SenderUserID != "" {
		notification.Sender = &domain.Identity{
			ID:    record.SenderUserID,
			Name:  record.SenderName,
			Email: record.SenderEmail,
		}
	}
	if record.TaskID != "" {
		notification.Task = &domain.TaskRef{
			ID:          record.TaskID,
			Title:       record.TaskTitle,
			Description: record.TaskDescription,
		}
	}
	return notification
}

func mapStorageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return domain.ErrNotFound
	default:
		return err
	}
}
