package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested notification record is missing.
var ErrNotFound = errors.New("record not found")

// NotificationRecord stores one user notification with denormalized sender
// and task snapshots.
type NotificationRecord struct {
	ID              string
	RecipientUserID string
	SenderUserID    string
	SenderName      string
	SenderEmail     string
	Type            string
	Title           string
	Message         string
	TaskID          string
	TaskTitle       string
	TaskDescription string
	IsRead          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ListQuery configures one offset page. Read nil means no read-state filter.
type ListQuery struct {
	Offset int
	Limit  int
	Read   *bool
}

// NotificationStore persists notification records. Every recipient-scoped
// method filters by recipient inside the query itself.
type NotificationStore interface {
	PutNotification(ctx context.Context, record NotificationRecord) error
	GetNotification(ctx context.Context, notificationID string) (NotificationRecord, error)
	ListNotificationsByRecipient(ctx context.Context, recipientUserID string, query ListQuery) ([]NotificationRecord, int, error)
	CountUnreadNotificationsByRecipient(ctx context.Context, recipientUserID string) (int, error)
	// MarkNotificationRead flips is_read only when it is still false and
	// returns the stored record either way.
	MarkNotificationRead(ctx context.Context, notificationID string, readAt time.Time) (NotificationRecord, error)
	MarkAllNotificationsRead(ctx context.Context, recipientUserID string, readAt time.Time) (int, error)
	DeleteNotification(ctx context.Context, notificationID string) error
}
