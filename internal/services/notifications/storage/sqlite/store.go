package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlitemigrate "github.com/louisbranch/taskhub/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/taskhub/internal/services/notifications/storage"
	"github.com/louisbranch/taskhub/internal/services/notifications/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

const notificationColumns = `id, recipient_user_id, sender_user_id, sender_name, sender_email, type, title, message,
task_id, task_title, task_description, is_read, created_at, updated_at`

// Store provides SQLite-backed persistence for notification records.
type Store struct {
	db *sqlx.DB
}

type notificationRow struct {
	ID              string `db:"id"`
	RecipientUserID string `db:"recipient_user_id"`
	SenderUserID    string `db:"sender_user_id"`
	SenderName      string `db:"sender_name"`
	SenderEmail     string `db:"sender_email"`
	Type            string `db:"type"`
	Title           string `db:"title"`
	Message         string `db:"message"`
	TaskID          string `db:"task_id"`
	TaskTitle       string `db:"task_title"`
	TaskDescription string `db:"task_description"`
	IsRead          bool   `db:"is_read"`
	CreatedAt       int64  `db:"created_at"`
	UpdatedAt       int64  `db:"updated_at"`
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a notifications SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{db: db}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), db.DB, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutNotification inserts one notification row.
func (s *Store) PutNotification(ctx context.Context, record storage.NotificationRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	normalized, err := normalizeNotificationRecord(record)
	if err != nil {
		return err
	}
	row := toRow(normalized)
	if _, err := s.db.NamedExecContext(ctx, `
INSERT INTO notifications (`+notificationColumns+`)
VALUES (:id, :recipient_user_id, :sender_user_id, :sender_name, :sender_email, :type, :title, :message,
        :task_id, :task_title, :task_description, :is_read, :created_at, :updated_at)
`, row); err != nil {
		return fmt.Errorf("put notification: %w", err)
	}
	return nil
}

// GetNotification loads one notification by id.
func (s *Store) GetNotification(ctx context.Context, notificationID string) (storage.NotificationRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.NotificationRecord{}, err
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return storage.NotificationRecord{}, fmt.Errorf("notification id is required")
	}
	var row notificationRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, notificationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.NotificationRecord{}, storage.ErrNotFound
		}
		return storage.NotificationRecord{}, fmt.Errorf("get notification: %w", err)
	}
	return fromRow(row), nil
}

// ListNotificationsByRecipient lists one recipient's notifications newest
// first and returns the filtered total.
func (s *Store) ListNotificationsByRecipient(ctx context.Context, recipientUserID string, query storage.ListQuery) ([]storage.NotificationRecord, int, error) {
	if err := s.ready(ctx); err != nil {
		return nil, 0, err
	}
	recipientUserID = strings.TrimSpace(recipientUserID)
	if recipientUserID == "" {
		return nil, 0, fmt.Errorf("recipient user id is required")
	}
	if query.Limit <= 0 {
		return nil, 0, fmt.Errorf("limit must be greater than zero")
	}
	if query.Offset < 0 {
		return nil, 0, fmt.Errorf("offset must be non-negative")
	}

	where := `recipient_user_id = ?`
	args := []any{recipientUserID}
	if query.Read != nil {
		where += ` AND is_read = ?`
		args = append(args, *query.Read)
	}

	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(1) FROM notifications WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}

	var rows []notificationRow
	if err := s.db.SelectContext(ctx, &rows, `
SELECT `+notificationColumns+`
FROM notifications
WHERE `+where+`
ORDER BY created_at DESC, id DESC
LIMIT ? OFFSET ?
`, append(args, query.Limit, query.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	records := make([]storage.NotificationRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, fromRow(row))
	}
	return records, total, nil
}

// CountUnreadNotificationsByRecipient returns the unread count for one recipient.
func (s *Store) CountUnreadNotificationsByRecipient(ctx context.Context, recipientUserID string) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	recipientUserID = strings.TrimSpace(recipientUserID)
	if recipientUserID == "" {
		return 0, fmt.Errorf("recipient user id is required")
	}
	var unread int
	if err := s.db.GetContext(ctx, &unread, `
SELECT COUNT(1) FROM notifications WHERE recipient_user_id = ? AND is_read = 0
`, recipientUserID); err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return unread, nil
}

// MarkNotificationRead marks one unread notification as read.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID string, readAt time.Time) (storage.NotificationRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.NotificationRecord{}, err
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return storage.NotificationRecord{}, fmt.Errorf("notification id is required")
	}
	if _, err := s.db.ExecContext(ctx, `
UPDATE notifications SET is_read = 1, updated_at = ? WHERE id = ? AND is_read = 0
`, toMillis(readAt), notificationID); err != nil {
		return storage.NotificationRecord{}, fmt.Errorf("mark notification read: %w", err)
	}
	return s.GetNotification(ctx, notificationID)
}

// MarkAllNotificationsRead marks every unread notification of one recipient
// as read and returns the number of rows changed.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipientUserID string, readAt time.Time) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	recipientUserID = strings.TrimSpace(recipientUserID)
	if recipientUserID == "" {
		return 0, fmt.Errorf("recipient user id is required")
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE notifications SET is_read = 1, updated_at = ? WHERE recipient_user_id = ? AND is_read = 0
`, toMillis(readAt), recipientUserID)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read rows affected: %w", err)
	}
	return int(affected), nil
}

// DeleteNotification removes one notification row.
func (s *Store) DeleteNotification(ctx context.Context, notificationID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return fmt.Errorf("notification id is required")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, notificationID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete notification rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func normalizeNotificationRecord(record storage.NotificationRecord) (storage.NotificationRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.RecipientUserID = strings.TrimSpace(record.RecipientUserID)
	record.Type = strings.TrimSpace(record.Type)
	if record.ID == "" {
		return storage.NotificationRecord{}, fmt.Errorf("notification id is required")
	}
	if record.RecipientUserID == "" {
		return storage.NotificationRecord{}, fmt.Errorf("recipient user id is required")
	}
	if record.Type == "" {
		return storage.NotificationRecord{}, fmt.Errorf("notification type is required")
	}
	if record.CreatedAt.IsZero() {
		return storage.NotificationRecord{}, fmt.Errorf("created_at is required")
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	return record, nil
}

func toRow(record storage.NotificationRecord) notificationRow {
	return notificationRow{
		ID:              record.ID,
		RecipientUserID: record.RecipientUserID,
		SenderUserID:    record.SenderUserID,
		SenderName:      record.SenderName,
		SenderEmail:     record.SenderEmail,
		Type:            record.Type,
		Title:           record.Title,
		Message:         record.Message,
		TaskID:          record.TaskID,
		TaskTitle:       record.TaskTitle,
		TaskDescription: record.TaskDescription,
		IsRead:          record.IsRead,
		CreatedAt:       toMillis(record.CreatedAt),
		UpdatedAt:       toMillis(record.UpdatedAt),
	}
}

func fromRow(row notificationRow) storage.NotificationRecord {
	return storage.NotificationRecord{
		ID:              row.ID,
		RecipientUserID: row.RecipientUserID,
		SenderUserID:    row.SenderUserID,
		SenderName:      row.SenderName,
		SenderEmail:     row.SenderEmail,
		Type:            row.Type,
		Title:           row.Title,
		Message:         row.Message,
		TaskID:          row.TaskID,
		TaskTitle:       row.TaskTitle,
		TaskDescription: row.TaskDescription,
		IsRead:          row.IsRead,
		CreatedAt:       fromMillis(row.CreatedAt),
		UpdatedAt:       fromMillis(row.UpdatedAt),
	}
}
