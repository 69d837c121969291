package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/taskhub/internal/services/notifications/storage"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store persists notification records in one collection.
type Store struct {
	collection *mongo.Collection
}

type senderDocument struct {
	ID    string `bson:"id"`
	Name  string `bson:"name,omitempty"`
	Email string `bson:"email,omitempty"`
}

type taskDocument struct {
	ID          string `bson:"id"`
	Title       string `bson:"title,omitempty"`
	Description string `bson:"description,omitempty"`
}

type notificationDocument struct {
	ID        string          `bson:"_id"`
	Recipient string          `bson:"recipient"`
	Sender    *senderDocument `bson:"sender,omitempty"`
	Type      string          `bson:"type"`
	Title     string          `bson:"title"`
	Message   string          `bson:"message"`
	Task      *taskDocument   `bson:"task,omitempty"`
	IsRead    bool            `bson:"isRead"`
	CreatedAt time.Time       `bson:"createdAt"`
	UpdatedAt time.Time       `bson:"updatedAt"`
}

// NewStore wraps db's notifications collection and ensures its indexes.
func NewStore(ctx context.Context, db *mongo.Database) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("mongo database is required")
	}
	store := &Store{collection: db.Collection(NotificationsCollection)}
	if err := store.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "recipient", Value: 1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}},
			Options: options.Index().SetName("recipient_created_index"),
		},
		{
			Keys:    bson.D{{Key: "recipient", Value: 1}, {Key: "isRead", Value: 1}},
			Options: options.Index().SetName("recipient_unread_index"),
		},
	})
	if err != nil {
		return fmt.Errorf("create notification indexes: %w", err)
	}
	return nil
}

// PutNotification inserts one notification document.
func (s *Store) PutNotification(ctx context.Context, record storage.NotificationRecord) error {
	if s == nil || s.collection == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.ID) == "" || strings.TrimSpace(record.RecipientUserID) == "" {
		return fmt.Errorf("notification id and recipient are required")
	}
	if _, err := s.collection.InsertOne(ctx, toDocument(record)); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotification loads one notification by id.
func (s *Store) GetNotification(ctx context.Context, notificationID string) (storage.NotificationRecord, error) {
	if s == nil || s.collection == nil {
		return storage.NotificationRecord{}, fmt.Errorf("storage is not configured")
	}
	var doc notificationDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": strings.TrimSpace(notificationID)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return storage.NotificationRecord{}, storage.ErrNotFound
		}
		return storage.NotificationRecord{}, fmt.Errorf("find notification: %w", err)
	}
	return fromDocument(doc), nil
}

// ListNotificationsByRecipient lists one recipient's notifications newest first.
func (s *Store) ListNotificationsByRecipient(ctx context.Context, recipientUserID string, query storage.ListQuery) ([]storage.NotificationRecord, int, error) {
	if s == nil || s.collection == nil {
		return nil, 0, fmt.Errorf("storage is not configured")
	}
	recipientUserID = strings.TrimSpace(recipientUserID)
	if recipientUserID == "" {
		return nil, 0, fmt.Errorf("recipient user id is required")
	}
	if query.Limit <= 0 {
		return nil, 0, fmt.Errorf("limit must be greater than zero")
	}
	filter := bson.M{"recipient": recipientUserID}
	if query.Read != nil {
		filter["isRead"] = *query.Read
	}

	total, err := s.collection.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	findOptions := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(query.Offset)).
		SetLimit(int64(query.Limit))
	cursor, err := s.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, 0, fmt.Errorf("find notifications: %w", err)
	}
	var docs []notificationDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode notifications: %w", err)
	}
	records := make([]storage.NotificationRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromDocument(doc))
	}
	return records, int(total), nil
}

// CountUnreadNotificationsByRecipient counts one recipient's unread notifications.
func (s *Store) CountUnreadNotificationsByRecipient(ctx context.Context, recipientUserID string) (int, error) {
	if s == nil || s.collection == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	count, err := s.collection.CountDocuments(ctx, bson.M{"recipient": strings.TrimSpace(recipientUserID), "isRead": false})
	if err != nil {
		return 0, fmt.Errorf("count unread notifications: %w", err)
	}
	return int(count), nil
}

// MarkNotificationRead sets isRead on one unread notification.
func (s *Store) MarkNotificationRead(ctx context.Context, notificationID string, readAt time.Time) (storage.NotificationRecord, error) {
	if s == nil || s.collection == nil {
		return storage.NotificationRecord{}, fmt.Errorf("storage is not configured")
	}
	notificationID = strings.TrimSpace(notificationID)
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": notificationID, "isRead": false},
		bson.M{"$set": bson.M{"isRead": true, "updatedAt": readAt.UTC()}},
	)
	if err != nil {
		return storage.NotificationRecord{}, fmt.Errorf("mark notification read: %w", err)
	}
	return s.GetNotification(ctx, notificationID)
}

// MarkAllNotificationsRead sets isRead on every unread notification of one recipient.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, recipientUserID string, readAt time.Time) (int, error) {
	if s == nil || s.collection == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	result, err := s.collection.UpdateMany(ctx,
		bson.M{"recipient": strings.TrimSpace(recipientUserID), "isRead": false},
		bson.M{"$set": bson.M{"isRead": true, "updatedAt": readAt.UTC()}},
	)
	if err != nil {
		return 0, fmt.Errorf("mark all notifications read: %w", err)
	}
	return int(result.ModifiedCount), nil
}

// DeleteNotification removes one notification document.
func (s *Store) DeleteNotification(ctx context.Context, notificationID string) error {
	if s == nil || s.collection == nil {
		return fmt.Errorf("storage is not configured")
	}
	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": strings.TrimSpace(notificationID)})
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	if result.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func toDocument(record storage.NotificationRecord) notificationDocument {
	doc := notificationDocument{
		ID:        record.ID,
		Recipient: record.RecipientUserID,
		Type:      record.Type,
		Title:     record.Title,
		Message:   record.Message,
		IsRead:    record.IsRead,
		CreatedAt: record.CreatedAt.UTC(),
		UpdatedAt: record.UpdatedAt.UTC(),
	}
	if record.SenderUserID != "" {
		doc.Sender = &senderDocument{ID: record.SenderUserID, Name: record.SenderName, Email: record.SenderEmail}
	}
	if record.TaskID != "" {
		doc.Task = &taskDocument{ID: record.TaskID, Title: record.TaskTitle, Description: record.TaskDescription}
	}
	return doc
}

func fromDocument(doc notificationDocument) storage.NotificationRecord {
	record := storage.NotificationRecord{
		ID:              doc.ID,
		RecipientUserID: doc.Recipient,
		Type:            doc.Type,
		Title:           doc.Title,
		Message:         doc.Message,
		IsRead:          doc.IsRead,
		CreatedAt:       doc.CreatedAt.UTC(),
		UpdatedAt:       doc.UpdatedAt.UTC(),
	}
	if doc.Sender != nil {
		record.SenderUserID = doc.Sender.ID
		record.SenderName = doc.Sender.Name
		record.SenderEmail = doc.Sender.Email
	}
	if doc.Task != nil {
		record.TaskID = doc.Task.ID
		record.TaskTitle = doc.Task.Title
		record.TaskDescription = doc.Task.Description
	}
	return record
}
