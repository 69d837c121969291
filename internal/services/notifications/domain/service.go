package domain

import (
	"context"
	"errors"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/louisbranch/taskhub/internal/platform/id"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Identity is the minimal display projection of a user.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// TaskRef snapshots the task a notification concerns so clients can render it
// without a join.
type TaskRef struct {
	ID          string `json:"id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// Notification captures one user-targeted notification item.
type Notification struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Sender    *Identity `json:"sender,omitempty"`
	Type      Type      `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Task      *TaskRef  `json:"task,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// CreateInput describes one translator notification request.
type CreateInput struct {
	Recipient string    `json:"recipient" validate:"required"`
	Sender    *Identity `json:"sender"`
	Type      Type      `json:"type" validate:"required,notification_type"`
	Title     string    `json:"title" validate:"required"`
	Message   string    `json:"message" validate:"required"`
	Task      *TaskRef  `json:"task"`
}

// ListInput configures recipient listing. Read is a tri-state filter: nil
// lists everything.
type ListInput struct {
	Recipient string
	Page      int
	Limit     int
	Read      *bool
}

// Page is one offset page of a recipient's notifications, newest first.
type Page struct {
	Notifications []Notification
	Total         int
	UnreadCount   int
	CurrentPage   int
	TotalPages    int
}

// ListQuery is the storage-facing form of ListInput.
type ListQuery struct {
	Offset int
	Limit  int
	Read   *bool
}

// Store is the domain persistence boundary for notification lifecycle behavior.
type Store interface {
	PutNotification(ctx context.Context, notification Notification) error
	GetNotification(ctx context.Context, notificationID string) (Notification, error)
	ListNotificationsByRecipient(ctx context.Context, recipient string, query ListQuery) ([]Notification, int, error)
	CountUnreadNotificationsByRecipient(ctx context.Context, recipient string) (int, error)
	MarkNotificationRead(ctx context.Context, notificationID string, readAt time.Time) (Notification, error)
	MarkAllNotificationsRead(ctx context.Context, recipient string, readAt time.Time) (int, error)
	DeleteNotification(ctx context.Context, notificationID string) error
}

// Service orchestrates recipient notification lifecycle behavior.
type Service struct {
	store    Store
	clock    func() time.Time
	newID    func() (string, error)
	validate *validator.Validate
}

// NewService constructs notification domain use-cases.
func NewService(store Store, clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store:    store,
		clock:    clock,
		newID:    newID,
		validate: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	_ = v.RegisterValidation("notification_type", func(fl validator.FieldLevel) bool {
		return Type(fl.Field().String()).Valid()
	})
	return v
}

// Create validates and stores one notification.
func (s *Service) Create(ctx context.Context, input CreateInput) (Notification, error) {
	if s == nil || s.store == nil {
		return Notification{}, ErrStoreNotConfigured
	}
	input.Recipient = strings.TrimSpace(input.Recipient)
	input.Type = NormalizeType(string(input.Type))
	input.Title = strings.TrimSpace(input.Title)
	input.Message = strings.TrimSpace(input.Message)
	if err := s.validate.StructCtx(ctx, input); err != nil {
		return Notification{}, toValidationError(err)
	}

	notificationID, err := s.newID()
	if err != nil {
		return Notification{}, err
	}
	now := s.nowUTC()
	notification := Notification{
		ID:        notificationID,
		Recipient: input.Recipient,
		Sender:    normalizeSender(input.Sender),
		Type:      input.Type,
		Title:     input.Title,
		Message:   input.Message,
		Task:      normalizeTask(input.Task),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.PutNotification(ctx, notification); err != nil {
		return Notification{}, err
	}
	return notification, nil
}

// List returns one page of the recipient's notifications newest first along
// with the recipient's total unread count.
func (s *Service) List(ctx context.Context, input ListInput) (Page, error) {
	if s == nil || s.store == nil {
		return Page{}, ErrStoreNotConfigured
	}
	recipient := strings.TrimSpace(input.Recipient)
	if recipient == "" {
		return Page{}, &ValidationError{Field: "recipient", Reason: "is required"}
	}
	page := input.Page
	if page <= 0 {
		page = 1
	}
	limit := input.Limit
	switch {
	case limit <= 0:
		limit = defaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	// Pages past the last representable offset are empty anyway.
	if page > math.MaxInt/limit {
		page = math.MaxInt / limit
	}

	notifications, total, err := s.store.ListNotificationsByRecipient(ctx, recipient, ListQuery{
		Offset: (page - 1) * limit,
		Limit:  limit,
		Read:   input.Read,
	})
	if err != nil {
		return Page{}, err
	}
	unread, err := s.store.CountUnreadNotificationsByRecipient(ctx, recipient)
	if err != nil {
		return Page{}, err
	}
	return Page{
		Notifications: notifications,
		Total:         total,
		UnreadCount:   unread,
		CurrentPage:   page,
		TotalPages:    (total + limit - 1) / limit,
	}, nil
}

// CountUnread returns the recipient's unread badge count.
func (s *Service) CountUnread(ctx context.Context, recipient string) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrStoreNotConfigured
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return 0, &ValidationError{Field: "recipient", Reason: "is required"}
	}
	return s.store.CountUnreadNotificationsByRecipient(ctx, recipient)
}

// MarkRead marks one notification as read on behalf of actor. Marking an
// already-read notification succeeds without a write.
func (s *Service) MarkRead(ctx context.Context, notificationID string, actor string) (Notification, error) {
	notification, err := s.owned(ctx, notificationID, actor)
	if err != nil {
		return Notification{}, err
	}
	if notification.IsRead {
		return notification, nil
	}
	updated, err := s.store.MarkNotificationRead(ctx, notification.ID, s.nowUTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Notification{}, &NotFoundError{NotificationID: notification.ID}
		}
		return Notification{}, err
	}
	return updated, nil
}

// MarkAllRead marks every unread notification of recipient as read and
// returns how many changed.
func (s *Service) MarkAllRead(ctx context.Context, recipient string) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrStoreNotConfigured
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return 0, &ValidationError{Field: "recipient", Reason: "is required"}
	}
	return s.store.MarkAllNotificationsRead(ctx, recipient, s.nowUTC())
}

// Delete removes one notification on behalf of actor.
func (s *Service) Delete(ctx context.Context, notificationID string, actor string) error {
	notification, err := s.owned(ctx, notificationID, actor)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNotification(ctx, notification.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return &NotFoundError{NotificationID: notification.ID}
		}
		return err
	}
	return nil
}

// owned loads a notification and checks actor is its recipient. A missing
// record is reported before ownership so callers can tell the two apart.
func (s *Service) owned(ctx context.Context, notificationID string, actor string) (Notification, error) {
	if s == nil || s.store == nil {
		return Notification{}, ErrStoreNotConfigured
	}
	notificationID = strings.TrimSpace(notificationID)
	if notificationID == "" {
		return Notification{}, &ValidationError{Field: "id", Reason: "is required"}
	}
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return Notification{}, &ValidationError{Field: "actor", Reason: "is required"}
	}
	notification, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Notification{}, &NotFoundError{NotificationID: notificationID}
		}
		return Notification{}, err
	}
	if notification.Recipient != actor {
		return Notification{}, &AuthorizationError{NotificationID: notificationID, ActorID: actor}
	}
	return notification, nil
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func toValidationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "notification", Reason: err.Error()}
	}
	first := fieldErrs[0]
	reason := "is required"
	if first.Tag() != "required" {
		reason = "is not a known notification type"
	}
	return &ValidationError{Field: first.Field(), Reason: reason}
}

func normalizeSender(sender *Identity) *Identity {
	if sender == nil || strings.TrimSpace(sender.ID) == "" {
		return nil
	}
	return &Identity{
		ID:    strings.TrimSpace(sender.ID),
		Name:  strings.TrimSpace(sender.Name),
		Email: strings.TrimSpace(sender.Email),
	}
}

func normalizeTask(task *TaskRef) *TaskRef {
	if task == nil || strings.TrimSpace(task.ID) == "" {
		return nil
	}
	return &TaskRef{
		ID:          strings.TrimSpace(task.ID),
		Title:       strings.TrimSpace(task.Title),
		Description: strings.TrimSpace(task.Description),
	}
}
