// Package httpapi exposes the notification pull API, the push upgrade route,
// and the internal task-event ingestion edge.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/louisbranch/taskhub/internal/platform/authn"
	"github.com/louisbranch/taskhub/internal/platform/logging"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/louisbranch/taskhub/internal/services/notifications/events"
	"github.com/louisbranch/taskhub/internal/services/notifications/metrics"
	"github.com/sirupsen/logrus"
)

// InternalSecretHeader carries the shared secret on service-to-service calls.
const InternalSecretHeader = "X-Internal-Secret"

const maxEventBodyBytes = 1 << 20

// NotificationService is the domain surface the pull API needs.
type NotificationService interface {
	List(ctx context.Context, input domain.ListInput) (domain.Page, error)
	CountUnread(ctx context.Context, recipient string) (int, error)
	MarkRead(ctx context.Context, notificationID string, actor string) (domain.Notification, error)
	MarkAllRead(ctx context.Context, recipient string) (int, error)
	Delete(ctx context.Context, notificationID string, actor string) error
}

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// EventPublisher accepts task events for asynchronous translation.
type EventPublisher interface {
	Publish(event events.TaskEvent) error
}

// Options wires the handler's collaborators. Push and Events are optional;
// their routes are omitted when nil.
type Options struct {
	Service        NotificationService
	Verifier       TokenVerifier
	Events         EventPublisher
	InternalSecret string
	Push           http.Handler
	Metrics        *metrics.Metrics
	Log            logrus.FieldLogger
	AllowedOrigins []string
}

type handler struct {
	service        NotificationService
	verifier       TokenVerifier
	events         EventPublisher
	internalSecret string
	metrics        *metrics.Metrics
	log            logrus.FieldLogger
}

// NewHandler builds the routed, access-logged HTTP handler.
func NewHandler(opts Options) http.Handler {
	log := opts.Log
	if log == nil {
		log = logging.Discard()
	}
	h := &handler{
		service:        opts.Service,
		verifier:       opts.Verifier,
		events:         opts.Events,
		internalSecret: opts.InternalSecret,
		metrics:        opts.Metrics,
		log:            log,
	}

	r := mux.NewRouter()
	r.HandleFunc("/up", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet, http.MethodHead)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}
	if opts.Push != nil {
		r.Handle("/ws", opts.Push)
	}
	if opts.Events != nil {
		r.HandleFunc("/internal/task-events", h.ingestTaskEvent).Methods(http.MethodPost)
	}

	api := r.PathPrefix("/api/notifications").Subrouter()
	api.Use(h.requireIdentity)
	api.HandleFunc("", h.list).Methods(http.MethodGet)
	api.HandleFunc("/unread-count", h.unreadCount).Methods(http.MethodGet)
	api.HandleFunc("/read-all", h.markAllRead).Methods(http.MethodPut)
	api.HandleFunc("/{id}/read", h.markRead).Methods(http.MethodPut)
	api.HandleFunc("/{id}", h.delete).Methods(http.MethodDelete)

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	return handlers.CombinedLoggingHandler(logging.AccessWriter(log), cors(r))
}

func (h *handler) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := authn.BearerToken(r.Header.Get("Authorization"))
		if token == "" || h.verifier == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		userID, err := h.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(authn.WithUserID(r.Context(), userID)))
	})
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := optionalInt(query.Get("page"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	limit, err := optionalInt(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	read, err := optionalBool(query.Get("read"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read must be true or false")
		return
	}

	result, err := h.service.List(r.Context(), domain.ListInput{
		Recipient: authn.UserIDFromContext(r.Context()),
		Page:      page,
		Limit:     limit,
		Read:      read,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	data := result.Notifications
	if data == nil {
		data = []domain.Notification{}
	}
	writeJSON(w, http.StatusOK, listResponse{
		Success:     true,
		Count:       len(data),
		Total:       result.Total,
		TotalPages:  result.TotalPages,
		CurrentPage: result.CurrentPage,
		UnreadCount: result.UnreadCount,
		Data:        data,
	})
}

func (h *handler) unreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.CountUnread(r.Context(), authn.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Success: true, Count: count})
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	notification, err := h.service.MarkRead(r.Context(), mux.Vars(r)["id"], authn.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Success: true, Data: &notification})
}

func (h *handler) markAllRead(w http.ResponseWriter, r *http.Request) {
	changed, err := h.service.MarkAllRead(r.Context(), authn.UserIDFromContext(r.Context()))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, countResponse{Success: true, Count: changed})
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), mux.Vars(r)["id"], authn.UserIDFromContext(r.Context())); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Success: true})
}

func (h *handler) ingestTaskEvent(w http.ResponseWriter, r *http.Request) {
	if h.internalSecret == "" || subtle.ConstantTimeCompare([]byte(r.Header.Get(InternalSecretHeader)), []byte(h.internalSecret)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid internal secret")
		return
	}
	var event events.TaskEvent
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes)).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task event payload")
		return
	}
	event.Normalize()
	if err := event.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.events.Publish(event); err != nil {
		h.metrics.EventDropped()
		h.log.WithError(err).WithFields(logrus.Fields{
			"event_type": event.Kind,
			"task_id":    event.Task.ID,
		}).Warn("task event dropped")
		writeError(w, http.StatusServiceUnavailable, "event queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, recordResponse{Success: true})
}

func (h *handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "not allowed to modify this notification")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "notification not found")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		h.log.WithError(err).Error("notification request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type listResponse struct {
	Success     bool                  `json:"success"`
	Count       int                   `json:"count"`
	Total       int                   `json:"total"`
	TotalPages  int                   `json:"totalPages"`
	CurrentPage int                   `json:"currentPage"`
	UnreadCount int                   `json:"unreadCount"`
	Data        []domain.Notification `json:"data"`
}

type countResponse struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

type recordResponse struct {
	Success bool                 `json:"success"`
	Data    *domain.Notification `json:"data,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Message: message})
}

func optionalInt(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

// optionalBool parses the tri-state read filter: empty means no filter.
func optionalBool(raw string) (*bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return nil, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}
