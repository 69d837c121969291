package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/louisbranch/taskhub/internal/services/notifications/api/httpapi"
	"github.com/louisbranch/taskhub/internal/services/notifications/api/ws"
	"github.com/louisbranch/taskhub/internal/services/notifications/dispatch"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/louisbranch/taskhub/internal/services/notifications/registry"
)

type tokenVerifier map[string]string

func (v tokenVerifier) Verify(token string) (string, error) {
	userID, ok := v[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return userID, nil
}

// memoryStore is a concurrency-safe domain.Store for end-to-end client tests.
type memoryStore struct {
	mu      sync.Mutex
	records map[string]domain.Notification
}

func (s *memoryStore) PutNotification(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[n.ID] = n
	return nil
}

func (s *memoryStore) GetNotification(_ context.Context, id string) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok {
		return domain.Notification{}, domain.ErrNotFound
	}
	return n, nil
}

func (s *memoryStore) ListNotificationsByRecipient(_ context.Context, recipient string, query domain.ListQuery) ([]domain.Notification, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []domain.Notification
	for _, n := range s.records {
		if n.Recipient != recipient || (query.Read != nil && n.IsRead != *query.Read) {
			continue
		}
		matched = append(matched, n)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	total := len(matched)
	if query.Offset >= total {
		return nil, total, nil
	}
	end := min(query.Offset+query.Limit, total)
	return matched[query.Offset:end], total, nil
}

func (s *memoryStore) CountUnreadNotificationsByRecipient(_ context.Context, recipient string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.records {
		if n.Recipient == recipient && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) MarkNotificationRead(_ context.Context, id string, readAt time.Time) (domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	if !ok {
		return domain.Notification{}, domain.ErrNotFound
	}
	n.IsRead, n.UpdatedAt = true, readAt
	s.records[id] = n
	return n, nil
}

func (s *memoryStore) MarkAllNotificationsRead(_ context.Context, recipient string, readAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for id, n := range s.records {
		if n.Recipient == recipient && !n.IsRead {
			n.IsRead, n.UpdatedAt = true, readAt
			s.records[id] = n
			changed++
		}
	}
	return changed, nil
}

func (s *memoryStore) DeleteNotification(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *memoryStore) get(id string) (domain.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.records[id]
	return n, ok
}

type harness struct {
	srv        *httptest.Server
	store      *memoryStore
	service    *domain.Service
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := &memoryStore{records: map[string]domain.Notification{}}
	service := domain.NewService(store, nil, nil)
	reg := registry.New()
	verifier := tokenVerifier{"tok-a": "user-a", "tok-b": "user-b"}
	push := ws.NewServer(reg, verifier, nil, ws.Options{})
	srv := httptest.NewServer(httpapi.NewHandler(httpapi.Options{
		Service:  service,
		Verifier: verifier,
		Push:     push.Handler(),
	}))
	t.Cleanup(srv.Close)
	return &harness{
		srv:        srv,
		store:      store,
		service:    service,
		dispatcher: dispatch.New(reg, nil, nil),
		registry:   reg,
	}
}

func (h *harness) wsURL() string {
	return "ws" + h.srv.URL[len("http"):] + "/ws"
}

func (h *harness) create(t *testing.T, recipient string, title string) domain.Notification {
	t.Helper()

	n, err := h.service.Create(context.Background(), domain.CreateInput{
		Recipient: recipient,
		Type:      domain.TypeTaskAssigned,
		Title:     title,
		Message:   title,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return n
}

// switchDoer fails every request while offline is set.
type switchDoer struct {
	offline atomic.Bool
	client  *http.Client
}

func (d *switchDoer) Do(req *http.Request) (*http.Response, error) {
	if d.offline.Load() {
		return nil, errors.New("network is unreachable")
	}
	return d.client.Do(req)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
