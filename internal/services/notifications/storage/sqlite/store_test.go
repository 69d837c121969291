package sqlite

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/taskhub/internal/services/notifications/storage"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestOpenIsRepeatable(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notifications.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = second.Close()
}

func TestPutGetRoundTripsSnapshots(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 2, 21, 21, 0, 0, 0, time.UTC)
	record := storage.NotificationRecord{
		ID:              "notif-1",
		RecipientUserID: "user-2",
		SenderUserID:    "user-1",
		SenderName:      "Ada",
		SenderEmail:     "ada@example.com",
		Type:            "task-assigned",
		Title:           "New task assigned",
		Message:         "Ada assigned you a task: Ship it",
		TaskID:          "task-1",
		TaskTitle:       "Ship it",
		TaskDescription: "before friday",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := store.PutNotification(context.Background(), record); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.GetNotification(context.Background(), "notif-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps = %v/%v, want %v", got.CreatedAt, got.UpdatedAt, now)
	}
	got.CreatedAt, got.UpdatedAt = record.CreatedAt, record.UpdatedAt
	if got != record {
		t.Fatalf("get = %+v, want %+v", got, record)
	}

	if _, err := store.GetNotification(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing get error = %v, want ErrNotFound", err)
	}
}

func TestListNotificationsByRecipientIsolatesAndOrders(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 2, 21, 21, 0, 0, 0, time.UTC)
	seed := []struct {
		id        string
		recipient string
		at        time.Time
		read      bool
	}{
		{id: "notif-1", recipient: "user-1", at: now},
		{id: "notif-2", recipient: "user-1", at: now.Add(time.Minute), read: true},
		{id: "notif-3", recipient: "user-2", at: now.Add(2 * time.Minute)},
		{id: "notif-4", recipient: "user-1", at: now.Add(time.Minute)},
		{id: "notif-5", recipient: "user-1", at: now.Add(3 * time.Minute)},
	}
	for _, s := range seed {
		putRecord(t, store, s.id, s.recipient, s.at, s.read)
	}

	records, total, err := store.ListNotificationsByRecipient(context.Background(), "user-1", storage.ListQuery{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 4 {
		t.Fatalf("total = %d, want 4", total)
	}
	if got := recordIDs(records); fmt.Sprint(got) != "[notif-5 notif-4 notif-2]" {
		t.Fatalf("page one ids = %v", got)
	}

	records, _, err = store.ListNotificationsByRecipient(context.Background(), "user-1", storage.ListQuery{Offset: 3, Limit: 3})
	if err != nil {
		t.Fatalf("list page two: %v", err)
	}
	if got := recordIDs(records); fmt.Sprint(got) != "[notif-1]" {
		t.Fatalf("page two ids = %v", got)
	}

	read := true
	records, total, err = store.ListNotificationsByRecipient(context.Background(), "user-1", storage.ListQuery{Limit: 10, Read: &read})
	if err != nil {
		t.Fatalf("list read: %v", err)
	}
	if total != 1 || len(records) != 1 || records[0].ID != "notif-2" {
		t.Fatalf("read filter = %v (total %d)", recordIDs(records), total)
	}

	records, _, err = store.ListNotificationsByRecipient(context.Background(), "user-2", storage.ListQuery{Limit: 10})
	if err != nil {
		t.Fatalf("list user-2: %v", err)
	}
	for _, record := range records {
		if record.RecipientUserID != "user-2" {
			t.Fatalf("user-2 listing leaked %+v", record)
		}
	}
	if len(records) != 1 {
		t.Fatalf("user-2 records = %d, want 1", len(records))
	}
}

func TestListNotificationsPastLastPageIsEmpty(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	putRecord(t, store, "notif-1", "user-1", time.Date(2026, 2, 21, 21, 0, 0, 0, time.UTC), false)

	records, total, err := store.ListNotificationsByRecipient(context.Background(), "user-1", storage.ListQuery{Offset: math.MaxInt - 10, Limit: 10})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(records) != 0 {
		t.Fatalf("records = %v (total %d), want none of 1", recordIDs(records), total)
	}
}

func TestMarkReadIsConditionalAndIdempotent(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 2, 21, 21, 0, 0, 0, time.UTC)
	putRecord(t, store, "notif-1", "user-1", now, false)

	first, err := store.MarkNotificationRead(context.Background(), "notif-1", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("first mark read: %v", err)
	}
	second, err := store.MarkNotificationRead(context.Background(), "notif-1", now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if !first.IsRead || !second.IsRead {
		t.Fatal("expected notification to stay read")
	}
	if !second.UpdatedAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("updated_at = %v, want first read time", second.UpdatedAt)
	}
	if _, err := store.MarkNotificationRead(context.Background(), "missing", now); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing mark read error = %v, want ErrNotFound", err)
	}
}

func TestMarkAllReadScopesToRecipient(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 2, 21, 21, 0, 0, 0, time.UTC)
	putRecord(t, store, "notif-1", "user-1", now, false)
	putRecord(t, store, "notif-2", "user-1", now, true)
	putRecord(t, store, "notif-3", "user-1", now, false)
	putRecord(t, store, "notif-4", "user-2", now, false)

	changed, err := store.MarkAllNotificationsRead(context.Background(), "user-1", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("mark all read: %v", err)
	}
	if changed != 2 {
		t.Fatalf("changed = %d, want 2", changed)
	}
	for recipient, want := range map[string]int{"user-1": 0, "user-2": 1} {
		got, err := store.CountUnreadNotificationsByRecipient(context.Background(), recipient)
		if err != nil {
			t.Fatalf("count unread %s: %v", recipient, err)
		}
		if got != want {
			t.Fatalf("unread %s = %d, want %d", recipient, got, want)
		}
	}
}

func TestDeleteNotification(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	putRecord(t, store, "notif-1", "user-1", time.Now(), false)

	if err := store.DeleteNotification(context.Background(), "notif-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteNotification(context.Background(), "notif-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("second delete error = %v, want ErrNotFound", err)
	}
}

func TestConcurrentCreatesForOneRecipient(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, 2, 21, 21, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.PutNotification(context.Background(), storage.NotificationRecord{
				ID:              fmt.Sprintf("notif-%02d", i),
				RecipientUserID: "user-1",
				Type:            "system",
				Title:           "t",
				Message:         "m",
				CreatedAt:       now,
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent put: %v", err)
		}
	}
	count, err := store.CountUnreadNotificationsByRecipient(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 10 {
		t.Fatalf("unread = %d, want 10", count)
	}
}

func TestStoreHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.CountUnreadNotificationsByRecipient(ctx, "user-1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "notifications.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func putRecord(t *testing.T, store *Store, id, recipient string, at time.Time, read bool) {
	t.Helper()

	if err := store.PutNotification(context.Background(), storage.NotificationRecord{
		ID:              id,
		RecipientUserID: recipient,
		Type:            "system",
		Title:           "title " + id,
		Message:         "message " + id,
		IsRead:          read,
		CreatedAt:       at,
		UpdatedAt:       at,
	}); err != nil {
		t.Fatalf("put %s: %v", id, err)
	}
}

func recordIDs(records []storage.NotificationRecord) []string {
	out := make([]string, 0, len(records))
	for _, record := range records {
		out = append(out, record.ID)
	}
	return out
}
