package sweep

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/louisbranch/taskhub/internal/services/notifications/events"
	"github.com/louisbranch/taskhub/internal/services/notifications/translate"
)

type fakeSource struct {
	tasks []events.Task
	err   error
	asked []time.Time
}

func (f *fakeSource) ListOverdue(_ context.Context, now time.Time) ([]events.Task, error) {
	f.asked = append(f.asked, now)
	return f.tasks, f.err
}

type collectingHandler struct {
	mu   sync.Mutex
	seen []events.TaskEvent
}

func (h *collectingHandler) HandleTaskEvent(_ context.Context, event events.TaskEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, event)
}

func (h *collectingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.seen)
}

func TestSweepOnceEmitsOverdueEvents(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{tasks: []events.Task{{ID: "task-1"}, {ID: "task-2"}}}
	handler := &collectingHandler{}
	s := New(source, handler, time.Hour, nil, nil)
	s.clock = func() time.Time { return now }

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 2 || handler.count() != 2 {
		t.Fatalf("emitted = %d/%d, want 2", n, handler.count())
	}
	for _, event := range handler.seen {
		if event.Kind != events.KindTaskOverdue || event.ActorID != "" || !event.OccurredAt.Equal(now) {
			t.Fatalf("event = %+v", event)
		}
	}
	if len(source.asked) != 1 || !source.asked[0].Equal(now) {
		t.Fatalf("source asked with %v", source.asked)
	}
}

func TestSweepOnceSurfacesSourceError(t *testing.T) {
	t.Parallel()

	s := New(&fakeSource{err: errors.New("db down")}, &collectingHandler{}, 0, nil, nil)
	if _, err := s.SweepOnce(context.Background()); err == nil {
		t.Fatal("expected source error")
	}
	if s.interval != DefaultInterval {
		t.Fatalf("interval = %v, want default", s.interval)
	}
}

func TestSweepSelfAssignedTaskCreatesTwoRecords(t *testing.T) {
	t.Parallel()

	creator := &countingCreator{}
	tr := translate.New(creator, nil, nil, nil, nil)
	source := &fakeSource{tasks: []events.Task{{ID: "task-1", Title: "late", CreatorID: "user-u", AssigneeID: "user-u"}}}
	s := New(source, tr, time.Hour, nil, nil)

	if _, err := s.SweepOnce(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(creator.recipients) != 2 || creator.recipients[0] != "user-u" || creator.recipients[1] != "user-u" {
		t.Fatalf("recipients = %v, want two records for user-u", creator.recipients)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	handler := &collectingHandler{}
	s := New(&fakeSource{tasks: []events.Task{{ID: "task-1"}}}, handler, 5*time.Millisecond, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for handler.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("sweeper never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestNextRunAlignsToIntervalBoundary(t *testing.T) {
	t.Parallel()

	day := time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		now      time.Time
		interval time.Duration
		want     time.Time
	}{
		{name: "mid day", now: day.Add(15*time.Hour + 7*time.Minute), interval: 24 * time.Hour, want: day.Add(24 * time.Hour)},
		{name: "just before midnight", now: day.Add(-time.Second), interval: 24 * time.Hour, want: day},
		{name: "on boundary", now: day, interval: 24 * time.Hour, want: day.Add(24 * time.Hour)},
		{name: "hourly", now: day.Add(90 * time.Minute), interval: time.Hour, want: day.Add(2 * time.Hour)},
	}
	for _, tc := range tests {
		if got := nextRun(tc.now, tc.interval); !got.Equal(tc.want) {
			t.Fatalf("%s: nextRun = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestRunFirstSweepWaitsOnlyUntilBoundary(t *testing.T) {
	t.Parallel()

	handler := &collectingHandler{}
	s := New(&fakeSource{tasks: []events.Task{{ID: "task-1"}}}, handler, 24*time.Hour, nil, nil)
	boundary := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	s.clock = func() time.Time { return boundary.Add(-20 * time.Millisecond) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for handler.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("first sweep did not run at the next boundary")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

type countingCreator struct {
	recipients []string
}

func (c *countingCreator) Create(_ context.Context, input domain.CreateInput) (domain.Notification, error) {
	c.recipients = append(c.recipients, input.Recipient)
	return domain.Notification{ID: input.Recipient, Recipient: input.Recipient, Type: input.Type}, nil
}
