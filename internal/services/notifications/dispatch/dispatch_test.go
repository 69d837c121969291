package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
	"github.com/louisbranch/taskhub/internal/services/notifications/registry"
)

type recordingSession struct {
	id      string
	mu      sync.Mutex
	frames  []Envelope
	sendErr error
	block   chan struct{}
	closed  bool
}

func (s *recordingSession) ID() string          { return s.id }
func (s *recordingSession) LastSeen() time.Time { return time.Now() }

func (s *recordingSession) Send(message any) error {
	if s.block != nil {
		<-s.block
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, message.(Envelope))
	return nil
}

func (s *recordingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSession) received() []Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Envelope(nil), s.frames...)
}

func TestDeliverReachesEverySessionOfRecipient(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	tabA := &recordingSession{id: "tab-a"}
	tabB := &recordingSession{id: "tab-b"}
	bystander := &recordingSession{id: "other"}
	_ = reg.Register("user-3", tabA)
	_ = reg.Register("user-3", tabB)
	_ = reg.Register("user-4", bystander)

	d := New(reg, nil, nil)
	record := domain.Notification{ID: "notif-1", Recipient: "user-3", Type: domain.TypeTaskAssigned}
	if outcome := d.Deliver(context.Background(), record); outcome != Delivered {
		t.Fatalf("outcome = %s, want delivered", outcome)
	}
	d.Wait()

	for _, s := range []*recordingSession{tabA, tabB} {
		frames := s.received()
		if len(frames) != 1 {
			t.Fatalf("%s frames = %d, want 1", s.id, len(frames))
		}
		payload, ok := frames[0].Payload.(domain.Notification)
		if frames[0].Event != EventNotification || !ok || payload.ID != "notif-1" {
			t.Fatalf("%s frame = %+v", s.id, frames[0])
		}
	}
	if got := bystander.received(); len(got) != 0 {
		t.Fatalf("bystander received %d frames", len(got))
	}
}

func TestDeliverWithoutSessionsIsNoop(t *testing.T) {
	t.Parallel()

	d := New(registry.New(), nil, nil)
	if outcome := d.Deliver(context.Background(), domain.Notification{ID: "notif-1", Recipient: "user-1"}); outcome != DeliveryNoop {
		t.Fatalf("outcome = %s, want noop", outcome)
	}
}

func TestDeliverDoesNotWaitForSlowSession(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	slow := &recordingSession{id: "slow", block: make(chan struct{})}
	fast := &recordingSession{id: "fast"}
	_ = reg.Register("user-1", slow)
	_ = reg.Register("user-1", fast)

	d := New(reg, nil, nil)
	returned := make(chan struct{})
	go func() {
		d.Deliver(context.Background(), domain.Notification{ID: "notif-1", Recipient: "user-1"})
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked on a slow session")
	}

	deadline := time.After(2 * time.Second)
	for len(fast.received()) == 0 {
		select {
		case <-deadline:
			t.Fatal("fast session never received the push")
		case <-time.After(5 * time.Millisecond):
		}
	}
	close(slow.block)
	d.Wait()
	if len(slow.received()) != 1 {
		t.Fatal("slow session eventually should receive the push")
	}
}

func TestDeliverDropsFailingSession(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	broken := &recordingSession{id: "broken", sendErr: errors.New("broken pipe")}
	healthy := &recordingSession{id: "healthy"}
	_ = reg.Register("user-1", broken)
	_ = reg.Register("user-1", healthy)

	d := New(reg, nil, nil)
	d.Deliver(context.Background(), domain.Notification{ID: "notif-1", Recipient: "user-1"})
	d.Wait()

	sessions := reg.SessionsFor("user-1")
	if len(sessions) != 1 || sessions[0].ID() != "healthy" {
		t.Fatalf("remaining sessions = %d", len(sessions))
	}
	broken.mu.Lock()
	closed := broken.closed
	broken.mu.Unlock()
	if !closed {
		t.Fatal("expected failing session to be closed")
	}
	if len(healthy.received()) != 1 {
		t.Fatal("healthy session missed the push")
	}
}
