package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSession struct {
	id       string
	lastSeen time.Time
	closed   bool
}

func (s *fakeSession) ID() string          { return s.id }
func (s *fakeSession) Send(any) error      { return nil }
func (s *fakeSession) LastSeen() time.Time { return s.lastSeen }
func (s *fakeSession) Close() error        { s.closed = true; return nil }

func TestRegisterSupportsMultipleSessionsPerIdentity(t *testing.T) {
	t.Parallel()

	r := New()
	tabA := &fakeSession{id: "tab-a"}
	tabB := &fakeSession{id: "tab-b"}
	other := &fakeSession{id: "other"}
	for _, reg := range []struct {
		identity string
		session  Session
	}{{"user-3", tabA}, {"user-3", tabB}, {"user-4", other}} {
		if err := r.Register(reg.identity, reg.session); err != nil {
			t.Fatalf("register %s: %v", reg.session.ID(), err)
		}
	}

	sessions := r.SessionsFor("user-3")
	if len(sessions) != 2 || sessions[0].ID() != "tab-a" || sessions[1].ID() != "tab-b" {
		t.Fatalf("sessions = %v", sessionIDs(sessions))
	}
	if len(r.All()) != 3 {
		t.Fatalf("all = %d, want 3", len(r.All()))
	}
	if r.Len() != 3 || r.Identities() != 2 {
		t.Fatalf("len/identities = %d/%d, want 3/2", r.Len(), r.Identities())
	}
	if got := r.SessionsFor("user-9"); len(got) != 0 {
		t.Fatalf("unknown identity sessions = %v", sessionIDs(got))
	}
}

func TestUnregisterRemovesExactlyOneSession(t *testing.T) {
	t.Parallel()

	r := New()
	tabA := &fakeSession{id: "tab-a"}
	tabB := &fakeSession{id: "tab-b"}
	_ = r.Register("user-3", tabA)
	_ = r.Register("user-3", tabB)

	if !r.Unregister(tabA) {
		t.Fatal("expected tab-a to be unregistered")
	}
	if r.Unregister(tabA) {
		t.Fatal("second unregister should report false")
	}
	if got := sessionIDs(r.SessionsFor("user-3")); fmt.Sprint(got) != "[tab-b]" {
		t.Fatalf("sessions = %v", got)
	}
	r.Unregister(tabB)
	if r.Identities() != 0 || r.Len() != 0 {
		t.Fatalf("expected empty registry, got %d/%d", r.Len(), r.Identities())
	}
	if _, ok := r.IdentityOf(tabB); ok {
		t.Fatal("reverse index still holds tab-b")
	}
}

func TestRegisterMovesSessionBetweenIdentities(t *testing.T) {
	t.Parallel()

	r := New()
	s := &fakeSession{id: "tab"}
	_ = r.Register("user-1", s)
	_ = r.Register("user-1", s)
	if r.Len() != 1 {
		t.Fatalf("duplicate register grew registry to %d", r.Len())
	}
	_ = r.Register("user-2", s)
	if len(r.SessionsFor("user-1")) != 0 {
		t.Fatal("session still joined to previous identity")
	}
	if identity, _ := r.IdentityOf(s); identity != "user-2" {
		t.Fatalf("identity = %q, want user-2", identity)
	}
}

func TestRegisterValidation(t *testing.T) {
	t.Parallel()

	r := New()
	if err := r.Register(" ", &fakeSession{id: "x"}); err != ErrIdentityRequired {
		t.Fatalf("error = %v, want ErrIdentityRequired", err)
	}
	if err := r.Register("user-1", nil); err != ErrSessionRequired {
		t.Fatalf("error = %v, want ErrSessionRequired", err)
	}
}

func TestSessionsForReturnsSnapshot(t *testing.T) {
	t.Parallel()

	r := New()
	s := &fakeSession{id: "tab"}
	_ = r.Register("user-1", s)
	snapshot := r.SessionsFor("user-1")
	r.Unregister(s)
	if len(snapshot) != 1 || snapshot[0].ID() != "tab" {
		t.Fatalf("snapshot changed after unregister: %v", sessionIDs(snapshot))
	}
}

func TestPruneRemovesIdleSessions(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 21, 20, 0, 0, 0, time.UTC)
	var sizes []int
	r := New(WithChangeHook(func(sessions int, _ int) { sizes = append(sizes, sessions) }))
	fresh := &fakeSession{id: "fresh", lastSeen: now.Add(-time.Second)}
	stale := &fakeSession{id: "stale", lastSeen: now.Add(-2 * time.Minute)}
	_ = r.Register("user-1", fresh)
	_ = r.Register("user-1", stale)

	pruned := r.Prune(now, time.Minute)
	if len(pruned) != 1 || pruned[0].ID() != "stale" {
		t.Fatalf("pruned = %v", sessionIDs(pruned))
	}
	if got := sessionIDs(r.SessionsFor("user-1")); fmt.Sprint(got) != "[fresh]" {
		t.Fatalf("remaining = %v", got)
	}
	if fmt.Sprint(sizes) != "[1 2 1]" {
		t.Fatalf("change hook sizes = %v", sizes)
	}
}

func TestConcurrentRegisterLookupUnregister(t *testing.T) {
	t.Parallel()

	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := &fakeSession{id: fmt.Sprintf("s-%d", i)}
			identity := fmt.Sprintf("user-%d", i%5)
			_ = r.Register(identity, s)
			for _, session := range r.SessionsFor(identity) {
				_ = session.ID()
			}
			r.Unregister(s)
		}(i)
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("len = %d, want 0", r.Len())
	}
}

func TestLifecycleTransitions(t *testing.T) {
	t.Parallel()

	var l Lifecycle
	if l.State() != StateConnecting {
		t.Fatalf("initial state = %s", l.State())
	}
	if !l.Authenticate() {
		t.Fatal("expected authenticate to succeed")
	}
	if l.Authenticate() {
		t.Fatal("second authenticate should fail")
	}
	if !l.Close() || l.Close() {
		t.Fatal("expected exactly one successful close")
	}
	if l.Authenticate() {
		t.Fatal("closed session must not authenticate")
	}
	if l.State().String() != "closed" {
		t.Fatalf("state = %s, want closed", l.State())
	}
}

func sessionIDs(sessions []Session) []string {
	out := make([]string, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.ID())
	}
	return out
}
