package redisrelay

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/taskhub/internal/services/notifications/dispatch"
	"github.com/louisbranch/taskhub/internal/services/notifications/domain"
)

type memoryBroker struct {
	mu          sync.Mutex
	subscribers []chan string
	publishErr  error
}

func (b *memoryBroker) Publish(_ context.Context, _ string, payload string) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subscribers {
		sub <- payload
	}
	return nil
}

func (b *memoryBroker) Subscribe(ctx context.Context, _ string) (<-chan string, error) {
	ch := make(chan string, 16)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch, nil
}

func (b *memoryBroker) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

type recordingDeliverer struct {
	mu  sync.Mutex
	ids []string
}

func (d *recordingDeliverer) Deliver(_ context.Context, n domain.Notification) dispatch.Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, n.ID)
	return dispatch.Delivered
}

func (d *recordingDeliverer) delivered() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.ids...)
}

func TestRelayFansOutToEveryInstance(t *testing.T) {
	t.Parallel()

	broker := &memoryBroker{}
	localA := &recordingDeliverer{}
	localB := &recordingDeliverer{}
	relayA := New(broker, localA, "a", nil)
	relayB := New(broker, localB, "b", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relayA.Run(ctx) }()
	go func() { _ = relayB.Run(ctx) }()
	waitFor(t, func() bool { return broker.subscriberCount() == 2 })

	outcome := relayA.Deliver(context.Background(), domain.Notification{ID: "notif-1", Recipient: "user-1"})
	if outcome != dispatch.Delivered {
		t.Fatalf("outcome = %s", outcome)
	}
	waitFor(t, func() bool { return len(localA.delivered()) == 1 && len(localB.delivered()) == 1 })
}

func TestRelayOriginDeliversOnce(t *testing.T) {
	t.Parallel()

	broker := &memoryBroker{}
	localA := &recordingDeliverer{}
	relayA := New(broker, localA, "a", nil)
	relayB := New(broker, &recordingDeliverer{}, "b", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relayA.Run(ctx) }()
	waitFor(t, func() bool { return broker.subscriberCount() == 1 })

	relayA.Deliver(ctx, domain.Notification{ID: "notif-1", Recipient: "user-1"})
	if got := localA.delivered(); len(got) != 1 || got[0] != "notif-1" {
		t.Fatalf("origin deliveries = %v", got)
	}
	// notif-2 is queued behind notif-1 on the subscription, so once it lands
	// the echo of notif-1 has been consumed.
	relayB.Deliver(ctx, domain.Notification{ID: "notif-2", Recipient: "user-1"})
	waitFor(t, func() bool { return len(localA.delivered()) >= 2 })
	if got := localA.delivered(); len(got) != 2 || got[0] != "notif-1" || got[1] != "notif-2" {
		t.Fatalf("deliveries = %v, want [notif-1 notif-2]", got)
	}
}

func TestRelayFallsBackToLocalDelivery(t *testing.T) {
	t.Parallel()

	local := &recordingDeliverer{}
	relay := New(&memoryBroker{publishErr: errors.New("redis down")}, local, "a", nil)
	relay.Deliver(context.Background(), domain.Notification{ID: "notif-1", Recipient: "user-1"})
	if got := local.delivered(); len(got) != 1 || got[0] != "notif-1" {
		t.Fatalf("local deliveries = %v", got)
	}
}

func TestRelaySkipsMalformedMessages(t *testing.T) {
	t.Parallel()

	broker := &memoryBroker{}
	local := &recordingDeliverer{}
	relay := New(broker, local, "a", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()
	waitFor(t, func() bool { return broker.subscriberCount() == 1 })

	_ = broker.Publish(ctx, DefaultChannel, "{not json")
	peer := New(broker, &recordingDeliverer{}, "b", nil)
	peer.Deliver(ctx, domain.Notification{ID: "notif-2", Recipient: "user-1"})
	waitFor(t, func() bool { return len(local.delivered()) == 1 })
	if got := local.delivered(); got[0] != "notif-2" {
		t.Fatalf("delivered = %v", got)
	}
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("TASKHUB_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("TASKHUB_TEST_REDIS_ADDR not set")
	}
	broker, err := NewRedisBroker(Options{Addr: addr})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	messages, err := broker.Subscribe(ctx, "taskhub:test")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := broker.Publish(ctx, "taskhub:test", "hello"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case got := <-messages:
		if got != "hello" {
			t.Fatalf("payload = %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestNewRedisBrokerRequiresAddr(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisBroker(Options{}); err == nil {
		t.Fatal("expected addr error")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
