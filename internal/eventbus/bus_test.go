package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

type fakeStatus struct{ value string }

func (f fakeStatus) SnapshotStatus() any { return map[string]string{"state": f.value} }

// newTestSubscriber builds a Subscriber with no live connection: its
// sendCh can be drained directly from the test goroutine. It must never
// be passed to NewSubscriber's pumps.
func newTestSubscriber() *Subscriber {
	return &Subscriber{
		sendCh: make(chan []byte, 256),
		doneCh: make(chan struct{}),
	}
}

func (s *Subscriber) nextPayload(t *testing.T) diffusion.Event {
	t.Helper()
	select {
	case payload := <-s.sendCh:
		var ev diffusion.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("failed to unmarshal event payload: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return diffusion.Event{}
	}
}

func TestSubscribeSendsInitialStatus(t *testing.T) {
	b := New(fakeStatus{value: "idle"}, nil)
	go b.Run()
	defer b.Stop()

	sub := newTestSubscriber()
	b.Subscribe(sub)

	ev := sub.nextPayload(t)
	if ev.Type != diffusion.EventServerStatus {
		t.Fatalf("expected server_status on subscribe, got %s", ev.Type)
	}
}

func TestBroadcastFansOutToAllSubscribers(t *testing.T) {
	b := New(nil, nil)
	go b.Run()
	defer b.Stop()

	a, c := newTestSubscriber(), newTestSubscriber()
	b.Subscribe(a)
	b.Subscribe(c)

	b.Broadcast(diffusion.EventJobAdded, "job-1", map[string]string{"job_id": "job-1"})

	for _, sub := range []*Subscriber{a, c} {
		ev := sub.nextPayload(t)
		if ev.Type != diffusion.EventJobAdded {
			t.Fatalf("expected job_added, got %s", ev.Type)
		}
	}
}

func TestBroadcastRateLimitsProgressPerJob(t *testing.T) {
	b := New(nil, nil)
	go b.Run()
	defer b.Stop()

	sub := newTestSubscriber()
	b.Subscribe(sub)

	b.Broadcast(diffusion.EventJobProgress, "job-1", map[string]int{"step": 1})
	first := sub.nextPayload(t)
	if first.Type != diffusion.EventJobProgress {
		t.Fatalf("expected job_progress, got %s", first.Type)
	}

	b.Broadcast(diffusion.EventJobProgress, "job-1", map[string]int{"step": 2})
	select {
	case <-sub.sendCh:
		t.Fatalf("expected second immediate progress event to be rate-limited")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil, nil)
	go b.Run()
	defer b.Stop()

	sub := newTestSubscriber()
	b.Subscribe(sub)
	b.Unsubscribe(sub)

	if b.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after unsubscribe, got %d", b.SubscriberCount())
	}

	b.Broadcast(diffusion.EventJobAdded, "job-1", nil)
	select {
	case <-sub.sendCh:
		t.Fatalf("unsubscribed subscriber should not receive events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastDoesNotBlockWhenQueueFull(t *testing.T) {
	b := New(nil, nil)
	// Deliberately do not start Run: the queue will fill and Broadcast
	// must still return immediately rather than blocking the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < queueCapacity+10; i++ {
			b.Broadcast(diffusion.EventJobStatusChanged, "job-1", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Broadcast blocked with a full queue and no consumer")
	}
}
