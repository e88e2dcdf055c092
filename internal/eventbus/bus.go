// Package eventbus broadcasts typed events from worker/loader goroutines
// to every subscribed WebSocket client (C1). Producers never block: they
// hand an event to a buffered queue and a single event-loop goroutine
// drains it and fans out to subscribers, which is what keeps broadcast
// calls cheap even when called deep inside the worker's progress hook.
package eventbus

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// StatusProvider synthesizes the server_status payload sent to a client
// on connect, on {"type":"get_status"}, and whenever the owner chooses.
type StatusProvider interface {
	SnapshotStatus() any
}

const queueCapacity = 1024

// queuedEvent pairs an event with the job id used for rate-limit keying,
// empty for non-job events.
type queuedEvent struct {
	event diffusion.Event
	jobID string
}

// Bus is the process-wide event broadcaster. Construct one with New and
// call Run in its own goroutine before any Broadcast call.
type Bus struct {
	logger *slog.Logger
	status StatusProvider

	mu          sync.Mutex
	subscribers map[*Subscriber]struct{}
	queue       chan queuedEvent
	limiter     *rateLimiter

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a Bus. If logger is nil, slog.Default() is used.
func New(status StatusProvider, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:      logger,
		status:      status,
		subscribers: make(map[*Subscriber]struct{}),
		queue:       make(chan queuedEvent, queueCapacity),
		limiter:     newRateLimiter(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Run drains the internal queue and fans out to subscribers until
// RequestStop is called. It must run on its own goroutine; all sends to
// subscribers happen here, never on the producer's goroutine.
func (b *Bus) Run() {
	defer close(b.doneCh)
	for {
		select {
		case qe := <-b.queue:
			b.dispatch(qe.event)
		case <-b.stopCh:
			// Drain whatever is already queued before exiting so a burst of
			// broadcasts right before shutdown isn't silently dropped.
			for {
				select {
				case qe := <-b.queue:
					b.dispatch(qe.event)
				default:
					b.closeAll()
					return
				}
			}
		}
	}
}

// Broadcast enqueues an event for delivery. It never blocks: if the
// internal queue is full the event is dropped and logged, which can only
// happen under sustained extreme load since the queue is generously
// sized. jobID is used only for per-job rate limiting of job_progress and
// job_preview; pass "" for every other event type.
func (b *Bus) Broadcast(eventType diffusion.EventType, jobID string, data any) {
	if !b.limiter.allow(eventType, jobID) {
		return
	}
	ev := diffusion.Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data}
	select {
	case b.queue <- queuedEvent{event: ev, jobID: jobID}:
	default:
		b.logger.Warn("event bus queue full, dropping event", "event", eventType)
	}
}

// dispatch writes ev to every currently open subscriber, in broadcast
// order, on the event-loop goroutine only.
func (b *Bus) dispatch(ev diffusion.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to marshal event", "event", ev.Type, "error", err)
		return
	}

	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		if !s.send(payload) {
			b.Unsubscribe(s)
		}
	}
}

// Subscribe registers conn and immediately queues a server_status
// snapshot for it.
func (b *Bus) Subscribe(s *Subscriber) {
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()

	if b.status != nil {
		payload, err := json.Marshal(diffusion.Event{
			Type:      diffusion.EventServerStatus,
			Timestamp: time.Now().UTC(),
			Data:      b.status.SnapshotStatus(),
		})
		if err == nil {
			s.send(payload)
		}
	}
}

// Unsubscribe removes and closes s. Safe to call more than once.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	_, ok := b.subscribers[s]
	delete(b.subscribers, s)
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

// SubscriberCount reports the number of currently connected clients, used
// by the /metrics gauge.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Bus) closeAll() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.subscribers = make(map[*Subscriber]struct{})
	b.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
}

// RequestStop is safe to call from a signal handler: it only sets a flag
// and closes a channel, doing no I/O itself.
func (b *Bus) RequestStop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
}

// Stop requests shutdown and waits up to 5s for the event loop to drain
// and close every subscriber.
func (b *Bus) Stop() {
	b.RequestStop()
	select {
	case <-b.doneCh:
	case <-time.After(5 * time.Second):
		b.logger.Warn("event bus did not stop within timeout, detaching")
	}
}
