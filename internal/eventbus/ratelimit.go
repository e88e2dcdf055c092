package eventbus

import (
	"sync"
	"time"

	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

// rateLimitWindow holds the minimum interval between broadcasts of a
// given event kind, keyed by event type. Kinds absent from this map are
// never throttled.
var rateLimitWindow = map[diffusion.EventType]time.Duration{
	diffusion.EventJobProgress: 100 * time.Millisecond,
	diffusion.EventJobPreview:  200 * time.Millisecond,
}

// Entries older than this can't suppress anything (it exceeds every
// window in rateLimitWindow), so they are safe to evict.
const staleAfter = time.Second

// Sweep stale entries once the map grows past this many keys, so a
// long-lived server processing many distinct jobs doesn't accumulate
// one timestamp per finished job forever.
const pruneThreshold = 1024

// rateLimiter drops (never queues) broadcasts of a rate-limited kind that
// arrive before the kind's minimum interval has elapsed for that job.
// Dropped progress updates are still observable via polling; dropped
// previews are still retrievable via the preview buffer HTTP endpoint.
type rateLimiter struct {
	mu   sync.Mutex
	last map[string]time.Time // key: eventType + "|" + jobID
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{last: make(map[string]time.Time)}
}

func (r *rateLimiter) allow(eventType diffusion.EventType, jobID string) bool {
	window, limited := rateLimitWindow[eventType]
	if !limited {
		return true
	}

	key := string(eventType) + "|" + jobID
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.last[key]; ok && now.Sub(prev) < window {
		return false
	}
	if len(r.last) >= pruneThreshold {
		r.pruneLocked(now)
	}
	r.last[key] = now
	return true
}

func (r *rateLimiter) pruneLocked(now time.Time) {
	for key, prev := range r.last {
		if now.Sub(prev) >= staleAfter {
			delete(r.last, key)
		}
	}
}
