// Package guard decides whether a request may reach the control plane:
// per-client rate limits, an IP allow-list, build-slot admission and input
// sanitizers. Every check returns a decision; none of them fail.
package guard

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = 5 * time.Minute

// Decision is the outcome of one rate-limit check plus what a caller needs
// for X-RateLimit-* headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter admits or rejects requests per client key.
type Limiter interface {
	Allow(ctx context.Context, client string) Decision
	Close() error
}

// RateLimiter is an in-memory sliding-window limiter. Each client keeps a
// queue of admitted request times; a request is admitted while fewer than
// maxRequests fall inside the window.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	now         func() time.Time

	mu      sync.Mutex
	clients map[string][]time.Time

	stopCh chan struct{}
	done   chan struct{} // nil when no sweep is running
	once   sync.Once
}

// NewRateLimiter starts a limiter and its background sweep. Call Close to
// stop the sweep.
func NewRateLimiter(maxRequests int, window time.Duration) *RateLimiter {
	rl := newRateLimiter(maxRequests, window, time.Now)
	rl.done = make(chan struct{})
	go rl.sweepLoop()
	return rl
}

func newRateLimiter(maxRequests int, window time.Duration, now func() time.Time) *RateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		now:         now,
		clients:     make(map[string][]time.Time),
		stopCh:      make(chan struct{}),
	}
}

// Allow checks and, on admission, records a request for client.
func (rl *RateLimiter) Allow(_ context.Context, client string) Decision {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	q := rl.evict(client, now)
	d := Decision{Limit: rl.maxRequests}
	if rl.maxRequests <= 0 || len(q) < rl.maxRequests {
		q = append(q, now)
		rl.clients[client] = q
		d.Allowed = true
	}
	d.Remaining = max(rl.maxRequests-len(q), 0)
	d.ResetAt = rl.resetLocked(q, now)
	return d
}

// IsAllowed is Allow without the details.
func (rl *RateLimiter) IsAllowed(client string) bool {
	return rl.Allow(context.Background(), client).Allowed
}

// Remaining returns how many more requests client may make in the current
// window.
func (rl *RateLimiter) Remaining(client string) int {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	q := rl.evict(client, now)
	return max(rl.maxRequests-len(q), 0)
}

// ResetTime returns when the oldest request of client leaves the window.
// A client with no requests in the window resets now.
func (rl *RateLimiter) ResetTime(client string) time.Time {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.resetLocked(rl.evict(client, now), now)
}

// Clients returns the number of clients currently tracked.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Close stops the background sweep and waits for it to exit.
func (rl *RateLimiter) Close() error {
	rl.once.Do(func() {
		close(rl.stopCh)
	})
	if rl.done != nil {
		<-rl.done
	}
	return nil
}

// evict drops timestamps that left the window. Callers hold rl.mu.
func (rl *RateLimiter) evict(client string, now time.Time) []time.Time {
	q := rl.clients[client]
	i := 0
	for i < len(q) && now.Sub(q[i]) >= rl.window {
		i++
	}
	if i == 0 {
		return q
	}
	q = q[i:]
	if len(q) == 0 {
		delete(rl.clients, client)
		return nil
	}
	rl.clients[client] = q
	return q
}

func (rl *RateLimiter) resetLocked(q []time.Time, now time.Time) time.Time {
	if len(q) == 0 {
		return now
	}
	return q[0].Add(rl.window)
}

func (rl *RateLimiter) sweepLoop() {
	defer close(rl.done)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(rl.now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup evicts stale timestamps for every client and forgets clients
// whose queue is empty.
func (rl *RateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for client := range rl.clients {
		rl.evict(client, now)
	}
}
