package guard

import (
	"sort"
	"sync"

	"agentbox/internal/metrics"
)

// BuildSlots caps how many deployments may build at once.
type BuildSlots struct {
	max     int
	metrics *metrics.Metrics

	mu     sync.Mutex
	active map[string]struct{}
}

// NewBuildSlots returns a semaphore with max slots. m may be nil.
func NewBuildSlots(max int, m *metrics.Metrics) *BuildSlots {
	return &BuildSlots{
		max:     max,
		metrics: m,
		active:  make(map[string]struct{}),
	}
}

// Acquire takes a slot for id. It fails without side effects when every
// slot is taken or id already holds one.
func (b *BuildSlots) Acquire(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, held := b.active[id]; held {
		return false
	}
	if len(b.active) >= b.max {
		return false
	}
	b.active[id] = struct{}{}
	b.metrics.SetBuildSlots(len(b.active))
	return true
}

// Release frees the slot held by id. Releasing a free slot is a no-op.
func (b *BuildSlots) Release(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.active, id)
	b.metrics.SetBuildSlots(len(b.active))
}

// Active returns how many slots are taken.
func (b *BuildSlots) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.active)
}

// Max returns the slot count.
func (b *BuildSlots) Max() int {
	return b.max
}

// Holders lists the ids holding a slot, sorted.
func (b *BuildSlots) Holders() []string {
	b.mu.Lock()
	ids := make([]string, 0, len(b.active))
	for id := range b.active {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	sort.Strings(ids)
	return ids
}
