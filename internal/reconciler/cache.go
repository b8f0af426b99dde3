package reconciler

import (
	"sync"
	"time"
)

// PollState tracks how often a stuck transaction has been queried. Attempts
// feeds the backoff schedule; LastChecked anchors the next wait.
type PollState struct {
	Attempts    int
	LastChecked time.Time
}

// PollCache remembers poll state per transaction key between ticks. Entries
// are removed once the transaction reaches a terminal status.
type PollCache interface {
	Get(key string) (PollState, bool)
	Put(key string, state PollState)
	Remove(key string)
}

// MemoryPollCache is the mutex-guarded in-process cache. Poll state is cheap
// to lose: a restart only means stuck transactions are polled immediately.
type MemoryPollCache struct {
	mu     sync.Mutex
	states map[string]PollState
}

// NewMemoryPollCache builds an empty cache.
func NewMemoryPollCache() *MemoryPollCache {
	return &MemoryPollCache{states: make(map[string]PollState)}
}

func (c *MemoryPollCache) Get(key string) (PollState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.states[key]
	return state, ok
}

func (c *MemoryPollCache) Put(key string, state PollState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.states[key] = state
}

func (c *MemoryPollCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, key)
}
