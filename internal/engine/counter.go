package engine

import "sync"

// ConsecutiveFailureCounter tracks a streak of failing health checks.
// One success fully clears prior failures.
type ConsecutiveFailureCounter struct {
	mu     sync.Mutex
	streak int
}

// NewConsecutiveFailureCounter creates a counter with a zero streak.
func NewConsecutiveFailureCounter() *ConsecutiveFailureCounter {
	return &ConsecutiveFailureCounter{}
}

// Observe records one check result and returns the updated streak. The reset
// on success happens under the same lock as the observation, so no partial
// state is ever visible.
func (c *ConsecutiveFailureCounter) Observe(ok bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ok {
		c.streak = 0
	} else {
		c.streak++
	}
	return c.streak
}

// Streak returns the current consecutive-failure count.
func (c *ConsecutiveFailureCounter) Streak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streak
}
