package posts

import (
	"sync"
	"time"
)

// ServerClock assigns strictly increasing commit timestamps within a process.
type ServerClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
}

// NewServerClock constructs a ServerClock over now, defaulting to time.Now.
func NewServerClock(now func() time.Time) *ServerClock {
	if now == nil {
		now = time.Now
	}
	return &ServerClock{now: now}
}

// Next returns the next commit timestamp in Unix nanoseconds.
func (c *ServerClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.now().UnixNano()
	if next <= c.last {
		next = c.last + 1
	}
	c.last = next
	return next
}
