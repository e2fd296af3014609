package realtime

import (
	"context"
	"time"
)

// Event announces a committed change on a topic.
type Event struct {
	Topic      string    `json:"topic"`
	Kind       string    `json:"kind"`
	SubjectIDs []string  `json:"subject_ids,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Feed fans change events out to subscribers.
type Feed interface {
	Publish(ctx context.Context, event Event) error
	// Subscribe streams events for topic until ctx ends or the returned
	// cleanup function runs. Slow subscribers may miss events.
	Subscribe(ctx context.Context, topic string) (<-chan Event, func())
}
