package realtime

import (
	"context"
	"sync"
)

// Dispatcher is an in-process Feed. Each subscriber holds at most one pending
// event: a publish that finds an undelivered event replaces it, so a slow
// reader wakes once and sees the latest change.
type Dispatcher struct {
	mu     sync.Mutex
	topics map[string]map[*mailbox]struct{}
}

type mailbox struct {
	mu      sync.Mutex
	pending chan Event
}

// offer leaves event as the only pending event in the mailbox.
func (m *mailbox) offer(event Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.pending:
	default:
	}
	m.pending <- event
}

// NewDispatcher constructs an in-process Feed.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{topics: make(map[string]map[*mailbox]struct{})}
}

func (d *Dispatcher) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	box := &mailbox{pending: make(chan Event, 1)}
	if topic == "" {
		close(box.pending)
		return box.pending, func() {}
	}

	d.mu.Lock()
	listeners, ok := d.topics[topic]
	if !ok {
		listeners = make(map[*mailbox]struct{})
		d.topics[topic] = listeners
	}
	listeners[box] = struct{}{}
	d.mu.Unlock()

	stopWatching := context.AfterFunc(ctx, func() { d.drop(topic, box) })
	cleanup := func() {
		stopWatching()
		d.drop(topic, box)
	}
	return box.pending, cleanup
}

func (d *Dispatcher) Publish(_ context.Context, event Event) error {
	if event.Topic == "" || event.Kind == "" {
		return nil
	}
	d.mu.Lock()
	targets := make([]*mailbox, 0, len(d.topics[event.Topic]))
	for box := range d.topics[event.Topic] {
		targets = append(targets, box)
	}
	d.mu.Unlock()

	for _, box := range targets {
		box.offer(event)
	}
	return nil
}

// SubscriberCount reports the number of live subscriptions for topic.
func (d *Dispatcher) SubscriberCount(topic string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.topics[topic])
}

func (d *Dispatcher) drop(topic string, box *mailbox) {
	d.mu.Lock()
	defer d.mu.Unlock()
	listeners := d.topics[topic]
	delete(listeners, box)
	if len(listeners) == 0 {
		delete(d.topics, topic)
	}
}
