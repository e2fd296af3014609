package realtime

import (
	"context"
	"testing"
	"time"
)

func TestDispatcherPublishesToSubscriber(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "posts")
	defer cleanup()

	if err := dispatcher.Publish(ctx, Event{
		Topic:      "posts",
		Kind:       "created",
		SubjectIDs: []string{"post-a", "post-b"},
		Timestamp:  time.Now().UTC(),
	}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case received := <-stream:
		if received.Kind != "created" {
			t.Fatalf("expected kind created, got %s", received.Kind)
		}
		if len(received.SubjectIDs) != 2 {
			t.Fatalf("expected 2 subject ids, got %d", len(received.SubjectIDs))
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event within deadline")
	}
}

func TestDispatcherIsolatesTopics(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	postsStream, cleanup := dispatcher.Subscribe(ctx, "posts")
	defer cleanup()
	usersStream, usersCleanup := dispatcher.Subscribe(ctx, "users")
	defer usersCleanup()

	_ = dispatcher.Publish(ctx, Event{Topic: "users", Kind: "role_changed", Timestamp: time.Now().UTC()})

	select {
	case <-postsStream:
		t.Fatal("did not expect event for unrelated topic")
	case <-time.After(100 * time.Millisecond):
	}

	select {
	case event := <-usersStream:
		if event.Topic != "users" {
			t.Fatalf("expected users topic, received %s", event.Topic)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event for subscribed topic")
	}
}

func TestDispatcherCleanupIsIdempotentAndUnregisters(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, cleanup := dispatcher.Subscribe(ctx, "posts")
	if dispatcher.SubscriberCount("posts") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cleanup()
	cleanup()
	if dispatcher.SubscriberCount("posts") != 0 {
		t.Fatalf("expected subscriber to be removed")
	}
}

func TestDispatcherUnregistersOnContextCancel(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())

	_, _ = dispatcher.Subscribe(ctx, "posts")
	cancel()

	deadline := time.Now().Add(time.Second)
	for dispatcher.SubscriberCount("posts") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expected subscriber to be removed after cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatcherKeepsOnlyLatestEventForSlowSubscribers(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := dispatcher.Subscribe(ctx, "posts")
	defer cleanup()

	for _, kind := range []string{"created", "updated", "deleted"} {
		if err := dispatcher.Publish(ctx, Event{Topic: "posts", Kind: kind}); err != nil {
			t.Fatalf("publish %s failed: %v", kind, err)
		}
	}
	if len(stream) != 1 {
		t.Fatalf("expected a single pending event, got %d", len(stream))
	}
	if event := <-stream; event.Kind != "deleted" {
		t.Fatalf("expected latest event to be pending, got %s", event.Kind)
	}

	if err := dispatcher.Publish(ctx, Event{Topic: "posts", Kind: "updated"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	select {
	case event := <-stream:
		if event.Kind != "updated" {
			t.Fatalf("expected updated event, got %s", event.Kind)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event after the stream was drained")
	}
}

func TestDispatcherPublishesToEverySubscriberOfTopic(t *testing.T) {
	dispatcher := NewDispatcher()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, firstCleanup := dispatcher.Subscribe(ctx, "posts")
	defer firstCleanup()
	second, secondCleanup := dispatcher.Subscribe(ctx, "posts")
	defer secondCleanup()

	_ = dispatcher.Publish(ctx, Event{Topic: "posts", Kind: "created"})
	for index, stream := range []<-chan Event{first, second} {
		select {
		case <-stream:
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %d received nothing", index)
		}
	}
}
