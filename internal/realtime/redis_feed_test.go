package realtime

import (
	"context"
	"testing"
	"time"

	mr "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRedisFeed(t *testing.T) *RedisFeed {
	t.Helper()
	m, err := mr.Run()
	require.NoError(t, err)
	t.Cleanup(m.Close)

	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	feed, err := NewRedisFeed(RedisFeedConfig{Client: client})
	require.NoError(t, err)
	return feed
}

func TestRedisFeedDeliversPublishedEvents(t *testing.T) {
	feed := newTestRedisFeed(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, cleanup := feed.Subscribe(ctx, "posts")
	defer cleanup()

	published := Event{Topic: "posts", Kind: "deleted", SubjectIDs: []string{"post-1"}, Timestamp: time.Now().UTC().Truncate(time.Millisecond)}
	require.NoError(t, feed.Publish(ctx, published))

	select {
	case received := <-stream:
		require.Equal(t, published.Kind, received.Kind)
		require.Equal(t, published.SubjectIDs, received.SubjectIDs)
		require.True(t, published.Timestamp.Equal(received.Timestamp))
	case <-time.After(2 * time.Second):
		t.Fatal("expected redis event within deadline")
	}
}

func TestRedisFeedCleanupClosesStream(t *testing.T) {
	feed := newTestRedisFeed(t)

	stream, cleanup := feed.Subscribe(context.Background(), "posts")
	cleanup()
	cleanup()

	select {
	case _, ok := <-stream:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("expected stream to close after cleanup")
	}
}

func TestNewRedisFeedRequiresClient(t *testing.T) {
	_, err := NewRedisFeed(RedisFeedConfig{})
	require.Error(t, err)
}
