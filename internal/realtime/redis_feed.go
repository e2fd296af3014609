package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultChannelPrefix = "quill:feed:"
	defaultBufferSize    = 16
)

// RedisFeedConfig configures a RedisFeed.
type RedisFeedConfig struct {
	Client        *redis.Client
	ChannelPrefix string
	BufferSize    int
	Logger        *zap.Logger
}

// RedisFeed is a Feed over Redis pub/sub, shared by every API process
// connected to the same Redis instance.
type RedisFeed struct {
	client     *redis.Client
	prefix     string
	bufferSize int
	logger     *zap.Logger
}

// NewRedisFeed constructs a Redis-backed Feed.
func NewRedisFeed(cfg RedisFeedConfig) (*RedisFeed, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("realtime: redis client required")
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisFeed{client: cfg.Client, prefix: prefix, bufferSize: bufferSize, logger: logger}, nil
}

func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	if event.Topic == "" || event.Kind == "" {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.prefix+event.Topic, payload).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, topic string) (<-chan Event, func()) {
	out := make(chan Event, f.bufferSize)
	if topic == "" {
		close(out)
		return out, func() {}
	}

	subCtx, cancel := context.WithCancel(ctx)
	pubsub := f.client.Subscribe(subCtx, f.prefix+topic)
	if _, err := pubsub.Receive(subCtx); err != nil {
		f.logger.Error("realtime subscription failed", zap.String("topic", topic), zap.Error(err))
		cancel()
		_ = pubsub.Close()
		close(out)
		return out, func() {}
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			cancel()
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				cleanup()
				return
			case message, ok := <-messages:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(message.Payload), &event); err != nil {
					f.logger.Warn("realtime payload rejected", zap.String("topic", topic), zap.Error(err))
					continue
				}
				select {
				case out <- event:
				default:
				}
			}
		}
	}()

	return out, cleanup
}
