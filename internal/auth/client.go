package auth

import (
	"context"
	"fmt"
	"sync"
)

// Provider verifies credentials and issues identities.
type Provider interface {
	Register(ctx context.Context, email string, password string) (Identity, error)
	Authenticate(ctx context.Context, email string, password string) (Identity, error)
}

// StateHandler receives the signed-in identity, or nil after sign out.
type StateHandler func(identity *Identity)

// Client tracks the identity signed in for one process and notifies listeners
// whenever it changes.
type Client struct {
	provider Provider

	mu        sync.Mutex
	current   *Identity
	listeners map[int64]*stateListener
	nextID    int64
}

// NewClient constructs a Client over the provided credential provider.
func NewClient(provider Provider) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("auth: provider required")
	}
	return &Client{
		provider:  provider,
		listeners: make(map[int64]*stateListener),
	}, nil
}

// CreateIdentity registers a new identity and signs it in.
func (c *Client) CreateIdentity(ctx context.Context, email string, password string) (Identity, error) {
	identity, err := c.provider.Register(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	c.setCurrent(&identity)
	return identity, nil
}

// Authenticate verifies credentials and signs the identity in.
func (c *Client) Authenticate(ctx context.Context, email string, password string) (Identity, error) {
	identity, err := c.provider.Authenticate(ctx, email, password)
	if err != nil {
		return Identity{}, err
	}
	c.setCurrent(&identity)
	return identity, nil
}

// SignOut clears the signed-in identity.
func (c *Client) SignOut(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.setCurrent(nil)
	return nil
}

// CurrentIdentity returns the signed-in identity, if any.
func (c *Client) CurrentIdentity() (Identity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Identity{}, false
	}
	return *c.current, true
}

// OnAuthStateChange registers handler and immediately queues the current state.
// Notifications for one handler are delivered in order on a single goroutine.
// The returned function unregisters the handler and may be called repeatedly.
func (c *Client) OnAuthStateChange(handler StateHandler) func() {
	if handler == nil {
		return func() {}
	}
	listener := newStateListener(handler)

	c.mu.Lock()
	c.nextID++
	listenerID := c.nextID
	c.listeners[listenerID] = listener
	listener.push(cloneIdentity(c.current))
	c.mu.Unlock()

	go listener.run()

	return func() {
		listener.once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, listenerID)
			c.mu.Unlock()
			close(listener.done)
		})
	}
}

func (c *Client) setCurrent(next *Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sameIdentity(c.current, next) {
		c.current = cloneIdentity(next)
		return
	}
	c.current = cloneIdentity(next)
	for _, listener := range c.listeners {
		listener.push(cloneIdentity(next))
	}
}

type stateListener struct {
	handler StateHandler
	mu      sync.Mutex
	queue   []*Identity
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newStateListener(handler StateHandler) *stateListener {
	return &stateListener{
		handler: handler,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (l *stateListener) push(identity *Identity) {
	l.mu.Lock()
	l.queue = append(l.queue, identity)
	l.mu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *stateListener) pop() (*Identity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil, false
	}
	next := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return next, true
}

func (l *stateListener) run() {
	for {
		select {
		case <-l.done:
			return
		case <-l.signal:
		}
		for {
			identity, ok := l.pop()
			if !ok {
				break
			}
			select {
			case <-l.done:
				return
			default:
			}
			l.handler(identity)
		}
	}
}
