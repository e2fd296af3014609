package posts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/apperr"
	"github.com/MarcoPoloResearchLab/quill/internal/ids"
	"github.com/MarcoPoloResearchLab/quill/internal/metrics"
	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"github.com/MarcoPoloResearchLab/quill/internal/realtime"
	"go.uber.org/zap"
)

// TopicPosts is the realtime topic carrying post changes.
const TopicPosts = "posts"

// Change kinds published on TopicPosts.
const (
	EventCreated = "created"
	EventUpdated = "updated"
	EventDeleted = "deleted"
)

const (
	opGatewayNew = "posts.gateway.new"
	opCreate     = "posts.create"
	opList       = "posts.list"
	opSubscribe  = "posts.subscribe"
	opGet        = "posts.get"
	opUpdate     = "posts.update"
	opDelete     = "posts.delete"
)

const outcomeOK = "ok"

var (
	errMissingRepository = errors.New("post repository is required")
	errMissingRoles      = errors.New("role resolver is required")
	errMissingFeed       = errors.New("realtime feed is required")
)

// RoleResolver looks up the role of a caller. A caller without a profile is a user.
type RoleResolver interface {
	RoleOf(ctx context.Context, userID string) (profiles.Role, error)
}

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// GatewayConfig describes the dependencies of the post gateway.
type GatewayConfig struct {
	Repository Repository
	Roles      RoleResolver
	Feed       realtime.Feed
	IDProvider ids.Provider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Gateway is the single point through which posts are read and mutated.
type Gateway struct {
	repo       Repository
	roles      RoleResolver
	feed       realtime.Feed
	idProvider ids.Provider
	clock      func() time.Time
	logger     *zap.Logger
}

// NewGateway constructs a post gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.Repository == nil {
		return nil, apperr.New(apperr.KindInvalid, opGatewayNew, "missing_repository", "", errMissingRepository)
	}
	if cfg.Roles == nil {
		return nil, apperr.New(apperr.KindInvalid, opGatewayNew, "missing_roles", "", errMissingRoles)
	}
	if cfg.Feed == nil {
		return nil, apperr.New(apperr.KindInvalid, opGatewayNew, "missing_feed", "", errMissingFeed)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		repo:       cfg.Repository,
		roles:      cfg.Roles,
		feed:       cfg.Feed,
		idProvider: idProvider,
		clock:      clock,
		logger:     logger,
	}, nil
}

// Create stores a new post authored by authorID and returns its id.
func (g *Gateway) Create(ctx context.Context, draft Draft, authorID string) (string, error) {
	author, err := normalizeIdentifier(authorID, ErrInvalidAuthorID)
	if err != nil {
		return "", g.fail(opCreate, apperr.New(apperr.KindInvalid, opCreate, "invalid_author", "author id is required", err))
	}
	postID, err := g.idProvider.NewID()
	if err != nil {
		g.logError(opCreate, "id_generation_failed", err)
		return "", g.fail(opCreate, apperr.Backend(opCreate, "id_generation_failed", err))
	}

	post := Post{
		ID:          postID,
		Title:       draft.Title,
		SubTitle:    draft.SubTitle,
		Content:     draft.Content,
		Category:    draft.Category,
		ImageURL:    draft.ImageURL,
		AuthorID:    author,
		IsPublished: draft.IsPublished,
		CreatedAt:   formatCreatedAt(g.clock()),
	}
	if err := g.repo.Insert(ctx, &post); err != nil {
		g.logError(opCreate, "insert_failed", err, zap.String("author_id", author))
		return "", g.fail(opCreate, apperr.Backend(opCreate, "insert_failed", err))
	}

	g.publish(ctx, EventCreated, postID)
	g.succeed(opCreate)
	return postID, nil
}

// List returns every committed post, newest commit first.
func (g *Gateway) List(ctx context.Context) ([]Post, error) {
	posts, err := g.listOrdered(ctx)
	if err != nil {
		g.logError(opList, "query_failed", err)
		return nil, g.fail(opList, apperr.Backend(opList, "query_failed", err))
	}
	g.succeed(opList)
	return posts, nil
}

// Subscribe invokes onChange with the full ordered list now and after every
// change. Invocations for one subscription never overlap. Cancelling ctx has
// the same effect as calling the returned Unsubscribe.
func (g *Gateway) Subscribe(ctx context.Context, onChange func([]Post)) (Unsubscribe, error) {
	if onChange == nil {
		return nil, apperr.New(apperr.KindInvalid, opSubscribe, "missing_callback", "change callback is required", nil)
	}

	subCtx, cancel := context.WithCancel(ctx)
	events, release := g.feed.Subscribe(subCtx, TopicPosts)

	initial, err := g.listOrdered(ctx)
	if err != nil {
		cancel()
		release()
		g.logError(opSubscribe, "initial_query_failed", err)
		return nil, g.fail(opSubscribe, apperr.Backend(opSubscribe, "initial_query_failed", err))
	}

	sub := &subscription{onChange: onChange}
	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			sub.stop()
			cancel()
			release()
		})
	}

	go func() {
		defer unsubscribe()
		if !sub.deliver(initial) {
			return
		}
		for {
			select {
			case <-subCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				drainPending(events)
				posts, err := g.listOrdered(subCtx)
				if err != nil {
					if subCtx.Err() != nil {
						return
					}
					g.logError(opSubscribe, "refresh_failed", err)
					continue
				}
				if !sub.deliver(posts) {
					return
				}
			}
		}
	}()

	g.succeed(opSubscribe)
	return unsubscribe, nil
}

// Get returns the post for id.
func (g *Gateway) Get(ctx context.Context, id string) (Post, error) {
	post, err := g.load(ctx, opGet, id)
	if err != nil {
		return Post{}, g.fail(opGet, err)
	}
	g.succeed(opGet)
	return post, nil
}

// Update applies patch when the caller owns the post or is an admin.
func (g *Gateway) Update(ctx context.Context, id string, patch Patch, callerID string) error {
	post, err := g.authorize(ctx, opUpdate, id, callerID)
	if err != nil {
		return g.fail(opUpdate, err)
	}
	err = g.repo.Update(ctx, post.ID, patch, g.clock())
	if errors.Is(err, ErrPostNotFound) {
		return g.fail(opUpdate, apperr.New(apperr.KindNotFound, opUpdate, "missing", "post not found", err))
	}
	if err != nil {
		g.logError(opUpdate, "update_failed", err, zap.String("post_id", post.ID))
		return g.fail(opUpdate, apperr.Backend(opUpdate, "update_failed", err))
	}
	g.publish(ctx, EventUpdated, post.ID)
	g.succeed(opUpdate)
	return nil
}

// Delete removes the post when the caller owns it or is an admin.
func (g *Gateway) Delete(ctx context.Context, id string, callerID string) error {
	post, err := g.authorize(ctx, opDelete, id, callerID)
	if err != nil {
		return g.fail(opDelete, err)
	}
	err = g.repo.Delete(ctx, post.ID)
	if errors.Is(err, ErrPostNotFound) {
		return g.fail(opDelete, apperr.New(apperr.KindNotFound, opDelete, "missing", "post not found", err))
	}
	if err != nil {
		g.logError(opDelete, "delete_failed", err, zap.String("post_id", post.ID))
		return g.fail(opDelete, apperr.Backend(opDelete, "delete_failed", err))
	}
	g.publish(ctx, EventDeleted, post.ID)
	g.succeed(opDelete)
	return nil
}

func (g *Gateway) load(ctx context.Context, operation string, id string) (Post, error) {
	postID, err := normalizeIdentifier(id, ErrInvalidPostID)
	if err != nil {
		return Post{}, apperr.New(apperr.KindInvalid, operation, "invalid_id", "post id is required", err)
	}
	post, err := g.repo.Get(ctx, postID)
	if errors.Is(err, ErrPostNotFound) {
		return Post{}, apperr.New(apperr.KindNotFound, operation, "missing", "post not found", err)
	}
	if err != nil {
		g.logError(operation, "query_failed", err, zap.String("post_id", postID))
		return Post{}, apperr.Backend(operation, "query_failed", err)
	}
	return post, nil
}

// authorize loads the post and permits the caller iff they authored it or hold the admin role.
func (g *Gateway) authorize(ctx context.Context, operation string, id string, callerID string) (Post, error) {
	post, err := g.load(ctx, operation, id)
	if err != nil {
		return Post{}, err
	}
	caller, err := normalizeIdentifier(callerID, ErrInvalidAuthorID)
	if err != nil {
		return Post{}, g.deny(operation, post.ID, "")
	}
	if caller == post.AuthorID {
		return post, nil
	}
	role, err := g.roles.RoleOf(ctx, caller)
	if err != nil {
		g.logError(operation, "role_lookup_failed", err, zap.String("caller_id", caller))
		return Post{}, apperr.Backend(operation, "role_lookup_failed", err)
	}
	if role == profiles.RoleAdmin {
		return post, nil
	}
	return Post{}, g.deny(operation, post.ID, caller)
}

func (g *Gateway) deny(operation string, postID string, callerID string) error {
	metrics.AuthorizationDenials.WithLabelValues(operation).Inc()
	g.logger.Info("post mutation denied",
		zap.String("operation", operation),
		zap.String("post_id", postID),
		zap.String("caller_id", callerID))
	message := "Unauthorized: you can only edit your own posts"
	if operation == opDelete {
		message = "Unauthorized: you can only delete your own posts"
	}
	return apperr.New(apperr.KindUnauthorized, operation, "not_owner", message, nil)
}

func (g *Gateway) listOrdered(ctx context.Context) ([]Post, error) {
	posts, err := g.repo.ListOrdered(ctx)
	if err != nil {
		return nil, err
	}
	return orderByCommitTime(posts), nil
}

func (g *Gateway) publish(ctx context.Context, kind string, postID string) {
	event := realtime.Event{
		Topic:      TopicPosts,
		Kind:       kind,
		SubjectIDs: []string{postID},
		Timestamp:  g.clock().UTC(),
	}
	if err := g.feed.Publish(ctx, event); err != nil {
		g.logger.Warn("post change not published",
			zap.String("kind", kind),
			zap.String("post_id", postID),
			zap.Error(err))
	}
}

func (g *Gateway) succeed(operation string) {
	metrics.GatewayOperations.WithLabelValues(operation, outcomeOK).Inc()
}

func (g *Gateway) fail(operation string, err error) error {
	metrics.GatewayOperations.WithLabelValues(operation, string(apperr.KindOf(err))).Inc()
	return err
}

func (g *Gateway) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	g.logger.Error("post gateway error", attrs...)
}

// orderByCommitTime drops uncommitted posts and sorts by commit time, newest
// first, breaking ties by id descending.
func orderByCommitTime(posts []Post) []Post {
	ordered := make([]Post, 0, len(posts))
	for _, post := range posts {
		if post.Committed() {
			ordered = append(ordered, post)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].TimestampNanos != ordered[j].TimestampNanos {
			return ordered[i].TimestampNanos > ordered[j].TimestampNanos
		}
		return ordered[i].ID > ordered[j].ID
	})
	return ordered
}

func drainPending(events <-chan realtime.Event) {
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// subscription serializes change callbacks. Once stop returns, no callback
// that had not already begun will run.
type subscription struct {
	onChange func([]Post)

	mu         sync.Mutex
	stopped    atomic.Bool
	inCallback atomic.Bool
}

func (s *subscription) deliver(posts []Post) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped.Load() {
		return false
	}
	s.inCallback.Store(true)
	s.onChange(posts)
	s.inCallback.Store(false)
	return !s.stopped.Load()
}

// stop waits out a delivery that is about to start. It skips the wait while a
// callback runs, which also makes it safe to call from within onChange.
func (s *subscription) stop() {
	s.stopped.Store(true)
	if s.inCallback.Load() {
		return
	}
	s.mu.Lock()
	s.mu.Unlock() //nolint:staticcheck
}
