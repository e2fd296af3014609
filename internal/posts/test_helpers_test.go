package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"github.com/MarcoPoloResearchLab/quill/internal/realtime"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

const callbackTimeout = 2 * time.Second

var databaseSequence atomic.Int64

type gatewayHarness struct {
	gateway *Gateway
	repo    *GormRepository
	roles   *stubRoles
	feed    *realtime.Dispatcher
}

func newGatewayHarness(t *testing.T) gatewayHarness {
	t.Helper()
	repo := newTestRepository(t)
	roles := newStubRoles()
	feed := realtime.NewDispatcher()
	gateway, err := NewGateway(GatewayConfig{
		Repository: repo,
		Roles:      roles,
		Feed:       feed,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to construct gateway: %v", err)
	}
	return gatewayHarness{gateway: gateway, repo: repo, roles: roles, feed: feed}
}

func newTestRepository(t *testing.T) *GormRepository {
	t.Helper()
	name := fmt.Sprintf("%s_%d", strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()), databaseSequence.Add(1))
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Post{}); err != nil {
		t.Fatalf("failed to migrate posts: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo, err := NewGormRepository(db, NewServerClock(nil))
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	return repo
}

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("post-%03d", p.next), nil
}

type stubRoles struct {
	mu      sync.Mutex
	roles   map[string]profiles.Role
	failure error
	lookups int
}

func newStubRoles() *stubRoles {
	return &stubRoles{roles: make(map[string]profiles.Role)}
}

func (r *stubRoles) set(userID string, role profiles.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[userID] = role
}

func (r *stubRoles) RoleOf(_ context.Context, userID string) (profiles.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.failure != nil {
		return "", r.failure
	}
	if role, ok := r.roles[userID]; ok {
		return role, nil
	}
	return profiles.RoleUser, nil
}

var errRolesUnavailable = errors.New("roles unavailable")

type snapshotRecorder struct {
	snapshots chan []Post
}

func newSnapshotRecorder() *snapshotRecorder {
	return &snapshotRecorder{snapshots: make(chan []Post, 16)}
}

func (r *snapshotRecorder) record(posts []Post) {
	r.snapshots <- posts
}

func (r *snapshotRecorder) next(t *testing.T) []Post {
	t.Helper()
	select {
	case posts := <-r.snapshots:
		return posts
	case <-time.After(callbackTimeout):
		t.Fatalf("timed out waiting for change callback")
		return nil
	}
}

func (r *snapshotRecorder) expectSilence(t *testing.T, window time.Duration) {
	t.Helper()
	select {
	case posts := <-r.snapshots:
		t.Fatalf("did not expect a callback, got %d posts", len(posts))
	case <-time.After(window):
	}
}

func postIDs(posts []Post) []string {
	out := make([]string, 0, len(posts))
	for _, post := range posts {
		out = append(out, post.ID)
	}
	return out
}

func stringPointer(value string) *string {
	return &value
}

func boolPointer(value bool) *bool {
	return &value
}

// listHookRepository runs afterFirstList once, right after the first
// ListOrdered call returns its rows.
type listHookRepository struct {
	Repository
	afterFirstList func()
	once           sync.Once
}

func (r *listHookRepository) ListOrdered(ctx context.Context) ([]Post, error) {
	posts, err := r.Repository.ListOrdered(ctx)
	if r.afterFirstList != nil {
		r.once.Do(r.afterFirstList)
	}
	return posts, err
}
