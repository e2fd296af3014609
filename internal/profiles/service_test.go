package profiles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/apperr"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Profile{}); err != nil {
		t.Fatalf("failed to migrate profiles: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	repo, err := NewGormRepository(db)
	if err != nil {
		t.Fatalf("failed to construct repository: %v", err)
	}
	service, err := NewService(ServiceConfig{Repository: repo, Clock: clock})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, db
}

func fixedClock(value time.Time) func() time.Time {
	return func() time.Time { return value }
}

func TestEnsureCreatesDefaultProfileOnce(t *testing.T) {
	createdAt := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	service, _ := newTestService(t, fixedClock(createdAt))
	ctx := context.Background()

	profile, err := service.Ensure(ctx, "user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if profile.Role != RoleUser || !profile.IsActive {
		t.Fatalf("unexpected default profile %+v", profile)
	}
	if profile.DisplayName != "ada" {
		t.Fatalf("expected display name from email, got %q", profile.DisplayName)
	}
	if !profile.CreatedAt.Equal(createdAt) {
		t.Fatalf("unexpected created at %v", profile.CreatedAt)
	}

	if err := service.SetRole(ctx, "user-1", RoleAdmin); err != nil {
		t.Fatalf("set role failed: %v", err)
	}
	again, err := service.Ensure(ctx, "user-1", "ada@example.com")
	if err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if again.Role != RoleAdmin {
		t.Fatalf("expected existing profile to be returned untouched, got %+v", again)
	}

	all, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one profile, got %d", len(all))
	}
}

func TestGetReportsMissingProfile(t *testing.T) {
	service, _ := newTestService(t, nil)

	_, err := service.Get(context.Background(), "ghost")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = service.Get(context.Background(), " ")
	if !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestSetRoleStampsUpdatedAt(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	service, _ := newTestService(t, clock)
	ctx := context.Background()

	if _, err := service.Ensure(ctx, "user-1", "ada@example.com"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	now = now.Add(time.Hour)
	if err := service.SetRole(ctx, "user-1", RoleAdmin); err != nil {
		t.Fatalf("set role failed: %v", err)
	}

	profile, err := service.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !profile.IsAdmin() {
		t.Fatalf("expected admin role, got %q", profile.Role)
	}
	if !profile.UpdatedAt.Equal(now) {
		t.Fatalf("expected updated at %v, got %v", now, profile.UpdatedAt)
	}

	if err := service.SetRole(ctx, "ghost", RoleAdmin); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for missing profile, got %v", err)
	}
	if err := service.SetRole(ctx, "user-1", Role("owner")); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected invalid for unknown role, got %v", err)
	}
}

func TestSetRoleSucceedsWhenNoRowChanges(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	service, db := newTestService(t, fixedClock(now))
	ctx := context.Background()

	// Report zero affected rows the way MySQL does for an unchanged row.
	if err := db.Callback().Update().After("gorm:update").Register("quill:changed_rows_only", func(tx *gorm.DB) {
		tx.RowsAffected = 0
	}); err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	if _, err := service.Ensure(ctx, "user-1", "ada@example.com"); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	for attempt := 0; attempt < 2; attempt++ {
		if err := service.SetRole(ctx, "user-1", RoleAdmin); err != nil {
			t.Fatalf("set role attempt %d failed: %v", attempt, err)
		}
	}
	if err := service.SetRole(ctx, "ghost", RoleAdmin); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for missing profile, got %v", err)
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	service, _ := newTestService(t, clock)
	ctx := context.Background()

	for _, id := range []string{"first", "second", "third"} {
		if _, err := service.Ensure(ctx, id, id+"@example.com"); err != nil {
			t.Fatalf("ensure %s failed: %v", id, err)
		}
		now = now.Add(time.Minute)
	}

	profiles, err := service.List(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	got := make([]string, 0, len(profiles))
	for _, profile := range profiles {
		got = append(got, profile.ID)
	}
	if strings.Join(got, ",") != "third,second,first" {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestRoleOfTreatsMissingProfileAsUser(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	role, err := service.RoleOf(ctx, "ghost")
	if err != nil {
		t.Fatalf("role lookup failed: %v", err)
	}
	if role != RoleUser {
		t.Fatalf("expected user role, got %q", role)
	}
}

func TestServiceLogsBackendFailures(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	service, err := NewService(ServiceConfig{Repository: failingRepository{}, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}

	_, err = service.List(context.Background())
	if !errors.Is(err, apperr.ErrBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
	if apperr.CodeOf(err) != "profiles.list.query_failed" {
		t.Fatalf("unexpected code %q", apperr.CodeOf(err))
	}
	entries := logs.FilterField(zap.String("operation", opList)).All()
	if len(entries) != 1 {
		t.Fatalf("expected one log entry, got %d", len(entries))
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Admin ")
	if err != nil || role != RoleAdmin {
		t.Fatalf("expected admin role, got %q (%v)", role, err)
	}
	if _, err := ParseRole("owner"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

type failingRepository struct{}

var errRepositoryDown = errors.New("repository unavailable")

func (failingRepository) Get(context.Context, string) (Profile, error) {
	return Profile{}, errRepositoryDown
}

func (failingRepository) CreateIfAbsent(context.Context, Profile) (Profile, bool, error) {
	return Profile{}, false, errRepositoryDown
}

func (failingRepository) List(context.Context) ([]Profile, error) {
	return nil, errRepositoryDown
}

func (failingRepository) UpdateRole(context.Context, string, Role, time.Time) error {
	return errRepositoryDown
}
