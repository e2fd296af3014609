package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Credential{}); err != nil {
		t.Fatalf("failed to migrate credentials: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestCredentialStore(t *testing.T) *CredentialStore {
	t.Helper()
	store, err := NewCredentialStore(CredentialStoreConfig{
		Database: openTestDatabase(t),
		HashCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to construct credential store: %v", err)
	}
	return store
}

type stubProvider struct {
	mu         sync.Mutex
	identities map[string]Identity
	failure    error
}

func newStubProvider() *stubProvider {
	return &stubProvider{identities: make(map[string]Identity)}
}

func (p *stubProvider) Register(_ context.Context, email string, _ string) (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil {
		return Identity{}, p.failure
	}
	if _, exists := p.identities[email]; exists {
		return Identity{}, ErrEmailInUse
	}
	identity := Identity{ID: "id-" + email, Email: email}
	p.identities[email] = identity
	return identity, nil
}

func (p *stubProvider) Authenticate(_ context.Context, email string, _ string) (Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	identity, ok := p.identities[email]
	if !ok {
		return Identity{}, ErrInvalidCredentials
	}
	return identity, nil
}
