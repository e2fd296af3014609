package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/ids"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minimumPasswordLength = 6

// Credential stores the password hash for an identity.
type Credential struct {
	IdentityID   string    `gorm:"column:identity_id;primaryKey;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime:false;not null"`
}

// TableName exposes the table backing credentials.
func (Credential) TableName() string {
	return "credentials"
}

// CredentialStoreConfig describes the dependencies of the credential store.
type CredentialStoreConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Clock      func() time.Time
	HashCost   int
}

// CredentialStore registers and authenticates email/password identities.
type CredentialStore struct {
	db         *gorm.DB
	idProvider ids.Provider
	now        func() time.Time
	hashCost   int
}

// NewCredentialStore constructs a credential store over the provided database.
func NewCredentialStore(cfg CredentialStoreConfig) (*CredentialStore, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("auth: database connection required")
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	hashCost := cfg.HashCost
	if hashCost == 0 {
		hashCost = bcrypt.DefaultCost
	}
	return &CredentialStore{
		db:         cfg.Database,
		idProvider: idProvider,
		now:        clock,
		hashCost:   hashCost,
	}, nil
}

// Register creates a new identity for the email and password pair.
func (s *CredentialStore) Register(ctx context.Context, email string, password string) (Identity, error) {
	address, err := parseEmail(email)
	if err != nil {
		return Identity{}, err
	}
	if len(password) < minimumPasswordLength {
		return Identity{}, ErrWeakPassword
	}

	taken, err := s.emailTaken(ctx, address)
	if err != nil {
		return Identity{}, err
	}
	if taken {
		return Identity{}, ErrEmailInUse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.hashCost)
	if err != nil {
		return Identity{}, err
	}
	identityID, err := s.idProvider.NewID()
	if err != nil {
		return Identity{}, err
	}

	credential := Credential{
		IdentityID:   identityID,
		Email:        address,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&credential).Error; err != nil {
		// A concurrent signup may win the unique email index after our check.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return Identity{}, ErrEmailInUse
		}
		if taken, lookupErr := s.emailTaken(ctx, address); lookupErr == nil && taken {
			return Identity{}, ErrEmailInUse
		}
		return Identity{}, err
	}
	return Identity{ID: identityID, Email: address}, nil
}

func (s *CredentialStore) emailTaken(ctx context.Context, address string) (bool, error) {
	var existing Credential
	err := s.db.WithContext(ctx).Where("email = ?", address).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Authenticate verifies the email and password pair.
func (s *CredentialStore) Authenticate(ctx context.Context, email string, password string) (Identity, error) {
	address, err := parseEmail(email)
	if err != nil {
		return Identity{}, err
	}

	var credential Credential
	err = s.db.WithContext(ctx).Where("email = ?", address).Take(&credential).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(credential.PasswordHash), []byte(password)); err != nil {
		return Identity{}, ErrInvalidCredentials
	}
	return Identity{ID: credential.IdentityID, Email: credential.Email}, nil
}

func parseEmail(email string) (string, error) {
	normalized := normalizeEmail(email)
	if normalized == "" {
		return "", ErrInvalidEmail
	}
	parsed, err := mail.ParseAddress(normalized)
	if err != nil || parsed.Address != normalized {
		return "", ErrInvalidEmail
	}
	return normalized, nil
}
