package profiles

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/apperr"
	"go.uber.org/zap"
)

const (
	opServiceNew = "profiles.service.new"
	opGet        = "profiles.get"
	opEnsure     = "profiles.ensure"
	opList       = "profiles.list"
	opSetRole    = "profiles.set_role"
	opRoleOf     = "profiles.role_of"
)

var (
	errMissingRepository = errors.New("profile repository is required")
	errMissingProfileID  = errors.New("profile identifier is required")
)

// ServiceConfig describes the dependencies of the profile service.
type ServiceConfig struct {
	Repository Repository
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service manages application profiles over a Repository.
type Service struct {
	repo   Repository
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs a profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Repository == nil {
		return nil, apperr.New(apperr.KindInvalid, opServiceNew, "missing_repository", "", errMissingRepository)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: cfg.Repository, clock: clock, logger: logger}, nil
}

// Get returns the profile for id.
func (s *Service) Get(ctx context.Context, id string) (Profile, error) {
	profileID := strings.TrimSpace(id)
	if profileID == "" {
		return Profile{}, apperr.New(apperr.KindInvalid, opGet, "missing_id", "profile id is required", errMissingProfileID)
	}
	profile, err := s.repo.Get(ctx, profileID)
	if errors.Is(err, ErrProfileNotFound) {
		return Profile{}, apperr.New(apperr.KindNotFound, opGet, "missing", "profile not found", err)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("profile_id", profileID))
		return Profile{}, apperr.Backend(opGet, "query_failed", err)
	}
	return profile, nil
}

// Ensure returns the profile for id, creating the default one when absent.
func (s *Service) Ensure(ctx context.Context, id string, email string) (Profile, error) {
	profileID := strings.TrimSpace(id)
	if profileID == "" {
		return Profile{}, apperr.New(apperr.KindInvalid, opEnsure, "missing_id", "profile id is required", errMissingProfileID)
	}
	profile, created, err := s.repo.CreateIfAbsent(ctx, NewProfile(profileID, strings.TrimSpace(email), s.clock()))
	if err != nil {
		s.logError(opEnsure, "create_failed", err, zap.String("profile_id", profileID))
		return Profile{}, apperr.Backend(opEnsure, "create_failed", err)
	}
	if created {
		s.logger.Info("profile created", zap.String("profile_id", profileID))
	}
	return profile, nil
}

// List returns every profile, newest first.
func (s *Service) List(ctx context.Context) ([]Profile, error) {
	profiles, err := s.repo.List(ctx)
	if err != nil {
		s.logError(opList, "query_failed", err)
		return nil, apperr.Backend(opList, "query_failed", err)
	}
	return profiles, nil
}

// SetRole replaces the role of the profile and stamps its update time.
func (s *Service) SetRole(ctx context.Context, id string, role Role) error {
	if !role.Valid() {
		return apperr.New(apperr.KindInvalid, opSetRole, "unknown_role", "role must be user or admin", nil)
	}
	err := s.repo.UpdateRole(ctx, strings.TrimSpace(id), role, s.clock())
	if errors.Is(err, ErrProfileNotFound) {
		return apperr.New(apperr.KindNotFound, opSetRole, "missing", "profile not found", err)
	}
	if err != nil {
		s.logError(opSetRole, "update_failed", err, zap.String("profile_id", id))
		return apperr.Backend(opSetRole, "update_failed", err)
	}
	return nil
}

// RoleOf returns the role of id. A missing profile counts as a plain user.
func (s *Service) RoleOf(ctx context.Context, id string) (Role, error) {
	profile, err := s.repo.Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, ErrProfileNotFound) {
		return RoleUser, nil
	}
	if err != nil {
		s.logError(opRoleOf, "query_failed", err, zap.String("profile_id", id))
		return "", apperr.Backend(opRoleOf, "query_failed", err)
	}
	if !profile.Role.Valid() {
		return RoleUser, nil
	}
	return profile.Role, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("profile service error", attrs...)
}
