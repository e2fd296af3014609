// Package admin provides the user directory and dashboard views reserved for
// administrators.
package admin

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/quill/internal/apperr"
	"github.com/MarcoPoloResearchLab/quill/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"go.uber.org/zap"
)

const (
	opDirectoryNew = "admin.directory.new"
	opListUsers    = "admin.list_users"
	opSetRole      = "admin.set_role"
	opStats        = "admin.stats"

	recentPostsLimit = 5
)

var (
	errMissingProfiles = errors.New("profile service is required")
	errMissingPosts    = errors.New("post lister is required")
)

// ProfileDirectory is the profile store seen by the admin directory.
type ProfileDirectory interface {
	Get(ctx context.Context, id string) (profiles.Profile, error)
	List(ctx context.Context) ([]profiles.Profile, error)
	SetRole(ctx context.Context, id string, role profiles.Role) error
	RoleOf(ctx context.Context, id string) (profiles.Role, error)
}

// PostLister returns committed posts, newest first.
type PostLister interface {
	List(ctx context.Context) ([]posts.Post, error)
}

// DirectoryConfig describes the dependencies of the admin directory.
type DirectoryConfig struct {
	Profiles ProfileDirectory
	Posts    PostLister
	Logger   *zap.Logger
}

// Directory lists users, changes roles and computes dashboard statistics.
type Directory struct {
	profiles ProfileDirectory
	posts    PostLister
	logger   *zap.Logger
}

// Stats summarizes the post collection for one viewer.
type Stats struct {
	Total     int          `json:"total"`
	Published int          `json:"published"`
	Drafts    int          `json:"drafts"`
	Mine      int          `json:"mine"`
	Recent    []posts.Post `json:"recent"`
}

// NewDirectory constructs an admin directory.
func NewDirectory(cfg DirectoryConfig) (*Directory, error) {
	if cfg.Profiles == nil {
		return nil, apperr.New(apperr.KindInvalid, opDirectoryNew, "missing_profiles", "", errMissingProfiles)
	}
	if cfg.Posts == nil {
		return nil, apperr.New(apperr.KindInvalid, opDirectoryNew, "missing_posts", "", errMissingPosts)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{profiles: cfg.Profiles, posts: cfg.Posts, logger: logger}, nil
}

// ListUsers returns every profile, newest first.
func (d *Directory) ListUsers(ctx context.Context) ([]profiles.Profile, error) {
	list, err := d.profiles.List(ctx)
	if err != nil {
		return nil, err
	}
	return list, nil
}

// SetRole changes the role of targetID on behalf of callerID.
// Checks run in order: self change, role validity, caller privilege, target existence.
func (d *Directory) SetRole(ctx context.Context, targetID string, role profiles.Role, callerID string) error {
	target := strings.TrimSpace(targetID)
	caller := strings.TrimSpace(callerID)
	if target == "" {
		return apperr.New(apperr.KindInvalid, opSetRole, "missing_target", "user id is required", nil)
	}
	if target == caller {
		return apperr.New(apperr.KindForbidden, opSetRole, "self_change", "You cannot change your own role", nil)
	}
	if !role.Valid() {
		return apperr.New(apperr.KindInvalid, opSetRole, "unknown_role", "role must be user or admin", nil)
	}

	callerRole, err := d.profiles.RoleOf(ctx, caller)
	if err != nil {
		return err
	}
	if callerRole != profiles.RoleAdmin {
		d.logger.Info("role change denied", zap.String("caller_id", caller), zap.String("target_id", target))
		return apperr.New(apperr.KindUnauthorized, opSetRole, "not_admin", "Unauthorized: only admins can change roles", nil)
	}

	if err := d.profiles.SetRole(ctx, target, role); err != nil {
		return err
	}
	d.logger.Info("role changed",
		zap.String("caller_id", caller),
		zap.String("target_id", target),
		zap.String("role", string(role)))
	return nil
}

// Stats computes dashboard statistics for viewerID.
func (d *Directory) Stats(ctx context.Context, viewerID string) (Stats, error) {
	list, err := d.posts.List(ctx)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(list, strings.TrimSpace(viewerID)), nil
}

// ComputeStats derives Stats from a newest-first post list.
// Recent holds up to five posts with the viewer's own posts first.
func ComputeStats(list []posts.Post, viewerID string) Stats {
	stats := Stats{Total: len(list)}
	mine := make([]posts.Post, 0)
	others := make([]posts.Post, 0)
	for _, post := range list {
		if post.IsPublished {
			stats.Published++
		} else {
			stats.Drafts++
		}
		if viewerID != "" && post.AuthorID == viewerID {
			stats.Mine++
			mine = append(mine, post)
		} else {
			others = append(others, post)
		}
	}
	recent := append(mine, others...)
	if len(recent) > recentPostsLimit {
		recent = recent[:recentPostsLimit]
	}
	stats.Recent = recent
	return stats
}
