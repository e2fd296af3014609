package profiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrProfileNotFound indicates that no profile exists for the id.
var ErrProfileNotFound = errors.New("profiles: profile not found")

// Repository persists profiles.
type Repository interface {
	Get(ctx context.Context, id string) (Profile, error)
	// CreateIfAbsent inserts profile unless one already exists for its id and
	// returns the stored profile together with whether it was created.
	CreateIfAbsent(ctx context.Context, profile Profile) (Profile, bool, error)
	// List returns every profile ordered by creation time, newest first.
	List(ctx context.Context) ([]Profile, error)
	UpdateRole(ctx context.Context, id string, role Role, updatedAt time.Time) error
}

// GormRepository stores profiles in a SQL database.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository constructs a SQL-backed profile repository.
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("profiles: database connection required")
	}
	return &GormRepository{db: db}, nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (Profile, error) {
	var profile Profile
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, err
	}
	return profile, nil
}

func (r *GormRepository) CreateIfAbsent(ctx context.Context, profile Profile) (Profile, bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&profile)
	if result.Error != nil {
		return Profile{}, false, result.Error
	}
	if result.RowsAffected == 1 {
		return profile, true, nil
	}
	existing, err := r.Get(ctx, profile.ID)
	if err != nil {
		return Profile{}, false, err
	}
	return existing, false, nil
}

func (r *GormRepository) List(ctx context.Context) ([]Profile, error) {
	var profiles []Profile
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id ASC").
		Find(&profiles).
		Error
	if err != nil {
		return nil, err
	}
	return profiles, nil
}

func (r *GormRepository) UpdateRole(ctx context.Context, id string, role Role, updatedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&Profile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"role":       role,
			"updated_at": updatedAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}
	// MySQL reports changed rows, so an unchanged role still needs a lookup.
	var matched int64
	if err := r.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", id).Count(&matched).Error; err != nil {
		return err
	}
	if matched == 0 {
		return ErrProfileNotFound
	}
	return nil
}
