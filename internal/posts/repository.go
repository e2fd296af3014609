package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrPostNotFound indicates that no post exists for the id.
var ErrPostNotFound = errors.New("posts: post not found")

// Repository persists posts. Insert assigns the commit timestamp.
type Repository interface {
	Insert(ctx context.Context, post *Post) error
	Get(ctx context.Context, id string) (Post, error)
	Update(ctx context.Context, id string, patch Patch, updatedAt time.Time) error
	Delete(ctx context.Context, id string) error
	// ListOrdered returns committed posts, newest commit first.
	ListOrdered(ctx context.Context) ([]Post, error)
}

// GormRepository stores posts in a SQL database.
type GormRepository struct {
	db    *gorm.DB
	clock *ServerClock
}

// NewGormRepository constructs a SQL-backed post repository.
func NewGormRepository(db *gorm.DB, clock *ServerClock) (*GormRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("posts: database connection required")
	}
	if clock == nil {
		clock = NewServerClock(nil)
	}
	return &GormRepository{db: db, clock: clock}, nil
}

func (r *GormRepository) Insert(ctx context.Context, post *Post) error {
	post.TimestampNanos = r.clock.Next()
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		post.TimestampNanos = 0
		return err
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (Post, error) {
	var post Post
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Post{}, ErrPostNotFound
	}
	if err != nil {
		return Post{}, err
	}
	return post, nil
}

func (r *GormRepository) Update(ctx context.Context, id string, patch Patch, updatedAt time.Time) error {
	columns := patch.columns()
	columns["updated_at"] = updatedAt.UTC()
	result := r.db.WithContext(ctx).Model(&Post{}).Where("id = ?", id).Updates(columns)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (r *GormRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&Post{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrPostNotFound
	}
	return nil
}

func (r *GormRepository) ListOrdered(ctx context.Context) ([]Post, error) {
	var posts []Post
	err := r.db.WithContext(ctx).
		Where("timestamp_ns > 0").
		Order("timestamp_ns DESC").
		Order("id DESC").
		Find(&posts).
		Error
	if err != nil {
		return nil, err
	}
	return posts, nil
}
