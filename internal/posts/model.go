package posts

import (
	"errors"
	"strings"
	"time"
)

const (
	maxIdentifierLength = 190
	createdAtLayout     = "2006-01-02T15:04:05.000Z"
)

var (
	ErrInvalidPostID   = errors.New("posts: invalid post id")
	ErrInvalidAuthorID = errors.New("posts: invalid author id")
)

// Post is a blog article.
type Post struct {
	ID          string `gorm:"column:id;primaryKey;size:190;not null" bson:"_id" json:"id"`
	Title       string `gorm:"column:title;size:512" bson:"title" json:"title"`
	SubTitle    string `gorm:"column:sub_title;size:512" bson:"subTitle" json:"subTitle"`
	Content     string `gorm:"column:content;type:text" bson:"content" json:"content"`
	Category    string `gorm:"column:category;size:128" bson:"category" json:"category"`
	ImageURL    string `gorm:"column:image_url;size:2048" bson:"imageURL" json:"imageURL"`
	AuthorID    string `gorm:"column:author_id;size:190;not null;index" bson:"authorId" json:"authorId"`
	IsPublished bool   `gorm:"column:is_published;not null" bson:"isPublished" json:"isPublished"`
	// CreatedAt is the client-side creation instant as an ISO-8601 string.
	CreatedAt string `gorm:"column:created_at;size:32;autoCreateTime:false" bson:"createdAt" json:"createdAt"`
	// TimestampNanos is the server-assigned commit instant. Zero until committed.
	TimestampNanos int64     `gorm:"column:timestamp_ns;not null;index" bson:"timestamp" json:"-"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime:false" bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// TableName exposes the table backing posts.
func (Post) TableName() string {
	return "blogs"
}

// Committed reports whether the server has assigned the post's timestamp.
func (p Post) Committed() bool {
	return p.TimestampNanos > 0
}

// Timestamp returns the server-assigned commit instant.
func (p Post) Timestamp() time.Time {
	if p.TimestampNanos <= 0 {
		return time.Time{}
	}
	return time.Unix(0, p.TimestampNanos).UTC()
}

// Draft carries the caller-supplied fields of a new post.
type Draft struct {
	Title       string `json:"title"`
	SubTitle    string `json:"subTitle"`
	Content     string `json:"content"`
	Category    string `json:"category"`
	ImageURL    string `json:"imageURL"`
	IsPublished bool   `json:"isPublished"`
}

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	SubTitle    *string `json:"subTitle,omitempty"`
	Content     *string `json:"content,omitempty"`
	Category    *string `json:"category,omitempty"`
	ImageURL    *string `json:"imageURL,omitempty"`
	IsPublished *bool   `json:"isPublished,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.SubTitle == nil && p.Content == nil &&
		p.Category == nil && p.ImageURL == nil && p.IsPublished == nil
}

func (p Patch) columns() map[string]interface{} {
	columns := map[string]interface{}{}
	if p.Title != nil {
		columns["title"] = *p.Title
	}
	if p.SubTitle != nil {
		columns["sub_title"] = *p.SubTitle
	}
	if p.Content != nil {
		columns["content"] = *p.Content
	}
	if p.Category != nil {
		columns["category"] = *p.Category
	}
	if p.ImageURL != nil {
		columns["image_url"] = *p.ImageURL
	}
	if p.IsPublished != nil {
		columns["is_published"] = *p.IsPublished
	}
	return columns
}

func formatCreatedAt(instant time.Time) string {
	return instant.UTC().Format(createdAtLayout)
}

func normalizeIdentifier(raw string, invalid error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > maxIdentifierLength {
		return "", invalid
	}
	return trimmed, nil
}
