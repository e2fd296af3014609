package profiles

import (
	"fmt"
	"strings"
	"time"
)

// Role is the privilege level attached to a profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole validates a raw role value.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("profiles: unknown role %q", raw)
	}
	return role, nil
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Profile is the application-level record describing a user.
type Profile struct {
	ID          string    `gorm:"column:id;primaryKey;size:190;not null" bson:"_id" json:"id"`
	Email       string    `gorm:"column:email;size:320" bson:"email" json:"email"`
	DisplayName string    `gorm:"column:display_name;size:320" bson:"displayName" json:"displayName"`
	Role        Role      `gorm:"column:role;size:16;not null" bson:"role" json:"role"`
	IsActive    bool      `gorm:"column:is_active;not null" bson:"isActive" json:"isActive"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime:false;not null;index" bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime:false" bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}

// TableName exposes the table backing profiles.
func (Profile) TableName() string {
	return "users"
}

// IsAdmin reports whether the profile carries the admin role.
func (p Profile) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// NewProfile builds the default profile for a freshly seen identity.
func NewProfile(id string, email string, createdAt time.Time) Profile {
	return Profile{
		ID:          id,
		Email:       email,
		DisplayName: DisplayNameFromEmail(email),
		Role:        RoleUser,
		IsActive:    true,
		CreatedAt:   createdAt.UTC(),
	}
}

// Synthesize builds an unsaved profile used when the store is unreachable.
func Synthesize(id string, email string) Profile {
	return Profile{
		ID:          id,
		Email:       email,
		DisplayName: DisplayNameFromEmail(email),
		Role:        RoleUser,
		IsActive:    true,
	}
}

// DisplayNameFromEmail returns the local part of an email address.
func DisplayNameFromEmail(email string) string {
	trimmed := strings.TrimSpace(email)
	if at := strings.Index(trimmed, "@"); at >= 0 {
		return trimmed[:at]
	}
	return trimmed
}
