package auth

import (
	"errors"
	"strings"
)

// Provider rejections. Their messages are shown to users verbatim.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailInUse         = errors.New("email address is already in use")
	ErrWeakPassword       = errors.New("password should be at least 6 characters")
	ErrInvalidEmail       = errors.New("email address is badly formatted")
)

// Identity is the authenticated principal issued by the credential provider.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// IsRejection reports whether err is a provider rejection rather than a backend fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrInvalidCredentials) ||
		errors.Is(err, ErrEmailInUse) ||
		errors.Is(err, ErrWeakPassword) ||
		errors.Is(err, ErrInvalidEmail)
}

func sameIdentity(left *Identity, right *Identity) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return left.ID == right.ID
}

func cloneIdentity(identity *Identity) *Identity {
	if identity == nil {
		return nil
	}
	copied := *identity
	return &copied
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
