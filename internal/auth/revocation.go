package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const revokedTokenKeyPrefix = "quill:revoked:access:"

// RevocationList records signed-out access tokens until they expire.
// A nil Redis client turns every operation into a no-op.
type RevocationList struct {
	client *redis.Client
}

// NewRevocationList constructs a RevocationList over the optional Redis client.
func NewRevocationList(client *redis.Client) *RevocationList {
	return &RevocationList{client: client}
}

// Revoke stores the token id until ttl elapses.
func (r *RevocationList) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if r == nil || r.client == nil || strings.TrimSpace(tokenID) == "" || ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revokedTokenKeyPrefix+tokenID, "1", ttl).Err()
}

// IsRevoked reports whether the token id has been revoked.
func (r *RevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if r == nil || r.client == nil || strings.TrimSpace(tokenID) == "" {
		return false, nil
	}
	exists, err := r.client.Exists(ctx, revokedTokenKeyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
