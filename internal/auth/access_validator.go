package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const accessTokenQueryParameter = "access_token"

var (
	ErrMissingAccessToken = errors.New("auth: access token required")
	ErrInvalidAccessToken = errors.New("auth: invalid access token")
	ErrExpiredAccessToken = errors.New("auth: access token expired")
)

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (i *TokenIssuer) ValidateToken(tokenString string) (AccessClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return AccessClaims{}, ErrMissingAccessToken
	}

	claims := &AccessClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidAccessToken, t.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return AccessClaims{}, ErrExpiredAccessToken
		}
		return AccessClaims{}, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return AccessClaims{}, ErrInvalidAccessToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return AccessClaims{}, errMissingSubjectClaim
	}
	return *claims, nil
}

// ValidateRequest extracts the bearer token from the request and validates it.
// Event streams cannot set headers from browsers, so the access_token query
// parameter is accepted as a fallback.
func (i *TokenIssuer) ValidateRequest(r *http.Request) (AccessClaims, string, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return AccessClaims{}, "", ErrMissingAccessToken
	}
	claims, err := i.ValidateToken(token)
	if err != nil {
		return AccessClaims{}, "", err
	}
	return claims, token, nil
}

// TokenFromRequest returns the raw access token carried by the request.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > len("Bearer ") && strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get(accessTokenQueryParameter))
}
