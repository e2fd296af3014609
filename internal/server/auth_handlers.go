package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/apperr"
	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/internal/guard"
	"github.com/MarcoPoloResearchLab/quill/internal/metrics"
	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"github.com/MarcoPoloResearchLab/quill/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	opSignup = "http.auth.signup"
	opLogin  = "http.auth.login"
	opLogout = "http.auth.logout"
	opMe     = "http.auth.me"
	opGuard  = "http.guard"
)

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	AccessToken string           `json:"access_token"`
	ExpiresIn   int64            `json:"expires_in"`
	TokenType   string           `json:"token_type"`
	Profile     profiles.Profile `json:"profile"`
}

type meResponsePayload struct {
	Identity auth.Identity    `json:"identity"`
	Profile  profiles.Profile `json:"profile"`
	IsAdmin  bool             `json:"isAdmin"`
}

func (h *httpHandler) handleSignup(c *gin.Context) {
	h.handleCredentials(c, opSignup, h.credentials.Register)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	h.handleCredentials(c, opLogin, h.credentials.Authenticate)
}

func (h *httpHandler) handleCredentials(
	c *gin.Context,
	operation string,
	exchange func(ctx context.Context, email string, password string) (auth.Identity, error),
) {
	var request credentialsPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.Email) == "" {
		h.renderError(c, invalidRequest(operation, err))
		return
	}

	ctx := c.Request.Context()
	identity, err := exchange(ctx, request.Email, request.Password)
	if err != nil {
		h.renderError(c, credentialError(operation, err, h.logger))
		return
	}

	profile, err := h.profiles.Ensure(ctx, identity.ID, identity.Email)
	if err != nil {
		h.logger.Error("profile resolution failed",
			zap.String("operation", operation),
			zap.String("identity_id", identity.ID),
			zap.Error(err))
		profile = profiles.Synthesize(identity.ID, identity.Email)
		metrics.ProfileResolutions.WithLabelValues("synthesized").Inc()
	} else {
		metrics.ProfileResolutions.WithLabelValues("stored").Inc()
	}

	token, expiresIn, err := h.tokens.IssueAccessToken(ctx, identity)
	if err != nil {
		h.logger.Error("failed to issue access token", zap.String("operation", operation), zap.Error(err))
		h.renderError(c, apperr.Backend(operation, "token_issue_failed", err))
		return
	}

	status := http.StatusOK
	if operation == opSignup {
		status = http.StatusCreated
	}
	c.JSON(status, authResponsePayload{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
		Profile:     profile,
	})
}

func credentialError(operation string, err error, logger *zap.Logger) error {
	if auth.IsRejection(err) {
		return apperr.New(apperr.KindAuth, operation, "rejected", err.Error(), err)
	}
	logger.Error("credential provider failed", zap.String("operation", operation), zap.Error(err))
	return apperr.Backend(operation, "provider_failed", err)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	tokenID := c.GetString(tokenIDContextKey)
	ttl := time.Duration(0)
	if value, ok := c.Get(expiresAtContextKey); ok {
		if expiresAt, ok := value.(time.Time); ok {
			ttl = time.Until(expiresAt)
		}
	}
	if err := h.revocations.Revoke(c.Request.Context(), tokenID, ttl); err != nil {
		h.logger.Error("failed to revoke access token", zap.String("token_id", tokenID), zap.Error(err))
		h.renderError(c, apperr.Backend(opLogout, "revoke_failed", err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleMe(c *gin.Context) {
	snapshot, err := h.requestSnapshot(c)
	if err != nil {
		h.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, meResponsePayload{
		Identity: *snapshot.Identity,
		Profile:  *snapshot.Profile,
		IsAdmin:  snapshot.IsAdmin(),
	})
}

// requestSnapshot resolves the session view of the authenticated request.
// A caller without a stored profile gets one created.
func (h *httpHandler) requestSnapshot(c *gin.Context) (session.Snapshot, error) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		return session.Snapshot{State: session.StateAnonymous}, nil
	}
	identity := &auth.Identity{ID: userID, Email: c.GetString(emailContextKey)}
	profile, err := h.profiles.Ensure(c.Request.Context(), identity.ID, identity.Email)
	if err != nil {
		return session.Snapshot{}, err
	}
	return session.Snapshot{State: session.StateAuthenticated, Identity: identity, Profile: &profile}, nil
}

// requireAccess admits the request only when the guard allows its session.
func (h *httpHandler) requireAccess(requirement guard.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot, err := h.requestSnapshot(c)
		if err != nil {
			h.renderError(c, err)
			return
		}
		switch guard.Decide(snapshot, requirement) {
		case guard.Allow:
			c.Next()
		case guard.RedirectLogin:
			h.renderError(c, apperr.New(apperr.KindAuth, opGuard, "anonymous", "authentication required", nil))
		case guard.Deny:
			metrics.AuthorizationDenials.WithLabelValues(opGuard).Inc()
			h.logger.Info("admin route denied", zap.String("caller_id", snapshot.Identity.ID), zap.String("path", c.FullPath()))
			h.renderError(c, apperr.New(apperr.KindUnauthorized, opGuard, "not_admin", "Unauthorized: admin role required", nil))
		default:
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorPayload{
				Error:   "loading",
				Message: "session is still loading",
				Code:    opGuard + ".loading",
			})
		}
	}
}
