package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/admin"
	"github.com/MarcoPoloResearchLab/quill/internal/apperr"
	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/internal/guard"
	"github.com/MarcoPoloResearchLab/quill/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "quill_user_id"
	emailContextKey     = "quill_email"
	tokenIDContextKey   = "quill_token_id"
	expiresAtContextKey = "quill_token_expires_at"

	defaultHeartbeatInterval = 25 * time.Second
	defaultLoginRPS          = 1.0
	defaultLoginBurst        = 5
)

var (
	errMissingCredentials = errors.New("credential provider dependency required")
	errMissingTokens      = errors.New("token manager dependency required")
	errMissingProfiles    = errors.New("profile service dependency required")
	errMissingPosts       = errors.New("post gateway dependency required")
	errMissingDirectory   = errors.New("admin directory dependency required")
)

// AccessTokenManager issues and validates access tokens.
type AccessTokenManager interface {
	IssueAccessToken(ctx context.Context, identity auth.Identity) (string, int64, error)
	ValidateRequest(r *http.Request) (auth.AccessClaims, string, error)
}

// TokenRevoker records signed-out tokens.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// ProfileService resolves the profile of an authenticated caller.
type ProfileService interface {
	Ensure(ctx context.Context, id string, email string) (profiles.Profile, error)
}

// PostGateway is the post surface exposed over HTTP.
type PostGateway interface {
	Create(ctx context.Context, draft posts.Draft, authorID string) (string, error)
	List(ctx context.Context) ([]posts.Post, error)
	Subscribe(ctx context.Context, onChange func([]posts.Post)) (posts.Unsubscribe, error)
	Get(ctx context.Context, id string) (posts.Post, error)
	Update(ctx context.Context, id string, patch posts.Patch, callerID string) error
	Delete(ctx context.Context, id string, callerID string) error
}

// AdminDirectory is the admin surface exposed over HTTP.
type AdminDirectory interface {
	ListUsers(ctx context.Context) ([]profiles.Profile, error)
	SetRole(ctx context.Context, targetID string, role profiles.Role, callerID string) error
	Stats(ctx context.Context, viewerID string) (admin.Stats, error)
}

// LoginRateLimit bounds signup and login attempts per client address.
type LoginRateLimit struct {
	RPS   float64
	Burst int
}

// Dependencies wires the HTTP handler.
type Dependencies struct {
	Credentials       auth.Provider
	Tokens            AccessTokenManager
	Revocations       TokenRevoker
	Profiles          ProfileService
	Posts             PostGateway
	Directory         AdminDirectory
	Logger            *zap.Logger
	LoginRateLimit    LoginRateLimit
	MetricsHandler    http.Handler
	HeartbeatInterval time.Duration
}

// NewHTTPHandler builds the gin engine serving the blog API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Credentials == nil {
		return nil, errMissingCredentials
	}
	if deps.Tokens == nil {
		return nil, errMissingTokens
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Posts == nil {
		return nil, errMissingPosts
	}
	if deps.Directory == nil {
		return nil, errMissingDirectory
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	revocations := deps.Revocations
	if revocations == nil {
		revocations = auth.NewRevocationList(nil)
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	limit := deps.LoginRateLimit
	if limit.RPS <= 0 {
		limit.RPS = defaultLoginRPS
	}
	if limit.Burst <= 0 {
		limit.Burst = defaultLoginBurst
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		credentials: deps.Credentials,
		tokens:      deps.Tokens,
		revocations: revocations,
		profiles:    deps.Profiles,
		posts:       deps.Posts,
		directory:   deps.Directory,
		logger:      logger,
		heartbeat:   heartbeat,
	}

	router.GET("/healthz", handler.handleHealth)
	if deps.MetricsHandler != nil {
		router.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	limiter := newRateLimiter(limit.RPS, limit.Burst)
	router.POST("/auth/signup", limiter.middleware("auth.signup"), handler.handleSignup)
	router.POST("/auth/login", limiter.middleware("auth.login"), handler.handleLogin)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/auth/logout", handler.handleLogout)
	protected.GET("/auth/me", handler.handleMe)

	protected.GET("/posts", handler.handleListPosts)
	protected.GET("/posts/stream", handler.handlePostStream)
	protected.GET("/posts/:id", handler.handleGetPost)
	protected.POST("/posts", handler.handleCreatePost)
	protected.PATCH("/posts/:id", handler.handleUpdatePost)
	protected.DELETE("/posts/:id", handler.handleDeletePost)

	adminRoutes := protected.Group("/admin")
	adminRoutes.Use(handler.requireAccess(guard.RequireAdmin))
	adminRoutes.GET("/users", handler.handleListUsers)
	adminRoutes.PUT("/users/:id/role", handler.handleSetRole)
	adminRoutes.GET("/stats", handler.handleStats)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: func(string) bool { return true },
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	credentials auth.Provider
	tokens      AccessTokenManager
	revocations TokenRevoker
	profiles    ProfileService
	posts       PostGateway
	directory   AdminDirectory
	logger      *zap.Logger
	heartbeat   time.Duration
}

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, _, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredAccessToken) || errors.Is(err, auth.ErrMissingAccessToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		h.renderError(c, apperr.New(apperr.KindAuth, "http.authorize", "invalid_token", "authentication required", err))
		return
	}

	revoked, err := h.revocations.IsRevoked(c.Request.Context(), claims.ID)
	if err != nil {
		h.logger.Error("revocation lookup failed", zap.String("token_id", claims.ID), zap.Error(err))
		h.renderError(c, apperr.Backend("http.authorize", "revocation_lookup_failed", err))
		return
	}
	if revoked {
		h.logger.Info("revoked token rejected", zap.String("token_id", claims.ID))
		h.renderError(c, apperr.New(apperr.KindAuth, "http.authorize", "revoked_token", "authentication required", nil))
		return
	}

	c.Set(userIDContextKey, claims.Subject)
	c.Set(emailContextKey, claims.Email)
	c.Set(tokenIDContextKey, claims.ID)
	if claims.ExpiresAt != nil {
		c.Set(expiresAtContextKey, claims.ExpiresAt.Time)
	}
	c.Next()
}

// renderError writes err as a JSON error body with the status of its kind.
func (h *httpHandler) renderError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	c.AbortWithStatusJSON(statusForKind(kind), errorPayload{
		Error:   string(kind),
		Message: apperr.MessageOf(err),
		Code:    apperr.CodeOf(err),
	})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.KindAuth:
		return http.StatusUnauthorized
	case apperr.KindUnauthorized, apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func invalidRequest(operation string, err error) error {
	return apperr.New(apperr.KindInvalid, operation, "invalid_request", "invalid request body", err)
}
