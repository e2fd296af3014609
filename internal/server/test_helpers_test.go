package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/admin"
	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/internal/database"
	"github.com/MarcoPoloResearchLab/quill/internal/posts"
	"github.com/MarcoPoloResearchLab/quill/internal/profiles"
	"github.com/MarcoPoloResearchLab/quill/internal/realtime"
	mr "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type apiHarness struct {
	server   *httptest.Server
	database *gorm.DB
}

func newAPIHarness(t *testing.T, limit LoginRateLimit) apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "quill.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	redisServer, err := mr.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(redisServer.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: redisServer.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	credentials, err := auth.NewCredentialStore(auth.CredentialStoreConfig{Database: db, HashCost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to construct credential store: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{SigningSecret: []byte("test-signing-secret")})
	if err != nil {
		t.Fatalf("failed to construct token issuer: %v", err)
	}
	profileRepo, err := profiles.NewGormRepository(db)
	if err != nil {
		t.Fatalf("failed to construct profile repository: %v", err)
	}
	profileService, err := profiles.NewService(profiles.ServiceConfig{Repository: profileRepo})
	if err != nil {
		t.Fatalf("failed to construct profile service: %v", err)
	}
	postRepo, err := posts.NewGormRepository(db, posts.NewServerClock(nil))
	if err != nil {
		t.Fatalf("failed to construct post repository: %v", err)
	}
	gateway, err := posts.NewGateway(posts.GatewayConfig{
		Repository: postRepo,
		Roles:      profileService,
		Feed:       realtime.NewDispatcher(),
	})
	if err != nil {
		t.Fatalf("failed to construct gateway: %v", err)
	}
	directory, err := admin.NewDirectory(admin.DirectoryConfig{Profiles: profileService, Posts: gateway})
	if err != nil {
		t.Fatalf("failed to construct directory: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		Credentials:       credentials,
		Tokens:            tokens,
		Revocations:       auth.NewRevocationList(redisClient),
		Profiles:          profileService,
		Posts:             gateway,
		Directory:         directory,
		LoginRateLimit:    limit,
		HeartbeatInterval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return apiHarness{server: server, database: db}
}

func generousLimit() LoginRateLimit {
	return LoginRateLimit{RPS: 1000, Burst: 1000}
}

type apiResponse struct {
	status int
	body   []byte
}

func (r apiResponse) decode(t *testing.T, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(r.body, target); err != nil {
		t.Fatalf("failed to decode response %q: %v", string(r.body), err)
	}
}

func (r apiResponse) errorPayload(t *testing.T) errorPayload {
	t.Helper()
	var payload errorPayload
	r.decode(t, &payload)
	return payload
}

func (h apiHarness) do(t *testing.T, method string, path string, token string, body interface{}) apiResponse {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to construct request: %v", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer response.Body.Close()
	payload, err := io.ReadAll(response.Body)
	if err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return apiResponse{status: response.StatusCode, body: payload}
}

type signedInUser struct {
	token   string
	profile profiles.Profile
}

func (h apiHarness) signUp(t *testing.T, email string) signedInUser {
	t.Helper()
	response := h.do(t, http.MethodPost, "/auth/signup", "", credentialsPayload{Email: email, Password: "secret-password"})
	if response.status != http.StatusCreated {
		t.Fatalf("signup for %s failed: %d %s", email, response.status, string(response.body))
	}
	var payload authResponsePayload
	response.decode(t, &payload)
	return signedInUser{token: payload.AccessToken, profile: payload.Profile}
}

func (h apiHarness) promote(t *testing.T, userID string) {
	t.Helper()
	if err := h.database.Model(&profiles.Profile{}).Where("id = ?", userID).Update("role", profiles.RoleAdmin).Error; err != nil {
		t.Fatalf("failed to promote %s: %v", userID, err)
	}
}

func (h apiHarness) createPost(t *testing.T, token string, title string) string {
	t.Helper()
	response := h.do(t, http.MethodPost, "/posts", token, posts.Draft{Title: title, Content: "body"})
	if response.status != http.StatusCreated {
		t.Fatalf("create post failed: %d %s", response.status, string(response.body))
	}
	var payload createPostResponsePayload
	response.decode(t, &payload)
	return payload.ID
}
