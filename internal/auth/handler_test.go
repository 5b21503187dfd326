package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyon-id/halcyon-id/internal/auth"
	"github.com/halcyon-id/halcyon-id/internal/ratelimit"
	"github.com/halcyon-id/halcyon-id/internal/reset"
	"github.com/halcyon-id/halcyon-id/internal/shared"
	"github.com/halcyon-id/halcyon-id/internal/token"
	"github.com/halcyon-id/halcyon-id/internal/users"
	_ "github.com/halcyon-id/halcyon-id/testing"
)

type memoryRepo struct {
	mu      sync.Mutex
	byID    map[int64]*users.User
	byEmail map[string]*users.User
	nextID  int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byID: map[int64]*users.User{}, byEmail: map[string]*users.User{}, nextID: 1}
}

func (m *memoryRepo) FindByEmail(ctx context.Context, email string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byEmail[email]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *memoryRepo) FindByID(ctx context.Context, id int64) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (m *memoryRepo) Create(ctx context.Context, email, passwordHash, name string) (*users.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[email]; exists {
		return nil, users.ErrDuplicateEmail
	}
	now := time.Now().UTC()
	user := &users.User{ID: m.nextID, Email: email, PasswordHash: passwordHash, Name: name, IsActive: true, CreatedAt: now, UpdatedAt: now}
	m.nextID++
	m.byID[user.ID] = user
	m.byEmail[user.Email] = user
	clone := *user
	return &clone, nil
}

func (m *memoryRepo) SetPassword(ctx context.Context, id int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[id]
	if !ok {
		return shared.ErrNotFound
	}
	user.PasswordHash = passwordHash
	return nil
}

func (m *memoryRepo) Save(ctx context.Context, updated *users.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.byID[updated.ID]
	if !ok {
		return shared.ErrNotFound
	}
	if other, exists := m.byEmail[updated.Email]; exists && other.ID != updated.ID {
		return users.ErrDuplicateEmail
	}
	delete(m.byEmail, user.Email)
	*user = *updated
	m.byEmail[user.Email] = user
	return nil
}

func (m *memoryRepo) TouchLastLogin(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user, ok := m.byID[id]; ok {
		now := time.Now().UTC()
		user.LastLoginAt = &now
	}
	return nil
}

type tokenSink struct {
	mu     sync.Mutex
	tokens []string
}

func (s *tokenSink) NotifyPasswordReset(ctx context.Context, email, resetToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, resetToken)
	return nil
}

func (s *tokenSink) last(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.tokens, "no reset token was dispatched")
	return s.tokens[len(s.tokens)-1]
}

func newAuthRouter(t *testing.T) (chi.Router, *tokenSink) {
	t.Helper()
	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	sink := &tokenSink{}
	signer := token.NewSigner("handler-test-secret", 5*time.Minute, 24*time.Hour)
	broker := reset.NewBroker(reset.NewRedisStore(redisClient), nil, 10*time.Minute, nil)
	limiter := ratelimit.NewLimiter(redisClient, nil)
	service := auth.NewService(newMemoryRepo(), signer, broker, limiter, nil, sink, nil, auth.ServiceConfig{})

	router := chi.NewRouter()
	router.Route("/api/auth", auth.NewHandler(nil, service).MountRoutes)
	return router, sink
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, opt := range opts {
		opt(req)
	}
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	return res
}

func withBearer(accessToken string) func(*http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+accessToken)
	}
}

func withRemoteAddr(addr string) func(*http.Request) {
	return func(r *http.Request) {
		r.RemoteAddr = addr
	}
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	return body
}

func registerBody(email string) map[string]string {
	return map[string]string{"email": email, "password": "longenough1", "password2": "longenough1", "name": "Test User"}
}

func loginFor(t *testing.T, router chi.Router, email, password string) map[string]any {
	t.Helper()
	res := doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, res.Code, "login failed: %s", res.Body.String())
	body := decodeBody(t, res)
	pair, ok := body["jwt_token"].(map[string]any)
	require.True(t, ok, "missing jwt_token in %v", body)
	return pair
}

func TestRegisterEndpoint(t *testing.T) {
	router, _ := newAuthRouter(t)

	res := doJSON(t, router, http.MethodPost, "/api/auth/register", registerBody("a@b.com"))
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	body := decodeBody(t, res)
	assert.Equal(t, "a@b.com", body["email"])
	assert.NotContains(t, res.Body.String(), "password")

	// Same email again is rejected.
	res = doJSON(t, router, http.MethodPost, "/api/auth/register", registerBody("a@b.com"))
	require.Equal(t, http.StatusBadRequest, res.Code)
	assert.Contains(t, decodeBody(t, res)["detail"], "already in use")
}

func TestRegisterEndpointValidation(t *testing.T) {
	router, _ := newAuthRouter(t)

	res := doJSON(t, router, http.MethodPost, "/api/auth/register", map[string]string{"password": "longenough1", "password2": "longenough1"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	res = doJSON(t, router, http.MethodPost, "/api/auth/register", map[string]string{"email": "not-an-email", "password": "longenough1", "password2": "longenough1"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestLoginAndProfileFlow(t *testing.T) {
	router, _ := newAuthRouter(t)
	res := doJSON(t, router, http.MethodPost, "/api/auth/register", registerBody("a@b.com"))
	require.Equal(t, http.StatusCreated, res.Code)

	pair := loginFor(t, router, "a@b.com", "longenough1")
	access, _ := pair["access"].(string)
	require.NotEmpty(t, access)
	assert.NotEmpty(t, pair["refresh"])
	assert.EqualValues(t, 86400, pair["expiry_time_seconds"])

	// Profile requires the bearer token.
	res = doJSON(t, router, http.MethodGet, "/api/auth/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = doJSON(t, router, http.MethodGet, "/api/auth/profile", nil, withBearer(access))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "a@b.com", decodeBody(t, res)["email"])

	res = doJSON(t, router, http.MethodPut, "/api/auth/update-profile", map[string]string{"name": "Renamed"}, withBearer(access))
	require.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "Renamed", decodeBody(t, res)["name"])
}

func TestLoginEndpointInvalidCredentials(t *testing.T) {
	router, _ := newAuthRouter(t)
	res := doJSON(t, router, http.MethodPost, "/api/auth/register", registerBody("a@b.com"))
	require.Equal(t, http.StatusCreated, res.Code)

	wrongPassword := doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@b.com", "password": "wrongpassword"})
	unknownEmail := doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{"email": "ghost@b.com", "password": "longenough1"})

	require.Equal(t, http.StatusBadRequest, wrongPassword.Code)
	require.Equal(t, http.StatusBadRequest, unknownEmail.Code)
	// The two failure modes must be indistinguishable on the wire.
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestLoginEndpointRateLimited(t *testing.T) {
	router, _ := newAuthRouter(t)

	for i := 0; i < 5; i++ {
		res := doJSON(t, router, http.MethodPost, "/api/auth/login",
			map[string]string{"email": "ghost@b.com", "password": "whatever123"},
			withRemoteAddr("203.0.113.7:4000"))
		assert.Equal(t, http.StatusBadRequest, res.Code, "attempt %d", i+1)
	}
	res := doJSON(t, router, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "ghost@b.com", "password": "whatever123"},
		withRemoteAddr("203.0.113.7:4000"))
	assert.Equal(t, http.StatusTooManyRequests, res.Code)

	// Another address still gets the generic credentials error.
	res = doJSON(t, router, http.MethodPost, "/api/auth/login",
		map[string]string{"email": "ghost@b.com", "password": "whatever123"},
		withRemoteAddr("203.0.113.8:4000"))
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestForgotPasswordEndpointUnknownEmail(t *testing.T) {
	router, _ := newAuthRouter(t)

	res := doJSON(t, router, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "ghost@b.com"})
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestForgotPasswordEndpointRejectsAuthenticated(t *testing.T) {
	router, _ := newAuthRouter(t)
	res := doJSON(t, router, http.MethodPost, "/api/auth/register", registerBody("a@b.com"))
	require.Equal(t, http.StatusCreated, res.Code)
	pair := loginFor(t, router, "a@b.com", "longenough1")

	res = doJSON(t, router, http.MethodPost, "/api/auth/forgot-password",
		map[string]string{"email": "a@b.com"}, withBearer(pair["access"].(string)))
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestPasswordResetEndpointFlow(t *testing.T) {
	router, sink := newAuthRouter(t)
	res := doJSON(t, router, http.MethodPost, "/api/auth/register", registerBody("a@b.com"))
	require.Equal(t, http.StatusCreated, res.Code)

	res = doJSON(t, router, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": "a@b.com"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	resetToken := sink.last(t)

	res = doJSON(t, router, http.MethodPost, "/api/auth/reset-password",
		map[string]string{"token": resetToken, "new_password": "brandnewpass1", "new_password2": "brandnewpass1"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	assert.Equal(t, "Password reset successful.", decodeBody(t, res)["message"])

	// Consumed tokens do not work twice.
	res = doJSON(t, router, http.MethodPost, "/api/auth/reset-password",
		map[string]string{"token": resetToken, "new_password": "anotherpass1", "new_password2": "anotherpass1"})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	// The credential actually rotated.
	loginFor(t, router, "a@b.com", "brandnewpass1")
	res = doJSON(t, router, http.MethodPost, "/api/auth/login", map[string]string{"email": "a@b.com", "password": "longenough1"})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestTokenRefreshAndVerifyEndpoints(t *testing.T) {
	router, _ := newAuthRouter(t)
	res := doJSON(t, router, http.MethodPost, "/api/auth/register", registerBody("a@b.com"))
	require.Equal(t, http.StatusCreated, res.Code)
	pair := loginFor(t, router, "a@b.com", "longenough1")

	res = doJSON(t, router, http.MethodPost, "/api/auth/token/verify", map[string]string{"token": pair["access"].(string)})
	assert.Equal(t, http.StatusOK, res.Code)

	res = doJSON(t, router, http.MethodPost, "/api/auth/token/verify", map[string]string{"token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, res.Code)

	res = doJSON(t, router, http.MethodPost, "/api/auth/token/refresh", map[string]string{"refresh": pair["refresh"].(string)})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	refreshed := decodeBody(t, res)
	assert.NotEmpty(t, refreshed["access"])

	// Access tokens cannot be used to refresh.
	res = doJSON(t, router, http.MethodPost, "/api/auth/token/refresh", map[string]string{"refresh": pair["access"].(string)})
	assert.Equal(t, http.StatusUnauthorized, res.Code)
}

func TestMalformedBodyRejected(t *testing.T) {
	router, _ := newAuthRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusBadRequest, res.Code)

	var problem struct {
		Status int    `json:"status"`
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &problem))
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.Contains(t, problem.Detail, "malformed request")
}
