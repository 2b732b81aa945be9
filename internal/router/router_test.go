package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type seqIDs struct {
	mu sync.Mutex
	id int64
}

func (s *seqIDs) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id++
	return s.id
}

type downStore struct{ *userrepo.MemoryRepo }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

type testEnv struct {
	handler http.Handler
	metrics *Metrics
}

func newEnv(t *testing.T, store user.Store, ttl time.Duration) *testEnv {
	t.Helper()
	codec, err := session.New(session.Config{Secret: []byte("router-test-secret"), TTL: ttl, Issuer: "pitchfork-auth"})
	require.NoError(t, err)
	logger := zap.NewNop().Sugar()
	metrics := NewMetrics()
	svc := user.NewAuthService(store, user.BcryptHasher{Cost: bcrypt.MinCost}, codec, logger, user.WithOutcomeRecorder(metrics))
	return &testEnv{
		handler: RegisterRoutes(Deps{Logger: logger, Auth: svc, Codec: codec, Metrics: metrics}),
		metrics: metrics,
	}
}

type result struct {
	code   int
	header http.Header
	body   map[string]any
	raw    string
}

func (e *testEnv) call(t *testing.T, method, path, body, token string) result {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	res := result{code: rec.Code, header: rec.Header(), raw: rec.Body.String()}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res.body))
	}
	return res
}

func data(t *testing.T, r result) map[string]any {
	t.Helper()
	d, ok := r.body["data"].(map[string]any)
	require.True(t, ok, "response has no data: %s", r.raw)
	return d
}

func TestAuthFlow(t *testing.T) {
	env := newEnv(t, userrepo.NewMemoryRepo(&seqIDs{}), 0)

	reg := env.call(t, http.MethodPost, "/auth/register", `{"email":"Alice@Example.com","password":"secret123","name":"Alice"}`, "")
	require.Equal(t, http.StatusCreated, reg.code, reg.raw)
	assert.Equal(t, true, reg.body["success"])
	token := data(t, reg)["token"].(string)
	regUser := data(t, reg)["user"].(map[string]any)
	assert.Equal(t, "alice@example.com", regUser["email"])
	assert.NotContains(t, reg.raw, "password")

	login := env.call(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"secret123"}`, "")
	require.Equal(t, http.StatusOK, login.code, login.raw)
	assert.Equal(t, regUser["id"], data(t, login)["user"].(map[string]any)["id"])

	me := env.call(t, http.MethodGet, "/auth/me", "", token)
	require.Equal(t, http.StatusOK, me.code, me.raw)
	assert.Equal(t, "Alice", data(t, me)["user"].(map[string]any)["name"])

	prof := env.call(t, http.MethodPut, "/auth/profile", `{"avatar":"https://img/a.png"}`, token)
	require.Equal(t, http.StatusOK, prof.code, prof.raw)
	updated := data(t, prof)["user"].(map[string]any)
	assert.Equal(t, "Alice", updated["name"])
	assert.Equal(t, "https://img/a.png", updated["avatar"])

	cp := env.call(t, http.MethodPut, "/auth/change-password", `{"currentPassword":"secret123","newPassword":"newsecret1"}`, token)
	require.Equal(t, http.StatusOK, cp.code, cp.raw)
	assert.Nil(t, cp.body["data"])

	old := env.call(t, http.MethodPost, "/auth/login", `{"email":"alice@example.com","password":"secret123"}`, "")
	assert.Equal(t, http.StatusUnauthorized, old.code)
	assert.Equal(t, "INVALID_CREDENTIALS", old.body["error"])

	ref := env.call(t, http.MethodPost, "/auth/refresh", "", token)
	require.Equal(t, http.StatusOK, ref.code, ref.raw)
	refreshed := data(t, ref)["token"].(string)
	assert.NotEqual(t, token, refreshed)
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/auth/me", "", refreshed).code)

	out := env.call(t, http.MethodPost, "/auth/logout", "", token)
	require.Equal(t, http.StatusOK, out.code)
	// stateless logout: the token keeps working until it expires
	assert.Equal(t, http.StatusOK, env.call(t, http.MethodGet, "/auth/me", "", token).code)

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.auth.WithLabelValues("register", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.auth.WithLabelValues("login", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.auth.WithLabelValues("login", "bad_credentials")))
}

func TestRegisterValidationAndDuplicate(t *testing.T) {
	env := newEnv(t, userrepo.NewMemoryRepo(&seqIDs{}), 0)

	bad := env.call(t, http.MethodPost, "/auth/register", `{"email":"","password":"123"}`, "")
	require.Equal(t, http.StatusBadRequest, bad.code)
	assert.Equal(t, "VALIDATION_ERROR", bad.body["error"])
	assert.Len(t, bad.body["details"], 2)

	require.Equal(t, http.StatusCreated, env.call(t, http.MethodPost, "/auth/register", `{"email":"a@b.co","password":"secret123"}`, "").code)
	dup := env.call(t, http.MethodPost, "/auth/register", `{"email":"A@B.CO","password":"secret456"}`, "")
	assert.Equal(t, http.StatusConflict, dup.code)
	assert.Equal(t, "DUPLICATE_EMAIL", dup.body["error"])
}

func TestBearerGuard(t *testing.T) {
	env := newEnv(t, userrepo.NewMemoryRepo(&seqIDs{}), 0)

	missing := env.call(t, http.MethodGet, "/auth/me", "", "")
	assert.Equal(t, http.StatusUnauthorized, missing.code)
	assert.Equal(t, "TOKEN_MISSING", missing.body["error"])

	invalid := env.call(t, http.MethodGet, "/auth/me", "", "not.a.token")
	assert.Equal(t, http.StatusUnauthorized, invalid.code)
	assert.Equal(t, "TOKEN_INVALID", invalid.body["error"])

	for _, path := range []string{"/auth/refresh", "/auth/logout"} {
		r := env.call(t, http.MethodPost, path, "", "")
		assert.Equal(t, http.StatusUnauthorized, r.code, path)
	}
}

func TestExpiredTokenIsForbidden(t *testing.T) {
	env := newEnv(t, userrepo.NewMemoryRepo(&seqIDs{}), time.Nanosecond)

	reg := env.call(t, http.MethodPost, "/auth/register", `{"email":"a@b.co","password":"secret123"}`, "")
	require.Equal(t, http.StatusCreated, reg.code, reg.raw)
	token := data(t, reg)["token"].(string)
	// exp is rounded up to the next whole second
	time.Sleep(1100 * time.Millisecond)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/auth/me"},
		{http.MethodPost, "/auth/refresh"},
	} {
		r := env.call(t, tc.method, tc.path, "", token)
		assert.Equal(t, http.StatusForbidden, r.code, tc.path)
		assert.Equal(t, "TOKEN_EXPIRED", r.body["error"], tc.path)
	}
}

func TestInfoHealthAndNotFound(t *testing.T) {
	env := newEnv(t, userrepo.NewMemoryRepo(&seqIDs{}), 0)

	root := env.call(t, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, root.code)
	assert.Equal(t, serviceName, data(t, root)["service"])
	assert.Len(t, data(t, root)["endpoints"], 7)

	health := env.call(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, health.code)
	assert.Equal(t, true, health.body["success"])
	assert.Equal(t, "ok", data(t, health)["status"])
	assert.Equal(t, "up", data(t, health)["database"])
	assert.NotEmpty(t, data(t, health)["timestamp"])

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodDelete, "/auth/me"},
		{http.MethodGet, "/auth/login"},
		{http.MethodPost, "/"},
	} {
		r := env.call(t, tc.method, tc.path, "", "")
		assert.Equal(t, http.StatusNotFound, r.code, tc.method+" "+tc.path)
		assert.Equal(t, "NOT_FOUND", r.body["error"])
		assert.Equal(t, "Endpoint not found", r.body["message"])
	}
}

func TestHealthReportsStoreDown(t *testing.T) {
	env := newEnv(t, downStore{userrepo.NewMemoryRepo(&seqIDs{})}, 0)
	health := env.call(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, health.code)
	assert.Equal(t, false, health.body["success"])
	assert.Equal(t, "degraded", data(t, health)["status"])
	assert.Equal(t, "down", data(t, health)["database"])
}

func TestMiddlewareHeaders(t *testing.T) {
	env := newEnv(t, userrepo.NewMemoryRepo(&seqIDs{}), 0)

	r := env.call(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, "nosniff", r.header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", r.header.Get("X-Frame-Options"))
	assert.Len(t, r.header.Get("X-Request-ID"), 27)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "caller-chosen")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "caller-chosen", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop().Sugar())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"INTERNAL_ERROR","message":"Internal server error"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, userrepo.NewMemoryRepo(&seqIDs{}), 0)
	env.call(t, http.MethodGet, "/health", "", "")
	env.call(t, http.MethodGet, "/missing", "", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.requests.WithLabelValues("GET /health", "GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.requests.WithLabelValues("unmatched", "GET", "404")))

	r := env.call(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, r.code)
	assert.Contains(t, r.raw, "pitchfork_auth_http_requests_total")
}

func TestMetricsMethodLabelIsBounded(t *testing.T) {
	env := newEnv(t, userrepo.NewMemoryRepo(&seqIDs{}), 0)

	for i := 0; i < 200; i++ {
		req := httptest.NewRequest("X"+strconv.Itoa(i), "/anything", nil)
		env.handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	assert.Equal(t, 1, testutil.CollectAndCount(env.metrics.requests))
	assert.Equal(t, 200.0, testutil.ToFloat64(env.metrics.requests.WithLabelValues("unmatched", "other", "404")))
	assert.Equal(t, "PATCH", methodLabel(http.MethodPatch))
	assert.Equal(t, "other", methodLabel("BREW"))
}
