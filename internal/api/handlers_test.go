package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgeci/forge/internal/accounts"
	"github.com/forgeci/forge/internal/rate"
	"github.com/forgeci/forge/internal/store"
	"github.com/forgeci/forge/pkg/model"
)

type stubReadiness struct{ ready bool }

func (s *stubReadiness) Ready() bool { return s.ready }

type stubAgents struct{ agents []model.Agent }

func (s *stubAgents) Agents() []model.Agent { return s.agents }

type testEnv struct {
	app      *fiber.App
	store    store.Store
	accounts *accounts.Service
	ready    *stubReadiness
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil, zap.NewNop())
	acctSvc := accounts.NewService(zap.NewNop(), st)

	_, err = acctSvc.Provision(context.Background(), model.Credentials{Username: "admin", Password: "admin"})
	require.NoError(t, err)

	sessions := NewSessionManager(st, time.Hour)
	ready := &stubReadiness{ready: true}
	agents := &stubAgents{agents: []model.Agent{{Name: "agent-1", RemoteAddr: "10.0.0.5:51234"}}}

	handler := NewHandler(zap.NewNop(), acctSvc, sessions, st, ready, agents, nil)

	app := fiber.New()
	RegisterRoutes(app, handler, sessions)

	return &testEnv{app: app, store: st, accounts: acctSvc, ready: ready}
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string, header map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func login(t *testing.T, env *testEnv, username, password string) (*http.Response, LoginResponse) {
	t.Helper()
	resp := doJSON(t, env.app, http.MethodPost, "/login",
		`{"username":"`+username+`","password":"`+password+`"}`, nil)

	var body LoginResponse
	if resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)

	resp, body := login(t, env, "admin", "admin")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body.Token)
	assert.Equal(t, "admin", body.Username)
	assert.Equal(t, "admin", body.Role)
	assert.True(t, body.FullControl)
}

func TestLogin_WrongCredentials(t *testing.T) {
	env := newTestEnv(t)

	for _, pair := range [][2]string{
		{"admin", "wrong"},
		{"root", "admin"},
		{"", ""},
	} {
		resp, _ := login(t, env, pair[0], pair[1])
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode,
			"pair %q/%q must be rejected", pair[0], pair[1])
	}
}

func TestLogin_Throttled(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil, zap.NewNop())
	acctSvc := accounts.NewService(zap.NewNop(), st)
	_, err = acctSvc.Provision(context.Background(), model.Credentials{Username: "admin", Password: "admin"})
	require.NoError(t, err)

	sessions := NewSessionManager(st, time.Hour)
	limits := rate.NewManager(rate.Config{RequestsPerSecond: 1, Burst: 2})
	handler := NewHandler(zap.NewNop(), acctSvc, sessions, st, &stubReadiness{ready: true}, nil, limits)

	app := fiber.New()
	RegisterRoutes(app, handler, sessions)
	env := &testEnv{app: app}

	// burst of 2 gets through, the third is throttled
	for i := 0; i < 2; i++ {
		resp, _ := login(t, env, "admin", "wrong")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	}
	resp, _ := login(t, env, "admin", "admin")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestWhoami_WithSession(t *testing.T) {
	env := newTestEnv(t)

	_, body := login(t, env, "admin", "admin")

	resp := doJSON(t, env.app, http.MethodGet, "/api/v1/whoami", "",
		map[string]string{"Authorization": "Bearer " + body.Token})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var acct AccountResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acct))
	assert.Equal(t, "admin", acct.Username)
	assert.Equal(t, "admin", acct.Role)
}

func TestProtectedRoutes_RequireSession(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/v1/whoami",
		"/api/v1/plugins",
		"/api/v1/agents",
		"/api/v1/accounts/admin",
	} {
		resp := doJSON(t, env.app, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "path %s", path)
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	env := newTestEnv(t)

	_, body := login(t, env, "admin", "admin")
	auth := map[string]string{"Authorization": "Bearer " + body.Token}

	resp := doJSON(t, env.app, http.MethodPost, "/logout", "", auth)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, env.app, http.MethodGet, "/api/v1/whoami", "", auth)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSetup_AlwaysGone(t *testing.T) {
	env := newTestEnv(t)

	// regardless of readiness state or request order
	for _, ready := range []bool{false, true} {
		env.ready.ready = ready
		for _, path := range []string{"/setup", "/setup/", "/setup/wizard/step1"} {
			for _, method := range []string{http.MethodGet, http.MethodPost} {
				resp := doJSON(t, env.app, method, path, "", nil)
				assert.Equal(t, http.StatusGone, resp.StatusCode,
					"%s %s with ready=%v", method, path, ready)
			}
		}
	}
}

func TestReady_ReflectsState(t *testing.T) {
	env := newTestEnv(t)

	env.ready.ready = false
	resp := doJSON(t, env.app, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var state ReadyResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, "UNINITIALIZED", state.State)

	env.ready.ready = true
	resp = doJSON(t, env.app, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.Equal(t, "READY", state.State)
}

func TestListPlugins(t *testing.T) {
	env := newTestEnv(t)

	now := time.Now().UTC()
	require.NoError(t, env.store.UpsertPlugin(context.Background(),
		model.Plugin{Name: "git", Version: "5.2", InstalledAt: now}))

	_, body := login(t, env, "admin", "admin")
	resp := doJSON(t, env.app, http.MethodGet, "/api/v1/plugins", "",
		map[string]string{"Authorization": "Bearer " + body.Token})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var plugins []model.Plugin
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&plugins))
	require.Len(t, plugins, 1)
	assert.Equal(t, "git", plugins[0].Name)
}

func TestListAgents(t *testing.T) {
	env := newTestEnv(t)

	_, body := login(t, env, "admin", "admin")
	resp := doJSON(t, env.app, http.MethodGet, "/api/v1/agents", "",
		map[string]string{"Authorization": "Bearer " + body.Token})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var agents []model.Agent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "agent-1", agents[0].Name)
}

func TestGetAccount_NotFound(t *testing.T) {
	env := newTestEnv(t)

	_, body := login(t, env, "admin", "admin")
	resp := doJSON(t, env.app, http.MethodGet, "/api/v1/accounts/ghost", "",
		map[string]string{"Authorization": "Bearer " + body.Token})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAccountResponse_NeverExposesHash(t *testing.T) {
	env := newTestEnv(t)

	_, body := login(t, env, "admin", "admin")
	resp := doJSON(t, env.app, http.MethodGet, "/api/v1/accounts/admin", "",
		map[string]string{"Authorization": "Bearer " + body.Token})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password")
	assert.NotContains(t, string(raw), "$2a$")
}
