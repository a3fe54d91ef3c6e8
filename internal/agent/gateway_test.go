package agent

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgeci/forge/internal/accounts"
	"github.com/forgeci/forge/internal/policy"
	"github.com/forgeci/forge/internal/store"
	"github.com/forgeci/forge/pkg/eventbus"
	"github.com/forgeci/forge/pkg/model"
)

type stubReadiness struct{ ready bool }

func (s *stubReadiness) Ready() bool { return s.ready }

type env struct {
	gateway *Gateway
	server  *httptest.Server
	ready   *stubReadiness
	policy  *policy.Service
}

func newEnv(t *testing.T, applyPolicy bool) *env {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil, zap.NewNop())
	acctSvc := accounts.NewService(zap.NewNop(), st)
	polSvc := policy.NewService(zap.NewNop(), st)

	_, err = acctSvc.Provision(context.Background(), model.Credentials{Username: "admin", Password: "admin"})
	require.NoError(t, err)

	if applyPolicy {
		_, err = polSvc.Apply(context.Background())
		require.NoError(t, err)
	}

	ready := &stubReadiness{ready: true}
	gw := NewGateway(zap.NewNop(), acctSvc, polSvc, eventbus.New(), ready)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)

	return &env{gateway: gw, server: srv, ready: ready, policy: polSvc}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/agent"
}

func basicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

func dial(t *testing.T, e *env, name, username, password string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	header := http.Header{}
	header.Set("X-Agent-Name", name)
	header.Set("Authorization", basicAuth(username, password))
	return websocket.DefaultDialer.Dial(wsURL(e.server), header)
}

func waitForAgents(t *testing.T, e *env, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(e.gateway.Agents()) == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d connected agents, got %d", want, len(e.gateway.Agents()))
}

func TestConnect_AuthenticatedAgentIsAdmitted(t *testing.T) {
	e := newEnv(t, true)

	conn, resp, err := dial(t, e, "agent-1", "admin", "admin")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	waitForAgents(t, e, 1)
	agents := e.gateway.Agents()
	assert.Equal(t, "agent-1", agents[0].Name)
}

func TestConnect_InvalidCredentialsRejected(t *testing.T) {
	e := newEnv(t, true)

	_, resp, err := dial(t, e, "agent-1", "admin", "wrong")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, e.gateway.Agents())
}

func TestConnect_MissingAgentName(t *testing.T) {
	e := newEnv(t, true)

	header := http.Header{}
	header.Set("Authorization", basicAuth("admin", "admin"))
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(e.server), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestConnect_RefusedBeforeReady(t *testing.T) {
	e := newEnv(t, true)
	e.ready.ready = false

	_, resp, err := dial(t, e, "agent-1", "admin", "admin")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestConnect_RefusedWhenTrustCheckStillRequired(t *testing.T) {
	// policy never applied: the trust confirmation is still in force
	e := newEnv(t, false)

	_, resp, err := dial(t, e, "agent-1", "admin", "admin")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDisconnect_UnregistersAgent(t *testing.T) {
	e := newEnv(t, true)

	conn, _, err := dial(t, e, "agent-1", "admin", "admin")
	require.NoError(t, err)

	waitForAgents(t, e, 1)
	require.NoError(t, conn.Close())
	waitForAgents(t, e, 0)
}
