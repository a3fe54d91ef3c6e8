package agent

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/forgeci/forge/internal/metrics"
	"github.com/forgeci/forge/internal/policy"
	"github.com/forgeci/forge/pkg/eventbus"
	"github.com/forgeci/forge/pkg/model"
)

// Authenticator verifies a credential pair against the user store.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) (*model.Account, error)
}

// ReadinessReporter answers whether initialization has completed.
type ReadinessReporter interface {
	Ready() bool
}

// Gateway serves the inter-agent port. Agents dial in over websocket once
// the server is READY, authenticate with the same user store as the web
// surface, and stay connected for the build-traffic session. With the
// agent trust confirmation disabled by bootstrap, an authenticated agent
// is admitted without manual approval.
type Gateway struct {
	logger   *zap.Logger
	auth     Authenticator
	policy   *policy.Service
	bus      *eventbus.EventBus
	ready    ReadinessReporter
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	agents map[string]model.Agent

	server *http.Server
}

// NewGateway creates an agent gateway.
func NewGateway(
	logger *zap.Logger,
	auth Authenticator,
	pol *policy.Service,
	bus *eventbus.EventBus,
	ready ReadinessReporter,
) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		logger: logger,
		auth:   auth,
		policy: pol,
		bus:    bus,
		ready:  ready,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		agents: make(map[string]model.Agent),
	}
}

// Handler returns the HTTP handler for the agent port.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/agent", g.handleConnect)
	return mux
}

// Start listens on addr until Shutdown. Blocks.
func (g *Gateway) Start(addr string) error {
	g.server = &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.logger.Info("agent.gateway.listening", zap.String("addr", addr))
	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("agent gateway listen: %w", err)
	}
	return nil
}

// Shutdown stops the listener.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// Agents returns a snapshot of the connected agents.
func (g *Gateway) Agents() []model.Agent {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]model.Agent, 0, len(g.agents))
	for _, a := range g.agents {
		out = append(out, a)
	}
	return out
}

func (g *Gateway) handleConnect(w http.ResponseWriter, r *http.Request) {
	if g.ready != nil && !g.ready.Ready() {
		http.Error(w, "server is not ready", http.StatusServiceUnavailable)
		return
	}

	name := r.Header.Get("X-Agent-Name")
	if name == "" {
		http.Error(w, "missing X-Agent-Name header", http.StatusBadRequest)
		return
	}

	username, password, ok := r.BasicAuth()
	if !ok {
		http.Error(w, "missing credentials", http.StatusUnauthorized)
		return
	}
	if _, err := g.auth.Authenticate(r.Context(), username, password); err != nil {
		metrics.IncAuthAttempt("denied")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	metrics.IncAuthAttempt("ok")

	// Bootstrap clears this; if it is still set the provisioner has not
	// run and the connection would need a manual confirmation we cannot
	// perform. Refuse instead.
	if g.policy != nil && g.policy.AgentTrustRequired(r.Context()) {
		http.Error(w, "agent trust confirmation required", http.StatusForbidden)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("agent.gateway.upgrade_failed",
			zap.String("agent", name),
			zap.Error(err))
		return
	}

	g.register(name, conn.RemoteAddr().String())
	defer g.unregister(name)

	g.readLoop(name, conn)
}

func (g *Gateway) register(name, remoteAddr string) {
	g.mu.Lock()
	g.agents[name] = model.Agent{
		Name:        name,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now().UTC(),
	}
	g.mu.Unlock()

	metrics.ConnectedAgents.Inc()
	g.logger.Info("agent.connected",
		zap.String("agent", name),
		zap.String("remote", remoteAddr))

	if g.bus != nil {
		g.bus.Publish(model.AgentStatusEvent{
			AgentName: name,
			Status:    "connected",
			Timestamp: time.Now().UTC(),
		})
	}
}

func (g *Gateway) unregister(name string) {
	g.mu.Lock()
	delete(g.agents, name)
	g.mu.Unlock()

	metrics.ConnectedAgents.Dec()
	g.logger.Info("agent.disconnected", zap.String("agent", name))

	if g.bus != nil {
		g.bus.Publish(model.AgentStatusEvent{
			AgentName: name,
			Status:    "disconnected",
			Timestamp: time.Now().UTC(),
		})
	}
}

// readLoop keeps the connection alive, answering pings, until the agent
// hangs up or errors.
func (g *Gateway) readLoop(name string, conn *websocket.Conn) {
	defer conn.Close()

	conn.SetPingHandler(func(appData string) error {
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Warn("agent.read_failed",
					zap.String("agent", name),
					zap.Error(err))
			}
			return
		}
	}
}
