package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/forgeci/forge/internal/accounts"
	"github.com/forgeci/forge/internal/metrics"
	"github.com/forgeci/forge/internal/rate"
	"github.com/forgeci/forge/internal/store"
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

// AgentLister reports agents currently connected to the gateway.
type AgentLister interface {
	Agents() []model.Agent
}

// Handler serves the web UI port's JSON API.
type Handler struct {
	logger   *zap.Logger
	auth     Authenticator
	sessions *SessionManager
	store    store.Store
	ready    ReadinessReporter
	agents   AgentLister
	limits   *rate.Manager
}

// NewHandler creates the API handler.
// agents and limits are optional: a nil agents reports no connected
// agents, a nil limits disables login throttling.
func NewHandler(
	logger *zap.Logger,
	auth Authenticator,
	sessions *SessionManager,
	st store.Store,
	ready ReadinessReporter,
	agents AgentLister,
	limits *rate.Manager,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		auth:     auth,
		sessions: sessions,
		store:    st,
		ready:    ready,
		agents:   agents,
		limits:   limits,
	}
}

// Login authenticates a credential pair and issues a session token.
func (h *Handler) Login(c *fiber.Ctx) error {
	if h.limits != nil && !h.limits.Allow(c.IP()) {
		metrics.IncAuthAttempt("throttled")
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too many login attempts"})
	}

	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	acct, err := h.auth.Authenticate(c.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, accounts.ErrInvalidCredentials) {
			metrics.IncAuthAttempt("denied")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid credentials"})
		}
		h.logger.Error("api.login.failed", zap.Error(err))
		metrics.IncAuthAttempt("error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "authentication unavailable"})
	}

	token, err := h.sessions.Issue(c.Context(), acct.Username)
	if err != nil {
		h.logger.Error("api.session.issue_failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "session unavailable"})
	}

	metrics.IncAuthAttempt("ok")
	return c.Status(fiber.StatusOK).JSON(LoginResponse{
		Token:       token,
		Username:    acct.Username,
		Role:        string(acct.Role),
		FullControl: true,
	})
}

// Logout revokes the presented session token.
func (h *Handler) Logout(c *fiber.Ctx) error {
	token := bearerToken(c)
	if token != "" {
		if err := h.sessions.Revoke(c.Context(), token); err != nil {
			h.logger.Warn("api.session.revoke_failed", zap.Error(err))
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Whoami returns the authenticated identity.
func (h *Handler) Whoami(c *fiber.Ctx) error {
	username, _ := c.Locals(localsUsername).(string)

	acct, err := h.store.GetAccount(c.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unknown identity"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(toAccountResponse(acct))
}

// GetAccount returns a single account by username.
func (h *Handler) GetAccount(c *fiber.Ctx) error {
	username := c.Params("username")

	acct, err := h.store.GetAccount(c.Context(), username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "account not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusOK).JSON(toAccountResponse(acct))
}

// ListPlugins returns the recorded plugin inventory.
func (h *Handler) ListPlugins(c *fiber.Ctx) error {
	plugins, err := h.store.ListPlugins(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if plugins == nil {
		plugins = []model.Plugin{}
	}
	return c.Status(fiber.StatusOK).JSON(plugins)
}

// ListAgents returns the agents connected to the gateway.
func (h *Handler) ListAgents(c *fiber.Ctx) error {
	agents := []model.Agent{}
	if h.agents != nil {
		agents = h.agents.Agents()
	}
	return c.Status(fiber.StatusOK).JSON(agents)
}

// Ready reports 200 once bootstrap has completed, 503 before.
func (h *Handler) Ready(c *fiber.Ctx) error {
	if h.ready != nil && h.ready.Ready() {
		return c.Status(fiber.StatusOK).JSON(ReadyResponse{State: "READY"})
	}
	return c.Status(fiber.StatusServiceUnavailable).JSON(ReadyResponse{State: "UNINITIALIZED"})
}

// SetupGone answers every request under /setup. The interactive setup
// wizard is permanently disabled; there is nothing to reach.
func (h *Handler) SetupGone(c *fiber.Ctx) error {
	return c.Status(fiber.StatusGone).JSON(fiber.Map{
		"error": "interactive setup is disabled; this server is provisioned automatically at startup",
	})
}
