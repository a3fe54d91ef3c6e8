package api

import "github.com/gofiber/fiber/v2"

// RegisterRoutes wires the web UI port's routes.
// The /setup tree answers 410 unconditionally: the interactive wizard is
// not gated on state, it simply does not exist.
func RegisterRoutes(app *fiber.App, h *Handler, sessions *SessionManager) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).SendString("ok")
	})
	app.Get("/ready", h.Ready)

	app.All("/setup", h.SetupGone)
	app.All("/setup/*", h.SetupGone)

	app.Post("/login", h.Login)
	app.Post("/logout", h.Logout)

	v1 := app.Group("/api/v1", RequireSession(sessions))
	v1.Get("/whoami", h.Whoami)
	v1.Get("/accounts/:username", h.GetAccount)
	v1.Get("/plugins", h.ListPlugins)
	v1.Get("/agents", h.ListAgents)
}
