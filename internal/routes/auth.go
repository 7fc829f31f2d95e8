package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/auth"
)

// RegisterAuthRoutes wires authentication endpoints.
func RegisterAuthRoutes(r fiber.Router, h *auth.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/auth")
	group.Post("/register", h.Register)
	if rateLimiter != nil {
		group.Post("/login", rateLimiter, h.Login)
	} else {
		group.Post("/login", h.Login)
	}
	group.Post("/logout", h.Logout)
	group.Get("/session", h.Session)
	group.Post("/password/reset", h.ResetPassword)
}

// RegisterProfileRoutes wires endpoints acting on the session user.
func RegisterProfileRoutes(r fiber.Router, h *auth.Handler) {
	r.Get("/me", h.Me)
	r.Patch("/me", h.UpdateProfile)
	r.Post("/auth/password", h.ChangePassword)
}
