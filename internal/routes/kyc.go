package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/kyc"
)

// RegisterKYCRoutes wires the identity attestation endpoints.
func RegisterKYCRoutes(r fiber.Router, h *kyc.Handler) {
	group := r.Group("/kyc")
	group.Post("/submit", h.Submit)
	group.Post("/poll", h.Poll)
	group.Get("/status", h.Status)
	group.Delete("", h.Reset)
	group.Get("/credential/qr.png", h.CredentialQR)
}
