package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/payments"
)

// RegisterPaymentRoutes wires payment request endpoints.
func RegisterPaymentRoutes(r fiber.Router, h *payments.Handler) {
	group := r.Group("/payments")
	group.Post("/requests", h.Create)
	group.Post("/requests/parse", h.Parse)
	group.Get("/requests/qr.png", h.QR)
	group.Post("/pay", h.Pay)
}
