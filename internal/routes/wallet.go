package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	group := r.Group("/wallet")
	group.Post("", h.Create)
	group.Get("", h.Get)
	group.Delete("", h.Delete)
	group.Get("/balance", h.Balance)
	group.Post("/send", h.Send)
	group.Get("/history", h.History)
	group.Get("/qr.png", h.AddressQR)
}
