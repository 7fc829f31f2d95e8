package kyc

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/qrimage"
)

// Handler exposes KYC endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a KYC handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Submit validates the form and commits its hash.
func (h *Handler) Submit(c *fiber.Ctx) error {
	var form Form
	if err := c.BodyParser(&form); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	commitment, err := h.service.Submit(c.UserContext(), form)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusCreated).JSON(commitment)
}

// Poll checks the chain for an approval.
func (h *Handler) Poll(c *fiber.Ctx) error {
	res, err := h.service.PollApproval(c.UserContext())
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(res)
}

// Status returns the persisted state.
func (h *Handler) Status(c *fiber.Ctx) error {
	st, err := h.service.Current(c.UserContext())
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(fiber.Map{
		"status":            st,
		"governance_access": st.State == Approved,
	})
}

// Reset clears every KYC record on the device.
func (h *Handler) Reset(c *fiber.Ctx) error {
	if err := h.service.Reset(c.UserContext()); err != nil {
		return apperr.Respond(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// CredentialQR renders the citizen credential as a PNG QR code.
func (h *Handler) CredentialQR(c *fiber.Ctx) error {
	png, err := h.service.CredentialQR(c.UserContext(), c.QueryInt("size", qrimage.DefaultSize))
	if err != nil {
		return apperr.Respond(c, err)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}
