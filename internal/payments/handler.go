package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/qrimage"
)

// Handler exposes payment endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Merchant string `json:"merchant"`
	Amount   string `json:"amount"`
	Token    string `json:"token"`
	Note     string `json:"note"`
}

type payRequest struct {
	Payload string `json:"payload"`
}

// Create issues a payment request and returns its QR payload.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.CreateRequest(CreateInput{Merchant: req.Merchant, Amount: req.Amount, Token: req.Token, Note: req.Note})
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"request": res,
		"payload": res.Payload(),
	})
}

// Parse decodes a scanned payload without paying it.
func (h *Handler) Parse(c *fiber.Ctx) error {
	var req payRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	parsed, err := h.service.ParseRequest(req.Payload)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(parsed.Request)
}

// Pay settles a scanned payload.
func (h *Handler) Pay(c *fiber.Ctx) error {
	var req payRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.service.Pay(c.UserContext(), req.Payload)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusAccepted).JSON(tx)
}

// QR renders a payload passed as ?payload= as a PNG.
func (h *Handler) QR(c *fiber.Ctx) error {
	png, err := h.service.RequestQR(c.Query("payload"), c.QueryInt("size", qrimage.DefaultSize))
	if err != nil {
		return apperr.Respond(c, err)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}
