package wallet

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/amount"
	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/ledger"
	"github.com/pezkuwi/pezkuwi_wallet/internal/qrimage"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type createRequest struct {
	Mnemonic  string `json:"mnemonic"`
	Overwrite bool   `json:"overwrite"`
}

type walletResponse struct {
	Address   string `json:"address"`
	HasWallet bool   `json:"has_wallet"`
}

// Create creates a fresh wallet or imports one from a recovery phrase. A
// different wallet already on the device is a 409 unless overwrite is set.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	create := h.service.CreateOrImportWallet
	if req.Overwrite {
		create = h.service.ReplaceWallet
	}
	address, err := create(c.UserContext(), req.Mnemonic)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusCreated).JSON(walletResponse{Address: address, HasWallet: true})
}

// Get returns the active address, loading the stored wallet if needed.
func (h *Handler) Get(c *fiber.Ctx) error {
	address, err := h.service.Address()
	if err != nil {
		address, err = h.service.LoadWallet(c.UserContext())
	}
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(walletResponse{Address: address, HasWallet: true})
}

// Delete wipes the wallet secret.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.service.DeleteWallet(c.UserContext()); err != nil {
		return apperr.Respond(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Balance returns raw and display balances; ?address= queries another account.
func (h *Handler) Balance(c *fiber.Ctx) error {
	bal, err := h.service.GetBalance(c.UserContext(), c.Query("address"))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(fiber.Map{
		"balance": bal,
		"display": h.service.FormatBalance(bal),
	})
}

type sendRequest struct {
	To     string `json:"to"`
	Amount string `json:"amount"`
	Token  string `json:"token"`
}

// Send submits a transfer. Amount is a decimal display string, e.g. "1.5".
func (h *Handler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	token, ok := ledger.ParseToken(req.Token)
	if !ok {
		return apperr.Respond(c, apperr.Wrapf(ErrInvalidToken, nil, "%q", req.Token))
	}
	value, err := amount.ParseToSubunits(req.Amount, h.service.cfg.Decimals)
	if err != nil {
		return apperr.Respond(c, err)
	}

	tx, err := h.service.Send(c.UserContext(), SendInput{To: req.To, Amount: value, Token: token})
	if err != nil {
		if errors.Is(err, ErrSubmissionFailed) {
			return c.Status(http.StatusBadGateway).JSON(fiber.Map{
				"error": fiber.Map{
					"code":      apperr.CodeOf(err),
					"kind":      apperr.KindOf(err),
					"message":   err.Error(),
					"retryable": apperr.Retryable(err),
				},
				"transaction": tx,
			})
		}
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusAccepted).JSON(tx)
}

// History lists recent transfers of the active account.
func (h *Handler) History(c *fiber.Ctx) error {
	items, err := h.service.History(c.UserContext(), c.Query("address"), c.QueryInt("limit", DefaultHistoryLimit))
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(fiber.Map{"transactions": items})
}

// AddressQR renders the receive address as a PNG QR code.
func (h *Handler) AddressQR(c *fiber.Ctx) error {
	address, err := h.service.Address()
	if err != nil {
		return apperr.Respond(c, err)
	}
	png, err := qrimage.Encode(address, c.QueryInt("size", qrimage.DefaultSize))
	if err != nil {
		return apperr.Respond(c, err)
	}
	c.Set(fiber.HeaderContentType, "image/png")
	return c.Send(png)
}
