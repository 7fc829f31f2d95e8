package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/pezkuwi/pezkuwi_wallet/internal/apperr"
	"github.com/pezkuwi/pezkuwi_wallet/internal/identity"
)

// LocalSession is the fiber.Ctx locals key holding the authorized Session.
const LocalSession = "session"

// SessionFrom returns the session stored by the auth middleware.
func SessionFrom(c *fiber.Ctx) (Session, bool) {
	sess, ok := c.Locals(LocalSession).(Session)
	return sess, ok
}

// Handler exposes auth and profile endpoints.
type Handler struct {
	ids *identity.Service
	svc *Service
}

func NewHandler(ids *identity.Service, svc *Service) *Handler {
	return &Handler{ids: ids, svc: svc}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates an account, its wallet and a session.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.Register(c.UserContext(), identity.Credentials{Email: req.Email, Password: req.Password, Name: req.Name})
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusCreated).JSON(sess)
}

// Login validates credentials and returns a session.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	sess, err := h.svc.Login(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(sess)
}

// Session returns the current device session.
func (h *Handler) Session(c *fiber.Ctx) error {
	sess, err := h.svc.CurrentSession(c.UserContext())
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(sess)
}

// Logout ends the current session.
func (h *Handler) Logout(c *fiber.Ctx) error {
	if err := h.svc.Logout(c.UserContext()); err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}

// ResetPassword accepts a password reset request.
func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.ResetPassword(c.UserContext(), req.Email); err != nil {
		return apperr.Respond(c, err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": "reset_requested"})
}

// ChangePassword replaces the password of the session's user.
func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	sess, ok := SessionFrom(c)
	if !ok {
		return apperr.Respond(c, ErrNoSession)
	}
	var req struct {
		Current string `json:"current_password"`
		New     string `json:"new_password"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.ids.ChangePassword(c.UserContext(), sess.UserID, req.Current, req.New); err != nil {
		return apperr.Respond(c, err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Me returns the session user's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	sess, ok := SessionFrom(c)
	if !ok {
		return apperr.Respond(c, ErrNoSession)
	}
	user, err := h.ids.Get(c.UserContext(), sess.UserID)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(user.Profile())
}

// UpdateProfile changes the session user's display name.
func (h *Handler) UpdateProfile(c *fiber.Ctx) error {
	sess, ok := SessionFrom(c)
	if !ok {
		return apperr.Respond(c, ErrNoSession)
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.ids.UpdateProfile(c.UserContext(), sess.UserID, req.Name)
	if err != nil {
		return apperr.Respond(c, err)
	}
	return c.JSON(user.Profile())
}
