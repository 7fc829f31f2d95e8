package apperr

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// HTTPStatus maps an error kind to the status code returned by the API.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindConnectivity:
		return http.StatusServiceUnavailable
	case KindIntegrity:
		return http.StatusUnprocessableEntity
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as {"error": {"code", "kind", "message"}}. Unclassified
// fiber errors keep their own status.
func Respond(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	var ae *Error
	if errors.As(err, &fe) && !errors.As(err, &ae) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fiber.Map{"code": "request", "kind": KindValidation, "message": fe.Message}})
	}
	status := HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    CodeOf(err),
			"kind":    KindOf(err),
			"message": message,
		},
	})
}
