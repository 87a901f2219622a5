package handlers

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/skydrive/backend/internal/services"
	"github.com/skydrive/backend/pkg/logger"
	"github.com/skydrive/backend/pkg/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

// serviceError translates the service error taxonomy into the HTTP
// envelope. Non-service errors count as dependency failures.
func serviceError(c *fiber.Ctx, err error) error {
	message := "internal server error"
	var svcErr *services.Error
	if errors.As(err, &svcErr) {
		message = svcErr.Message
	}

	var status int
	switch services.KindOf(err) {
	case services.KindValidation, services.KindToken, services.KindDuplicate:
		status = fiber.StatusBadRequest
	case services.KindAuth:
		status = fiber.StatusUnauthorized
	case services.KindNotFound:
		status = fiber.StatusNotFound
	case services.KindQuotaExceeded:
		status = fiber.StatusConflict
	case services.KindIntegrity:
		status = fiber.StatusInternalServerError
	default:
		status = fiber.StatusBadGateway
	}

	if status >= fiber.StatusInternalServerError {
		logger.Error("request_failed", err, map[string]interface{}{
			"path":   c.Path(),
			"status": status,
		})
	}

	return utils.Error(c, status, message)
}
