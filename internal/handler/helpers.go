package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/adeline-api/internal/middleware"
	"github.com/noah-isme/adeline-api/internal/service"
)

func userIDFromContext(c *fiber.Ctx) uint {
	if v := c.Locals("user_id"); v != nil {
		if id, ok := v.(uint); ok {
			return id
		}
		if id, ok := v.(int); ok {
			if id < 0 {
				return 0
			}
			return uint(id)
		}
	}
	return 0
}

func userRoleFromContext(c *fiber.Ctx) string {
	if v := c.Locals("user_role"); v != nil {
		if role, ok := v.(string); ok {
			return role
		}
	}
	return ""
}

// requesterFromContext combines the JWT identity, the X-Session-Id header and an
// explicit session id fallback into the caller identity the services expect.
func requesterFromContext(c *fiber.Ctx, sessionID string) service.Requester {
	requester := service.Requester{
		Role:        userRoleFromContext(c),
		AnonymousID: middleware.GetAnonymousID(c),
	}
	if id := userIDFromContext(c); id != 0 {
		requester.UserID = &id
	}
	if requester.AnonymousID == "" {
		requester.AnonymousID = strings.TrimSpace(sessionID)
	}
	return requester
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

func statusForKind(kind service.Kind) int {
	switch kind {
	case service.KindUnauthorized:
		return fiber.StatusUnauthorized
	case service.KindNotFound:
		return fiber.StatusNotFound
	case service.KindInvalidState, service.KindValidation:
		return fiber.StatusBadRequest
	case service.KindConflict:
		return fiber.StatusConflict
	case service.KindStorageTimeout:
		return fiber.StatusGatewayTimeout
	case service.KindUpstream:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

type fieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

func validationDetails(err error) []fieldError {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}
	details := make([]fieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		details = append(details, fieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
	}
	return details
}
