package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/naperu/zapinsight/internal/gateway"
	"github.com/naperu/zapinsight/internal/service"
)

// errorStatus maps pipeline errors onto HTTP status codes.
func errorStatus(err error) int {
	var gwErr *gateway.HTTPError
	switch {
	case errors.Is(err, service.ErrContactNotFound), errors.Is(err, service.ErrQueueItemNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, service.ErrInvalidAddress):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrNotRequeueable):
		return fiber.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return fiber.StatusGatewayTimeout
	case errors.As(err, &gwErr):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(errorStatus(err)).JSON(fiber.Map{"success": false, "error": err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": msg})
}

// parseBody decodes an optional JSON body; an empty body leaves req untouched.
func parseBody(c *fiber.Ctx, req interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	return c.BodyParser(req)
}
