package utils

import (
	"github.com/gofiber/fiber/v2"
)

// SuccessResponse sends a success JSON response
func SuccessResponse(c *fiber.Ctx, data any, message string, code ...int) error {
	statusCode := fiber.StatusOK
	if len(code) > 0 {
		statusCode = code[0]
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": true,
		"data":    data,
		"message": message,
	})
}

// ErrorResponse sends a structured error JSON response. The status code
// comes from the APIError unless an explicit override is provided; the
// shared APIError instance is never mutated.
func ErrorResponse(c *fiber.Ctx, apiErr *APIError, code ...int) error {
	statusCode := apiErr.Status
	if len(code) > 0 {
		statusCode = code[0]
	}
	if statusCode == 0 {
		statusCode = fiber.StatusInternalServerError
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"success": false,
		"error":   apiErr,
	})
}
