package utils

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
)

func TestErrorResponse_NoMutation(t *testing.T) {
	app := fiber.New()

	assert.Equal(t, fiber.StatusInternalServerError, ErrInternalServer.Status)

	app.Get("/error", func(c *fiber.Ctx) error {
		return ErrorResponse(c, ErrInternalServer, fiber.StatusTeapot)
	})

	req := httptest.NewRequest("GET", "/error", nil)
	resp, err := app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)

	// Check if shared instance was mutated
	assert.Equal(t, fiber.StatusInternalServerError, ErrInternalServer.Status, "ErrInternalServer.Status should NOT be mutated")

	body, _ := io.ReadAll(resp.Body)
	var result struct {
		Success bool     `json:"success"`
		Error   APIError `json:"error"`
	}
	err = json.Unmarshal(body, &result)
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, ErrInternalServer.Code, result.Error.Code)
}

func TestErrorResponse_DefaultStatus(t *testing.T) {
	app := fiber.New()

	app.Get("/gone", func(c *fiber.Ctx) error {
		return ErrorResponse(c, ErrSessionGone)
	})

	req := httptest.NewRequest("GET", "/gone", nil)
	resp, err := app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestSuccessResponse(t *testing.T) {
	app := fiber.New()

	app.Get("/ok", func(c *fiber.Ctx) error {
		return SuccessResponse(c, fiber.Map{"session_id": "abc"}, "Session created", fiber.StatusCreated)
	})

	req := httptest.NewRequest("GET", "/ok", nil)
	resp, err := app.Test(req)
	assert.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	var result struct {
		Success bool           `json:"success"`
		Data    map[string]any `json:"data"`
		Message string         `json:"message"`
	}
	assert.NoError(t, json.Unmarshal(body, &result))
	assert.True(t, result.Success)
	assert.Equal(t, "abc", result.Data["session_id"])
	assert.Equal(t, "Session created", result.Message)
}
