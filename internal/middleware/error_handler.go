package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/leshchenko/tgpool/internal/apperr"
)

// ErrorResponse is the JSON shape returned for every failed admin request.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      int       `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorHandler is the centralized Fiber error handler: it classifies
// whatever handlers returned (an *apperr.AppError, a *fiber.Error, or a
// plain error) into one consistent ErrorResponse.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		requestID, _ := c.Locals("requestID").(string)
		if requestID == "" {
			requestID = c.Get("X-Request-ID")
		}

		slog.Error("request failed",
			"error", err,
			"method", c.Method(),
			"path", c.Path(),
			"request_id", requestID,
		)

		if appErr, ok := apperr.IsAppError(err); ok {
			return c.Status(appErr.StatusCode()).JSON(ErrorResponse{
				Error:     string(appErr.Code),
				Message:   appErr.Message,
				Code:      appErr.StatusCode(),
				Timestamp: appErr.Timestamp,
				RequestID: requestID,
			})
		}

		if fiberErr, ok := err.(*fiber.Error); ok {
			code := apperr.ErrInternalServer
			switch fiberErr.Code {
			case fiber.StatusBadRequest:
				code = apperr.ErrBadRequest
			case fiber.StatusUnauthorized:
				code = apperr.ErrMissingToken
			case fiber.StatusForbidden:
				code = apperr.ErrForbidden
			case fiber.StatusNotFound:
				code = apperr.ErrResourceNotFound
			case fiber.StatusServiceUnavailable:
				code = apperr.ErrServiceUnavailable
			}
			return c.Status(fiberErr.Code).JSON(ErrorResponse{
				Error:     string(code),
				Message:   fiberErr.Message,
				Code:      fiberErr.Code,
				Timestamp: time.Now(),
				RequestID: requestID,
			})
		}

		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
			Error:     string(apperr.ErrInternalServer),
			Message:   "an unexpected error occurred",
			Code:      fiber.StatusInternalServerError,
			Timestamp: time.Now(),
			RequestID: requestID,
		})
	}
}
