// Package errors renders domain errors as JSON API responses.
package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/jordanlanch/leadguard/pkg/domain"
	"github.com/jordanlanch/leadguard/pkg/logger"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var statusByCode = map[string]int{
	domain.ErrCodeNotFound:          http.StatusNotFound,
	domain.ErrCodeValidation:        http.StatusBadRequest,
	domain.ErrCodePrecondition:      http.StatusUnprocessableEntity,
	domain.ErrCodeInvalidTransition: http.StatusUnprocessableEntity,
	domain.ErrCodeConflict:          http.StatusConflict,
}

// Respond writes err as an ErrorResponse. Domain errors keep their message;
// anything else is logged and reported as a generic internal error so store
// details never reach the client.
func Respond(c echo.Context, log logger.Logger, err error) error {
	var de *domain.DomainError
	if stderrors.As(err, &de) {
		if status, ok := statusByCode[de.Code]; ok {
			return c.JSON(status, ErrorResponse{
				Error:   codeName(de.Code),
				Message: de.Message,
			})
		}
	}

	log.Error("request failed",
		"method", c.Request().Method,
		"path", c.Path(),
		"error", err,
	)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred. Please try again later.",
	})
}

// BadRequest writes a 400 with the given error code.
func BadRequest(c echo.Context, code, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: code, Message: message})
}

func codeName(code string) string {
	switch code {
	case domain.ErrCodeNotFound:
		return "not_found"
	case domain.ErrCodeValidation:
		return "validation_error"
	case domain.ErrCodePrecondition:
		return "precondition_failed"
	case domain.ErrCodeInvalidTransition:
		return "invalid_transition"
	case domain.ErrCodeConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}
