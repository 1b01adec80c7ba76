package handler

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cardvault/internal/auth"
	"cardvault/internal/errors"
)

// retryAfterSeconds is advertised on CONTENTION responses.
const retryAfterSeconds = "1"

// respondError maps a service error to its HTTP status and reason code.
func respondError(c echo.Context, err error) error {
	httpErr := errors.MapErrorToHTTP(err)
	if errors.Retryable(err) {
		c.Response().Header().Set("Retry-After", retryAfterSeconds)
	}
	return echo.NewHTTPError(httpErr.StatusCode, httpErr.ToErrorResponse())
}

func badRequest(message, code string) error {
	return echo.NewHTTPError(http.StatusBadRequest, errors.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// caller returns the authenticated user id.
func caller(c echo.Context) (uuid.UUID, error) {
	userID, err := auth.UserID(c)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
			Error: "invalid token",
			Code:  "UNAUTHORIZED",
		})
	}
	return userID, nil
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, badRequest("invalid "+name, "INVALID_UUID")
	}
	return id, nil
}
