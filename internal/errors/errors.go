package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

var (
	// ErrCardNotFound is returned when a card is absent or not owned by the caller.
	ErrCardNotFound = errors.New("card not found")
	// ErrUserNotFound is returned when the owning user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidState is returned when a status transition is not allowed.
	ErrInvalidState = errors.New("invalid card state")
	// ErrExpiredCard is returned when an expired card is asked to become active.
	ErrExpiredCard = errors.New("card is expired")
	// ErrCardNotUsable is returned when a card cannot take part in a transfer.
	ErrCardNotUsable = errors.New("card is not usable")
	// ErrSameCard is returned when source and destination are the same card.
	ErrSameCard = errors.New("cannot transfer to the same card")
	// ErrInvalidAmount is returned when amount is invalid.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInsufficientBalance is returned when card has insufficient balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidRequest is returned when card creation input is malformed.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrDuplicatePAN is returned by storage when a card number already exists.
	ErrDuplicatePAN = errors.New("card number already exists")

	// ErrCrypto is returned when sensitive field encryption or decryption fails.
	ErrCrypto = errors.New("crypto failure")
	// ErrPersistence is returned when the store fails to read or write records.
	ErrPersistence = errors.New("persistence failure")
	// ErrContention is returned when card locks could not be acquired in time.
	ErrContention = errors.New("card is busy, retry later")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// CardSide identifies which leg of a transfer an error refers to.
type CardSide string

const (
	SideSource      CardSide = "source"
	SideDestination CardSide = "destination"
)

// CardNotUsableError reports a transfer leg whose card is blocked or expired.
type CardNotUsableError struct {
	Side   CardSide
	CardID uuid.UUID
	Status string
}

func (e *CardNotUsableError) Error() string {
	return fmt.Sprintf("%s card %s is not usable (status %s)", e.Side, e.CardID, e.Status)
}

// Is makes errors.Is(err, ErrCardNotUsable) match.
func (e *CardNotUsableError) Is(target error) bool {
	return target == ErrCardNotUsable
}

// InvalidStateError reports a lifecycle operation rejected by the current status.
type InvalidStateError struct {
	Op     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s card in status %s", e.Op, e.Status)
}

// Is makes errors.Is(err, ErrInvalidState) match.
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// Retryable reports whether the caller may safely repeat the request.
func Retryable(err error) bool {
	return errors.Is(err, ErrContention)
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error: e.Message,
		Code:  e.Code,
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors.
// Infrastructure failures never expose their cause.
func MapErrorToHTTP(err error) *HTTPError {
	var notUsable *CardNotUsableError
	if errors.As(err, &notUsable) {
		code := "SOURCE_CARD_NOT_USABLE"
		if notUsable.Side == SideDestination {
			code = "DESTINATION_CARD_NOT_USABLE"
		}
		return NewHTTPError(http.StatusUnprocessableEntity, notUsable.Error(), code)
	}

	switch {
	case errors.Is(err, ErrCardNotFound):
		return NewHTTPError(http.StatusNotFound, ErrCardNotFound.Error(), "CARD_NOT_FOUND")
	case errors.Is(err, ErrUserNotFound):
		return NewHTTPError(http.StatusNotFound, ErrUserNotFound.Error(), "USER_NOT_FOUND")
	case errors.Is(err, ErrInvalidState):
		return NewHTTPError(http.StatusConflict, err.Error(), "INVALID_STATE")
	case errors.Is(err, ErrExpiredCard):
		return NewHTTPError(http.StatusConflict, ErrExpiredCard.Error(), "CARD_EXPIRED")
	case errors.Is(err, ErrCardNotUsable):
		return NewHTTPError(http.StatusUnprocessableEntity, ErrCardNotUsable.Error(), "CARD_NOT_USABLE")
	case errors.Is(err, ErrSameCard):
		return NewHTTPError(http.StatusBadRequest, ErrSameCard.Error(), "SAME_CARD")
	case errors.Is(err, ErrInvalidAmount):
		return NewHTTPError(http.StatusBadRequest, ErrInvalidAmount.Error(), "INVALID_AMOUNT")
	case errors.Is(err, ErrInvalidRequest):
		return NewHTTPError(http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
	case errors.Is(err, ErrInsufficientBalance):
		return NewHTTPError(http.StatusUnprocessableEntity, ErrInsufficientBalance.Error(), "INSUFFICIENT_BALANCE")
	case errors.Is(err, ErrContention):
		return NewHTTPError(http.StatusServiceUnavailable, ErrContention.Error(), "CONTENTION")
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
