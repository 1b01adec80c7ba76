package handler

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"cardvault/internal/service"
)

// TransferHandler handles transfer endpoints.
type TransferHandler struct {
	transferService service.TransferService
}

// NewTransferHandler creates a new transfer handler.
func NewTransferHandler(transferService service.TransferService) *TransferHandler {
	return &TransferHandler{transferService: transferService}
}

// TransferRequest represents a transfer between two of the caller's cards.
// Amount may be a JSON number or a decimal string.
type TransferRequest struct {
	FromCardID string          `json:"from_card_id" validate:"required,uuid"`
	ToCardID   string          `json:"to_card_id" validate:"required,uuid"`
	Amount     json.RawMessage `json:"amount" validate:"required" swaggertype:"number"`
}

// TransferResponse represents a committed transfer.
type TransferResponse struct {
	TransferID string `json:"transfer_id"`
	FromCardID string `json:"from_card_id"`
	ToCardID   string `json:"to_card_id"`
	FromCard   string `json:"from_card"`
	ToCard     string `json:"to_card"`
	Amount     string `json:"amount"`
	Timestamp  string `json:"timestamp"`
	Status     string `json:"status"`
}

// Transfer godoc
// @Summary Transfer funds between two of the caller's cards
// @Tags transfers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TransferRequest true "Transfer data"
// @Success 201 {object} TransferResponse
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 422 {object} errors.ErrorResponse
// @Failure 503 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /transfers [post]
func (h *TransferHandler) Transfer(c echo.Context) error {
	ownerID, err := caller(c)
	if err != nil {
		return err
	}

	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body", "INVALID_REQUEST")
	}
	if err := c.Validate(&req); err != nil {
		return badRequest(err.Error(), "VALIDATION_ERROR")
	}

	fromCardID, err := uuid.Parse(req.FromCardID)
	if err != nil {
		return badRequest("invalid from_card_id", "INVALID_UUID")
	}
	toCardID, err := uuid.Parse(req.ToCardID)
	if err != nil {
		return badRequest("invalid to_card_id", "INVALID_UUID")
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}

	result, err := h.transferService.Transfer(c.Request().Context(), fromCardID, toCardID, amount, ownerID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusCreated, TransferResponse{
		TransferID: result.TransferID.String(),
		FromCardID: result.FromCardID.String(),
		ToCardID:   result.ToCardID.String(),
		FromCard:   result.FromMaskedPAN,
		ToCard:     result.ToMaskedPAN,
		Amount:     result.Amount.StringFixed(2),
		Timestamp:  result.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Status:     result.Status,
	})
}

func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	var amount decimal.Decimal
	if len(raw) == 0 || string(raw) == "null" {
		return amount, badRequest("amount is required", "INVALID_AMOUNT")
	}
	if err := amount.UnmarshalJSON(raw); err != nil {
		return amount, badRequest("invalid amount", "INVALID_AMOUNT")
	}
	return amount, nil
}
