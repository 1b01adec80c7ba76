package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cardvault/internal/model"
	"cardvault/internal/service"
)

// CardHandler handles card endpoints.
type CardHandler struct {
	cardService service.CardService
}

// NewCardHandler creates a new card handler.
func NewCardHandler(cardService service.CardService) *CardHandler {
	return &CardHandler{cardService: cardService}
}

// CreateCardRequest represents a card issuance request.
type CreateCardRequest struct {
	HolderName string `json:"holder_name" validate:"required,max=255"`
	ExpiryDate string `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	CardType   string `json:"card_type" validate:"omitempty,oneof=DEBIT CREDIT"`
}

// CreateCard godoc
// @Summary Issue a new card
// @Tags cards
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateCardRequest true "Card data"
// @Success 201 {object} model.CardView
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Router /cards [post]
func (h *CardHandler) CreateCard(c echo.Context) error {
	ownerID, err := caller(c)
	if err != nil {
		return err
	}

	req, err := bindCreateCard(c)
	if err != nil {
		return err
	}

	view, err := h.cardService.CreateCard(c.Request().Context(), req, ownerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, view)
}

func bindCreateCard(c echo.Context) (service.CreateCardRequest, error) {
	var req CreateCardRequest
	if err := c.Bind(&req); err != nil {
		return service.CreateCardRequest{}, badRequest("invalid request body", "INVALID_REQUEST")
	}
	if err := c.Validate(&req); err != nil {
		return service.CreateCardRequest{}, badRequest(err.Error(), "VALIDATION_ERROR")
	}

	expiry, err := time.Parse(model.ExpiryDateLayout, req.ExpiryDate)
	if err != nil {
		return service.CreateCardRequest{}, badRequest("invalid expiry_date", "VALIDATION_ERROR")
	}
	return service.CreateCardRequest{
		HolderName: req.HolderName,
		ExpiryDate: expiry,
		CardType:   model.CardType(req.CardType),
	}, nil
}

// GetCard godoc
// @Summary Get one of the caller's cards
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param id path string true "Card ID"
// @Success 200 {object} model.CardView
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /cards/{id} [get]
func (h *CardHandler) GetCard(c echo.Context) error {
	ownerID, err := caller(c)
	if err != nil {
		return err
	}
	cardID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	view, err := h.cardService.GetCard(c.Request().Context(), cardID, ownerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// ListCards godoc
// @Summary List the caller's cards
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param page query int false "Zero-based page number"
// @Param size query int false "Page size (max 100)"
// @Param status query string false "ACTIVE, BLOCKED or EXPIRED"
// @Param search query string false "Holder name or last digits"
// @Success 200 {object} model.CardPage
// @Failure 400 {object} errors.ErrorResponse
// @Router /cards [get]
func (h *CardHandler) ListCards(c echo.Context) error {
	ownerID, err := caller(c)
	if err != nil {
		return err
	}

	page, size, filter, err := listParams(c)
	if err != nil {
		return err
	}

	result, err := h.cardService.ListCards(c.Request().Context(), ownerID, page, size, filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// BlockCard godoc
// @Summary Block a card
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param id path string true "Card ID"
// @Success 200 {object} model.CardView
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 503 {object} errors.ErrorResponse
// @Router /cards/{id}/block [post]
func (h *CardHandler) BlockCard(c echo.Context) error {
	return h.transition(c, h.cardService.BlockCard)
}

// ActivateCard godoc
// @Summary Re-activate a blocked card
// @Tags cards
// @Produce json
// @Security BearerAuth
// @Param id path string true "Card ID"
// @Success 200 {object} model.CardView
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Failure 503 {object} errors.ErrorResponse
// @Router /cards/{id}/activate [post]
func (h *CardHandler) ActivateCard(c echo.Context) error {
	return h.transition(c, h.cardService.ActivateCard)
}

type transitionFunc func(ctx context.Context, cardID, ownerID uuid.UUID) (*model.CardView, error)

func (h *CardHandler) transition(c echo.Context, op transitionFunc) error {
	ownerID, err := caller(c)
	if err != nil {
		return err
	}
	cardID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	view, err := op(c.Request().Context(), cardID, ownerID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// DeleteCard godoc
// @Summary Delete a card
// @Tags cards
// @Security BearerAuth
// @Param id path string true "Card ID"
// @Success 204
// @Failure 404 {object} errors.ErrorResponse
// @Failure 503 {object} errors.ErrorResponse
// @Router /cards/{id} [delete]
func (h *CardHandler) DeleteCard(c echo.Context) error {
	ownerID, err := caller(c)
	if err != nil {
		return err
	}
	cardID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.cardService.DeleteCard(c.Request().Context(), cardID, ownerID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func listParams(c echo.Context) (page, size int, filter model.CardFilter, err error) {
	if page, err = queryInt(c, "page", 0); err != nil {
		return 0, 0, filter, err
	}
	if size, err = queryInt(c, "size", service.DefaultPageSize); err != nil {
		return 0, 0, filter, err
	}
	filter = model.CardFilter{
		Status: model.CardStatus(c.QueryParam("status")),
		Search: c.QueryParam("search"),
	}
	return page, size, filter, nil
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badRequest("invalid "+name, "VALIDATION_ERROR")
	}
	return n, nil
}
