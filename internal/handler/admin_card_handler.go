package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cardvault/internal/model"
	"cardvault/internal/service"
)

// AdminCardHandler serves card management across all users.
// Routes must sit behind an ADMIN role check.
type AdminCardHandler struct {
	cardService service.CardService
}

// NewAdminCardHandler creates a new admin card handler.
func NewAdminCardHandler(cardService service.CardService) *AdminCardHandler {
	return &AdminCardHandler{cardService: cardService}
}

// CreateCard godoc
// @Summary Issue a card to any user
// @Tags admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param user_id query string true "Owner user ID"
// @Param request body CreateCardRequest true "Card data"
// @Success 201 {object} model.CardView
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /admin/cards [post]
func (h *AdminCardHandler) CreateCard(c echo.Context) error {
	ownerID, err := uuid.Parse(c.QueryParam("user_id"))
	if err != nil {
		return badRequest("invalid user_id", "INVALID_UUID")
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

// ListCards godoc
// @Summary List every user's cards
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "Zero-based page number"
// @Param size query int false "Page size (max 100)"
// @Param status query string false "ACTIVE, BLOCKED or EXPIRED"
// @Param search query string false "Holder name or last digits"
// @Success 200 {object} model.CardPage
// @Failure 400 {object} errors.ErrorResponse
// @Failure 403 {object} errors.ErrorResponse
// @Router /admin/cards [get]
func (h *AdminCardHandler) ListCards(c echo.Context) error {
	page, size, filter, err := listParams(c)
	if err != nil {
		return err
	}

	result, err := h.cardService.ListAllCards(c.Request().Context(), page, size, filter)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetCard godoc
// @Summary Get any card
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Card ID"
// @Success 200 {object} model.CardView
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /admin/cards/{id} [get]
func (h *AdminCardHandler) GetCard(c echo.Context) error {
	return h.withCard(c, h.cardService.AdminGetCard)
}

// BlockCard godoc
// @Summary Block any card
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Card ID"
// @Success 200 {object} model.CardView
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /admin/cards/{id}/block [post]
func (h *AdminCardHandler) BlockCard(c echo.Context) error {
	return h.withCard(c, h.cardService.AdminBlockCard)
}

// ActivateCard godoc
// @Summary Re-activate any blocked card
// @Tags admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Card ID"
// @Success 200 {object} model.CardView
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Failure 409 {object} errors.ErrorResponse
// @Router /admin/cards/{id}/activate [post]
func (h *AdminCardHandler) ActivateCard(c echo.Context) error {
	return h.withCard(c, h.cardService.AdminActivateCard)
}

func (h *AdminCardHandler) withCard(c echo.Context, op func(ctx context.Context, cardID uuid.UUID) (*model.CardView, error)) error {
	cardID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	view, err := op(c.Request().Context(), cardID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

// DeleteCard godoc
// @Summary Delete any card
// @Tags admin
// @Security BearerAuth
// @Param id path string true "Card ID"
// @Success 204
// @Failure 403 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /admin/cards/{id} [delete]
func (h *AdminCardHandler) DeleteCard(c echo.Context) error {
	cardID, err := pathUUID(c, "id")
	if err != nil {
		return err
	}

	if err := h.cardService.AdminDeleteCard(c.Request().Context(), cardID); err != nil {
		return respondError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
