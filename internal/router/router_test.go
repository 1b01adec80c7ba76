package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"cardvault/internal/auth"
	"cardvault/internal/handler"
	"cardvault/internal/model"
	"cardvault/internal/service"
)

type stubCardService struct {
	service.CardService
	gotOwner    uuid.UUID
	listedAll   bool
	adminBlocks []uuid.UUID
}

func (s *stubCardService) ListCards(ctx context.Context, ownerID uuid.UUID, page, size int, filter model.CardFilter) (*model.CardPage, error) {
	s.gotOwner = ownerID
	p := model.NewCardPage(nil, page, size, 0)
	return &p, nil
}

func (s *stubCardService) ListAllCards(ctx context.Context, page, size int, filter model.CardFilter) (*model.CardPage, error) {
	s.listedAll = true
	p := model.NewCardPage(nil, page, size, 0)
	return &p, nil
}

func (s *stubCardService) AdminBlockCard(ctx context.Context, cardID uuid.UUID) (*model.CardView, error) {
	s.adminBlocks = append(s.adminBlocks, cardID)
	return &model.CardView{ID: cardID, Status: model.CardStatusBlocked}, nil
}

func newServer(t *testing.T, secret string) (*echo.Echo, *stubCardService) {
	t.Helper()
	e := echo.New()
	cards := &stubCardService{}
	Register(e, []byte(secret), zap.NewNop(),
		handler.NewCardHandler(cards),
		handler.NewTransferHandler(nil),
		handler.NewAdminCardHandler(cards),
	)
	return e, cards
}

func TestRegister_Healthz(t *testing.T) {
	e, _ := newServer(t, "secret")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
}

func TestRegister_APIRequiresToken(t *testing.T) {
	e, _ := newServer(t, "secret")

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/cards", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")

	forged, err := auth.NewJWTService("other").GenerateAccessToken(uuid.New(), "mallory", auth.RoleAdmin, time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/cards", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+forged)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRegister_CallerIdentityFromToken(t *testing.T) {
	e, cards := newServer(t, "secret")
	owner := uuid.New()
	token, err := auth.NewJWTService("secret").GenerateAccessToken(owner, "ada", auth.RoleUser, time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/cards?size=3", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, owner, cards.gotOwner)
	assert.Contains(t, rec.Body.String(), `"size":3`)
}

func serveWithToken(e *echo.Echo, method, target, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRegister_AdminRoutesRequireAdminRole(t *testing.T) {
	e, cards := newServer(t, "secret")
	jwtService := auth.NewJWTService("secret")
	cardID := uuid.New()

	user, err := jwtService.GenerateAccessToken(uuid.New(), "ada", auth.RoleUser, time.Minute)
	require.NoError(t, err)
	legacy, err := jwtService.GenerateAccessToken(uuid.New(), "alan", "", time.Minute)
	require.NoError(t, err)
	admin, err := jwtService.GenerateAccessToken(uuid.New(), "root", auth.RoleAdmin, time.Minute)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/cards", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for _, token := range []string{user, legacy} {
		rec = serveWithToken(e, http.MethodGet, "/api/admin/cards", token)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Contains(t, rec.Body.String(), "FORBIDDEN")

		rec = serveWithToken(e, http.MethodPost, "/api/admin/cards/"+cardID.String()+"/block", token)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	}
	assert.False(t, cards.listedAll)
	assert.Empty(t, cards.adminBlocks)

	rec = serveWithToken(e, http.MethodGet, "/api/admin/cards", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, cards.listedAll)

	rec = serveWithToken(e, http.MethodPost, "/api/admin/cards/"+cardID.String()+"/block", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{cardID}, cards.adminBlocks)
}

func TestCustomValidator(t *testing.T) {
	v := NewValidator()
	assert.Error(t, v.Validate(&handler.TransferRequest{FromCardID: "x"}))
	assert.NoError(t, v.Validate(&handler.TransferRequest{
		FromCardID: uuid.NewString(),
		ToCardID:   uuid.NewString(),
		Amount:     json.RawMessage(`1.00`),
	}))
}
