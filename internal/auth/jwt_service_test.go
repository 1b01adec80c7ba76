package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("test-secret")
	userID := uuid.New()

	token, err := svc.GenerateAccessToken(userID, "ada", RoleAdmin, 0)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, userID, claims.UserID)
	assert.Equal(t, "ada", claims.Username)
	assert.Equal(t, RoleAdmin, claims.Role)
	assert.Equal(t, userID.String(), claims.Subject)
	assert.WithinDuration(t, time.Now().Add(AccessTokenExpiry), claims.ExpiresAt.Time, 5*time.Second)
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("test-secret")

	other, err := NewJWTService("other-secret").GenerateAccessToken(uuid.New(), "ada", RoleUser, time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(other)
	assert.Error(t, err)

	svc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := svc.GenerateAccessToken(uuid.New(), "ada", RoleUser, time.Minute)
	require.NoError(t, err)
	svc.now = time.Now
	_, err = svc.ValidateToken(expired)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	anonymous, err := svc.GenerateAccessToken(uuid.Nil, "", "", time.Minute)
	require.NoError(t, err)
	_, err = svc.ValidateToken(anonymous)
	assert.ErrorIs(t, err, ErrNoIdentity)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: uuid.New()})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = svc.ValidateToken(unsigned)
	assert.Error(t, err)
}

func TestUserID(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	_, err := UserID(c)
	assert.ErrorIs(t, err, ErrNoIdentity)

	userID := uuid.New()
	c.Set(ContextKey, &jwt.Token{Claims: &Claims{UserID: userID}})
	got, err := UserID(c)
	require.NoError(t, err)
	assert.Equal(t, userID, got)

	c.Set(ContextKey, &jwt.Token{Claims: jwt.MapClaims{"user_id": userID.String()}})
	_, err = UserID(c)
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestRole(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	_, err := Role(c)
	assert.ErrorIs(t, err, ErrNoIdentity)

	c.Set(ContextKey, &jwt.Token{Claims: &Claims{UserID: uuid.New()}})
	role, err := Role(c)
	require.NoError(t, err)
	assert.Equal(t, RoleUser, role)

	c.Set(ContextKey, &jwt.Token{Claims: &Claims{UserID: uuid.New(), Role: RoleAdmin}})
	role, err = Role(c)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, role)
}
