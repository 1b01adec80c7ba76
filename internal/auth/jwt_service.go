package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"cardvault/internal/model"
)

const (
	// AccessTokenExpiry is the duration for which access tokens are valid.
	AccessTokenExpiry = 15 * time.Minute

	// ContextKey is where the echo-jwt middleware stores the parsed token.
	ContextKey = "user"

	RoleUser  = model.RoleUser
	RoleAdmin = model.RoleAdmin
)

// ErrNoIdentity is returned when a request carries no usable caller identity.
var ErrNoIdentity = errors.New("missing caller identity")

// Claims represents JWT claims. UserID is the authenticated card owner.
// A token without a role is treated as RoleUser.
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Username string    `json:"username,omitempty"`
	Role     string    `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTService signs and validates access tokens.
type JWTService struct {
	secret []byte
	now    func() time.Time
}

// NewJWTService creates a new JWT service with the given secret.
func NewJWTService(secret string) *JWTService {
	return &JWTService{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Secret returns the HMAC signing key for middleware configuration.
func (s *JWTService) Secret() []byte {
	return s.secret
}

// GenerateAccessToken generates a new access token for the user.
func (s *JWTService) GenerateAccessToken(userID uuid.UUID, username, role string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = AccessTokenExpiry
	}
	now := s.now()
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates a JWT token and returns the claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == uuid.Nil {
		return nil, ErrNoIdentity
	}
	return claims, nil
}

// NewClaims is the claims factory for the echo-jwt middleware.
func NewClaims(c echo.Context) jwt.Claims {
	return new(Claims)
}

// UserID returns the authenticated caller from a request that passed the
// JWT middleware.
func UserID(c echo.Context) (uuid.UUID, error) {
	claims, err := caller(c)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.UserID, nil
}

// Role returns the caller's role, RoleUser when the token names none.
func Role(c echo.Context) (string, error) {
	claims, err := caller(c)
	if err != nil {
		return "", err
	}
	if claims.Role == "" {
		return RoleUser, nil
	}
	return claims.Role, nil
}

func caller(c echo.Context) (*Claims, error) {
	token, ok := c.Get(ContextKey).(*jwt.Token)
	if !ok || token == nil {
		return nil, ErrNoIdentity
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == uuid.Nil {
		return nil, ErrNoIdentity
	}
	return claims, nil
}
