package router

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoSwagger "github.com/swaggo/echo-swagger"
	"go.uber.org/zap"

	"cardvault/internal/auth"
	"cardvault/internal/errors"
	"cardvault/internal/handler"
)

// Register wires routes and middleware.
func Register(
	e *echo.Echo,
	jwtSecret []byte,
	logger *zap.Logger,
	cardHandler *handler.CardHandler,
	transferHandler *handler.TransferHandler,
	adminHandler *handler.AdminCardHandler,
) {
	e.Use(middleware.RequestID())
	e.Use(RequestLogger(logger))
	e.Use(middleware.Recover())

	e.Validator = NewValidator()

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// Every /api route requires a bearer token carrying the caller's user id.
	api := e.Group("/api", echojwt.WithConfig(echojwt.Config{
		SigningKey:    jwtSecret,
		SigningMethod: echojwt.AlgorithmHS256,
		ContextKey:    auth.ContextKey,
		NewClaimsFunc: auth.NewClaims,
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
				Error: "missing or invalid token",
				Code:  "UNAUTHORIZED",
			})
		},
	}))

	api.POST("/cards", cardHandler.CreateCard)
	api.GET("/cards", cardHandler.ListCards)
	api.GET("/cards/:id", cardHandler.GetCard)
	api.POST("/cards/:id/block", cardHandler.BlockCard)
	api.POST("/cards/:id/activate", cardHandler.ActivateCard)
	api.DELETE("/cards/:id", cardHandler.DeleteCard)

	api.POST("/transfers", transferHandler.Transfer)

	admin := api.Group("/admin", RequireRole(auth.RoleAdmin))
	admin.POST("/cards", adminHandler.CreateCard)
	admin.GET("/cards", adminHandler.ListCards)
	admin.GET("/cards/:id", adminHandler.GetCard)
	admin.POST("/cards/:id/block", adminHandler.BlockCard)
	admin.POST("/cards/:id/activate", adminHandler.ActivateCard)
	admin.DELETE("/cards/:id", adminHandler.DeleteCard)
}

// RequireRole rejects callers whose token does not carry role.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			got, err := auth.Role(c)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, errors.ErrorResponse{
					Error: "missing or invalid token",
					Code:  "UNAUTHORIZED",
				})
			}
			if got != role {
				return echo.NewHTTPError(http.StatusForbidden, errors.ErrorResponse{
					Error: "insufficient role",
					Code:  "FORBIDDEN",
				})
			}
			return next(c)
		}
	}
}

// RequestLogger emits one structured line per request.
func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency.Round(time.Microsecond)),
				zap.String("request_id", v.RequestID),
			}
			if v.Status >= http.StatusInternalServerError {
				logger.Error("request", append(fields, zap.Error(v.Error))...)
				return nil
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}

// CustomValidator wraps validator for Echo.
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a request validator.
func NewValidator() *CustomValidator {
	return &CustomValidator{validator: validator.New()}
}

// Validate implements echo.Validator interface.
func (cv *CustomValidator) Validate(i interface{}) error {
	return cv.validator.Struct(i)
}
