package middleware

import (
	"net/http"
	"time"

	"compliance-api/core/config"
	"compliance-api/core/constants"
	"compliance-api/core/controller"
	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/core/utils"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

type Middleware struct {
	jwt config.JWTConfig
}

func NewMiddleware(jwtCfg config.JWTConfig) *Middleware {
	return &Middleware{jwt: jwtCfg}
}

// AuthMiddleware requires a company access token and stores the claims and company id on the context.
func (m *Middleware) AuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := utils.GetTokenFromHeader(c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return controller.NewErrorResponse(http.StatusUnauthorized, errors.Code(err), "Unauthorized")
			}
			if err := m.authenticate(c, token); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// OptionalAuthMiddleware lets anonymous requests through. A request that does carry an
// Authorization header must present a valid company token.
func (m *Middleware) OptionalAuthMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return next(c)
			}
			token, err := utils.GetTokenFromHeader(header)
			if err != nil {
				return controller.NewErrorResponse(http.StatusUnauthorized, errors.Code(err), "Unauthorized")
			}
			if err := m.authenticate(c, token); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func (m *Middleware) authenticate(c echo.Context, token string) error {
	claims, err := utils.ValidateAndParseToken(m.jwt.Secret, token)
	if err != nil {
		logger.Warn("Middleware:AuthMiddleware:InvalidToken", "code", errors.Code(err), "request_id", RequestIDFromContext(c))
		status := http.StatusUnauthorized
		if errors.Is(err, errors.ErrForbidden) {
			status = http.StatusForbidden
		}
		return controller.NewErrorResponse(status, errors.Code(err), "Unauthorized")
	}

	c.Set(constants.ContextTokenData, claims)
	c.Set(constants.ContextCompanyID, claims.CompanyID)
	return nil
}

// CompanyIDFromContext returns the authenticated company id.
func CompanyIDFromContext(c echo.Context) (int64, error) {
	id, ok := c.Get(constants.ContextCompanyID).(int64)
	if !ok || id <= 0 {
		return 0, errors.NewAppError(errors.ErrUnauthorized, "Unauthorized", nil)
	}
	return id, nil
}

func RequestID() echo.MiddlewareFunc {
	return echomw.RequestIDWithConfig(echomw.RequestIDConfig{
		Generator: func() string { return uuid.NewString() },
	})
}

func RequestIDFromContext(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

func Recover() echo.MiddlewareFunc {
	return echomw.RecoverWithConfig(echomw.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			logger.Error("Middleware:Recover:Panic", "error", err, "path", c.Path(), "request_id", RequestIDFromContext(c))
			return err
		},
	})
}

// RequestLogger writes one structured line per request.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("HTTP:Request",
				"method", c.Request().Method,
				"path", c.Path(),
				"status", c.Response().Status,
				"latency_ms", time.Since(start).Milliseconds(),
				"request_id", RequestIDFromContext(c),
			)
			return nil
		}
	}
}
