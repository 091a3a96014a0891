package server

import (
	"context"
	"net/http"
	"time"

	"compliance-api/core/controller"
	"compliance-api/core/errors"
	"compliance-api/core/middleware"
	"compliance-api/modules/notification"
	"compliance-api/modules/xero"

	"github.com/labstack/echo/v4"
)

// NewEcho builds the HTTP surface. Routes live under /api/v1/public and /api/v1/private;
// /health and /metrics sit at the root.
func NewEcho(app *App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(app.Metrics.Middleware())
	e.Use(middleware.RequestLogger())

	e.GET("/health", healthHandler(app))
	e.GET("/metrics", echo.WrapHandler(app.Metrics.Handler()))

	mw := middleware.NewMiddleware(app.Config.JWT)
	api := e.Group("/api/v1")
	public := api.Group("/public")
	private := api.Group("/private")

	xero.Init(public, private, app.Xero, mw)
	notification.Init(private, app.Notifications, mw)

	return e
}

func healthHandler(app *App) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()

		if err := app.DB.SQLx().PingContext(ctx); err != nil {
			return controller.NewErrorResponse(http.StatusServiceUnavailable, errors.ErrInternalServer, "database unavailable")
		}
		checks := map[string]string{"database": "ok"}
		if app.Cache != nil {
			if err := app.Cache.Ping(ctx); err != nil {
				checks["redis"] = "unavailable"
			} else {
				checks["redis"] = "ok"
			}
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "checks": checks})
	}
}
