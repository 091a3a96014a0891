package router

import (
	"compliance-api/core/middleware"
	"compliance-api/modules/xero/controller"

	"github.com/labstack/echo/v4"
)

type XeroRouter struct {
	controller *controller.XeroController
}

func NewXeroRouter(controller *controller.XeroController) *XeroRouter {
	return &XeroRouter{controller: controller}
}

// Register mounts the callback on public with optional auth and everything else behind company auth on private.
func (r *XeroRouter) Register(public, private *echo.Group, mw *middleware.Middleware) {
	public.GET("/xero/callback", r.controller.Callback, mw.OptionalAuthMiddleware())

	group := private.Group("/xero", mw.AuthMiddleware())
	group.PUT("/config", r.controller.Configure)
	group.DELETE("/config", r.controller.RemoveIntegration)
	group.GET("/authorize", r.controller.AuthorizationURL)
	group.GET("/status", r.controller.Status)
	group.POST("/disconnect", r.controller.Disconnect)
	group.GET("/dashboard", r.controller.Dashboard)
	group.GET("/resources/:resource", r.controller.Resource)
}
