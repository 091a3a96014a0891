package notification

import (
	"compliance-api/core/database"
	"compliance-api/core/middleware"
	"compliance-api/modules/notification/controller"
	"compliance-api/modules/notification/repository"
	"compliance-api/modules/notification/router"
	"compliance-api/modules/notification/service"

	"github.com/labstack/echo/v4"
)

// NewService is exposed separately so the worker process can notify without HTTP routes.
func NewService(db database.IDatabase) *service.NotificationService {
	return service.NewNotificationService(repository.NewNotificationRepository(db))
}

func Init(e *echo.Group, svc *service.NotificationService, mw *middleware.Middleware) {
	ctrl := controller.NewNotificationController(svc)
	router.NewNotificationRouter(ctrl).Register(e, mw)
}
