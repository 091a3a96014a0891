package controller

import (
	"encoding/json"
	"net/url"

	"compliance-api/core/controller"
	"compliance-api/core/errors"
	"compliance-api/core/middleware"
	"compliance-api/modules/xero/dto"
	"compliance-api/modules/xero/service"

	"github.com/labstack/echo/v4"
)

const tenantQueryParam = "tenant_id"

type XeroController struct {
	service *service.ConnectionService
	controller.BaseController
}

func NewXeroController(service *service.ConnectionService) *XeroController {
	return &XeroController{
		service:        service,
		BaseController: controller.NewBaseController(),
	}
}

// Configure stores the company's Xero app credentials
// @Summary Configure Xero integration
// @Tags Xero
// @Security BearerAuth
// @Accept json
// @Produce json
// @Param request body dto.ConfigureRequest true "Client credentials"
// @Success 200 {object} dto.ConfigResponse
// @Failure 400 {object} errors.AppError
// @Router /private/xero/config [put]
func (c *XeroController) Configure(ctx echo.Context) error {
	companyID, err := middleware.CompanyIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "Unauthorized")
	}

	req := new(dto.ConfigureRequest)
	if err := ctx.Bind(req); err != nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "Invalid request body")
	}

	resp, err := c.service.Configure(ctx.Request().Context(), companyID, *req)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, resp, "Xero integration configured")
}

// RemoveIntegration deletes the configuration and any tokens
// @Summary Remove Xero integration
// @Tags Xero
// @Security BearerAuth
// @Produce json
// @Router /private/xero/config [delete]
func (c *XeroController) RemoveIntegration(ctx echo.Context) error {
	companyID, err := middleware.CompanyIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "Unauthorized")
	}

	if err := c.service.RemoveIntegration(ctx.Request().Context(), companyID); err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, nil, "Xero integration removed")
}

// AuthorizationURL issues a consent URL with a fresh state
// @Summary Build Xero authorization URL
// @Tags Xero
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.AuthorizationURLResponse
// @Failure 409 {object} errors.AppError
// @Router /private/xero/authorize [get]
func (c *XeroController) AuthorizationURL(ctx echo.Context) error {
	companyID, err := middleware.CompanyIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "Unauthorized")
	}

	resp, err := c.service.BuildAuthorizationURL(ctx.Request().Context(), companyID)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, resp, "Authorization URL created")
}

// Callback is the OAuth redirect target. The company is identified by the state; when the
// caller is also authenticated, the state must belong to that company.
// @Summary Xero OAuth callback
// @Tags Xero
// @Produce json
// @Param code query string false "Authorization code"
// @Param state query string true "CSRF state"
// @Success 200 {object} dto.CallbackResponse
// @Failure 400 {object} errors.AppError
// @Router /public/xero/callback [get]
func (c *XeroController) Callback(ctx echo.Context) error {
	req := new(dto.CallbackRequest)
	if err := ctx.Bind(req); err != nil {
		return c.BadRequest(errors.ErrInvalidRequestData, "Invalid callback parameters")
	}

	// 0 for the anonymous browser redirect
	companyID, _ := middleware.CompanyIDFromContext(ctx)
	resp, err := c.service.HandleCallback(ctx.Request().Context(), companyID, *req)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, resp, "Xero connected")
}

// Status reports the connection status
// @Summary Xero connection status
// @Tags Xero
// @Security BearerAuth
// @Produce json
// @Success 200 {object} dto.StatusResponse
// @Router /private/xero/status [get]
func (c *XeroController) Status(ctx echo.Context) error {
	companyID, err := middleware.CompanyIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "Unauthorized")
	}

	resp, err := c.service.GetStatus(ctx.Request().Context(), companyID)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, resp, "Connection status retrieved")
}

// Disconnect clears tokens but keeps the configuration
// @Summary Disconnect Xero
// @Tags Xero
// @Security BearerAuth
// @Produce json
// @Router /private/xero/disconnect [post]
func (c *XeroController) Disconnect(ctx echo.Context) error {
	companyID, err := middleware.CompanyIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "Unauthorized")
	}

	if err := c.service.Disconnect(ctx.Request().Context(), companyID); err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, nil, "Xero disconnected")
}

// Dashboard aggregates ledger data for one tenant
// @Summary Xero dashboard
// @Tags Xero
// @Security BearerAuth
// @Produce json
// @Param tenant_id query string false "Tenant id, defaults to the first connection"
// @Success 200 {object} dto.DashboardResponse
// @Router /private/xero/dashboard [get]
func (c *XeroController) Dashboard(ctx echo.Context) error {
	companyID, err := middleware.CompanyIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "Unauthorized")
	}

	resp, err := c.service.Dashboard(ctx.Request().Context(), companyID, ctx.QueryParam(tenantQueryParam))
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}

	message := "Dashboard retrieved"
	if resp.Partial {
		message = "Dashboard retrieved with missing resources"
	}
	return c.SuccessResponse(ctx, resp, message)
}

// Resource proxies one ledger resource. Query parameters other than tenant_id are forwarded.
// @Summary Fetch a Xero resource
// @Tags Xero
// @Security BearerAuth
// @Produce json
// @Param resource path string true "Resource name, e.g. invoices"
// @Param tenant_id query string false "Tenant id"
// @Router /private/xero/resources/{resource} [get]
func (c *XeroController) Resource(ctx echo.Context) error {
	companyID, err := middleware.CompanyIDFromContext(ctx)
	if err != nil {
		return c.Unauthorized(errors.ErrUnauthorized, "Unauthorized")
	}

	query := url.Values{}
	for k, v := range ctx.QueryParams() {
		if k != tenantQueryParam {
			query[k] = v
		}
	}

	doc, err := c.service.FetchResource(ctx.Request().Context(), companyID, ctx.Param("resource"), ctx.QueryParam(tenantQueryParam), query)
	if err != nil {
		return c.ErrorResponse(ctx, err)
	}
	return c.SuccessResponse(ctx, json.RawMessage(doc.Raw), doc.Resource+" retrieved")
}
