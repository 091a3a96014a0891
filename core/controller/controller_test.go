package controller

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"compliance-api/core/errors"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorResponse_MapsCodes(t *testing.T) {
	tests := []struct {
		code   errors.ErrorCode
		status int
		action string
	}{
		{errors.ErrNotConfigured, http.StatusConflict, errors.ActionReconfigure},
		{errors.ErrInvalidOrExpiredState, http.StatusBadRequest, errors.ActionReconnect},
		{errors.ErrInvalidRedirectURI, http.StatusUnprocessableEntity, errors.ActionReconfigure},
		{errors.ErrReauthorizationRequired, http.StatusUnauthorized, errors.ActionReconnect},
		{errors.ErrRateLimited, http.StatusTooManyRequests, errors.ActionRetry},
		{errors.ErrTimeout, http.StatusGatewayTimeout, errors.ActionRetry},
		{errors.ErrRemoteRequestFailed, http.StatusBadGateway, errors.ActionRetry},
	}

	e := echo.New()
	h := NewBaseController()
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			wrapped := fmt.Errorf("ctx: %w", errors.NewAppError(tt.code, "msg", nil).WithDetails(map[string]string{"k": "v"}))
			require.NoError(t, h.ErrorResponse(c, wrapped))

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.action, body.Action)
			assert.Equal(t, map[string]any{"k": "v"}, body.Details)
		})
	}
}

func TestErrorResponse_PlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, NewBaseController().ErrorResponse(c, stderrors.New("db down")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, errors.ErrInternalServer, body.Code)
	assert.Equal(t, "internal server error", body.Message)
}

func TestSuccessResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, NewBaseController().SuccessResponse(c, map[string]int{"n": 1}, "ok"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"message":"ok"`)
}
