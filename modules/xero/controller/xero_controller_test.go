package controller_test

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"compliance-api/core/config"
	"compliance-api/core/constants"
	"compliance-api/core/middleware"
	"compliance-api/core/security"
	"compliance-api/core/utils"
	"compliance-api/modules/xero/client"
	"compliance-api/modules/xero/controller"
	"compliance-api/modules/xero/entity"
	"compliance-api/modules/xero/repository"
	"compliance-api/modules/xero/router"
	"compliance-api/modules/xero/service"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const (
	jwtSecret = "test-secret"
	testKey   = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type fakeXero struct {
	mu        sync.Mutex
	codes     []string
	queries   []url.Values
	resources map[string]*client.Response
}

func (f *fakeXero) ExchangeCode(_ context.Context, _ client.ClientCredentials, code string) (*client.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes = append(f.codes, code)
	return &client.Token{AccessToken: "at-" + code, RefreshToken: "rt-" + code, ExpiresAt: time.Now().Add(30 * time.Minute)}, nil
}

func (f *fakeXero) Refresh(context.Context, client.ClientCredentials, string) (*client.Token, error) {
	return nil, stderrors.New("not used")
}

func (f *fakeXero) Connections(context.Context, string) ([]entity.Tenant, error) {
	return []entity.Tenant{{ID: "t-1", Name: "Demo Co", Type: "ORGANISATION"}}, nil
}

func (f *fakeXero) GetResource(_ context.Context, _, _, resource string, query url.Values) (*client.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if resp, ok := f.resources[resource]; ok {
		return resp, nil
	}
	return &client.Response{StatusCode: http.StatusNotFound, Body: []byte(`{"Title":"NotFound"}`)}, nil
}

func newServer(t *testing.T) (*echo.Echo, *fakeXero) {
	t.Helper()
	cipher, err := security.NewCipher(testKey)
	require.NoError(t, err)

	fake := &fakeXero{resources: map[string]*client.Response{
		"Invoices": {StatusCode: http.StatusOK, Body: []byte(`{"Invoices":[{"InvoiceID":"i-1"}]}`)},
	}}
	svc := service.NewConnectionService(service.Options{
		AuthorizeURL:      "https://login.example.test/authorize",
		Scopes:            "offline_access accounting.transactions",
		StateTTL:          10 * time.Minute,
		RateLimitCooldown: 10 * time.Millisecond,
		RefreshSkew:       5 * time.Minute,
	}, service.Dependencies{
		Credentials: repository.NewMemoryCredentialRepository(),
		States:      repository.NewMemoryStateRepository(),
		Cipher:      cipher,
		Tokens:      fake,
		Ledger:      fake,
	})

	e := echo.New()
	api := e.Group("/api/v1")
	router.NewXeroRouter(controller.NewXeroController(svc)).
		Register(api.Group("/public"), api.Group("/private"), middleware.NewMiddleware(config.JWTConfig{Secret: jwtSecret}))
	return e, fake
}

func call(t *testing.T, e *echo.Echo, method, target string, companyID int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if companyID > 0 {
		tok, err := utils.GenerateToken(jwtSecret, "test", companyID, constants.ScopeTokenAccess, time.Hour)
		require.NoError(t, err)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestXeroRoutes_ConnectFlow(t *testing.T) {
	e, fake := newServer(t)

	rec := call(t, e, http.MethodPut, "/api/v1/private/xero/config", 5,
		`{"client_id":"abc","client_secret":"xyz","callback_url":"https://app.example.test/xero/callback"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "xyz")

	rec = call(t, e, http.MethodGet, "/api/v1/private/xero/status", 5, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(entity.StatusNotAuthorized), gjson.Get(rec.Body.String(), "data.status").String())

	rec = call(t, e, http.MethodGet, "/api/v1/private/xero/authorize", 5, "")
	require.Equal(t, http.StatusOK, rec.Code)
	state := gjson.Get(rec.Body.String(), "data.state").String()
	require.NotEmpty(t, state)
	assert.Contains(t, gjson.Get(rec.Body.String(), "data.url").String(), "state="+state)

	rec = call(t, e, http.MethodGet, "/api/v1/public/xero/callback?code=c1&state="+url.QueryEscape(state), 0, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(5), gjson.Get(rec.Body.String(), "data.company_id").Int())
	assert.Equal(t, "t-1", gjson.Get(rec.Body.String(), "data.tenants.0.tenant_id").String())
	assert.Equal(t, []string{"c1"}, fake.codes)

	// the state is single use
	rec = call(t, e, http.MethodGet, "/api/v1/public/xero/callback?code=c2&state="+url.QueryEscape(state), 0, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_STATE", gjson.Get(rec.Body.String(), "code").String())

	rec = call(t, e, http.MethodGet, "/api/v1/private/xero/status", 5, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, string(entity.StatusConnected), gjson.Get(rec.Body.String(), "data.status").String())

	rec = call(t, e, http.MethodPost, "/api/v1/private/xero/disconnect", 5, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = call(t, e, http.MethodGet, "/api/v1/private/xero/status", 5, "")
	assert.Equal(t, string(entity.StatusNotAuthorized), gjson.Get(rec.Body.String(), "data.status").String())
}

func TestXeroRoutes_Resource(t *testing.T) {
	e, fake := newServer(t)

	call(t, e, http.MethodPut, "/api/v1/private/xero/config", 5,
		`{"client_id":"abc","client_secret":"xyz","callback_url":"https://app.example.test/cb"}`)
	rec := call(t, e, http.MethodGet, "/api/v1/private/xero/authorize", 5, "")
	state := gjson.Get(rec.Body.String(), "data.state").String()
	call(t, e, http.MethodGet, "/api/v1/public/xero/callback?code=c1&state="+url.QueryEscape(state), 0, "")

	rec = call(t, e, http.MethodGet, "/api/v1/private/xero/resources/invoices?tenant_id=t-1&page=2", 5, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "i-1", gjson.Get(rec.Body.String(), "data.Invoices.0.InvoiceID").String())

	require.Len(t, fake.queries, 1)
	assert.Equal(t, "2", fake.queries[0].Get("page"))
	assert.False(t, fake.queries[0].Has("tenant_id"))

	rec = call(t, e, http.MethodGet, "/api/v1/private/xero/resources/journals", 5, "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "REMOTE_REQUEST_FAILED", gjson.Get(rec.Body.String(), "code").String())
	assert.Equal(t, int64(404), gjson.Get(rec.Body.String(), "details.status").Int())
}

func TestXeroRoutes_Errors(t *testing.T) {
	e, _ := newServer(t)

	rec := call(t, e, http.MethodGet, "/api/v1/private/xero/status", 0, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = call(t, e, http.MethodGet, "/api/v1/private/xero/authorize", 9, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "NOT_CONFIGURED", gjson.Get(rec.Body.String(), "code").String())

	rec = call(t, e, http.MethodPut, "/api/v1/private/xero/config", 9, `{"client_id":"","client_secret":"x","callback_url":"https://a/cb"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, e, http.MethodGet, "/api/v1/public/xero/callback?error=access_denied&state=whatever", 0, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "access_denied", gjson.Get(rec.Body.String(), "details.error").String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_GRANT", body["code"])
}

func TestXeroRoutes_CallbackChecksAuthenticatedCompany(t *testing.T) {
	e, fake := newServer(t)

	call(t, e, http.MethodPut, "/api/v1/private/xero/config", 5,
		`{"client_id":"abc","client_secret":"xyz","callback_url":"https://app.example.test/cb"}`)
	rec := call(t, e, http.MethodGet, "/api/v1/private/xero/authorize", 5, "")
	state := gjson.Get(rec.Body.String(), "data.state").String()
	require.NotEmpty(t, state)

	// company 6 replays company 5's state while signed in
	rec = call(t, e, http.MethodGet, "/api/v1/public/xero/callback?code=c1&state="+url.QueryEscape(state), 6, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OR_EXPIRED_STATE", gjson.Get(rec.Body.String(), "code").String())
	assert.Empty(t, fake.codes)

	rec = call(t, e, http.MethodGet, "/api/v1/private/xero/status", 5, "")
	assert.Equal(t, string(entity.StatusNotAuthorized), gjson.Get(rec.Body.String(), "data.status").String())

	rec = call(t, e, http.MethodGet, "/api/v1/private/xero/authorize", 5, "")
	state = gjson.Get(rec.Body.String(), "data.state").String()
	rec = call(t, e, http.MethodGet, "/api/v1/public/xero/callback?code=c2&state="+url.QueryEscape(state), 5, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(5), gjson.Get(rec.Body.String(), "data.company_id").Int())
	assert.Equal(t, []string{"c2"}, fake.codes)
}
