package service

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/modules/xero/client"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func connectedHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t)
	h.configure(testCompanyID)
	h.seedTokens(testCompanyID, "at-old", "rt-old", time.Now().Add(time.Hour))
	return h
}

// sequence answers each call with the next status; the last one repeats.
func sequence(statuses ...int) http.HandlerFunc {
	var n atomic.Int32
	return func(w http.ResponseWriter, _ *http.Request) {
		i := int(n.Add(1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		if statuses[i] == http.StatusOK {
			writeJSON(w, http.StatusOK, `{"Invoices":[{"InvoiceID":"i-1"}]}`)
			return
		}
		writeJSON(w, statuses[i], `{"Title":"status","Detail":"nope"}`)
	}
}

func TestFetchResource_Success(t *testing.T) {
	h := connectedHarness(t)
	var (
		mu                  sync.Mutex
		gotTenant, gotQuery string
	)
	h.ledger.setResource("Invoices", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotTenant = r.Header.Get(client.TenantHeader)
		gotQuery = r.URL.Query().Get("page")
		mu.Unlock()
		writeJSON(w, http.StatusOK, `{"Id":"x","Invoices":[{"InvoiceID":"i-1"},{"InvoiceID":"i-2"}]}`)
	})

	doc, err := h.svc.FetchResource(context.Background(), testCompanyID, "invoices", "", url.Values{"page": {"2"}})
	require.NoError(t, err)
	assert.Len(t, doc.Items(), 2)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "t-1", gotTenant)
	assert.Equal(t, "2", gotQuery)
	assert.Equal(t, []string{"Bearer at-old"}, h.ledger.bearers("Invoices"))
}

func TestFetchResource_TenantHintSkipsConnections(t *testing.T) {
	h := connectedHarness(t)
	h.ledger.setResource("Invoices", sequence(http.StatusOK))

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "explicit-tenant", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, h.ledger.count("connections"))
}

func TestFetchResource_NoTenants(t *testing.T) {
	h := connectedHarness(t)
	h.ledger.setConnections(okResource(`[]`))

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "", nil)
	assert.True(t, errors.Is(err, errors.ErrNoTenants))
}

func TestFetch_Single429IsRetriedOnce(t *testing.T) {
	h := connectedHarness(t)
	h.ledger.setResource("Invoices", sequence(http.StatusTooManyRequests, http.StatusOK))

	start := time.Now()
	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, 2, h.ledger.count("Invoices"))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.OutboundRetriesTotal.WithLabelValues(retryReasonRateLimited)))
}

func TestFetch_Double429SurfacesRateLimited(t *testing.T) {
	h := connectedHarness(t)
	h.ledger.setResource("Invoices", sequence(http.StatusTooManyRequests))

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRateLimited))
	assert.Equal(t, 2, h.ledger.count("Invoices"))

	appErr, _ := errors.As(err)
	remote, ok := appErr.Details.(*client.RemoteError)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, remote.StatusCode)
}

func TestFetch_401RefreshesAndRetriesOnce(t *testing.T) {
	h := connectedHarness(t)
	h.ledger.setResource("Invoices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer at-old" {
			writeJSON(w, http.StatusUnauthorized, `{"Title":"Unauthorized","Detail":"TokenExpired"}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"Invoices":[]}`)
	})

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer at-old", "Bearer at-1"}, h.ledger.bearers("Invoices"))
	assert.Equal(t, 1, h.ledger.count("token"))
	assert.Equal(t, "at-1", h.tokens(testCompanyID).AccessToken)
}

func TestFetch_401ThenInvalidRefreshClearsTokens(t *testing.T) {
	h := connectedHarness(t)
	h.ledger.setResource("Invoices", sequence(http.StatusUnauthorized))
	h.ledger.setToken(tokenError(http.StatusBadRequest, "invalid_grant"))

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
	assert.True(t, errors.Is(err, errors.ErrReauthorizationRequired))
	assert.Equal(t, 1, h.ledger.count("Invoices"))
	assert.Nil(t, h.tokens(testCompanyID))
	assert.Equal(t, 1, h.notifier.count(testCompanyID))
}

func TestFetch_401ThenTransientRefreshKeepsTokens(t *testing.T) {
	h := connectedHarness(t)
	h.ledger.setResource("Invoices", sequence(http.StatusUnauthorized))
	h.ledger.setToken(tokenError(http.StatusBadGateway, "server_error"))

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	assert.Equal(t, 1, h.ledger.count("Invoices"))
	assert.Equal(t, "at-old", h.tokens(testCompanyID).AccessToken)
}

func TestFetch_Repeated401AfterRefresh(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := logger.Get()
	logger.Set(zap.New(core).Sugar())
	t.Cleanup(func() { logger.Set(prev) })

	h := connectedHarness(t)
	h.ledger.setResource("Invoices", sequence(http.StatusUnauthorized))

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
	assert.True(t, errors.Is(err, errors.ErrUnauthorized))
	assert.Equal(t, 2, h.ledger.count("Invoices"))
	assert.NotNil(t, h.tokens(testCompanyID))
	assert.Equal(t, 0, h.notifier.count(testCompanyID))

	rejected := logs.FilterMessage("Fetcher:Execute:RefreshedTokenRejected").All()
	require.Len(t, rejected, 1)
	assert.Equal(t, zapcore.ErrorLevel, rejected[0].Level)
	assert.Equal(t, int64(testCompanyID), rejected[0].ContextMap()["company_id"])
}

func TestFetch_OtherStatusesSurfaceUnmodified(t *testing.T) {
	for _, status := range []int{http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError} {
		t.Run(fmt.Sprint(status), func(t *testing.T) {
			h := connectedHarness(t)
			h.ledger.setResource("Invoices", sequence(status))

			_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrRemoteRequestFailed))
			assert.Equal(t, 1, h.ledger.count("Invoices"))

			appErr, _ := errors.As(err)
			remote := appErr.Details.(*client.RemoteError)
			assert.Equal(t, status, remote.StatusCode)
			assert.Equal(t, "nope", remote.Description)
			assert.Contains(t, remote.Body, "Title")
		})
	}
}

func TestFetch_NotConnected(t *testing.T) {
	h := newHarness(t)
	h.configure(testCompanyID)

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
	assert.True(t, errors.Is(err, errors.ErrReauthorizationRequired))
	assert.Equal(t, 0, h.ledger.count("Invoices"))
}

func TestFetch_ProactiveRefreshNearExpiry(t *testing.T) {
	h := newHarness(t)
	h.configure(testCompanyID)
	h.seedTokens(testCompanyID, "at-old", "rt-old", time.Now().Add(time.Minute))
	h.ledger.setResource("Invoices", sequence(http.StatusOK))

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, h.ledger.count("token"))
	assert.Equal(t, []string{"Bearer at-1"}, h.ledger.bearers("Invoices"))
}

func TestFetch_EarlyRefreshFailureUsesCurrentToken(t *testing.T) {
	h := newHarness(t)
	h.configure(testCompanyID)
	h.seedTokens(testCompanyID, "at-old", "rt-old", time.Now().Add(time.Minute))
	h.ledger.setToken(tokenError(http.StatusServiceUnavailable, "temporarily_unavailable"))
	h.ledger.setResource("Invoices", sequence(http.StatusOK))

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer at-old"}, h.ledger.bearers("Invoices"))
}

func TestFetch_ConcurrentRefreshLastWriteWins(t *testing.T) {
	h := newHarness(t)
	h.configure(testCompanyID)
	h.seedTokens(testCompanyID, "at-old", "rt-old", time.Now().Add(-time.Hour))
	h.ledger.setResource("Invoices", sequence(http.StatusOK))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	tokens := h.tokens(testCompanyID)
	require.NotNil(t, tokens)
	assert.True(t, strings.HasPrefix(tokens.AccessToken, "at-"))
	assert.Equal(t, strings.TrimPrefix(tokens.AccessToken, "at-"), strings.TrimPrefix(tokens.RefreshToken, "rt-"))
	assert.NotEqual(t, "at-old", tokens.AccessToken)
}

func TestFetch_TransportTimeout(t *testing.T) {
	h := connectedHarness(t)
	h.ledger.setResource("Invoices", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	})

	_, err := h.svc.FetchResource(context.Background(), testCompanyID, "Invoices", "t-1", nil)
	assert.True(t, errors.Is(err, errors.ErrTimeout))
	assert.Equal(t, 1, h.ledger.count("Invoices"))
	assert.Equal(t, "at-old", h.tokens(testCompanyID).AccessToken)
}

func TestDocumentItems(t *testing.T) {
	cases := []struct {
		resource string
		body     string
		want     int
	}{
		{"Invoices", `{"Invoices":[{},{}]}`, 2},
		{"Organisation", `{"Organisations":[{"Name":"Acme"}]}`, 1},
		{"contacts", `{"Contacts":[{}]}`, 1},
		{"Accounts", `{"Status":"OK"}`, 0},
		{"Organisation", `{"Organisation":{"Name":"Acme"}}`, 1},
		{"Invoices", `not json`, 0},
	}
	for _, tc := range cases {
		doc := &Document{Resource: tc.resource, Raw: []byte(tc.body)}
		assert.Len(t, doc.Items(), tc.want, "%s %s", tc.resource, tc.body)
	}
}
