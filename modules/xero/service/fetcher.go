package service

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/core/metrics"
	"compliance-api/modules/xero/client"
	"compliance-api/modules/xero/entity"
	"compliance-api/modules/xero/repository"

	"github.com/cenkalti/backoff/v5"
	"github.com/tidwall/gjson"
)

// LedgerAPI is the connections and data surface. Implemented by *client.Client.
type LedgerAPI interface {
	Connections(ctx context.Context, accessToken string) ([]entity.Tenant, error)
	GetResource(ctx context.Context, accessToken, tenantID, resource string, query url.Values) (*client.Response, error)
}

// Retry reasons recorded in metrics.
const (
	retryReasonRateLimited  = "rate_limited"
	retryReasonUnauthorized = "unauthorized"
)

var errThrottled = stderrors.New("ledger answered 429")

// Document is one resource payload, parsed lazily.
type Document struct {
	Resource string
	Raw      []byte
}

func (d *Document) JSON() gjson.Result {
	return gjson.ParseBytes(d.Raw)
}

// Items returns the records under the resource key. Key casing and singular/plural
// forms vary between endpoints, so the match is loose.
func (d *Document) Items() []gjson.Result {
	var found gjson.Result
	d.JSON().ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if strings.EqualFold(k, d.Resource) || strings.EqualFold(k, d.Resource+"s") {
			found = value
			return false
		}
		return true
	})
	switch {
	case found.IsArray():
		return found.Array()
	case found.IsObject():
		return []gjson.Result{found}
	default:
		return nil
	}
}

// Fetcher is the only path to the ledger's data and connections endpoints. It applies
// the proactive refresh, the single 429 retry and the single 401 refresh-and-retry.
type Fetcher struct {
	store    repository.CredentialStore
	api      LedgerAPI
	recovery *TokenRecovery
	cooldown time.Duration
	skew     time.Duration
	metrics  *metrics.Registry
	now      func() time.Time
}

func NewFetcher(
	store repository.CredentialStore,
	api LedgerAPI,
	recovery *TokenRecovery,
	cooldown, skew time.Duration,
	m *metrics.Registry,
) *Fetcher {
	return &Fetcher{
		store:    store,
		api:      api,
		recovery: recovery,
		cooldown: cooldown,
		skew:     skew,
		metrics:  m,
		now:      time.Now,
	}
}

type call func(ctx context.Context, accessToken string) (*client.Response, error)

// Fetch reads one resource for one tenant.
func (f *Fetcher) Fetch(ctx context.Context, companyID int64, tenantID, resource string, query url.Values) (*Document, error) {
	resp, err := f.execute(ctx, companyID, resource, func(ctx context.Context, accessToken string) (*client.Response, error) {
		return f.api.GetResource(ctx, accessToken, tenantID, resource, query)
	})
	if err != nil {
		return nil, err
	}
	return &Document{Resource: resource, Raw: resp.Body}, nil
}

// Tenants lists the organisations the company's token can access.
func (f *Fetcher) Tenants(ctx context.Context, companyID int64) ([]entity.Tenant, error) {
	var tenants []entity.Tenant
	_, err := f.execute(ctx, companyID, "connections", func(ctx context.Context, accessToken string) (*client.Response, error) {
		list, err := f.api.Connections(ctx, accessToken)
		if remote, ok := client.AsRemoteError(err); ok {
			return &client.Response{StatusCode: remote.StatusCode, Body: []byte(remote.Body)}, nil
		}
		if err != nil {
			return nil, err
		}
		tenants = list
		return &client.Response{StatusCode: http.StatusOK}, nil
	})
	if err != nil {
		return nil, err
	}
	return tenants, nil
}

func (f *Fetcher) execute(ctx context.Context, companyID int64, endpoint string, do call) (*client.Response, error) {
	tokens, err := f.usableTokens(ctx, companyID)
	if err != nil {
		return nil, err
	}

	resp, err := f.callWithThrottleRetry(ctx, endpoint, tokens.AccessToken, do)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		f.incRetry(retryReasonUnauthorized)
		logger.Warn("Fetcher:Execute:Unauthorized", "company_id", companyID, "endpoint", endpoint)

		refreshed, err := f.recovery.Recover(ctx, companyID)
		if err != nil {
			return nil, err
		}
		resp, err = do(ctx, refreshed.AccessToken)
		if err != nil {
			return nil, transportError(ctx, endpoint, err)
		}
		if resp.StatusCode == http.StatusUnauthorized {
			// The refresh itself succeeded, so the grant is alive. Kept as Unauthorized so the
			// tokens survive; a revoked grant shows up on the next refresh as invalid_grant.
			logger.Error("Fetcher:Execute:RefreshedTokenRejected", "company_id", companyID, "endpoint", endpoint)
			return nil, errors.NewAppError(errors.ErrUnauthorized, "Xero rejected the refreshed access token", nil).
				WithDetails(remoteFailure(endpoint, resp))
		}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errors.NewAppError(errors.ErrRateLimited, "Xero rate limit reached; try again shortly", nil).
			WithDetails(remoteFailure(endpoint, resp))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, errors.NewAppError(errors.ErrRemoteRequestFailed, "Xero request failed", nil).
			WithDetails(remoteFailure(endpoint, resp))
	}
	return resp, nil
}

// usableTokens loads the TokenSet and refreshes it first when it is expired or about to expire.
func (f *Fetcher) usableTokens(ctx context.Context, companyID int64) (*entity.TokenSet, error) {
	tokens, err := f.store.GetTokens(ctx, companyID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrGetFailed, "Failed to load tokens", err)
	}
	if !tokens.HasAccessToken() {
		return nil, errors.NewAppError(errors.ErrReauthorizationRequired, "Xero is not connected", nil)
	}

	now := f.now()
	if !tokens.ExpiresWithin(now, f.skew) {
		return tokens, nil
	}

	refreshed, err := f.recovery.Recover(ctx, companyID)
	if err == nil {
		return refreshed, nil
	}
	if errors.Is(err, errors.ErrUnauthorized) && !tokens.ExpiredAt(now) {
		logger.Warn("Fetcher:UsableTokens:EarlyRefreshFailed", "company_id", companyID, "error", err)
		return tokens, nil
	}
	return nil, err
}

func (f *Fetcher) callWithThrottleRetry(ctx context.Context, endpoint, accessToken string, do call) (*client.Response, error) {
	var throttled *client.Response
	op := func() (*client.Response, error) {
		resp, err := do(ctx, accessToken)
		if err != nil {
			return nil, backoff.Permanent(transportError(ctx, endpoint, err))
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			throttled = resp
			return nil, errThrottled
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(f.cooldown)),
		backoff.WithMaxTries(2),
		backoff.WithNotify(func(_ error, wait time.Duration) {
			f.incRetry(retryReasonRateLimited)
			logger.Warn("Fetcher:CallWithThrottleRetry:RateLimited", "endpoint", endpoint, "wait", wait)
		}),
	)
	switch {
	case err == nil:
		return resp, nil
	case stderrors.Is(err, errThrottled):
		return throttled, nil
	case stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled):
		if _, ok := errors.As(err); !ok {
			return nil, errors.NewAppError(errors.ErrTimeout, "Request deadline passed while waiting to retry", err)
		}
	}
	return nil, err
}

func (f *Fetcher) incRetry(reason string) {
	if f.metrics != nil {
		f.metrics.IncRetry(reason)
	}
}

// transportError never blames Xero for a call the caller gave up on.
func transportError(ctx context.Context, endpoint string, err error) error {
	if ctx.Err() != nil || client.IsTimeout(err) {
		return errors.NewAppError(errors.ErrTimeout, "Xero did not answer in time", err)
	}
	return errors.NewAppError(errors.ErrRemoteRequestFailed, "Xero is unreachable", err).
		WithDetails(&client.RemoteError{Endpoint: endpoint, Description: err.Error()})
}

func remoteFailure(endpoint string, resp *client.Response) *client.RemoteError {
	body := resp.Body
	if len(body) > 2048 {
		body = body[:2048]
	}
	return &client.RemoteError{
		Endpoint:    endpoint,
		StatusCode:  resp.StatusCode,
		ErrorCode:   firstString(body, "error", "Type", "title"),
		Description: firstString(body, "error_description", "Message", "Detail", "detail"),
		Body:        string(body),
	}
}

func firstString(body []byte, paths ...string) string {
	for _, p := range paths {
		if v := gjson.GetBytes(body, p); v.Type == gjson.String && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
