package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"compliance-api/core/config"
	"compliance-api/core/logger"
	"compliance-api/core/metrics"
	"compliance-api/modules/xero/entity"

	"github.com/tidwall/gjson"
)

const (
	// TenantHeader carries the target organisation on data calls.
	TenantHeader = "xero-tenant-id"

	endpointToken       = "token"
	endpointConnections = "connections"
	endpointAPI         = "api"

	maxResponseBody = 16 << 20
)

type Options struct {
	TokenURL           string
	ConnectionsURL     string
	APIBaseURL         string
	MinRequestInterval time.Duration
	TokenTimeout       time.Duration
	APITimeout         time.Duration
	HTTPClient         *http.Client
	Metrics            *metrics.Registry
}

func OptionsFromConfig(cfg config.XeroConfig) Options {
	return Options{
		TokenURL:           cfg.TokenURL,
		ConnectionsURL:     cfg.ConnectionsURL,
		APIBaseURL:         cfg.APIBaseURL,
		MinRequestInterval: cfg.MinRequestInterval,
		TokenTimeout:       cfg.TokenTimeout,
		APITimeout:         cfg.APITimeout,
	}
}

// Client talks to the ledger's token, connections and data endpoints.
// It performs single calls only. Retry and refresh policy live in the service layer.
type Client struct {
	opts       Options
	httpClient *http.Client
	pacer      *Pacer
	metrics    *metrics.Registry
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.TokenTimeout <= 0 {
		opts.TokenTimeout = 10 * time.Second
	}
	if opts.APITimeout <= 0 {
		opts.APITimeout = 30 * time.Second
	}
	return &Client{
		opts:       opts,
		httpClient: httpClient,
		pacer:      NewPacer(opts.MinRequestInterval),
		metrics:    opts.Metrics,
	}
}

// Response is a raw data endpoint answer. Non-2xx statuses are not errors at this level.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Connections lists the tenants the access token is authorised for.
func (c *Client) Connections(ctx context.Context, accessToken string) ([]entity.Tenant, error) {
	resp, err := c.do(ctx, endpointConnections, c.opts.ConnectionsURL, accessToken, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteError{
			Endpoint:   endpointConnections,
			StatusCode: resp.StatusCode,
			Body:       truncate(resp.Body),
		}
	}

	parsed := gjson.ParseBytes(resp.Body)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("connections: unexpected payload")
	}

	tenants := make([]entity.Tenant, 0, len(parsed.Array()))
	parsed.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("tenantId").String()
		if id == "" {
			return true
		}
		tenants = append(tenants, entity.Tenant{
			ID:   id,
			Name: item.Get("tenantName").String(),
			Type: item.Get("tenantType").String(),
		})
		return true
	})
	return tenants, nil
}

// GetResource issues one GET {api_base}/{resource} for a tenant.
func (c *Client) GetResource(ctx context.Context, accessToken, tenantID, resource string, query url.Values) (*Response, error) {
	target := strings.TrimRight(c.opts.APIBaseURL, "/") + "/" + url.PathEscape(resource)
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return c.do(ctx, endpointAPI, target, accessToken, tenantID)
}

func (c *Client) do(ctx context.Context, endpoint, target, accessToken, tenantID string) (*Response, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.APITimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if tenantID != "" {
		req.Header.Set(TenantHeader, tenantID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(endpoint, "error", start)
		logger.Warn("XeroClient:Do:Transport", "endpoint", endpoint, "timeout", IsTimeout(err), "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		c.observe(endpoint, "error", start)
		return nil, fmt.Errorf("%s: read body: %w", endpoint, err)
	}
	c.observe(endpoint, strconv.Itoa(resp.StatusCode), start)

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

func (c *Client) observe(endpoint, status string, start time.Time) {
	if c.metrics != nil {
		c.metrics.ObserveOutbound(endpoint, status, time.Since(start))
	}
}
