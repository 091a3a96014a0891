package service

import (
	"context"
	"net/url"
	"time"

	"compliance-api/core/cache"
	"compliance-api/core/config"
	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/core/metrics"
	"compliance-api/core/security"
	"compliance-api/core/storage"
	"compliance-api/modules/xero/client"
	"compliance-api/modules/xero/dto"
	"compliance-api/modules/xero/entity"
	"compliance-api/modules/xero/repository"
)

type Options struct {
	AuthorizeURL      string
	Scopes            string
	StateTTL          time.Duration
	RateLimitCooldown time.Duration
	RefreshSkew       time.Duration
	TenantCacheTTL    time.Duration
}

func OptionsFromConfig(cfg config.XeroConfig) Options {
	return Options{
		AuthorizeURL:      cfg.AuthorizeURL,
		Scopes:            cfg.Scopes,
		StateTTL:          cfg.StateTTL,
		RateLimitCooldown: cfg.RateLimitCooldown,
		RefreshSkew:       cfg.RefreshSkew,
		TenantCacheTTL:    cfg.TenantCacheTTL,
	}
}

// Dependencies of the connection service. Cache, Archive and Notifier are optional.
type Dependencies struct {
	Credentials repository.CredentialStore
	States      repository.StateStore
	Cipher      security.Cipher
	Tokens      TokenClient
	Ledger      LedgerAPI
	Cache       cache.Cache
	Archive     storage.ObjectStore
	Notifier    Notifier
	Metrics     *metrics.Registry
}

// ConnectionService is the token lifecycle controller. Every operation the rest of the
// application needs from the ledger integration goes through it.
type ConnectionService struct {
	store       repository.CredentialStore
	credentials *CredentialService
	states      *StateRegistry
	authorize   *AuthorizationURLBuilder
	exchanger   *TokenExchanger
	recovery    *TokenRecovery
	fetcher     *Fetcher
	tenants     *TenantResolver
	tenantCache *TenantCache
	archive     storage.ObjectStore
	now         func() time.Time
}

func NewConnectionService(opts Options, deps Dependencies) *ConnectionService {
	m := deps.Metrics
	if m == nil {
		m = metrics.NewRegistry()
	}

	credentials := NewCredentialService(deps.Credentials, deps.Cipher)
	states := NewStateRegistry(deps.States, opts.StateTTL)
	tenantCache := NewTenantCache(deps.Cache, opts.TenantCacheTTL)
	exchanger := NewTokenExchanger(credentials, states, deps.Credentials, deps.Tokens, m)
	recovery := NewTokenRecovery(exchanger, deps.Credentials, tenantCache, deps.Notifier, m)
	fetcher := NewFetcher(deps.Credentials, deps.Ledger, recovery, opts.RateLimitCooldown, opts.RefreshSkew, m)

	archive := deps.Archive
	if s3, ok := archive.(*storage.S3Store); ok && s3 == nil {
		archive = nil
	}

	return &ConnectionService{
		store:       deps.Credentials,
		credentials: credentials,
		states:      states,
		authorize:   NewAuthorizationURLBuilder(credentials, states, opts.AuthorizeURL, opts.Scopes),
		exchanger:   exchanger,
		recovery:    recovery,
		fetcher:     fetcher,
		tenants:     NewTenantResolver(fetcher, tenantCache),
		tenantCache: tenantCache,
		archive:     archive,
		now:         time.Now,
	}
}

func (s *ConnectionService) Configure(ctx context.Context, companyID int64, req dto.ConfigureRequest) (*dto.ConfigResponse, error) {
	return s.credentials.Configure(ctx, companyID, req)
}

// RemoveIntegration deletes configuration and tokens.
func (s *ConnectionService) RemoveIntegration(ctx context.Context, companyID int64) error {
	if err := s.credentials.Remove(ctx, companyID); err != nil {
		return err
	}
	s.tenantCache.Invalidate(ctx, companyID)
	return nil
}

func (s *ConnectionService) BuildAuthorizationURL(ctx context.Context, companyID int64) (*dto.AuthorizationURLResponse, error) {
	return s.authorize.Build(ctx, companyID)
}

// HandleCallback completes the consent flow. companyIDHint is 0 when the company is only
// known through the state. A tenant listing failure does not undo a successful exchange.
func (s *ConnectionService) HandleCallback(ctx context.Context, companyIDHint int64, req dto.CallbackRequest) (*dto.CallbackResponse, error) {
	if req.Error != "" {
		// consent was declined; the state is still burnt so it cannot be replayed
		if req.State != "" {
			if _, err := s.states.Consume(ctx, req.State); err != nil {
				logger.Debug("ConnectionService:HandleCallback:DeclinedStateInvalid", "error", err)
			}
		}
		logger.Warn("ConnectionService:HandleCallback:Declined", "error", req.Error)
		return nil, errors.NewAppError(errors.ErrInvalidGrant, "Xero authorization was not granted", nil).
			WithDetails(&client.RemoteError{Endpoint: "authorize", ErrorCode: req.Error, Description: req.ErrorDescription})
	}

	tokens, err := s.exchanger.ExchangeCode(ctx, companyIDHint, req.Code, req.State)
	if err != nil {
		return nil, err
	}

	resp := &dto.CallbackResponse{
		CompanyID: tokens.CompanyID,
		ExpiresAt: tokens.ExpiresAt,
		Tenants:   []entity.Tenant{},
	}
	tenants, err := s.tenants.List(ctx, tokens.CompanyID)
	if err != nil {
		logger.Warn("ConnectionService:HandleCallback:TenantsFailed", "company_id", tokens.CompanyID, "error", err)
		return resp, nil
	}
	resp.Tenants = tenants
	return resp, nil
}

// Disconnect clears the TokenSet and keeps the IntegrationConfig.
func (s *ConnectionService) Disconnect(ctx context.Context, companyID int64) error {
	if err := s.store.ClearTokens(ctx, companyID); err != nil {
		return errors.NewAppError(errors.ErrDeleteFailed, "Failed to disconnect", err)
	}
	s.tenantCache.Invalidate(ctx, companyID)
	logger.Info("ConnectionService:Disconnect", "company_id", companyID)
	return nil
}

// GetStatus derives the connection status, verifying liveness with one connections call.
func (s *ConnectionService) GetStatus(ctx context.Context, companyID int64) (*dto.StatusResponse, error) {
	cfg, err := s.store.GetConfig(ctx, companyID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrGetFailed, "Failed to load integration configuration", err)
	}
	tokens, err := s.store.GetTokens(ctx, companyID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrGetFailed, "Failed to load tokens", err)
	}

	now := s.now()
	if cfg == nil || !tokens.HasAccessToken() {
		return &dto.StatusResponse{Status: DeriveStatus(cfg != nil, tokens, now, nil)}, nil
	}

	if tokens.ExpiredAt(now) {
		refreshed, err := s.recovery.Recover(ctx, companyID)
		if err != nil {
			return &dto.StatusResponse{Status: DeriveStatus(true, tokens, now, err), Error: errorInfo(err)}, nil
		}
		tokens = refreshed
	}

	tenants, err := s.tenants.List(ctx, companyID)
	if err != nil {
		return s.livenessFailed(ctx, companyID, tokens, err), nil
	}

	expiresAt := tokens.ExpiresAt
	return &dto.StatusResponse{Status: entity.StatusConnected, Tenants: tenants, ExpiresAt: &expiresAt}, nil
}

// livenessFailed handles a failed connections check. Transient failures, and any failure
// after the caller gave up, keep the tokens; anything else means the stored tokens no longer
// work and they are cleared.
func (s *ConnectionService) livenessFailed(ctx context.Context, companyID int64, tokens *entity.TokenSet, err error) *dto.StatusResponse {
	if ctx.Err() != nil && !errors.Is(err, errors.ErrTimeout) {
		err = errors.NewAppError(errors.ErrTimeout, "Status check was cancelled before Xero answered", err)
	}
	status := DeriveStatus(true, tokens, s.now(), err)
	if status == entity.StatusConnectionFailed && !transient(err) {
		if revokeErr := s.recovery.Revoke(ctx, companyID, string(errors.Code(err)), true); revokeErr != nil {
			logger.Error("ConnectionService:GetStatus:RevokeFailed", "company_id", companyID, "error", revokeErr)
		} else {
			err = wrapKeepingDetails(errors.ErrReauthorizationRequired, "Xero no longer accepts the stored tokens; connect Xero again", err)
		}
	}
	logger.Warn("ConnectionService:GetStatus:LivenessFailed", "company_id", companyID, "status", status, "error", err)
	return &dto.StatusResponse{Status: status, Error: errorInfo(err)}
}

// DeriveStatus is the single place a ConnectionStatus is computed. lastErr is the outcome
// of the most recent validation attempt, nil when none was made or it succeeded.
func DeriveStatus(configured bool, tokens *entity.TokenSet, now time.Time, lastErr error) entity.ConnectionStatus {
	if !configured {
		return entity.StatusNotConfigured
	}
	if !tokens.HasAccessToken() {
		return entity.StatusNotAuthorized
	}
	if lastErr == nil {
		if tokens.ExpiredAt(now) {
			return entity.StatusTokenExpired
		}
		return entity.StatusConnected
	}

	switch errors.Code(lastErr) {
	case errors.ErrReauthorizationRequired:
		return entity.StatusNotAuthorized
	case errors.ErrUnauthorized:
		if tokens.ExpiredAt(now) {
			return entity.StatusRefreshFailed
		}
		return entity.StatusConnectionFailed
	default:
		return entity.StatusConnectionFailed
	}
}

func transient(err error) bool {
	switch errors.Code(err) {
	case errors.ErrTimeout, errors.ErrRateLimited, errors.ErrUnauthorized, errors.ErrGetFailed:
		return true
	}
	return false
}

// FetchResource reads one named resource through the fetcher.
func (s *ConnectionService) FetchResource(ctx context.Context, companyID int64, resource, tenantHint string, query url.Values) (*Document, error) {
	name, err := NormalizeResourceName(resource)
	if err != nil {
		return nil, err
	}
	tenantID, err := s.tenants.Resolve(ctx, companyID, tenantHint)
	if err != nil {
		return nil, err
	}
	return s.fetcher.Fetch(ctx, companyID, tenantID, name, query)
}

// RefreshCompany refreshes one company's tokens under the shared recovery policy.
func (s *ConnectionService) RefreshCompany(ctx context.Context, companyID int64) error {
	_, err := s.recovery.Recover(ctx, companyID)
	return err
}

// ExpiringCompanies lists companies whose access token expires within window.
func (s *ConnectionService) ExpiringCompanies(ctx context.Context, window time.Duration, limit int) ([]int64, error) {
	rows, err := s.store.ListExpiringTokens(ctx, s.now().Add(window), limit)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrGetFailed, "Failed to list expiring tokens", err)
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.CompanyID)
	}
	return ids, nil
}

func (s *ConnectionService) SweepStates(ctx context.Context) (int64, error) {
	return s.states.SweepExpired(ctx)
}

func errorInfo(err error) *dto.ErrorInfo {
	if err == nil {
		return nil
	}
	appErr, ok := errors.As(err)
	if !ok {
		return &dto.ErrorInfo{Code: string(errors.ErrInternalServer), Message: "Unexpected error", Action: errors.ActionRetry}
	}
	return &dto.ErrorInfo{
		Code:    string(appErr.Code),
		Message: appErr.Message,
		Action:  errors.Action(appErr.Code),
		Details: appErr.Details,
	}
}
