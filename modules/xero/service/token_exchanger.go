package service

import (
	"context"
	"time"

	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/core/metrics"
	"compliance-api/modules/xero/client"
	"compliance-api/modules/xero/entity"
	"compliance-api/modules/xero/repository"
)

// TokenClient is the token endpoint. Implemented by *client.Client.
type TokenClient interface {
	ExchangeCode(ctx context.Context, creds client.ClientCredentials, code string) (*client.Token, error)
	Refresh(ctx context.Context, creds client.ClientCredentials, refreshToken string) (*client.Token, error)
}

// Refresh outcomes recorded in metrics.
const (
	refreshOutcomeSuccess      = "success"
	refreshOutcomeInvalidGrant = "invalid_grant"
	refreshOutcomeTimeout      = "timeout"
	refreshOutcomeError        = "error"
)

type TokenExchanger struct {
	credentials *CredentialService
	states      *StateRegistry
	store       repository.CredentialStore
	client      TokenClient
	metrics     *metrics.Registry
	now         func() time.Time
}

func NewTokenExchanger(
	credentials *CredentialService,
	states *StateRegistry,
	store repository.CredentialStore,
	tokenClient TokenClient,
	m *metrics.Registry,
) *TokenExchanger {
	return &TokenExchanger{
		credentials: credentials,
		states:      states,
		store:       store,
		client:      tokenClient,
		metrics:     m,
		now:         time.Now,
	}
}

// ExchangeCode consumes state and trades code for a new TokenSet. companyIDHint, when non-zero,
// must match the company the state was issued to.
func (e *TokenExchanger) ExchangeCode(ctx context.Context, companyIDHint int64, code, state string) (*entity.TokenSet, error) {
	if code == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "Authorization code is missing", nil)
	}

	companyID, err := e.states.Consume(ctx, state)
	if err != nil {
		return nil, err
	}
	if companyIDHint != 0 && companyIDHint != companyID {
		logger.Warn("TokenExchanger:ExchangeCode:CompanyMismatch", "company_id", companyIDHint, "state_company_id", companyID)
		return nil, errors.NewAppError(errors.ErrInvalidOrExpiredState, "Authorization state does not belong to this company", nil)
	}

	creds, err := e.credentials.Load(ctx, companyID)
	if err != nil {
		return nil, err
	}

	tok, err := e.client.ExchangeCode(ctx, clientCredentials(creds), code)
	if err != nil {
		classified := classifyExchangeError(err)
		logger.Warn("TokenExchanger:ExchangeCode:Failed", "company_id", companyID, "code", errors.Code(classified), "error", err)
		return nil, classified
	}
	if tok.AccessToken == "" || tok.RefreshToken == "" {
		logger.Error("TokenExchanger:ExchangeCode:IncompleteResponse", "company_id", companyID,
			"has_access_token", tok.AccessToken != "", "has_refresh_token", tok.RefreshToken != "")
		return nil, errors.NewAppError(errors.ErrExchangeFailed, "Token endpoint returned an incomplete token set; check that offline_access is granted", nil)
	}

	tokens := &entity.TokenSet{
		CompanyID:    companyID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt.UTC(),
	}
	if err := e.store.SaveTokens(ctx, tokens); err != nil {
		return nil, errors.NewAppError(errors.ErrUpdateFailed, "Failed to save tokens", err)
	}

	logger.Info("TokenExchanger:ExchangeCode:Connected", "company_id", companyID, "expires_at", tokens.ExpiresAt)
	return tokens, nil
}

// Refresh replaces the stored TokenSet using its refresh token. Failures never touch storage;
// deciding whether to clear tokens is TokenRecovery's job.
func (e *TokenExchanger) Refresh(ctx context.Context, companyID int64) (*entity.TokenSet, error) {
	creds, err := e.credentials.Load(ctx, companyID)
	if err != nil {
		return nil, err
	}

	current, err := e.store.GetTokens(ctx, companyID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrGetFailed, "Failed to load tokens", err)
	}
	if !current.HasRefreshToken() {
		return nil, errors.NewAppError(errors.ErrNoRefreshToken, "No refresh token is stored", nil)
	}

	tok, err := e.client.Refresh(ctx, clientCredentials(creds), current.RefreshToken)
	if err != nil {
		classified := classifyRefreshError(err)
		e.recordRefresh(classified)
		logger.Warn("TokenExchanger:Refresh:Failed", "company_id", companyID, "code", errors.Code(classified), "error", err)
		return nil, classified
	}

	tokens := &entity.TokenSet{
		CompanyID:    companyID,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.ExpiresAt.UTC(),
	}
	// The token endpoint may omit a rotated refresh token.
	if tokens.RefreshToken == "" {
		tokens.RefreshToken = current.RefreshToken
	}
	if tokens.AccessToken == "" {
		err := errors.NewAppError(errors.ErrExchangeFailed, "Token endpoint returned no access token", nil)
		e.recordRefresh(err)
		return nil, err
	}

	if err := e.store.SaveTokens(ctx, tokens); err != nil {
		return nil, errors.NewAppError(errors.ErrUpdateFailed, "Failed to save refreshed tokens", err)
	}

	e.recordRefresh(nil)
	logger.Info("TokenExchanger:Refresh:Refreshed", "company_id", companyID, "expires_at", tokens.ExpiresAt)
	return tokens, nil
}

func (e *TokenExchanger) recordRefresh(err error) {
	if e.metrics == nil {
		return
	}
	outcome := refreshOutcomeSuccess
	switch {
	case err == nil:
	case errors.Is(err, errors.ErrInvalidRefreshToken):
		outcome = refreshOutcomeInvalidGrant
	case errors.Is(err, errors.ErrTimeout):
		outcome = refreshOutcomeTimeout
	default:
		outcome = refreshOutcomeError
	}
	e.metrics.IncRefresh(outcome)
}

func clientCredentials(creds *entity.Credentials) client.ClientCredentials {
	return client.ClientCredentials{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURL:  creds.CallbackURL,
	}
}

func classifyExchangeError(err error) error {
	if client.IsTimeout(err) {
		return errors.NewAppError(errors.ErrTimeout, "Token endpoint timed out", err)
	}
	remote, ok := client.AsRemoteError(err)
	if !ok {
		return errors.NewAppError(errors.ErrExchangeFailed, "Token endpoint is unreachable", err)
	}

	var appErr *errors.AppError
	switch remote.ErrorCode {
	case client.OAuthErrInvalidGrant:
		appErr = errors.NewAppError(errors.ErrInvalidGrant, "Authorization code is expired or was already used; start the connection again", err)
	case client.OAuthErrInvalidClient, client.OAuthErrUnauthorizedClient:
		appErr = errors.NewAppError(errors.ErrInvalidClient, "Client ID or client secret was rejected; update the integration configuration", err)
	case client.OAuthErrInvalidRedirectURI:
		appErr = errors.NewAppError(errors.ErrInvalidRedirectURI, "Callback URL does not match the one registered with Xero", err)
	default:
		appErr = errors.NewAppError(errors.ErrExchangeFailed, "Token exchange failed", err)
	}
	return appErr.WithDetails(remote)
}

func classifyRefreshError(err error) error {
	if client.IsTimeout(err) {
		return errors.NewAppError(errors.ErrTimeout, "Token endpoint timed out", err)
	}
	remote, ok := client.AsRemoteError(err)
	if !ok {
		return errors.NewAppError(errors.ErrExchangeFailed, "Token endpoint is unreachable", err)
	}

	var appErr *errors.AppError
	switch remote.ErrorCode {
	case client.OAuthErrInvalidGrant:
		appErr = errors.NewAppError(errors.ErrInvalidRefreshToken, "Refresh token is invalid, expired or revoked", err)
	case client.OAuthErrInvalidClient, client.OAuthErrUnauthorizedClient:
		appErr = errors.NewAppError(errors.ErrInvalidClient, "Client ID or client secret was rejected; update the integration configuration", err)
	default:
		appErr = errors.NewAppError(errors.ErrExchangeFailed, "Token refresh failed", err)
	}
	return appErr.WithDetails(remote)
}
