package service

import (
	"context"
	"time"

	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/core/metrics"
	"compliance-api/modules/xero/entity"
	"compliance-api/modules/xero/repository"
)

// Notifier tells a company it has to connect the ledger again.
type Notifier interface {
	NotifyReconnectRequired(ctx context.Context, companyID int64, reason string) error
}

// TokenRecovery applies the refresh-or-revoke policy shared by every caller that finds
// an unusable access token.
type TokenRecovery struct {
	exchanger *TokenExchanger
	store     repository.CredentialStore
	tenants   *TenantCache
	notifier  Notifier
	metrics   *metrics.Registry
}

func NewTokenRecovery(
	exchanger *TokenExchanger,
	store repository.CredentialStore,
	tenants *TenantCache,
	notifier Notifier,
	m *metrics.Registry,
) *TokenRecovery {
	return &TokenRecovery{
		exchanger: exchanger,
		store:     store,
		tenants:   tenants,
		notifier:  notifier,
		metrics:   m,
	}
}

// Recover refreshes the company's tokens. Irrecoverable failures clear the TokenSet and
// return REAUTHORIZATION_REQUIRED; anything else leaves storage untouched and returns UNAUTHORIZED.
func (r *TokenRecovery) Recover(ctx context.Context, companyID int64) (*entity.TokenSet, error) {
	tokens, err := r.exchanger.Refresh(ctx, companyID)
	if err == nil {
		return tokens, nil
	}

	if irrecoverable(err) {
		code := errors.Code(err)
		if revokeErr := r.Revoke(ctx, companyID, string(code), code != errors.ErrNotConfigured); revokeErr != nil {
			logger.Error("TokenRecovery:Recover:RevokeFailed", "company_id", companyID, "error", revokeErr)
		}
		return nil, wrapKeepingDetails(errors.ErrReauthorizationRequired, "Xero connection must be authorized again", err)
	}

	logger.Warn("TokenRecovery:Recover:Transient", "company_id", companyID, "code", errors.Code(err))
	return nil, wrapKeepingDetails(errors.ErrUnauthorized, "Xero rejected the access token and it could not be refreshed right now; try again later", err)
}

// Revoke clears the TokenSet while keeping the IntegrationConfig.
func (r *TokenRecovery) Revoke(ctx context.Context, companyID int64, reason string, notify bool) error {
	if err := r.store.ClearTokens(ctx, companyID); err != nil {
		return errors.NewAppError(errors.ErrDeleteFailed, "Failed to clear tokens", err)
	}
	r.tenants.Invalidate(ctx, companyID)
	if r.metrics != nil {
		r.metrics.IncTokensCleared()
	}
	logger.Warn("TokenRecovery:Revoke:TokensCleared", "company_id", companyID, "reason", reason)

	if notify && r.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.notifier.NotifyReconnectRequired(notifyCtx, companyID, reason); err != nil {
			logger.Error("TokenRecovery:Revoke:NotifyFailed", "company_id", companyID, "error", err)
		}
	}
	return nil
}

func irrecoverable(err error) bool {
	switch errors.Code(err) {
	case errors.ErrInvalidRefreshToken, errors.ErrNoRefreshToken, errors.ErrNotConfigured, errors.ErrInvalidClient:
		return true
	}
	return false
}

func wrapKeepingDetails(code errors.ErrorCode, message string, cause error) *errors.AppError {
	wrapped := errors.NewAppError(code, message, cause)
	if inner, ok := errors.As(cause); ok {
		wrapped.Details = inner.Details
	}
	return wrapped
}
