package service

import (
	"context"

	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/modules/xero/entity"
)

// TenantResolver picks the organisation a call should target.
type TenantResolver struct {
	fetcher *Fetcher
	cache   *TenantCache
}

func NewTenantResolver(fetcher *Fetcher, cache *TenantCache) *TenantResolver {
	return &TenantResolver{fetcher: fetcher, cache: cache}
}

// Resolve returns hint unchanged when given; the ledger rejects unknown ids itself.
// Otherwise the first tenant of the live connections list is used.
func (r *TenantResolver) Resolve(ctx context.Context, companyID int64, hint string) (string, error) {
	if hint != "" {
		return hint, nil
	}

	tenants, err := r.List(ctx, companyID)
	if err != nil {
		return "", err
	}
	if len(tenants) == 0 {
		return "", errors.NewAppError(errors.ErrNoTenants, "No Xero organisation is connected to this account", nil)
	}
	return tenants[0].ID, nil
}

// List fetches the live tenant list and refreshes the cache with it.
func (r *TenantResolver) List(ctx context.Context, companyID int64) ([]entity.Tenant, error) {
	tenants, err := r.fetcher.Tenants(ctx, companyID)
	if err != nil {
		return nil, err
	}
	logger.Debug("TenantResolver:List", "company_id", companyID, "tenants", len(tenants))
	r.cache.Put(ctx, companyID, tenants)
	return tenants, nil
}
