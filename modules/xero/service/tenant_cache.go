package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strconv"
	"time"

	"compliance-api/core/cache"
	"compliance-api/core/constants"
	"compliance-api/core/logger"
	"compliance-api/modules/xero/entity"
)

// TenantCache keeps the last observed tenant list per company. It is only a label source;
// the connections endpoint stays authoritative. A nil cache disables it.
type TenantCache struct {
	cache cache.Cache
	ttl   time.Duration
}

func NewTenantCache(c cache.Cache, ttl time.Duration) *TenantCache {
	return &TenantCache{cache: c, ttl: ttl}
}

func tenantCacheKey(companyID int64) string {
	return constants.RedisKeyTenantCache + strconv.FormatInt(companyID, 10)
}

func (t *TenantCache) Get(ctx context.Context, companyID int64) []entity.Tenant {
	if t == nil || t.cache == nil {
		return nil
	}
	raw, err := t.cache.Get(ctx, tenantCacheKey(companyID))
	if err != nil {
		if !stderrors.Is(err, cache.ErrCacheMiss) {
			logger.Warn("TenantCache:Get:Failed", "company_id", companyID, "error", err)
		}
		return nil
	}
	var tenants []entity.Tenant
	if err := json.Unmarshal([]byte(raw), &tenants); err != nil {
		logger.Warn("TenantCache:Get:Corrupt", "company_id", companyID, "error", err)
		return nil
	}
	return tenants
}

func (t *TenantCache) Put(ctx context.Context, companyID int64, tenants []entity.Tenant) {
	if t == nil || t.cache == nil {
		return
	}
	raw, err := json.Marshal(tenants)
	if err != nil {
		return
	}
	if err := t.cache.Set(ctx, tenantCacheKey(companyID), string(raw), t.ttl); err != nil {
		logger.Warn("TenantCache:Put:Failed", "company_id", companyID, "error", err)
	}
}

func (t *TenantCache) Invalidate(ctx context.Context, companyID int64) {
	if t == nil || t.cache == nil {
		return
	}
	if err := t.cache.Del(ctx, tenantCacheKey(companyID)); err != nil {
		logger.Warn("TenantCache:Invalidate:Failed", "company_id", companyID, "error", err)
	}
}

// Name returns the cached display name of tenantID, or "".
func (t *TenantCache) Name(ctx context.Context, companyID int64, tenantID string) string {
	for _, tenant := range t.Get(ctx, companyID) {
		if tenant.ID == tenantID {
			return tenant.Name
		}
	}
	return ""
}
