package constants

import "time"

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultTimeout        = 10 * time.Second
)

// Echo context keys.
const (
	ContextTokenData = "token_data"
	ContextCompanyID = "company_id"
)

const ScopeTokenAccess = "access"

const (
	DefaultPageNumber = 1
	DefaultPageSize   = 20
	MaxPageSize       = 100
)

// Redis key prefixes.
const (
	RedisKeyOAuthState  = "xero:state:"
	RedisKeyTenantCache = "xero:tenants:"
)

const NotificationTypeXeroReconnect = "xero_reconnect_required"
