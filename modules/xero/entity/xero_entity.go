package entity

import (
	"time"
)

// IntegrationConfig is the per-company OAuth client registration.
type IntegrationConfig struct {
	CompanyID             int64     `db:"company_id" json:"company_id"`
	ClientID              string    `db:"client_id" json:"client_id"`
	ClientSecretEncrypted string    `db:"client_secret_encrypted" json:"-"`
	CallbackURL           string    `db:"callback_url" json:"callback_url"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time `db:"updated_at" json:"updated_at"`
}

// Credentials is an IntegrationConfig with the client secret decrypted. Never persisted.
type Credentials struct {
	CompanyID    int64
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// TokenSet is written and cleared as a unit.
type TokenSet struct {
	CompanyID    int64     `db:"company_id" json:"company_id"`
	AccessToken  string    `db:"access_token" json:"-"`
	RefreshToken string    `db:"refresh_token" json:"-"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (t *TokenSet) HasAccessToken() bool {
	return t != nil && t.AccessToken != ""
}

func (t *TokenSet) HasRefreshToken() bool {
	return t != nil && t.RefreshToken != ""
}

func (t *TokenSet) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ExpiresWithin reports whether the access token expires before now+skew.
func (t *TokenSet) ExpiresWithin(now time.Time, skew time.Duration) bool {
	return !now.Add(skew).Before(t.ExpiresAt)
}

type AuthState struct {
	State     string    `db:"state" json:"state"`
	CompanyID int64     `db:"company_id" json:"company_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type Tenant struct {
	ID   string `json:"tenant_id"`
	Name string `json:"tenant_name"`
	Type string `json:"tenant_type,omitempty"`
}

type ConnectionStatus string

const (
	StatusNotConfigured    ConnectionStatus = "not_configured"
	StatusNotAuthorized    ConnectionStatus = "not_authorized"
	StatusConnected        ConnectionStatus = "connected"
	StatusTokenExpired     ConnectionStatus = "token_expired"
	StatusRefreshFailed    ConnectionStatus = "refresh_failed"
	StatusConnectionFailed ConnectionStatus = "connection_failed"
)

// ExpiringToken is one row of the proactive refresh scan.
type ExpiringToken struct {
	CompanyID int64     `db:"company_id"`
	ExpiresAt time.Time `db:"expires_at"`
}
