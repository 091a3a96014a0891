package dto

import (
	"time"

	"compliance-api/modules/xero/entity"
)

type ConfigureRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	CallbackURL  string `json:"callback_url"`
}

type ConfigResponse struct {
	ClientID    string    `json:"client_id"`
	CallbackURL string    `json:"callback_url"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type AuthorizationURLResponse struct {
	URL   string `json:"url"`
	State string `json:"state"`
}

type CallbackRequest struct {
	Code             string `query:"code"`
	State            string `query:"state"`
	Error            string `query:"error"`
	ErrorDescription string `query:"error_description"`
}

type CallbackResponse struct {
	CompanyID int64           `json:"company_id"`
	ExpiresAt time.Time       `json:"expires_at"`
	Tenants   []entity.Tenant `json:"tenants"`
}

// ErrorInfo is a machine-readable failure attached to an otherwise successful answer.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Action  string `json:"action"`
	Details any    `json:"details,omitempty"`
}

type StatusResponse struct {
	Status    entity.ConnectionStatus `json:"status"`
	Tenants   []entity.Tenant         `json:"tenants,omitempty"`
	ExpiresAt *time.Time              `json:"expires_at,omitempty"`
	Error     *ErrorInfo              `json:"error,omitempty"`
}

type ResourceOutcome struct {
	Resource string     `json:"resource"`
	OK       bool       `json:"ok"`
	Count    int        `json:"count"`
	Error    *ErrorInfo `json:"error,omitempty"`
}

type DashboardSummary struct {
	OrganisationName     string  `json:"organisation_name,omitempty"`
	BaseCurrency         string  `json:"base_currency,omitempty"`
	InvoiceCount         int     `json:"invoice_count"`
	ContactCount         int     `json:"contact_count"`
	BankTransactionCount int     `json:"bank_transaction_count"`
	AccountCount         int     `json:"account_count"`
	TotalInvoiced        float64 `json:"total_invoiced"`
	TotalReceivable      float64 `json:"total_receivable"`
	TotalPayable         float64 `json:"total_payable"`
	TotalReceived        float64 `json:"total_received"`
	TotalSpent           float64 `json:"total_spent"`
	SkippedValues        int     `json:"skipped_values"`
}

type DashboardResponse struct {
	CompanyID       int64             `json:"company_id"`
	TenantID        string            `json:"tenant_id"`
	TenantName      string            `json:"tenant_name,omitempty"`
	Partial         bool              `json:"partial"`
	FailedResources []string          `json:"failed_resources,omitempty"`
	Resources       []ResourceOutcome `json:"resources"`
	Summary         DashboardSummary  `json:"summary"`
	GeneratedAt     time.Time         `json:"generated_at"`
	SnapshotKey     string            `json:"snapshot_key,omitempty"`
}
