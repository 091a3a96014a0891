package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"compliance-api/core/database"
	"compliance-api/core/logger"
	"compliance-api/modules/xero/entity"
)

// CredentialStore persists IntegrationConfig and TokenSet. Getters return nil, nil when absent.
type CredentialStore interface {
	GetConfig(ctx context.Context, companyID int64) (*entity.IntegrationConfig, error)
	SaveConfig(ctx context.Context, cfg *entity.IntegrationConfig) error
	// DeleteConfig removes the configuration and any TokenSet with it.
	DeleteConfig(ctx context.Context, companyID int64) error

	GetTokens(ctx context.Context, companyID int64) (*entity.TokenSet, error)
	// SaveTokens replaces the whole TokenSet in one statement.
	SaveTokens(ctx context.Context, tokens *entity.TokenSet) error
	ClearTokens(ctx context.Context, companyID int64) error
	ListExpiringTokens(ctx context.Context, before time.Time, limit int) ([]entity.ExpiringToken, error)
}

type credentialRepository struct {
	db database.IDatabase
}

func NewCredentialRepository(db database.IDatabase) CredentialStore {
	return &credentialRepository{db: db}
}

func (r *credentialRepository) GetConfig(ctx context.Context, companyID int64) (*entity.IntegrationConfig, error) {
	var cfg entity.IntegrationConfig
	query := `
		SELECT company_id, client_id, client_secret_encrypted, callback_url, created_at, updated_at
		FROM xero_integration_configs
		WHERE company_id = $1
	`
	err := r.db.GetContext(ctx, &cfg, query, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logger.Error("CredentialRepository:GetConfig:Error", "error", err, "company_id", companyID)
		return nil, err
	}
	return &cfg, nil
}

func (r *credentialRepository) SaveConfig(ctx context.Context, cfg *entity.IntegrationConfig) error {
	query := `
		INSERT INTO xero_integration_configs (company_id, client_id, client_secret_encrypted, callback_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (company_id)
		DO UPDATE SET client_id = EXCLUDED.client_id,
			client_secret_encrypted = EXCLUDED.client_secret_encrypted,
			callback_url = EXCLUDED.callback_url,
			updated_at = NOW()
	`
	err := r.db.ExecContext(ctx, query, cfg.CompanyID, cfg.ClientID, cfg.ClientSecretEncrypted, cfg.CallbackURL)
	if err != nil {
		logger.Error("CredentialRepository:SaveConfig:Error", "error", err, "company_id", cfg.CompanyID)
		return err
	}
	return nil
}

func (r *credentialRepository) DeleteConfig(ctx context.Context, companyID int64) error {
	query := `DELETE FROM xero_integration_configs WHERE company_id = $1`
	err := r.db.ExecContext(ctx, query, companyID)
	if err != nil {
		logger.Error("CredentialRepository:DeleteConfig:Error", "error", err, "company_id", companyID)
		return err
	}
	return nil
}

func (r *credentialRepository) GetTokens(ctx context.Context, companyID int64) (*entity.TokenSet, error) {
	var tokens entity.TokenSet
	query := `
		SELECT company_id, access_token, refresh_token, expires_at, updated_at
		FROM xero_token_sets
		WHERE company_id = $1
	`
	err := r.db.GetContext(ctx, &tokens, query, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logger.Error("CredentialRepository:GetTokens:Error", "error", err, "company_id", companyID)
		return nil, err
	}
	return &tokens, nil
}

func (r *credentialRepository) SaveTokens(ctx context.Context, tokens *entity.TokenSet) error {
	query := `
		INSERT INTO xero_token_sets (company_id, access_token, refresh_token, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (company_id)
		DO UPDATE SET access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`
	err := r.db.ExecContext(ctx, query, tokens.CompanyID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt)
	if err != nil {
		logger.Error("CredentialRepository:SaveTokens:Error", "error", err, "company_id", tokens.CompanyID)
		return err
	}
	return nil
}

func (r *credentialRepository) ClearTokens(ctx context.Context, companyID int64) error {
	query := `DELETE FROM xero_token_sets WHERE company_id = $1`
	err := r.db.ExecContext(ctx, query, companyID)
	if err != nil {
		logger.Error("CredentialRepository:ClearTokens:Error", "error", err, "company_id", companyID)
		return err
	}
	return nil
}

func (r *credentialRepository) ListExpiringTokens(ctx context.Context, before time.Time, limit int) ([]entity.ExpiringToken, error) {
	var rows []entity.ExpiringToken
	query := `
		SELECT company_id, expires_at
		FROM xero_token_sets
		WHERE expires_at < $1 AND refresh_token <> ''
		ORDER BY expires_at ASC
		LIMIT $2
	`
	err := r.db.SelectContext(ctx, &rows, query, before, limit)
	if err != nil {
		logger.Error("CredentialRepository:ListExpiringTokens:Error", "error", err)
		return nil, err
	}
	return rows, nil
}
