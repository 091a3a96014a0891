package service

import (
	"context"
	"net/url"
	"strings"

	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/core/security"
	"compliance-api/modules/xero/dto"
	"compliance-api/modules/xero/entity"
	"compliance-api/modules/xero/repository"
)

// CredentialService owns the IntegrationConfig. The client secret only exists
// decrypted in memory.
type CredentialService struct {
	store  repository.CredentialStore
	cipher security.Cipher
}

func NewCredentialService(store repository.CredentialStore, cipher security.Cipher) *CredentialService {
	return &CredentialService{store: store, cipher: cipher}
}

// Configure creates or replaces the integration configuration. Tokens are left alone.
func (s *CredentialService) Configure(ctx context.Context, companyID int64, req dto.ConfigureRequest) (*dto.ConfigResponse, error) {
	clientID := strings.TrimSpace(req.ClientID)
	secret := strings.TrimSpace(req.ClientSecret)
	callback := strings.TrimSpace(req.CallbackURL)

	if clientID == "" || secret == "" || callback == "" {
		return nil, errors.NewAppError(errors.ErrInvalidInput, "client_id, client_secret and callback_url are required", nil)
	}
	if err := validateCallbackURL(callback); err != nil {
		return nil, err
	}

	encrypted, err := s.cipher.Encrypt(secret)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrInternalServer, "Failed to protect client secret", err)
	}

	cfg := &entity.IntegrationConfig{
		CompanyID:             companyID,
		ClientID:              clientID,
		ClientSecretEncrypted: encrypted,
		CallbackURL:           callback,
	}
	if err := s.store.SaveConfig(ctx, cfg); err != nil {
		return nil, errors.NewAppError(errors.ErrUpdateFailed, "Failed to save integration configuration", err)
	}

	logger.Info("CredentialService:Configure:Saved", "company_id", companyID, "client_id", clientID)

	saved, err := s.store.GetConfig(ctx, companyID)
	if err != nil || saved == nil {
		return &dto.ConfigResponse{ClientID: clientID, CallbackURL: callback}, nil
	}
	return &dto.ConfigResponse{ClientID: saved.ClientID, CallbackURL: saved.CallbackURL, UpdatedAt: saved.UpdatedAt}, nil
}

// Load returns decrypted credentials or NOT_CONFIGURED.
func (s *CredentialService) Load(ctx context.Context, companyID int64) (*entity.Credentials, error) {
	cfg, err := s.store.GetConfig(ctx, companyID)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrGetFailed, "Failed to load integration configuration", err)
	}
	if cfg == nil || cfg.ClientID == "" || cfg.ClientSecretEncrypted == "" {
		return nil, errors.NewAppError(errors.ErrNotConfigured, "Xero integration is not configured", nil)
	}

	secret, err := s.cipher.Decrypt(cfg.ClientSecretEncrypted)
	if err != nil {
		logger.Error("CredentialService:Load:Decrypt", "company_id", companyID, "error", err)
		return nil, errors.NewAppError(errors.ErrNotConfigured, "Stored client secret is unreadable; configure the integration again", err)
	}

	return &entity.Credentials{
		CompanyID:    cfg.CompanyID,
		ClientID:     cfg.ClientID,
		ClientSecret: secret,
		CallbackURL:  cfg.CallbackURL,
	}, nil
}

// Remove deletes the configuration together with any tokens.
func (s *CredentialService) Remove(ctx context.Context, companyID int64) error {
	if err := s.store.DeleteConfig(ctx, companyID); err != nil {
		return errors.NewAppError(errors.ErrDeleteFailed, "Failed to remove integration", err)
	}
	logger.Info("CredentialService:Remove:Deleted", "company_id", companyID)
	return nil
}

func validateCallbackURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return errors.NewAppError(errors.ErrInvalidInput, "callback_url must be an absolute http(s) URL", err)
	}
	if u.Fragment != "" {
		return errors.NewAppError(errors.ErrInvalidInput, "callback_url must not contain a fragment", nil)
	}
	return nil
}
