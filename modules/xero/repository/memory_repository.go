package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"compliance-api/modules/xero/entity"
)

// MemoryStateRepository keeps states in process. Suitable for a single instance.
type MemoryStateRepository struct {
	mu     sync.Mutex
	states map[string]entity.AuthState
}

func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{states: make(map[string]entity.AuthState)}
}

func (r *MemoryStateRepository) Insert(_ context.Context, state *entity.AuthState, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.states[state.State]; exists {
		return ErrDuplicateState
	}
	r.states[state.State] = *state
	return nil
}

func (r *MemoryStateRepository) Take(_ context.Context, state string) (*entity.AuthState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[state]
	if !ok {
		return nil, nil
	}
	delete(r.states, state)
	return &st, nil
}

func (r *MemoryStateRepository) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for k, st := range r.states {
		if st.CreatedAt.Before(cutoff) {
			delete(r.states, k)
			n++
		}
	}
	return n, nil
}

func (r *MemoryStateRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// MemoryCredentialRepository is an in-process CredentialStore used by tests and local runs.
type MemoryCredentialRepository struct {
	mu      sync.RWMutex
	configs map[int64]entity.IntegrationConfig
	tokens  map[int64]entity.TokenSet
}

func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		configs: make(map[int64]entity.IntegrationConfig),
		tokens:  make(map[int64]entity.TokenSet),
	}
}

func (r *MemoryCredentialRepository) GetConfig(_ context.Context, companyID int64) (*entity.IntegrationConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[companyID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (r *MemoryCredentialRepository) SaveConfig(_ context.Context, cfg *entity.IntegrationConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	stored := *cfg
	if existing, ok := r.configs[cfg.CompanyID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	r.configs[cfg.CompanyID] = stored
	return nil
}

func (r *MemoryCredentialRepository) DeleteConfig(_ context.Context, companyID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.configs, companyID)
	delete(r.tokens, companyID)
	return nil
}

func (r *MemoryCredentialRepository) GetTokens(_ context.Context, companyID int64) (*entity.TokenSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.tokens[companyID]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

func (r *MemoryCredentialRepository) SaveTokens(_ context.Context, tokens *entity.TokenSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *tokens
	stored.UpdatedAt = time.Now()
	r.tokens[tokens.CompanyID] = stored
	return nil
}

func (r *MemoryCredentialRepository) ClearTokens(_ context.Context, companyID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, companyID)
	return nil
}

func (r *MemoryCredentialRepository) ListExpiringTokens(_ context.Context, before time.Time, limit int) ([]entity.ExpiringToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []entity.ExpiringToken
	for id, ts := range r.tokens {
		if ts.ExpiresAt.Before(before) && ts.RefreshToken != "" {
			out = append(out, entity.ExpiringToken{CompanyID: id, ExpiresAt: ts.ExpiresAt})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ StateStore      = (*MemoryStateRepository)(nil)
	_ CredentialStore = (*MemoryCredentialRepository)(nil)
)
