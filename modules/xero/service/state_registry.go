package service

import (
	"context"
	stderrors "errors"
	"time"

	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/core/utils"
	"compliance-api/modules/xero/entity"
	"compliance-api/modules/xero/repository"
)

const maxStateAttempts = 3

// StateRegistry issues and consumes one-time CSRF states bound to a company.
type StateRegistry struct {
	store repository.StateStore
	ttl   time.Duration
	now   func() time.Time
}

func NewStateRegistry(store repository.StateStore, ttl time.Duration) *StateRegistry {
	return &StateRegistry{store: store, ttl: ttl, now: time.Now}
}

func (r *StateRegistry) TTL() time.Duration {
	return r.ttl
}

// Issue stores a fresh random state for companyID. Expired states are swept first.
func (r *StateRegistry) Issue(ctx context.Context, companyID int64) (string, error) {
	if _, err := r.SweepExpired(ctx); err != nil {
		logger.Warn("StateRegistry:Issue:SweepFailed", "error", err)
	}

	for attempt := 1; attempt <= maxStateAttempts; attempt++ {
		state, err := utils.GenerateState()
		if err != nil {
			return "", errors.NewAppError(errors.ErrInternalServer, "Failed to generate authorization state", err)
		}

		err = r.store.Insert(ctx, &entity.AuthState{
			State:     state,
			CompanyID: companyID,
			CreatedAt: r.now().UTC(),
		}, r.ttl)
		if stderrors.Is(err, repository.ErrDuplicateState) {
			logger.Warn("StateRegistry:Issue:Duplicate", "attempt", attempt)
			continue
		}
		if err != nil {
			return "", errors.NewAppError(errors.ErrCreateFailed, "Failed to store authorization state", err)
		}
		return state, nil
	}
	return "", errors.NewAppError(errors.ErrInternalServer, "Failed to issue a unique authorization state", nil)
}

// Consume deletes the state and returns its company. Unknown, reused and expired
// states all fail with INVALID_OR_EXPIRED_STATE.
func (r *StateRegistry) Consume(ctx context.Context, state string) (int64, error) {
	if state == "" {
		return 0, errors.NewAppError(errors.ErrInvalidOrExpiredState, "Authorization state is missing", nil)
	}

	st, err := r.store.Take(ctx, state)
	if err != nil {
		return 0, errors.NewAppError(errors.ErrGetFailed, "Failed to read authorization state", err)
	}
	if st == nil {
		logger.Warn("StateRegistry:Consume:Unknown")
		return 0, errors.NewAppError(errors.ErrInvalidOrExpiredState, "Authorization state is invalid or was already used", nil)
	}
	if r.now().Sub(st.CreatedAt) > r.ttl {
		logger.Warn("StateRegistry:Consume:Expired", "company_id", st.CompanyID, "created_at", st.CreatedAt)
		return 0, errors.NewAppError(errors.ErrInvalidOrExpiredState, "Authorization state has expired", nil)
	}
	return st.CompanyID, nil
}

// SweepExpired removes states older than the TTL.
func (r *StateRegistry) SweepExpired(ctx context.Context) (int64, error) {
	n, err := r.store.DeleteCreatedBefore(ctx, r.now().Add(-r.ttl))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		logger.Debug("StateRegistry:SweepExpired", "deleted", n)
	}
	return n, nil
}
