package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"compliance-api/core/cache"
	"compliance-api/core/constants"
	"compliance-api/core/database"
	"compliance-api/core/logger"
	"compliance-api/modules/xero/entity"

	"github.com/lib/pq"
)

// ErrDuplicateState is returned by Insert when the state value already exists.
var ErrDuplicateState = errors.New("authorization state already exists")

const pqUniqueViolation = "23505"

// StateStore holds one-time authorization states.
type StateStore interface {
	// Insert stores a new state. ttl bounds how long the backend needs to keep it.
	Insert(ctx context.Context, state *entity.AuthState, ttl time.Duration) error
	// Take atomically reads and deletes a state. Returns nil, nil when absent.
	Take(ctx context.Context, state string) (*entity.AuthState, error)
	// DeleteCreatedBefore removes states created before cutoff and returns how many.
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type postgresStateRepository struct {
	db database.IDatabase
}

func NewPostgresStateRepository(db database.IDatabase) StateStore {
	return &postgresStateRepository{db: db}
}

func (r *postgresStateRepository) Insert(ctx context.Context, state *entity.AuthState, _ time.Duration) error {
	query := `INSERT INTO xero_auth_states (state, company_id, created_at) VALUES ($1, $2, $3)`
	err := r.db.ExecContext(ctx, query, state.State, state.CompanyID, state.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return ErrDuplicateState
		}
		logger.Error("StateRepository:Insert:Error", "error", err, "company_id", state.CompanyID)
		return err
	}
	return nil
}

func (r *postgresStateRepository) Take(ctx context.Context, state string) (*entity.AuthState, error) {
	var st entity.AuthState
	query := `DELETE FROM xero_auth_states WHERE state = $1 RETURNING state, company_id, created_at`
	err := r.db.GetContext(ctx, &st, query, state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		logger.Error("StateRepository:Take:Error", "error", err)
		return nil, err
	}
	return &st, nil
}

func (r *postgresStateRepository) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.SQLx().ExecContext(ctx, `DELETE FROM xero_auth_states WHERE created_at < $1`, cutoff)
	if err != nil {
		logger.Error("StateRepository:DeleteCreatedBefore:Error", "error", err)
		return 0, err
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type redisStateRepository struct {
	cache cache.Cache
}

// NewRedisStateRepository stores states as keys that expire on their own, so sweeping is a no-op.
func NewRedisStateRepository(c cache.Cache) StateStore {
	return &redisStateRepository{cache: c}
}

type redisState struct {
	CompanyID int64     `json:"company_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (r *redisStateRepository) Insert(ctx context.Context, state *entity.AuthState, ttl time.Duration) error {
	payload, err := json.Marshal(redisState{CompanyID: state.CompanyID, CreatedAt: state.CreatedAt})
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	ok, err := r.cache.SetNX(ctx, constants.RedisKeyOAuthState+state.State, string(payload), ttl)
	if err != nil {
		logger.Error("StateRepository:Insert:Redis", "error", err, "company_id", state.CompanyID)
		return err
	}
	if !ok {
		return ErrDuplicateState
	}
	return nil
}

func (r *redisStateRepository) Take(ctx context.Context, state string) (*entity.AuthState, error) {
	raw, err := r.cache.GetDel(ctx, constants.RedisKeyOAuthState+state)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		logger.Error("StateRepository:Take:Redis", "error", err)
		return nil, err
	}

	var rs redisState
	if err := json.Unmarshal([]byte(raw), &rs); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &entity.AuthState{State: state, CompanyID: rs.CompanyID, CreatedAt: rs.CreatedAt}, nil
}

func (r *redisStateRepository) DeleteCreatedBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}
