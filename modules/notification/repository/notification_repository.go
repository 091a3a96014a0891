package repository

import (
	"context"

	"compliance-api/core/database"
	"compliance-api/core/logger"
	"compliance-api/core/params"
	"compliance-api/modules/notification/entity"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Schema is applied by the migrate command.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
		id         UUID PRIMARY KEY,
		company_id BIGINT NOT NULL,
		title      TEXT NOT NULL,
		message    TEXT NOT NULL,
		type       TEXT NOT NULL,
		data       JSONB NOT NULL DEFAULT '{}',
		is_read    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_company_created ON notifications (company_id, created_at DESC)`,
}

type NotificationRepositoryInterface interface {
	Create(ctx context.Context, notification *entity.Notification) error
	GetByCompanyID(ctx context.Context, companyID int64, params params.QueryParams) (*entity.PaginatedNotificationEntity, error)
	MarkAsRead(ctx context.Context, companyID int64, ids []uuid.UUID) error
	MarkAllAsRead(ctx context.Context, companyID int64) error
	CountUnread(ctx context.Context, companyID int64) (int, error)
}

type NotificationRepository struct {
	db database.IDatabase
}

func NewNotificationRepository(db database.IDatabase) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, notification *entity.Notification) error {
	query := `
		INSERT INTO notifications (id, company_id, title, message, type, data, is_read, created_at, updated_at)
		VALUES (:id, :company_id, :title, :message, :type, :data, :is_read, :created_at, :updated_at)
	`
	if _, err := r.db.NamedExecContext(ctx, query, notification); err != nil {
		logger.Error("NotificationRepository:Create:Error", "company_id", notification.CompanyID, "error", err)
		return err
	}
	return nil
}

func (r *NotificationRepository) GetByCompanyID(ctx context.Context, companyID int64, params params.QueryParams) (*entity.PaginatedNotificationEntity, error) {
	baseQuery := `FROM notifications WHERE company_id = $1`

	var totalItems int
	if err := r.db.GetContext(ctx, &totalItems, "SELECT COUNT(*) "+baseQuery, companyID); err != nil {
		logger.Error("NotificationRepository:GetByCompanyID:Count:Error", "company_id", companyID, "error", err)
		return nil, err
	}

	query := `
		SELECT id, company_id, title, message, type, data, is_read, created_at, updated_at ` + baseQuery + `
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	notifications := []entity.Notification{}
	if err := r.db.SelectContext(ctx, &notifications, query, companyID, params.PageSize, params.Offset()); err != nil {
		logger.Error("NotificationRepository:GetByCompanyID:Select:Error", "company_id", companyID, "error", err)
		return nil, err
	}

	return &entity.PaginatedNotificationEntity{
		Items:      notifications,
		TotalItems: totalItems,
		PageNumber: params.PageNumber,
		PageSize:   params.PageSize,
	}, nil
}

func (r *NotificationRepository) MarkAsRead(ctx context.Context, companyID int64, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`UPDATE notifications SET is_read = true, updated_at = NOW() WHERE company_id = ? AND id IN (?)`, companyID, ids)
	if err != nil {
		return err
	}

	query = r.db.SQLx().Rebind(query)
	if err := r.db.ExecContext(ctx, query, args...); err != nil {
		logger.Error("NotificationRepository:MarkAsRead:Error", "company_id", companyID, "error", err)
		return err
	}
	return nil
}

func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, companyID int64) error {
	query := `UPDATE notifications SET is_read = true, updated_at = NOW() WHERE company_id = $1 AND is_read = false`
	if err := r.db.ExecContext(ctx, query, companyID); err != nil {
		logger.Error("NotificationRepository:MarkAllAsRead:Error", "company_id", companyID, "error", err)
		return err
	}
	return nil
}

func (r *NotificationRepository) CountUnread(ctx context.Context, companyID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM notifications WHERE company_id = $1 AND is_read = false`
	if err := r.db.GetContext(ctx, &count, query, companyID); err != nil {
		logger.Error("NotificationRepository:CountUnread:Error", "company_id", companyID, "error", err)
		return 0, err
	}
	return count, nil
}
