package service

import (
	"context"
	"time"

	"compliance-api/core/constants"
	coreEntity "compliance-api/core/entity"
	"compliance-api/core/errors"
	"compliance-api/core/params"
	"compliance-api/modules/notification/dto"
	"compliance-api/modules/notification/entity"
	"compliance-api/modules/notification/repository"

	"github.com/google/uuid"
)

type NotificationService struct {
	repo repository.NotificationRepositoryInterface
}

func NewNotificationService(repo repository.NotificationRepositoryInterface) *NotificationService {
	return &NotificationService{repo: repo}
}

func (s *NotificationService) Create(ctx context.Context, req *dto.CreateNotificationRequest) error {
	now := time.Now()
	notif := &entity.Notification{
		CompanyID: req.CompanyID,
		Title:     req.Title,
		Message:   req.Message,
		Type:      req.Type,
		Data:      entity.JSONB(req.Data),
		IsRead:    false,
		BaseEntity: coreEntity.BaseEntity{
			ID:        uuid.New(),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	if err := s.repo.Create(ctx, notif); err != nil {
		return errors.NewAppError(errors.ErrCreateFailed, "Failed to create notification", err)
	}
	return nil
}

// NotifyReconnectRequired tells the company its ledger connection was dropped.
func (s *NotificationService) NotifyReconnectRequired(ctx context.Context, companyID int64, reason string) error {
	return s.Create(ctx, &dto.CreateNotificationRequest{
		CompanyID: companyID,
		Title:     "Reconnect Xero",
		Message:   "Your Xero connection has expired or was revoked. Connect Xero again to keep your compliance data up to date.",
		Type:      constants.NotificationTypeXeroReconnect,
		Data:      map[string]any{"reason": reason},
	})
}

func (s *NotificationService) GetMyNotifications(ctx context.Context, companyID int64, queryParams params.QueryParams) (*entity.PaginatedNotificationEntity, error) {
	result, err := s.repo.GetByCompanyID(ctx, companyID, queryParams)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrGetFailed, "Failed to get notifications", err)
	}
	return result, nil
}

func (s *NotificationService) MarkAsRead(ctx context.Context, companyID int64, ids []uuid.UUID) error {
	if err := s.repo.MarkAsRead(ctx, companyID, ids); err != nil {
		return errors.NewAppError(errors.ErrUpdateFailed, "Failed to mark as read", err)
	}
	return nil
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, companyID int64) error {
	if err := s.repo.MarkAllAsRead(ctx, companyID); err != nil {
		return errors.NewAppError(errors.ErrUpdateFailed, "Failed to mark all as read", err)
	}
	return nil
}

func (s *NotificationService) CountUnread(ctx context.Context, companyID int64) (int, error) {
	count, err := s.repo.CountUnread(ctx, companyID)
	if err != nil {
		return 0, errors.NewAppError(errors.ErrGetFailed, "Failed to count unread", err)
	}
	return count, nil
}
