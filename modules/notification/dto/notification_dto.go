package dto

import (
	"github.com/google/uuid"
)

type MarkAsReadRequest struct {
	IDs []uuid.UUID `json:"ids" validate:"required"`
}

type CreateNotificationRequest struct {
	CompanyID int64          `json:"company_id"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
}

type UnreadCountResponse struct {
	Count int `json:"count"`
}
