package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"compliance-api/core/database"
	coreEntity "compliance-api/core/entity"
	"compliance-api/core/params"
	"compliance-api/modules/notification/entity"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockDB(t *testing.T) (*database.Database, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = raw.Close()
	})
	return database.New(sqlx.NewDb(raw, "postgres")), mock
}

func TestNotificationRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)
	now := time.Now()
	n := &entity.Notification{
		CompanyID:  7,
		Title:      "t",
		Message:    "m",
		Type:       "x",
		Data:       entity.JSONB{"reason": "revoked"},
		BaseEntity: coreEntity.BaseEntity{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WithArgs(n.ID, int64(7), "t", "m", "x", sqlmock.AnyArg(), false, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Create(context.Background(), n))
}

func TestNotificationRepository_GetByCompanyID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM notifications WHERE company_id = $1")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs(int64(7), 5, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "company_id", "title", "message", "type", "data", "is_read", "created_at", "updated_at"}).
			AddRow(id.String(), int64(7), "t", "m", "x", []byte(`{"reason":"revoked"}`), false, now, now))

	page, err := repo.GetByCompanyID(context.Background(), 7, params.QueryParams{PageNumber: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 11, page.TotalItems)
	assert.Equal(t, 3, page.TotalPages())
	require.Len(t, page.Items, 1)
	assert.Equal(t, id, page.Items[0].ID)
	assert.Equal(t, "revoked", page.Items[0].Data["reason"])
}

func TestNotificationRepository_MarkAsRead(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)
	a, b := uuid.New(), uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications SET is_read = true, updated_at = NOW() WHERE company_id = $1 AND id IN ($2, $3)")).
		WithArgs(int64(7), a, b).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.MarkAsRead(context.Background(), 7, []uuid.UUID{a, b}))
	require.NoError(t, repo.MarkAsRead(context.Background(), 7, nil))
}

func TestNotificationRepository_CountUnread(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewNotificationRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("is_read = false")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountUnread(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}
