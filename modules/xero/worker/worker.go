package worker

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"compliance-api/core/config"
	"compliance-api/core/errors"
	"compliance-api/core/logger"
	"compliance-api/core/queue"
	"compliance-api/modules/xero/service"

	"github.com/hibiken/asynq"
)

// Task types.
const (
	TypeSweepStates          = "xero:states:sweep"
	TypeRefreshExpiring      = "xero:tokens:refresh_expiring"
	TypeRefreshCompanyTokens = "xero:tokens:refresh_company"
)

const refreshBatchSize = 500

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type RefreshCompanyPayload struct {
	CompanyID int64 `json:"company_id"`
}

func NewRefreshCompanyTask(companyID int64) (*asynq.Task, error) {
	payload, err := json.Marshal(RefreshCompanyPayload{CompanyID: companyID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeRefreshCompanyTokens, payload, asynq.MaxRetry(3), asynq.Timeout(time.Minute)), nil
}

type Handler struct {
	service  *service.ConnectionService
	enqueuer Enqueuer
	window   time.Duration
}

func NewHandler(svc *service.ConnectionService, enqueuer Enqueuer, window time.Duration) *Handler {
	return &Handler{service: svc, enqueuer: enqueuer, window: window}
}

func (h *Handler) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSweepStates, h.HandleSweepStates)
	mux.HandleFunc(TypeRefreshExpiring, h.HandleRefreshExpiring)
	mux.HandleFunc(TypeRefreshCompanyTokens, h.HandleRefreshCompany)
}

func (h *Handler) HandleSweepStates(ctx context.Context, _ *asynq.Task) error {
	n, err := h.service.SweepStates(ctx)
	if err != nil {
		return fmt.Errorf("sweep states: %w", err)
	}
	logger.Info("XeroWorker:HandleSweepStates", "deleted", n)
	return nil
}

// HandleRefreshExpiring enqueues one refresh job per company whose token expires soon.
// Jobs are unique per window so overlapping scans do not double up.
func (h *Handler) HandleRefreshExpiring(ctx context.Context, _ *asynq.Task) error {
	ids, err := h.service.ExpiringCompanies(ctx, h.window, refreshBatchSize)
	if err != nil {
		return err
	}

	enqueued := 0
	for _, id := range ids {
		task, err := NewRefreshCompanyTask(id)
		if err != nil {
			return err
		}
		_, err = h.enqueuer.EnqueueContext(ctx, task, asynq.Queue(queue.QueueCritical), asynq.Unique(h.window))
		if stderrors.Is(err, asynq.ErrDuplicateTask) {
			continue
		}
		if err != nil {
			return fmt.Errorf("enqueue refresh for company %d: %w", id, err)
		}
		enqueued++
	}

	logger.Info("XeroWorker:HandleRefreshExpiring", "expiring", len(ids), "enqueued", enqueued)
	return nil
}

// HandleRefreshCompany refreshes one company. Irrecoverable outcomes are not retried;
// the recovery policy has already cleared the tokens and notified the company.
func (h *Handler) HandleRefreshCompany(ctx context.Context, t *asynq.Task) error {
	var p RefreshCompanyPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.CompanyID <= 0 {
		return fmt.Errorf("invalid company id %d: %w", p.CompanyID, asynq.SkipRetry)
	}

	err := h.service.RefreshCompany(ctx, p.CompanyID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrReauthorizationRequired):
		logger.Warn("XeroWorker:HandleRefreshCompany:ReauthorizationRequired", "company_id", p.CompanyID)
		return nil
	default:
		return fmt.Errorf("refresh company %d: %w", p.CompanyID, err)
	}
}

// RegisterSchedules adds the periodic sweep and refresh scan to the scheduler.
func RegisterSchedules(scheduler *asynq.Scheduler, cfg config.WorkerConfig) error {
	if _, err := scheduler.Register(cfg.SweepSchedule, asynq.NewTask(TypeSweepStates, nil), asynq.Queue(queue.QueueDefault)); err != nil {
		return fmt.Errorf("register %s: %w", TypeSweepStates, err)
	}
	if _, err := scheduler.Register(cfg.RefreshSchedule, asynq.NewTask(TypeRefreshExpiring, nil), asynq.Queue(queue.QueueDefault)); err != nil {
		return fmt.Errorf("register %s: %w", TypeRefreshExpiring, err)
	}
	return nil
}
