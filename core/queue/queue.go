package queue

import (
	"context"
	"time"

	"compliance-api/core/config"
	"compliance-api/core/logger"

	"github.com/hibiken/asynq"
)

const (
	QueueDefault  = "default"
	QueueCritical = "critical"
)

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

func NewClient(cfg config.RedisConfig) *asynq.Client {
	return asynq.NewClient(RedisOpt(cfg))
}

func NewServer(cfg config.RedisConfig, concurrency int) *asynq.Server {
	return asynq.NewServer(RedisOpt(cfg), asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			QueueCritical: 6,
			QueueDefault:  3,
		},
		Logger:          zapAdapter{},
		ShutdownTimeout: 20 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error("Queue:Task:Failed", "type", task.Type(), "error", err)
		}),
	})
}

func NewScheduler(cfg config.RedisConfig) *asynq.Scheduler {
	return asynq.NewScheduler(RedisOpt(cfg), &asynq.SchedulerOpts{
		Logger:   zapAdapter{},
		Location: time.UTC,
	})
}

// zapAdapter routes asynq's internal logging through the process logger.
type zapAdapter struct{}

func (zapAdapter) Debug(args ...any) { logger.Get().Debug(args...) }
func (zapAdapter) Info(args ...any)  { logger.Get().Info(args...) }
func (zapAdapter) Warn(args ...any)  { logger.Get().Warn(args...) }
func (zapAdapter) Error(args ...any) { logger.Get().Error(args...) }
func (zapAdapter) Fatal(args ...any) { logger.Get().Fatal(args...) }
