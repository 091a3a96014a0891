// Package server holds the process entrypoints: the HTTP API, the background worker
// and schema migration.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"compliance-api/core/config"
	"compliance-api/core/database"
	"compliance-api/core/logger"
	"compliance-api/core/queue"
	notificationRepository "compliance-api/modules/notification/repository"
	xeroRepository "compliance-api/modules/xero/repository"
	"compliance-api/modules/xero/worker"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
)

// Run executes the root command.
func Run() error {
	return NewRootCommand().Execute()
}

func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "compliance-api",
		Short:         "Compliance API with the Xero ledger integration",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return logger.Initialize(cfg.App.LogLevel, !cfg.IsProduction())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logger.Sync()
		},
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the HTTP API",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runServe(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "worker",
			Short: "Start the background worker and scheduler",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runWorker(cmd.Context()) },
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database schema",
			RunE:  func(cmd *cobra.Command, _ []string) error { return runMigrate(cmd.Context()) },
		},
	)
	return root
}

// Schemas lists every module's schema in dependency order.
func Schemas() []string {
	schemas := append([]string{}, xeroRepository.Schema...)
	return append(schemas, notificationRepository.Schema...)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runServe(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	cfg := config.Get()
	app, err := NewApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer app.Close()

	e := NewEcho(app)
	e.Server.ReadTimeout = cfg.Server.ReadTimeout
	e.Server.WriteTimeout = cfg.Server.WriteTimeout

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server:Serve:Listening", "addr", addr)
		if err := e.Start(addr); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Server:Serve:ShuttingDown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("Server:Serve:Stopped")
	return nil
}

func runWorker(parent context.Context) error {
	ctx, stop := signalContext(parent)
	defer stop()

	cfg := config.Get()
	app, err := NewApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer app.Close()

	client := queue.NewClient(cfg.Redis)
	defer func() { _ = client.Close() }()

	handler := worker.NewHandler(app.Xero, client, cfg.Worker.RefreshWindow)
	mux := asynq.NewServeMux()
	handler.Register(mux)

	scheduler := queue.NewScheduler(cfg.Redis)
	if err := worker.RegisterSchedules(scheduler, cfg.Worker); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Shutdown()

	srv := queue.NewServer(cfg.Redis, cfg.Worker.Concurrency)
	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}
	logger.Info("Server:Worker:Started", "concurrency", cfg.Worker.Concurrency)

	<-ctx.Done()
	logger.Info("Server:Worker:ShuttingDown")
	srv.Shutdown()
	return nil
}

func runMigrate(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, time.Minute)
	defer cancel()

	db, err := database.InitDB(ctx, config.Get().Database)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	return database.Migrate(ctx, db, Schemas()...)
}
