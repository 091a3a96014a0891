package xero

import (
	"fmt"

	"compliance-api/core/cache"
	"compliance-api/core/config"
	"compliance-api/core/database"
	"compliance-api/core/metrics"
	"compliance-api/core/middleware"
	"compliance-api/core/security"
	"compliance-api/core/storage"
	"compliance-api/modules/xero/client"
	"compliance-api/modules/xero/controller"
	"compliance-api/modules/xero/repository"
	"compliance-api/modules/xero/router"
	"compliance-api/modules/xero/service"

	"github.com/labstack/echo/v4"
)

// NewService wires the connection service from configuration. c may be nil unless the
// redis state store is selected; archive and notifier may be nil.
func NewService(
	cfg *config.Config,
	db database.IDatabase,
	c cache.Cache,
	archive storage.ObjectStore,
	notifier service.Notifier,
	m *metrics.Registry,
) (*service.ConnectionService, error) {
	cipher, err := security.NewCipher(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("security.encryption_key: %w", err)
	}

	states, err := newStateStore(cfg.Xero.StateStore, db, c)
	if err != nil {
		return nil, err
	}

	opts := client.OptionsFromConfig(cfg.Xero)
	opts.Metrics = m
	api := client.New(opts)

	return service.NewConnectionService(service.OptionsFromConfig(cfg.Xero), service.Dependencies{
		Credentials: repository.NewCredentialRepository(db),
		States:      states,
		Cipher:      cipher,
		Tokens:      api,
		Ledger:      api,
		Cache:       c,
		Archive:     archive,
		Notifier:    notifier,
		Metrics:     m,
	}), nil
}

func newStateStore(driver string, db database.IDatabase, c cache.Cache) (repository.StateStore, error) {
	switch driver {
	case config.StateStorePostgres:
		return repository.NewPostgresStateRepository(db), nil
	case config.StateStoreRedis:
		if c == nil {
			return nil, fmt.Errorf("xero.state_store=redis needs a redis connection")
		}
		return repository.NewRedisStateRepository(c), nil
	case config.StateStoreMemory:
		return repository.NewMemoryStateRepository(), nil
	default:
		return nil, fmt.Errorf("unknown xero.state_store %q", driver)
	}
}

func Init(public, private *echo.Group, svc *service.ConnectionService, mw *middleware.Middleware) {
	ctrl := controller.NewXeroController(svc)
	router.NewXeroRouter(ctrl).Register(public, private, mw)
}
