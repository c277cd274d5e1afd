package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/common"
	"github.com/ternarybob/gridops/internal/handlers"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/logs"
	"github.com/ternarybob/gridops/internal/services/admission"
	"github.com/ternarybob/gridops/internal/services/events"
	"github.com/ternarybob/gridops/internal/services/runner"
	"github.com/ternarybob/gridops/internal/services/scheduler"
	storage "github.com/ternarybob/gridops/internal/storage/badger"
)

// App holds the application state and wires services to handlers
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	StorageManager interfaces.StorageManager

	// Services
	EventService     interfaces.EventService
	LogService       interfaces.LogService
	AdmissionService *admission.Service
	Supervisor       *runner.Supervisor
	SchedulerService *scheduler.Service

	// Handlers
	APIHandler        *handlers.APIHandler
	JobHandler        *handlers.JobHandler
	DataSourceHandler *handlers.DataSourceHandler
	WSHandler         *handlers.WebSocketHandler
}

// New creates and initializes the application
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: config,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().Msg("Application initialized")

	return app, nil
}

func (a *App) initDatabase() error {
	manager, err := storage.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.StorageManager = manager

	ctx := context.Background()
	if err := manager.LoadDataSourcesFromFiles(ctx, a.Config.DataSources.Dir); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to load data sources from files")
	}

	return nil
}

func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)

	a.LogService = logs.NewService(a.StorageManager.JobLogStorage(), a.EventService, a.Logger)

	a.AdmissionService = admission.NewService(
		a.StorageManager.JobStorage(),
		a.StorageManager.DataSourceStorage(),
		a.StorageManager.ModelStorage(),
		a.LogService,
		a.EventService,
		a.Logger,
	)

	a.Supervisor = runner.NewSupervisor(
		a.StorageManager.JobStorage(),
		a.StorageManager.ModelStorage(),
		a.LogService,
		a.EventService,
		&a.Config.Runner,
		a.Logger,
	)

	// Runs left behind by a previous process can never finish
	if err := a.Supervisor.FailOrphans(context.Background()); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to reconcile orphaned runs")
	}

	a.SchedulerService = scheduler.NewService(a.AdmissionService, a.Supervisor, &a.Config.Scheduler, a.Logger)
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.AdmissionService, a.Supervisor, a.StorageManager.JobStorage(), a.LogService, a.Logger)
	a.DataSourceHandler = handlers.NewDataSourceHandler(a.StorageManager.DataSourceStorage(), a.StorageManager.ModelStorage(), a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, &a.Config.WebSocket, a.Logger)
}

// Close shuts down the application in reverse initialization order
func (a *App) Close() error {
	a.Logger.Info().Msg("Shutting down application")

	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler")
		}
	}

	if a.Supervisor != nil {
		a.Logger.Info().Msg("Waiting for running workers to finish")
		a.Supervisor.Wait()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage manager")
			return err
		}
	}

	a.Logger.Info().Msg("Application shutdown complete")
	return nil
}
