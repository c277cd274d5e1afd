package badger

import (
	"context"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/common"
	"github.com/ternarybob/gridops/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	job        interfaces.JobStorage
	jobLog     interfaces.JobLogStorage
	dataSource interfaces.DataSourceStorage
	model      interfaces.ModelStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		job:        NewJobStorage(db, logger),
		jobLog:     NewJobLogStorage(db, logger),
		dataSource: NewDataSourceStorage(db, logger),
		model:      NewModelStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// JobLogStorage returns the JobLog storage interface
func (m *Manager) JobLogStorage() interfaces.JobLogStorage {
	return m.jobLog
}

// DataSourceStorage returns the DataSource storage interface
func (m *Manager) DataSourceStorage() interfaces.DataSourceStorage {
	return m.dataSource
}

// ModelStorage returns the OptimizationModel storage interface
func (m *Manager) ModelStorage() interfaces.ModelStorage {
	return m.model
}

// DB returns the underlying database connection
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}

// LoadDataSourcesFromFiles loads data source definitions from TOML files
func (m *Manager) LoadDataSourcesFromFiles(ctx context.Context, dirPath string) error {
	return LoadDataSourcesFromFiles(ctx, m.dataSource, dirPath, m.logger)
}
