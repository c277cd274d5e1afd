package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// DataSourceStorage implements the DataSourceStorage interface for Badger
type DataSourceStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewDataSourceStorage creates a new DataSourceStorage instance
func NewDataSourceStorage(db *BadgerDB, logger arbor.ILogger) interfaces.DataSourceStorage {
	return &DataSourceStorage{
		db:     db,
		logger: logger,
	}
}

func (s *DataSourceStorage) SaveDataSource(ctx context.Context, ds *models.DataSource) error {
	if ds.ID == "" {
		return fmt.Errorf("data source ID is required")
	}

	now := time.Now()
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = now
	}
	ds.UpdatedAt = now

	if err := s.db.Store().Upsert(ds.ID, ds); err != nil {
		return fmt.Errorf("failed to save data source %s: %w", ds.ID, err)
	}
	return nil
}

func (s *DataSourceStorage) GetDataSource(ctx context.Context, id string) (*models.DataSource, error) {
	var ds models.DataSource
	if err := s.db.Store().Get(id, &ds); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrDataSourceNotFound, id)
		}
		return nil, fmt.Errorf("failed to get data source %s: %w", id, err)
	}
	return &ds, nil
}

func (s *DataSourceStorage) ListDataSources(ctx context.Context) ([]*models.DataSource, error) {
	var sources []models.DataSource
	if err := s.db.Store().Find(&sources, badgerhold.Where("ID").Ne("").SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list data sources: %w", err)
	}

	result := make([]*models.DataSource, 0, len(sources))
	for i := range sources {
		result = append(result, &sources[i])
	}
	return result, nil
}

func (s *DataSourceStorage) DeleteDataSource(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.DataSource{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %s", interfaces.ErrDataSourceNotFound, id)
		}
		return fmt.Errorf("failed to delete data source %s: %w", id, err)
	}
	return nil
}
