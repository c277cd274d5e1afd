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

// ModelStorage implements the ModelStorage interface for Badger
type ModelStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewModelStorage creates a new ModelStorage instance
func NewModelStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ModelStorage {
	return &ModelStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ModelStorage) SaveModel(ctx context.Context, model *models.OptimizationModel) error {
	if model.ID == "" {
		return fmt.Errorf("model ID is required")
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now()
	}

	if err := s.db.Store().Upsert(model.ID, model); err != nil {
		return fmt.Errorf("failed to save model %s: %w", model.ID, err)
	}
	return nil
}

func (s *ModelStorage) GetModel(ctx context.Context, id string) (*models.OptimizationModel, error) {
	var model models.OptimizationModel
	if err := s.db.Store().Get(id, &model); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", interfaces.ErrModelNotFound, id)
		}
		return nil, fmt.Errorf("failed to get model %s: %w", id, err)
	}
	return &model, nil
}

func (s *ModelStorage) ListModels(ctx context.Context, kind models.JobKind) ([]*models.OptimizationModel, error) {
	var query *badgerhold.Query
	if kind != "" {
		query = badgerhold.Where("Kind").Eq(kind)
	} else {
		query = badgerhold.Where("ID").Ne("")
	}

	var result []models.OptimizationModel
	if err := s.db.Store().Find(&result, query.SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list models: %w", err)
	}

	list := make([]*models.OptimizationModel, 0, len(result))
	for i := range result {
		list = append(list, &result[i])
	}
	return list, nil
}

func (s *ModelStorage) TouchModel(ctx context.Context, id string, usedAt time.Time) error {
	model, err := s.GetModel(ctx, id)
	if err != nil {
		return err
	}

	model.LastUsedAt = &usedAt
	if err := s.db.Store().Update(id, model); err != nil {
		return fmt.Errorf("failed to touch model %s: %w", id, err)
	}
	return nil
}

func (s *ModelStorage) DeleteModel(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.OptimizationModel{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return fmt.Errorf("%w: %s", interfaces.ErrModelNotFound, id)
		}
		return fmt.Errorf("failed to delete model %s: %w", id, err)
	}
	return nil
}
