package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/common"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/models"
)

// DataSourceHandler serves data source and model registry endpoints
type DataSourceHandler struct {
	dataSources interfaces.DataSourceStorage
	modelStore  interfaces.ModelStorage
	logger      arbor.ILogger
}

// NewDataSourceHandler creates a new data source handler
func NewDataSourceHandler(dataSources interfaces.DataSourceStorage, modelStore interfaces.ModelStorage, logger arbor.ILogger) *DataSourceHandler {
	return &DataSourceHandler{
		dataSources: dataSources,
		modelStore:  modelStore,
		logger:      logger,
	}
}

// ListDataSourcesHandler handles GET /api/datasources
func (h *DataSourceHandler) ListDataSourcesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	sources, err := h.dataSources.ListDataSources(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list data sources")
		WriteError(w, http.StatusInternalServerError, "Failed to list data sources")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"datasources": sources,
		"count":       len(sources),
	})
}

// CreateDataSourceHandler handles POST /api/datasources
func (h *DataSourceHandler) CreateDataSourceHandler(w http.ResponseWriter, r *http.Request) {
	var ds models.DataSource
	if err := json.NewDecoder(r.Body).Decode(&ds); err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	if ds.Name == "" {
		WriteError(w, http.StatusBadRequest, "Data source name is required")
		return
	}
	if ds.ID == "" {
		ds.ID = common.NewID()
	}

	if err := h.dataSources.SaveDataSource(r.Context(), &ds); err != nil {
		h.logger.Error().Err(err).Str("data_source_id", ds.ID).Msg("Failed to save data source")
		WriteError(w, http.StatusInternalServerError, "Failed to save data source")
		return
	}

	WriteJSON(w, http.StatusCreated, &ds)
}

// GetDataSourceHandler handles GET /api/datasources/{id}
func (h *DataSourceHandler) GetDataSourceHandler(w http.ResponseWriter, r *http.Request, id string) {
	ds, err := h.dataSources.GetDataSource(r.Context(), id)
	if err != nil {
		if errors.Is(err, interfaces.ErrDataSourceNotFound) {
			WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error().Err(err).Str("data_source_id", id).Msg("Failed to get data source")
		WriteError(w, http.StatusInternalServerError, "Failed to get data source")
		return
	}

	WriteJSON(w, http.StatusOK, ds)
}

// ListModelsHandler handles GET /api/models with optional kind filter
func (h *DataSourceHandler) ListModelsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	kind := models.JobKind(r.URL.Query().Get("kind"))
	list, err := h.modelStore.ListModels(r.Context(), kind)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list models")
		WriteError(w, http.StatusInternalServerError, "Failed to list models")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"models": list,
		"count":  len(list),
	})
}
