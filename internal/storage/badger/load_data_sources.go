package badger

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gridops/internal/interfaces"
	"github.com/ternarybob/gridops/internal/models"
)

// DataSourceFile represents a data source in TOML format
// Format:
// [nsw_grid]
// name = "NSW Grid"
// description = "New South Wales market data"
// region = "NSW"
// enabled = true
type DataSourceFile struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Region      string `toml:"region"`
	Enabled     *bool  `toml:"enabled"`
}

// LoadDataSourcesFromFiles loads data source definitions from TOML files in
// the specified directory. Missing directory is not an error; sources can
// also be created via the API.
func LoadDataSourcesFromFiles(ctx context.Context, storage interfaces.DataSourceStorage, dirPath string, logger arbor.ILogger) error {
	logger.Debug().Str("dir", dirPath).Msg("Loading data sources from files")

	if _, err := os.Stat(dirPath); os.IsNotExist(err) {
		logger.Debug().Str("dir", dirPath).Msg("Data sources directory does not exist, skipping")
		return nil
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		logger.Warn().Err(err).Str("dir", dirPath).Msg("Failed to read data sources directory")
		return nil // Non-fatal
	}

	loadedCount := 0
	errorCount := 0

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		filePath := filepath.Join(dirPath, entry.Name())
		content, err := os.ReadFile(filePath)
		if err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to read data source file")
			errorCount++
			continue
		}

		// Parse TOML file - map of section name to data source config
		var sources map[string]DataSourceFile
		if err := toml.Unmarshal(content, &sources); err != nil {
			logger.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to parse data source file")
			errorCount++
			continue
		}

		for id, srcFile := range sources {
			enabled := true
			if srcFile.Enabled != nil {
				enabled = *srcFile.Enabled
			}

			name := srcFile.Name
			if name == "" {
				name = id
			}

			ds := &models.DataSource{
				ID:          id, // Section name is the ID
				Name:        name,
				Description: srcFile.Description,
				Region:      srcFile.Region,
				Enabled:     enabled,
			}

			// Preserve original creation time on reload
			if existing, err := storage.GetDataSource(ctx, id); err == nil && existing != nil {
				ds.CreatedAt = existing.CreatedAt
			}

			if err := storage.SaveDataSource(ctx, ds); err != nil {
				logger.Warn().Err(err).Str("data_source", id).Msg("Failed to save data source")
				errorCount++
				continue
			}

			logger.Debug().Str("data_source", id).Str("region", srcFile.Region).Msg("Loaded data source")
			loadedCount++
		}
	}

	logger.Info().
		Int("loaded", loadedCount).
		Int("errors", errorCount).
		Msg("Finished loading data sources from files")

	return nil
}
