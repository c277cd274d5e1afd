package models

import "time"

// DataSource is a named market dataset that optimization runs execute
// against. Sources are loaded from TOML files at startup or created via
// the API; admission rejects runs against unknown sources.
type DataSource struct {
	ID          string    `json:"id" badgerhold:"unique"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Region      string    `json:"region,omitempty"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
