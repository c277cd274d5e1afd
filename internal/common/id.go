package common

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewJobID generates a job identifier prefixed with the lowercased kind,
// e.g. "dmo_5f3a...". The prefix makes job IDs self-describing in logs.
func NewJobID(kind string) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(kind), uuid.New().String())
}

// NewID generates a bare UUID identifier
func NewID() string {
	return uuid.New().String()
}
