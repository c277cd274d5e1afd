package interfaces

import "errors"

// Sentinel errors returned by storage implementations. Callers match with
// errors.Is rather than depending on a concrete storage package.
var (
	ErrJobNotFound        = errors.New("job not found")
	ErrDataSourceNotFound = errors.New("data source not found")
	ErrModelNotFound      = errors.New("model not found")
)
