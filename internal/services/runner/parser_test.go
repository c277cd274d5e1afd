package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/gridops/internal/models"
)

func TestParseLinePlainStdout(t *testing.T) {
	parsed := ParseLine("loading market data", false)

	assert.Equal(t, models.LogLevelInfo, parsed.Level)
	assert.Equal(t, "loading market data", parsed.Message)
	assert.False(t, parsed.HasProgress)
	assert.False(t, parsed.HasResults)
	assert.False(t, parsed.HasObjective)
}

func TestParseLinePlainStderr(t *testing.T) {
	parsed := ParseLine("warning: solver fallback engaged", true)

	assert.Equal(t, models.LogLevelError, parsed.Level)
	assert.Equal(t, "warning: solver fallback engaged", parsed.Message)
}

func TestParseLineProgressMarker(t *testing.T) {
	tests := []struct {
		line     string
		progress int
	}{
		{"PROGRESS: 0", 0},
		{"PROGRESS: 42", 42},
		{"PROGRESS:100", 100},
		{"solver step done PROGRESS: 73", 73},
	}

	for _, tt := range tests {
		parsed := ParseLine(tt.line, false)
		assert.True(t, parsed.HasProgress, "line %q should carry progress", tt.line)
		assert.Equal(t, tt.progress, parsed.Progress, "line %q", tt.line)
		assert.Equal(t, models.LogLevelInfo, parsed.Level)
	}
}

func TestParseLineProgressOutOfRange(t *testing.T) {
	// Out-of-range markers become WARNING entries and carry no progress,
	// so a misbehaving worker cannot push progress past 100 or below 0.
	for _, line := range []string{"PROGRESS: 101", "PROGRESS: -5", "PROGRESS: 99999"} {
		parsed := ParseLine(line, false)
		assert.False(t, parsed.HasProgress, "line %q", line)
		assert.Equal(t, models.LogLevelWarning, parsed.Level, "line %q", line)
		assert.Equal(t, line, parsed.Message)
	}
}

func TestParseLineProgressMalformed(t *testing.T) {
	// Non-numeric marker text does not match the pattern at all and the
	// line is stored as a plain entry
	parsed := ParseLine("PROGRESS: lots", false)
	assert.False(t, parsed.HasProgress)
	assert.Equal(t, models.LogLevelInfo, parsed.Level)
}

func TestParseLineResultsMarker(t *testing.T) {
	parsed := ParseLine("Results written: 48", false)

	assert.True(t, parsed.HasResults)
	assert.Equal(t, 48, parsed.ResultsCount)
}

func TestParseLineObjectiveMarker(t *testing.T) {
	parsed := ParseLine("Objective value: 10543.75", false)

	assert.True(t, parsed.HasObjective)
	assert.Equal(t, 10543.75, parsed.ObjectiveValue)

	parsed = ParseLine("Objective value: -12.5", false)
	assert.True(t, parsed.HasObjective)
	assert.Equal(t, -12.5, parsed.ObjectiveValue)
}

func TestParseLineCombinedMarkers(t *testing.T) {
	parsed := ParseLine("PROGRESS: 90 Results written: 12", false)

	assert.True(t, parsed.HasProgress)
	assert.Equal(t, 90, parsed.Progress)
	assert.True(t, parsed.HasResults)
	assert.Equal(t, 12, parsed.ResultsCount)
}
