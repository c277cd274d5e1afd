package runner

import (
	"regexp"
	"strconv"

	"github.com/ternarybob/gridops/internal/models"
)

// Output markers emitted by solver scripts. PROGRESS drives the job's
// progress field; the results and objective markers carry solver metrics.
var (
	progressPattern  = regexp.MustCompile(`PROGRESS:\s*(-?\d+)`)
	resultsPattern   = regexp.MustCompile(`Results written:\s*(\d+)`)
	objectivePattern = regexp.MustCompile(`Objective value:\s*(-?\d+(?:\.\d+)?)`)
)

// ParsedLine is the interpretation of a single worker output line
type ParsedLine struct {
	Level   string
	Message string

	Progress    int
	HasProgress bool

	ResultsCount int
	HasResults   bool

	ObjectiveValue float64
	HasObjective   bool
}

// ParseLine classifies a worker output line. Stdout lines become INFO
// entries and stderr lines ERROR entries. A PROGRESS marker outside 0..100
// downgrades to a WARNING entry and carries no progress update, so a
// misbehaving worker can never move progress backwards or past 100.
// ParseLine never fails; unrecognized lines are plain log entries.
func ParseLine(line string, fromStderr bool) ParsedLine {
	parsed := ParsedLine{
		Level:   models.LogLevelInfo,
		Message: line,
	}
	if fromStderr {
		parsed.Level = models.LogLevelError
	}

	if m := progressPattern.FindStringSubmatch(line); m != nil {
		value, err := strconv.Atoi(m[1])
		if err == nil && value >= 0 && value <= 100 {
			parsed.Progress = value
			parsed.HasProgress = true
		} else {
			parsed.Level = models.LogLevelWarning
		}
	}

	if m := resultsPattern.FindStringSubmatch(line); m != nil {
		if value, err := strconv.Atoi(m[1]); err == nil {
			parsed.ResultsCount = value
			parsed.HasResults = true
		}
	}

	if m := objectivePattern.FindStringSubmatch(line); m != nil {
		if value, err := strconv.ParseFloat(m[1], 64); err == nil {
			parsed.ObjectiveValue = value
			parsed.HasObjective = true
		}
	}

	return parsed
}
