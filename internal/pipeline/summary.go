package pipeline

import (
	"github.com/google/uuid"

	"github.com/confmove/confmove/internal/metrics"
	"github.com/confmove/confmove/internal/models"
)

// Process exit codes. Config and auth problems are detected before the
// per-page loop and never attributed to individual pages.
const (
	ExitSuccess = 0
	ExitPartial = 1
	ExitFailure = 2
	ExitConfig  = 3
	ExitAuth    = 4
)

// Summary is the per-invocation result: a run identifier plus the
// final per-status page counts.
type Summary struct {
	RunID  string                `json:"run_id"`
	Total  int                   `json:"total"`
	Counts map[models.Status]int `json:"counts"`
}

// Stats returns the runtime statistics collected by this invocation.
func (r *Runner) Stats() metrics.Snapshot {
	return r.stats.Snapshot()
}

// Summarize captures the current state under a fresh run ID.
func (r *Runner) Summarize() Summary {
	return Summary{
		RunID:  uuid.NewString(),
		Total:  r.state.Len(),
		Counts: r.state.Summary(),
	}
}

// ExitCode computes the aggregate exit status for an invocation whose
// phase target is the given status: success when every page reached
// it, complete failure when none did, partial otherwise. An empty run
// is a success.
func ExitCode(sum Summary, target models.Status) int {
	if sum.Total == 0 {
		return ExitSuccess
	}
	reached := 0
	for status, n := range sum.Counts {
		if status.AtLeast(target) {
			reached += n
		}
	}
	switch reached {
	case sum.Total:
		return ExitSuccess
	case 0:
		return ExitFailure
	default:
		return ExitPartial
	}
}
