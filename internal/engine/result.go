package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/hebaghazali/portl/pkg/models"
)

// State names the migration state machine's stations
type State string

const (
	StateValidating      State = "validating"
	StateConnecting      State = "connecting"
	StateSchemaChecking  State = "schema_checking"
	StateDryRunReporting State = "dry_run_reporting"
	StateTransferring    State = "transferring"
	StateFinalizing      State = "finalizing"
	StateSucceeded       State = "succeeded"
	StateFailed          State = "failed"
)

// ExecutionResult accumulates the outcome of one run. It is created at run
// start, updated batch by batch, and finalized exactly once; it is never
// shared across runs.
type ExecutionResult struct {
	RunID            string
	Success          bool
	RowsProcessed    int64
	RowsWritten      int64
	BatchesProcessed int64
	TotalRows        int64
	StartedAt        time.Time
	FinishedAt       time.Time
	Duration         time.Duration
	Warnings         []string
	Errors           []string
	DryRun           bool
	Preview          *models.Batch
	FinalState       State
}

func newExecutionResult(dryRun bool) *ExecutionResult {
	return &ExecutionResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		DryRun:    dryRun,
	}
}

// AddWarning appends a non-fatal finding
func (r *ExecutionResult) AddWarning(warning string) {
	r.Warnings = append(r.Warnings, warning)
}

// AddError appends a failure description
func (r *ExecutionResult) AddError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// finalize stamps the end time and terminal state
func (r *ExecutionResult) finalize() {
	r.FinishedAt = time.Now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
	r.Success = len(r.Errors) == 0
	if r.Success {
		r.FinalState = StateSucceeded
	} else {
		r.FinalState = StateFailed
	}
}
