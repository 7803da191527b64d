// Package store persists analysis runs, their phases, and the write-once
// output documents each run produces.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/model"
)

var (
	// ErrNotFound is returned when a run or output does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrOutputExists is returned when an output key was already written.
	ErrOutputExists = eris.New("store: output already exists")
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	Identity     string          `json:"identity,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, identity string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunResult(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	CountRunsByStatus(ctx context.Context) (map[model.RunStatus]int, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error

	// Outputs are write-once: a second write to the same key fails with
	// ErrOutputExists and leaves the first document in place.
	WriteOutput(ctx context.Context, key, content string) error
	GetOutput(ctx context.Context, key string) (*model.Output, error)
	ListOutputs(ctx context.Context, prefix string, limit int) ([]model.OutputInfo, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
