package storage

import (
	"context"

	"neuroga/internal/model"
)

// RunResult is everything a completed run leaves behind.
type RunResult struct {
	Run         model.RunRecord
	History     []float64
	Diagnostics []model.GenerationDiagnostics
}

// Store persists run records and their per-generation history.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	// SaveRunResult stores a run with its history and diagnostics as one unit:
	// either all three are stored or none is.
	SaveRunResult(ctx context.Context, result RunResult) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first. limit <= 0 means no limit.
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	Reset(ctx context.Context) error
}
