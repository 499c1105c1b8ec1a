package evo

import (
	"log/slog"
	"time"
)

// GenerationSummary describes a completed generation.
type GenerationSummary struct {
	Generation int           `json:"generation"`
	Size       int           `json:"size"`
	Best       float64       `json:"best"`
	Mean       float64       `json:"mean"`
	Min        float64       `json:"min"`
	BestEver   float64       `json:"best_ever"`
	Duration   time.Duration `json:"duration"`
}

// Listener observes a GeneticAlgorithm run. Callbacks run synchronously on
// the goroutine calling RunGenerations, never during evaluation.
//
// Every OnGenerationStart is followed by exactly one of OnGenerationEnd or,
// for listeners that also implement FailureListener, OnGenerationFailed.
// A failed generation never reaches OnGenerationEnd.
type Listener interface {
	OnGenerationStart(generation int)
	OnGenerationEnd(summary GenerationSummary)
}

// FailureListener is implemented by listeners that want to hear about a
// generation that started but could not be built or evaluated.
type FailureListener interface {
	OnGenerationFailed(generation int, err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Start  func(generation int)
	End    func(summary GenerationSummary)
	Failed func(generation int, err error)
}

func (l ListenerFuncs) OnGenerationStart(generation int) {
	if l.Start != nil {
		l.Start(generation)
	}
}

func (l ListenerFuncs) OnGenerationEnd(summary GenerationSummary) {
	if l.End != nil {
		l.End(summary)
	}
}

func (l ListenerFuncs) OnGenerationFailed(generation int, err error) {
	if l.Failed != nil {
		l.Failed(generation, err)
	}
}

// LogListener writes one structured record per generation.
type LogListener struct {
	Logger *slog.Logger
}

func (l LogListener) OnGenerationStart(generation int) {
	l.logger().Debug("generation started", "generation", generation)
}

func (l LogListener) OnGenerationEnd(summary GenerationSummary) {
	l.logger().Info("generation finished",
		"generation", summary.Generation,
		"best", summary.Best,
		"mean", summary.Mean,
		"min", summary.Min,
		"best_ever", summary.BestEver,
		"duration", summary.Duration,
	)
}

func (l LogListener) logger() *slog.Logger {
	if l.Logger == nil {
		return slog.Default()
	}
	return l.Logger
}
