package evo

import "errors"

var (
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrTaskInstantiation    = errors.New("task instantiation failed")
	ErrTaskFailed           = errors.New("task evaluation failed")
	ErrEvaluationTimeout    = errors.New("task evaluation timed out")
	ErrTopologyMismatch     = errors.New("topology mismatch")
	ErrGenerationStarted    = errors.New("generation has already started")
	ErrNotEvaluated         = errors.New("generation has not been evaluated")
	ErrEmptyPopulation      = errors.New("empty population")
	ErrRankOutOfRange       = errors.New("rank out of range")
)
