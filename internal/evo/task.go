package evo

import (
	"context"

	"neuroga/internal/nn"
)

// Task scores a network. A Task may be called from several evaluation
// goroutines when it is shared through SharedTask, so shared tasks must be
// stateless or synchronize internally.
type Task interface {
	Score(ctx context.Context, network *nn.Network) (float64, error)
}

type TaskFunc func(ctx context.Context, network *nn.Network) (float64, error)

func (f TaskFunc) Score(ctx context.Context, network *nn.Network) (float64, error) {
	return f(ctx, network)
}

// TaskFactory provides the task for one evaluation. It is called once per
// network per generation, possibly concurrently.
type TaskFactory func() (Task, error)

// SharedTask returns a factory handing out the same task to every evaluation.
func SharedTask(task Task) TaskFactory {
	return func() (Task, error) {
		return task, nil
	}
}
