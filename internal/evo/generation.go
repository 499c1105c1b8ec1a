package evo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"neuroga/internal/nn"
)

type GenerationState int

const (
	GenerationUnstarted GenerationState = iota
	GenerationRunning
	GenerationComplete
	GenerationFailed
)

func (s GenerationState) String() string {
	switch s {
	case GenerationUnstarted:
		return "unstarted"
	case GenerationRunning:
		return "running"
	case GenerationComplete:
		return "complete"
	case GenerationFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type ScoredNetwork struct {
	Network *nn.Network
	Score   float64
}

type EvaluateOptions struct {
	// Workers bounds concurrent evaluations; <= 0 means GOMAXPROCS.
	Workers int
	// Timeout bounds a single evaluation; 0 disables it.
	Timeout time.Duration
}

// GenerationStats summarizes the scores of a complete generation.
type GenerationStats struct {
	Size int
	Best float64
	Mean float64
	Min  float64
}

// Generation is one population snapshot and, once evaluated, its scores.
// Evaluate runs at most once; ranking is available after it returns.
type Generation struct {
	networks []*nn.Network
	done     chan struct{}

	mu     sync.Mutex
	state  GenerationState
	scores []float64
	err    error
	ranked []ScoredNetwork
}

func NewGeneration(networks []*nn.Network) *Generation {
	return &Generation{
		networks: append([]*nn.Network(nil), networks...),
		done:     make(chan struct{}),
	}
}

func (g *Generation) Size() int {
	return len(g.networks)
}

// Networks returns the population in construction order.
func (g *Generation) Networks() []*nn.Network {
	return append([]*nn.Network(nil), g.networks...)
}

func (g *Generation) State() GenerationState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Evaluate scores every network concurrently and returns once all evaluations
// have finished. The first failure cancels the evaluations still running and
// leaves the generation failed with no scores.
func (g *Generation) Evaluate(ctx context.Context, newTask TaskFactory, opts EvaluateOptions) error {
	g.mu.Lock()
	if g.state != GenerationUnstarted {
		g.mu.Unlock()
		return ErrGenerationStarted
	}
	g.state = GenerationRunning
	g.mu.Unlock()

	var err error
	scores := make([]float64, len(g.networks))
	if newTask == nil {
		err = fmt.Errorf("%w: task factory is required", ErrTaskInstantiation)
	} else {
		err = evaluateNetworks(ctx, g.networks, newTask, opts, scores)
	}

	g.mu.Lock()
	if err != nil {
		g.state = GenerationFailed
		g.err = err
	} else {
		g.state = GenerationComplete
		g.scores = scores
	}
	g.mu.Unlock()
	close(g.done)
	return err
}

func evaluateNetworks(ctx context.Context, networks []*nn.Network, newTask TaskFactory, opts EvaluateOptions, scores []float64) error {
	if len(networks) == 0 {
		return nil
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(networks) {
		workers = len(networks)
	}

	p := pool.New().
		WithMaxGoroutines(workers).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()
	for i, network := range networks {
		i, network := i, network
		p.Go(func(ctx context.Context) error {
			score, err := evaluateNetwork(ctx, network, newTask, opts.Timeout)
			if err != nil {
				return fmt.Errorf("network %d: %w", i, err)
			}
			scores[i] = score
			return nil
		})
	}
	return p.Wait()
}

func evaluateNetwork(ctx context.Context, network *nn.Network, newTask TaskFactory, timeout time.Duration) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	task, err := newTask()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTaskInstantiation, err)
	}
	if task == nil {
		return 0, fmt.Errorf("%w: factory returned no task", ErrTaskInstantiation)
	}

	if timeout <= 0 {
		score, err := scoreTask(ctx, task, network)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrTaskFailed, err)
		}
		return score, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		score float64
		err   error
	}
	// Buffered so an abandoned task can still deliver and exit.
	results := make(chan outcome, 1)
	go func() {
		score, err := scoreTask(ctx, task, network)
		results <- outcome{score: score, err: err}
	}()

	select {
	case out := <-results:
		if out.err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return 0, fmt.Errorf("%w after %s", ErrEvaluationTimeout, timeout)
			}
			return 0, fmt.Errorf("%w: %w", ErrTaskFailed, out.err)
		}
		return out.score, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w after %s", ErrEvaluationTimeout, timeout)
		}
		return 0, ctx.Err()
	}
}

// scoreTask runs task.Score and turns a panic into an error.
func scoreTask(ctx context.Context, task Task, network *nn.Network) (score float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			score, err = 0, fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.Score(ctx, network)
}

// Rank returns the population ordered by descending score. Equal scores keep
// population order and NaN scores sort last. Rank waits for a running
// evaluation to finish.
func (g *Generation) Rank() ([]ScoredNetwork, error) {
	ranked, err := g.ranking()
	if err != nil {
		return nil, err
	}
	return append([]ScoredNetwork(nil), ranked...), nil
}

func (g *Generation) ranking() ([]ScoredNetwork, error) {
	if g.State() == GenerationUnstarted {
		return nil, ErrNotEvaluated
	}
	<-g.done

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	if g.ranked == nil {
		ranked := make([]ScoredNetwork, len(g.networks))
		for i, network := range g.networks {
			ranked[i] = ScoredNetwork{Network: network, Score: g.scores[i]}
		}
		sort.SliceStable(ranked, func(i, j int) bool {
			return scoreGreater(ranked[i].Score, ranked[j].Score)
		})
		g.ranked = ranked
	}
	return g.ranked, nil
}

func scoreGreater(a, b float64) bool {
	if math.IsNaN(b) {
		return !math.IsNaN(a)
	}
	return a > b
}

// Best returns the highest score of the generation.
func (g *Generation) Best() (float64, error) {
	ranked, err := g.ranking()
	if err != nil {
		return 0, err
	}
	if len(ranked) == 0 {
		return 0, ErrEmptyPopulation
	}
	return ranked[0].Score, nil
}

// NthByRank returns the network at rank i, 0 being the best.
func (g *Generation) NthByRank(i int) (*nn.Network, error) {
	ranked, err := g.ranking()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(ranked) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrRankOutOfRange, i, len(ranked))
	}
	return ranked[i].Network, nil
}

func (g *Generation) Stats() (GenerationStats, error) {
	ranked, err := g.ranking()
	if err != nil {
		return GenerationStats{}, err
	}
	if len(ranked) == 0 {
		return GenerationStats{}, ErrEmptyPopulation
	}

	total := 0.0
	minScore := ranked[0].Score
	for _, item := range ranked {
		total += item.Score
		if item.Score < minScore {
			minScore = item.Score
		}
	}
	return GenerationStats{
		Size: len(ranked),
		Best: ranked[0].Score,
		Mean: total / float64(len(ranked)),
		Min:  minScore,
	}, nil
}
