package evo

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"neuroga/internal/nn"
)

// Config fixes the shape of a run. Each generation after the first is built
// from the previous ranking: Keep elites copied as-is, Clone mutated copies of
// the top ranks, Breed mutated crossovers of two distinct elites, and random
// networks for the remaining slots.
type Config struct {
	Topology          []int
	PopulationSize    int
	Keep              int
	Clone             int
	Breed             int
	MutationRate      float64
	Workers           int
	EvaluationTimeout time.Duration
	Seed              int64
	Logger            *slog.Logger
}

func (c Config) Validate() error {
	if err := nn.ValidateTopology(c.Topology); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, err)
	}
	if c.PopulationSize <= 0 {
		return fmt.Errorf("%w: population size must be > 0", ErrInvalidConfiguration)
	}
	if c.Keep < 0 || c.Clone < 0 || c.Breed < 0 {
		return fmt.Errorf("%w: keep, clone and breed must be >= 0", ErrInvalidConfiguration)
	}
	if c.Keep+c.Clone+c.Breed > c.PopulationSize {
		return fmt.Errorf("%w: keep+clone+breed (%d) exceeds population size (%d)",
			ErrInvalidConfiguration, c.Keep+c.Clone+c.Breed, c.PopulationSize)
	}
	if c.Breed > 0 && c.Keep < 2 {
		return fmt.Errorf("%w: breeding needs keep >= 2 distinct parents, got keep=%d", ErrInvalidConfiguration, c.Keep)
	}
	if math.IsNaN(c.MutationRate) || c.MutationRate < 0 || c.MutationRate > 1 {
		return fmt.Errorf("%w: mutation rate must be in [0, 1], got %v", ErrInvalidConfiguration, c.MutationRate)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must be >= 0", ErrInvalidConfiguration)
	}
	if c.EvaluationTimeout < 0 {
		return fmt.Errorf("%w: evaluation timeout must be >= 0", ErrInvalidConfiguration)
	}
	return nil
}

// GeneticAlgorithm drives generations of networks against a task. It is not
// safe for concurrent use.
type GeneticAlgorithm struct {
	cfg       Config
	newTask   TaskFactory
	rng       *rand.Rand
	log       *slog.Logger
	listeners []Listener

	current    *Generation
	generation int
	highest    float64
	history    []GenerationSummary
}

func NewGeneticAlgorithm(cfg Config, newTask TaskFactory) (*GeneticAlgorithm, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if newTask == nil {
		return nil, fmt.Errorf("%w: task factory is required", ErrInvalidConfiguration)
	}
	cfg.Topology = append([]int(nil), cfg.Topology...)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &GeneticAlgorithm{
		cfg:     cfg,
		newTask: newTask,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		log:     logger,
		highest: math.Inf(-1),
	}, nil
}

func (ga *GeneticAlgorithm) AddListener(l Listener) {
	if l != nil {
		ga.listeners = append(ga.listeners, l)
	}
}

// RunGenerations evaluates count more generations. A failed evaluation
// leaves the algorithm at the last complete generation and returns the error.
func (ga *GeneticAlgorithm) RunGenerations(ctx context.Context, count int) error {
	if count < 0 {
		return fmt.Errorf("generation count must be >= 0, got %d", count)
	}
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ga.runGeneration(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (ga *GeneticAlgorithm) runGeneration(ctx context.Context) error {
	number := ga.generation + 1
	started := time.Now()
	for _, l := range ga.listeners {
		l.OnGenerationStart(number)
	}

	summary, err := ga.evolve(ctx, number, started)
	if err != nil {
		ga.log.Error("generation failed", "generation", number, "error", err)
		for _, l := range ga.listeners {
			if fl, ok := l.(FailureListener); ok {
				fl.OnGenerationFailed(number, err)
			}
		}
		return err
	}
	for _, l := range ga.listeners {
		l.OnGenerationEnd(summary)
	}
	return nil
}

// evolve builds and evaluates generation number. State only advances once
// the generation is fully evaluated.
func (ga *GeneticAlgorithm) evolve(ctx context.Context, number int, started time.Time) (GenerationSummary, error) {
	networks, err := ga.nextPopulation(ga.current)
	if err != nil {
		return GenerationSummary{}, fmt.Errorf("generation %d: build population: %w", number, err)
	}

	next := NewGeneration(networks)
	ga.log.Debug("evaluating generation", "generation", number, "networks", len(networks))
	opts := EvaluateOptions{Workers: ga.cfg.Workers, Timeout: ga.cfg.EvaluationTimeout}
	if err := next.Evaluate(ctx, ga.newTask, opts); err != nil {
		return GenerationSummary{}, fmt.Errorf("generation %d: %w", number, err)
	}
	stats, err := next.Stats()
	if err != nil {
		return GenerationSummary{}, fmt.Errorf("generation %d: %w", number, err)
	}

	ga.current = next
	ga.generation = number
	if stats.Best > ga.highest {
		ga.highest = stats.Best
	}

	summary := GenerationSummary{
		Generation: number,
		Size:       stats.Size,
		Best:       stats.Best,
		Mean:       stats.Mean,
		Min:        stats.Min,
		BestEver:   ga.highest,
		Duration:   time.Since(started),
	}
	ga.history = append(ga.history, summary)
	return summary, nil
}

func (ga *GeneticAlgorithm) nextPopulation(previous *Generation) ([]*nn.Network, error) {
	size := ga.cfg.PopulationSize
	networks := make([]*nn.Network, 0, size)
	if previous == nil {
		return ga.fillRandom(networks, size)
	}

	ranked, err := previous.ranking()
	if err != nil {
		return nil, err
	}
	if len(ranked) < ga.cfg.Keep || len(ranked) < ga.cfg.Clone {
		return nil, fmt.Errorf("%w: previous generation has %d networks", ErrRankOutOfRange, len(ranked))
	}

	rate := ga.cfg.MutationRate
	for i := 0; i < ga.cfg.Keep; i++ {
		networks = append(networks, ranked[i].Network)
	}
	for i := 0; i < ga.cfg.Clone; i++ {
		child, err := NewMutator(ranked[i].Network, ga.rng).Mutate(rate).Network()
		if err != nil {
			return nil, fmt.Errorf("clone rank %d: %w", i, err)
		}
		networks = append(networks, child)
	}
	for i := 0; i < ga.cfg.Breed; i++ {
		a, b := ga.distinctParents()
		child, err := NewMutator(ranked[a].Network, ga.rng).
			CrossoverWith(ranked[b].Network).
			Mutate(rate).
			Network()
		if err != nil {
			return nil, fmt.Errorf("breed ranks %d and %d: %w", a, b, err)
		}
		networks = append(networks, child)
	}
	return ga.fillRandom(networks, size)
}

// distinctParents draws two different ranks from [0, Keep).
func (ga *GeneticAlgorithm) distinctParents() (int, int) {
	a := ga.rng.Intn(ga.cfg.Keep)
	b := ga.rng.Intn(ga.cfg.Keep - 1)
	if b >= a {
		b++
	}
	return a, b
}

func (ga *GeneticAlgorithm) fillRandom(networks []*nn.Network, size int) ([]*nn.Network, error) {
	for len(networks) < size {
		network, err := nn.New(ga.cfg.Topology, nn.InitRandom, ga.rng)
		if err != nil {
			return nil, err
		}
		networks = append(networks, network)
	}
	return networks, nil
}

func (ga *GeneticAlgorithm) CurrentGenerationNumber() int {
	return ga.generation
}

func (ga *GeneticAlgorithm) PopulationSize() int {
	return ga.cfg.PopulationSize
}

func (ga *GeneticAlgorithm) Topology() []int {
	return append([]int(nil), ga.cfg.Topology...)
}

// HighestScore is the best score seen in any generation, -Inf before the
// first generation completes.
func (ga *GeneticAlgorithm) HighestScore() float64 {
	return ga.highest
}

// Current returns the last complete generation, or nil before the first.
func (ga *GeneticAlgorithm) Current() *Generation {
	return ga.current
}

// BestNetwork returns the top-ranked network of the last complete generation.
func (ga *GeneticAlgorithm) BestNetwork() (*nn.Network, error) {
	if ga.current == nil {
		return nil, ErrNotEvaluated
	}
	return ga.current.NthByRank(0)
}

func (ga *GeneticAlgorithm) History() []GenerationSummary {
	return append([]GenerationSummary(nil), ga.history...)
}
