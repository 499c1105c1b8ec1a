package evo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"neuroga/internal/nn"
)

func validConfig() Config {
	return Config{
		Topology:       []int{2, 3, 1},
		PopulationSize: 10,
		Keep:           2,
		Clone:          2,
		Breed:          2,
		MutationRate:   0.1,
		Workers:        4,
		Seed:           42,
	}
}

// targetTask scores the negative Euclidean distance between the output for a
// fixed input and a fixed target.
func targetTask(input, target []float64) TaskFactory {
	return SharedTask(TaskFunc(func(_ context.Context, network *nn.Network) (float64, error) {
		out, err := network.FeedForwardSlice(input)
		if err != nil {
			return 0, err
		}
		return -floats.Distance(out, target, 2), nil
	}))
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "quota exceeds population", modify: func(c *Config) { c.Keep, c.Clone, c.Breed = 4, 4, 3 }},
		{name: "keep zero with breed", modify: func(c *Config) { c.Keep, c.Clone, c.Breed = 0, 2, 2 }},
		{name: "keep one with breed", modify: func(c *Config) { c.Keep, c.Clone, c.Breed = 1, 2, 2 }},
		{name: "negative keep", modify: func(c *Config) { c.Keep = -1 }},
		{name: "negative clone", modify: func(c *Config) { c.Clone = -1 }},
		{name: "zero population", modify: func(c *Config) { c.PopulationSize, c.Keep, c.Clone, c.Breed = 0, 0, 0, 0 }},
		{name: "rate above one", modify: func(c *Config) { c.MutationRate = 1.5 }},
		{name: "negative rate", modify: func(c *Config) { c.MutationRate = -0.1 }},
		{name: "nan rate", modify: func(c *Config) { c.MutationRate = math.NaN() }},
		{name: "bad topology", modify: func(c *Config) { c.Topology = []int{2} }},
		{name: "zero input", modify: func(c *Config) { c.Topology = []int{0, 1} }},
		{name: "negative workers", modify: func(c *Config) { c.Workers = -1 }},
		{name: "negative timeout", modify: func(c *Config) { c.EvaluationTimeout = -1 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.modify(&cfg)
			_, err := NewGeneticAlgorithm(cfg, targetTask([]float64{0, 0}, []float64{0}))
			require.ErrorIs(t, err, ErrInvalidConfiguration)
		})
	}
}

func TestConfigValidationAcceptsBoundaries(t *testing.T) {
	configs := []Config{
		validConfig(),
		{Topology: []int{1, 1}, PopulationSize: 1, Keep: 1},
		{Topology: []int{1, 1}, PopulationSize: 5, Keep: 1, Clone: 4},
		{Topology: []int{1, 1}, PopulationSize: 4, Keep: 2, Breed: 2, MutationRate: 1},
		{Topology: []int{1, 1}, PopulationSize: 3},
	}
	for _, cfg := range configs {
		_, err := NewGeneticAlgorithm(cfg, targetTask([]float64{0}, []float64{0}))
		require.NoError(t, err, "%+v", cfg)
	}
}

func TestNewGeneticAlgorithmRequiresTask(t *testing.T) {
	_, err := NewGeneticAlgorithm(validConfig(), nil)
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestNewGeneticAlgorithmCopiesTopology(t *testing.T) {
	cfg := validConfig()
	ga, err := NewGeneticAlgorithm(cfg, targetTask([]float64{0, 0}, []float64{0}))
	require.NoError(t, err)

	cfg.Topology[1] = 99
	assert.Equal(t, []int{2, 3, 1}, ga.Topology())
	assert.Equal(t, 10, ga.PopulationSize())
	assert.Equal(t, 0, ga.CurrentGenerationNumber())
	assert.True(t, math.IsInf(ga.HighestScore(), -1))
	assert.Nil(t, ga.Current())

	_, err = ga.BestNetwork()
	require.ErrorIs(t, err, ErrNotEvaluated)
}

func evaluatedGeneration(t *testing.T, ga *GeneticAlgorithm, factory TaskFactory) *Generation {
	t.Helper()
	networks, err := ga.nextPopulation(nil)
	require.NoError(t, err)
	gen := NewGeneration(networks)
	require.NoError(t, gen.Evaluate(context.Background(), factory, EvaluateOptions{}))
	return gen
}

func TestNextPopulationKeepsSizeAndElites(t *testing.T) {
	factory := targetTask([]float64{0.5, -0.5}, []float64{0.25})
	configs := []Config{
		validConfig(),
		{Topology: []int{2, 3, 1}, PopulationSize: 7, Keep: 3, Clone: 0, Breed: 4, MutationRate: 0.2},
		{Topology: []int{2, 3, 1}, PopulationSize: 6, Keep: 1, Clone: 5, MutationRate: 0.3},
		{Topology: []int{2, 3, 1}, PopulationSize: 5},
		{Topology: []int{2, 3, 1}, PopulationSize: 5, Keep: 5},
	}
	for _, cfg := range configs {
		cfg.Seed = 8
		ga, err := NewGeneticAlgorithm(cfg, factory)
		require.NoError(t, err)

		previous := evaluatedGeneration(t, ga, factory)
		ranked, err := previous.Rank()
		require.NoError(t, err)

		next, err := ga.nextPopulation(previous)
		require.NoError(t, err)
		require.Len(t, next, cfg.PopulationSize)
		for i := 0; i < cfg.Keep; i++ {
			assert.Same(t, ranked[i].Network, next[i])
			assert.Equal(t, genomeValues(ranked[i].Network), genomeValues(next[i]))
		}
		for _, network := range next {
			assert.Equal(t, cfg.Topology, network.LayerSizes())
		}
	}
}

func TestNextPopulationSingleNetworkCopiedVerbatim(t *testing.T) {
	cfg := Config{Topology: []int{2, 2, 1}, PopulationSize: 1, Keep: 1, MutationRate: 1, Seed: 3}
	factory := targetTask([]float64{1, 1}, []float64{0})
	ga, err := NewGeneticAlgorithm(cfg, factory)
	require.NoError(t, err)

	previous := evaluatedGeneration(t, ga, factory)
	only, err := previous.NthByRank(0)
	require.NoError(t, err)

	next, err := ga.nextPopulation(previous)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Same(t, only, next[0])
	assert.Equal(t, genomeValues(only), genomeValues(next[0]))
}

func TestNextPopulationClonesFromTopRanks(t *testing.T) {
	// With a zero mutation rate clones are exact copies of ranks [0, Clone),
	// even when Clone exceeds Keep.
	cfg := Config{Topology: []int{2, 2, 1}, PopulationSize: 6, Keep: 1, Clone: 3, Seed: 5}
	factory := targetTask([]float64{0.3, 0.6}, []float64{0.9})
	ga, err := NewGeneticAlgorithm(cfg, factory)
	require.NoError(t, err)

	previous := evaluatedGeneration(t, ga, factory)
	ranked, err := previous.Rank()
	require.NoError(t, err)

	next, err := ga.nextPopulation(previous)
	require.NoError(t, err)
	for i := 0; i < cfg.Clone; i++ {
		clone := next[cfg.Keep+i]
		assert.NotSame(t, ranked[i].Network, clone)
		assert.Equal(t, genomeValues(ranked[i].Network), genomeValues(clone))
	}
}

func TestNextPopulationBreedsFromDistinctElites(t *testing.T) {
	cfg := Config{Topology: []int{3, 4, 2}, PopulationSize: 12, Keep: 2, Breed: 10, Seed: 13}
	factory := targetTask([]float64{0.1, 0.2, 0.3}, []float64{0.5, -0.5})
	ga, err := NewGeneticAlgorithm(cfg, factory)
	require.NoError(t, err)

	previous := evaluatedGeneration(t, ga, factory)
	ranked, err := previous.Rank()
	require.NoError(t, err)
	a, b := genomeValues(ranked[0].Network), genomeValues(ranked[1].Network)

	next, err := ga.nextPopulation(previous)
	require.NoError(t, err)
	for _, child := range next[cfg.Keep:] {
		values := genomeValues(child)
		fromA, fromB := 0, 0
		for i, v := range values {
			switch v {
			case a[i]:
				fromA++
			case b[i]:
				fromB++
			default:
				t.Fatalf("child element %d is from neither elite", i)
			}
		}
		assert.Positive(t, fromA)
		assert.Positive(t, fromB)
	}
}

func TestDistinctParents(t *testing.T) {
	for _, keep := range []int{2, 3, 7} {
		cfg := Config{Topology: []int{1, 1}, PopulationSize: keep + 1, Keep: keep, Breed: 1, Seed: int64(keep)}
		ga, err := NewGeneticAlgorithm(cfg, targetTask([]float64{0}, []float64{0}))
		require.NoError(t, err)

		seen := map[int]bool{}
		for i := 0; i < 500; i++ {
			a, b := ga.distinctParents()
			require.NotEqual(t, a, b)
			require.True(t, a >= 0 && a < keep && b >= 0 && b < keep)
			seen[a] = true
			seen[b] = true
		}
		assert.Len(t, seen, keep)
	}
}

func TestRunGenerationsBestEverIsMonotonic(t *testing.T) {
	cfg := validConfig()
	cfg.MutationRate = 0.3
	ga, err := NewGeneticAlgorithm(cfg, targetTask([]float64{0.2, -0.7}, []float64{0.6}))
	require.NoError(t, err)

	var summaries []GenerationSummary
	ga.AddListener(ListenerFuncs{End: func(s GenerationSummary) { summaries = append(summaries, s) }})
	require.NoError(t, ga.RunGenerations(context.Background(), 25))

	require.Len(t, summaries, 25)
	for i := 1; i < len(summaries); i++ {
		assert.GreaterOrEqual(t, summaries[i].BestEver, summaries[i-1].BestEver)
		// The elite is re-scored by a deterministic task, so the generation
		// best cannot drop either.
		assert.GreaterOrEqual(t, summaries[i].Best, summaries[i-1].Best)
	}
	assert.Equal(t, summaries[len(summaries)-1].BestEver, ga.HighestScore())
}

func TestRunGenerationsTargetScenario(t *testing.T) {
	ga, err := NewGeneticAlgorithm(validConfig(), targetTask([]float64{0.5, -0.25}, []float64{0.8}))
	require.NoError(t, err)

	require.NoError(t, ga.RunGenerations(context.Background(), 50))
	history := ga.History()
	require.Len(t, history, 50)
	assert.GreaterOrEqual(t, history[49].Best, history[0].Best)
	assert.GreaterOrEqual(t, ga.HighestScore(), history[0].Best)
	assert.Equal(t, 50, ga.CurrentGenerationNumber())

	best, err := ga.BestNetwork()
	require.NoError(t, err)
	out, err := best.FeedForwardSlice([]float64{0.5, -0.25})
	require.NoError(t, err)
	assert.InDelta(t, -math.Abs(out[0]-0.8), history[49].Best, 1e-12)
}

func TestRunGenerationsIsReproducible(t *testing.T) {
	run := func() []GenerationSummary {
		cfg := validConfig()
		cfg.Seed = 77
		ga, err := NewGeneticAlgorithm(cfg, targetTask([]float64{0.1, 0.9}, []float64{-0.3}))
		require.NoError(t, err)
		require.NoError(t, ga.RunGenerations(context.Background(), 10))
		return ga.History()
	}

	a, b := run(), run()
	require.Len(t, a, len(b))
	for i := range a {
		assert.Equal(t, a[i].Best, b[i].Best)
		assert.Equal(t, a[i].Mean, b[i].Mean)
	}
}

func TestRunGenerationsNotifiesListenersInOrder(t *testing.T) {
	ga, err := NewGeneticAlgorithm(validConfig(), targetTask([]float64{0, 0}, []float64{0}))
	require.NoError(t, err)

	var events []string
	ga.AddListener(ListenerFuncs{
		Start: func(n int) { events = append(events, "start") },
		End:   func(s GenerationSummary) { events = append(events, "end") },
	})
	ga.AddListener(nil)
	ga.AddListener(LogListener{})

	require.NoError(t, ga.RunGenerations(context.Background(), 3))
	assert.Equal(t, []string{"start", "end", "start", "end", "start", "end"}, events)

	require.NoError(t, ga.RunGenerations(context.Background(), 0))
	assert.Len(t, events, 6)
	require.Error(t, ga.RunGenerations(context.Background(), -1))
}

func TestRunGenerationsRollsBackFailedGeneration(t *testing.T) {
	cfg := validConfig()
	failErr := errors.New("sensor offline")
	var calls, failFrom atomic.Int64
	failFrom.Store(math.MaxInt64)
	factory := SharedTask(TaskFunc(func(_ context.Context, network *nn.Network) (float64, error) {
		if calls.Add(1) > failFrom.Load() {
			return 0, failErr
		}
		out, err := network.FeedForwardSlice([]float64{0.4, 0.4})
		if err != nil {
			return 0, err
		}
		return out[0], nil
	}))

	ga, err := NewGeneticAlgorithm(cfg, factory)
	require.NoError(t, err)
	var events []string
	var failure error
	ga.AddListener(ListenerFuncs{
		Start: func(n int) { events = append(events, fmt.Sprintf("start %d", n)) },
		End:   func(s GenerationSummary) { events = append(events, fmt.Sprintf("end %d", s.Generation)) },
		Failed: func(n int, err error) {
			events = append(events, fmt.Sprintf("failed %d", n))
			failure = err
		},
	})
	require.NoError(t, ga.RunGenerations(context.Background(), 2))
	last := ga.Current()
	highest := ga.HighestScore()

	failFrom.Store(calls.Load())
	err = ga.RunGenerations(context.Background(), 1)
	require.ErrorIs(t, err, ErrTaskFailed)
	require.ErrorIs(t, err, failErr)
	assert.Equal(t, []string{"start 1", "end 1", "start 2", "end 2", "start 3", "failed 3"}, events)
	assert.ErrorIs(t, failure, failErr)

	assert.Equal(t, 2, ga.CurrentGenerationNumber())
	assert.Same(t, last, ga.Current())
	assert.Equal(t, GenerationComplete, ga.Current().State())
	assert.Equal(t, highest, ga.HighestScore())
	assert.Len(t, ga.History(), 2)

	failFrom.Store(math.MaxInt64)
	require.NoError(t, ga.RunGenerations(context.Background(), 1))
	assert.Equal(t, 3, ga.CurrentGenerationNumber())
	assert.Equal(t, "end 3", events[len(events)-1])
}

func TestRunGenerationsStopsOnCanceledContext(t *testing.T) {
	ga, err := NewGeneticAlgorithm(validConfig(), targetTask([]float64{0, 0}, []float64{0}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	generations := 0
	ga.AddListener(ListenerFuncs{End: func(GenerationSummary) {
		generations++
		if generations == 2 {
			cancel()
		}
	}})

	err = ga.RunGenerations(ctx, 10)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, ga.CurrentGenerationNumber())
}
