// Package neuroga is the public entry point for running neuroevolution and
// querying stored run history.
package neuroga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"neuroga/internal/config"
	"neuroga/internal/evo"
	"neuroga/internal/metrics"
	"neuroga/internal/model"
	"neuroga/internal/storage"
	"neuroga/internal/task"
)

const defaultDBPath = "neuroga.db"

type Options struct {
	StoreKind string
	DBPath    string
	// Registerer receives the run metrics. Nil disables metrics.
	Registerer prometheus.Registerer
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

type Client struct {
	store   storage.Store
	metrics *metrics.Metrics
	log     *slog.Logger

	mu          sync.Mutex
	initialized bool
}

type RunRequest struct {
	Task              string
	Topology          []int
	Input             []float64
	Target            []float64
	Population        int
	Keep              int
	Clone             int
	Breed             int
	MutationRate      float64
	Generations       int
	Seed              int64
	Workers           int
	EvaluationTimeout time.Duration
	// Listeners are attached after the client's own log and metrics listeners.
	Listeners []evo.Listener
}

// RunRequestFromConfig fills a request from a loaded configuration.
func RunRequestFromConfig(cfg config.Config) RunRequest {
	params := cfg.TaskParams()
	return RunRequest{
		Task:              cfg.Run.Task,
		Topology:          append([]int(nil), cfg.Network.Topology...),
		Input:             params.Input,
		Target:            params.Target,
		Population:        cfg.Population.Size,
		Keep:              cfg.Population.Keep,
		Clone:             cfg.Population.Clone,
		Breed:             cfg.Population.Breed,
		MutationRate:      cfg.Population.MutationRate,
		Generations:       cfg.Run.Generations,
		Seed:              cfg.Run.Seed,
		Workers:           cfg.Run.Workers,
		EvaluationTimeout: cfg.Run.EvaluationTimeout,
	}
}

type RunSummary struct {
	RunID            string
	BestByGeneration []float64
	FinalBestFitness float64
	Duration         time.Duration
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAt        time.Time
	Task             string
	Topology         []int
	Seed             int64
	Population       int
	Generations      int
	FinalBestFitness float64
	Duration         time.Duration
}

type FitnessHistoryRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type DiagnosticsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

func New(opts Options) (*Client, error) {
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	store, err := storage.NewStore(opts.StoreKind, dbPath)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := &Client{store: store, log: logger}
	if opts.Registerer != nil {
		m, err := metrics.New(opts.Registerer)
		if err != nil {
			_ = storage.CloseIfSupported(store)
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		client.metrics = m
	}
	return client, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.initialized = true
	return nil
}

// Reset deletes every stored run.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.Init(ctx); err != nil {
		return err
	}
	return c.store.Reset(ctx)
}

// Run evolves networks for req.Generations generations and stores the run.
// A run that fails part way is not stored. Non-finite scores are stored as is.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Generations < 1 {
		return RunSummary{}, fmt.Errorf("generations must be >= 1, got %d", req.Generations)
	}
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	newTask, err := task.New(req.Task, req.Topology, task.Params{Input: req.Input, Target: req.Target})
	if err != nil {
		return RunSummary{}, err
	}

	runID := uuid.NewString()
	runLog := c.log.With("run_id", runID, "task", req.Task)
	ga, err := evo.NewGeneticAlgorithm(evo.Config{
		Topology:          req.Topology,
		PopulationSize:    req.Population,
		Keep:              req.Keep,
		Clone:             req.Clone,
		Breed:             req.Breed,
		MutationRate:      req.MutationRate,
		Workers:           req.Workers,
		EvaluationTimeout: req.EvaluationTimeout,
		Seed:              req.Seed,
		Logger:            runLog,
	}, newTask)
	if err != nil {
		return RunSummary{}, err
	}
	ga.AddListener(evo.LogListener{Logger: runLog})
	if c.metrics != nil {
		ga.AddListener(c.metrics.Listener(req.Task))
	}
	for _, l := range req.Listeners {
		ga.AddListener(l)
	}

	runLog.Info("run started", "generations", req.Generations, "population", req.Population, "seed", req.Seed)
	started := time.Now()
	if err := ga.RunGenerations(ctx, req.Generations); err != nil {
		return RunSummary{}, fmt.Errorf("run %s: %w", runID, err)
	}
	elapsed := time.Since(started)

	history := ga.History()
	bestByGeneration := make([]float64, len(history))
	diagnostics := make([]model.GenerationDiagnostics, len(history))
	for i, summary := range history {
		bestByGeneration[i] = summary.Best
		diagnostics[i] = model.GenerationDiagnostics{
			Generation: summary.Generation,
			Size:       summary.Size,
			Best:       summary.Best,
			Mean:       summary.Mean,
			Min:        summary.Min,
			BestEver:   summary.BestEver,
			DurationMS: summary.Duration.Milliseconds(),
		}
	}

	record := model.RunRecord{
		VersionedRecord: storage.NewVersionedRecord(),
		ID:              runID,
		CreatedAt:       started.UTC(),
		Task:            req.Task,
		Topology:        ga.Topology(),
		PopulationSize:  req.Population,
		Keep:            req.Keep,
		Clone:           req.Clone,
		Breed:           req.Breed,
		MutationRate:    req.MutationRate,
		Seed:            req.Seed,
		Generations:     ga.CurrentGenerationNumber(),
		BestFitness:     ga.HighestScore(),
		DurationMS:      elapsed.Milliseconds(),
	}
	err = c.store.SaveRunResult(ctx, storage.RunResult{
		Run:         record,
		History:     bestByGeneration,
		Diagnostics: diagnostics,
	})
	if err != nil {
		return RunSummary{}, err
	}
	runLog.Info("run finished", "best", record.BestFitness, "duration", elapsed)

	return RunSummary{
		RunID:            runID,
		BestByGeneration: bestByGeneration,
		FinalBestFitness: record.BestFitness,
		Duration:         elapsed,
	}, nil
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}

	runs, err := c.store.ListRuns(ctx, req.Limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, len(runs))
	for _, run := range runs {
		out = append(out, RunItem{
			RunID:            run.ID,
			CreatedAt:        run.CreatedAt.UTC(),
			Task:             run.Task,
			Topology:         run.Topology,
			Seed:             run.Seed,
			Population:       run.PopulationSize,
			Generations:      run.Generations,
			FinalBestFitness: run.BestFitness,
			Duration:         time.Duration(run.DurationMS) * time.Millisecond,
		})
	}
	return out, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req FitnessHistoryRequest) ([]float64, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, req.Limit, "fitness history")
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req DiagnosticsRequest) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, req.Limit, "diagnostics")
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	out := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(out, diagnostics)
	return out, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool, limit int, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if latest {
		runs, err := c.store.ListRuns(ctx, 1)
		if err != nil {
			return "", err
		}
		if len(runs) == 0 {
			return "", errors.New("no runs available")
		}
		return runs[0].ID, nil
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return runID, nil
}
