package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"neuroga/internal/config"
	"neuroga/internal/model"
	"neuroga/internal/task"
	"neuroga/pkg/neuroga"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:], stdout)
	case "reset":
		return runReset(ctx, args[1:], stdout)
	case "run":
		return runRun(ctx, args[1:], stdout)
	case "runs":
		return runRuns(ctx, args[1:], stdout)
	case "fitness":
		return runFitness(ctx, args[1:], stdout)
	case "diagnostics":
		return runDiagnostics(ctx, args[1:], stdout)
	case "tasks":
		for _, name := range task.Names() {
			fmt.Fprintln(stdout, name)
		}
		return nil
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

type storeFlags struct {
	kind *string
	path *string
}

func addStoreFlags(fs *flag.FlagSet) storeFlags {
	def := config.Default().Storage
	return storeFlags{
		kind: fs.String("store", def.Kind, "store backend: memory|sqlite"),
		path: fs.String("db-path", def.Path, "sqlite database path"),
	}
}

func (f storeFlags) client() (*neuroga.Client, error) {
	return neuroga.New(neuroga.Options{
		StoreKind: *f.kind,
		DBPath:    *f.path,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func runInit(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "initialized store=%s\n", *store.kind)
	return nil
}

func runReset(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := store.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Fprintf(stdout, "reset store=%s\n", *store.kind)
	return nil
}

func runRun(ctx context.Context, args []string, stdout io.Writer) error {
	def := config.Default()
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional INI config path; explicit flags override it")
	taskName := fs.String("task", def.Run.Task, "task name (see the tasks command)")
	topology := fs.String("topology", formatInts(def.Network.Topology), "layer sizes, space or comma separated")
	population := fs.Int("pop", def.Population.Size, "population size")
	keep := fs.Int("keep", def.Population.Keep, "elites copied unchanged into the next generation")
	clone := fs.Int("clone", def.Population.Clone, "mutated copies of the top ranks")
	breed := fs.Int("breed", def.Population.Breed, "mutated crossovers of two distinct elites")
	mutationRate := fs.Float64("mutation-rate", def.Population.MutationRate, "per-parameter mutation probability")
	generations := fs.Int("gens", def.Run.Generations, "generation count")
	seed := fs.Int64("seed", def.Run.Seed, "rng seed")
	workers := fs.Int("workers", def.Run.Workers, "evaluation workers (0 uses GOMAXPROCS)")
	evalTimeout := fs.Duration("eval-timeout", def.Run.EvaluationTimeout, "per-network evaluation timeout (0 disables)")
	store := addStoreFlags(fs)
	metricsAddr := fs.String("metrics-addr", def.Metrics.Addr, "serve Prometheus metrics on this address during the run")
	logLevel := fs.String("log-level", "info", "log level: debug|info|warn|error")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	cfg := def
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if setFlags["task"] {
		cfg.Run.Task = *taskName
	}
	if setFlags["topology"] {
		sizes, err := parseInts(*topology)
		if err != nil {
			return fmt.Errorf("parse --topology: %w", err)
		}
		cfg.Network.Topology = sizes
	}
	if setFlags["pop"] {
		cfg.Population.Size = *population
	}
	if setFlags["keep"] {
		cfg.Population.Keep = *keep
	}
	if setFlags["clone"] {
		cfg.Population.Clone = *clone
	}
	if setFlags["breed"] {
		cfg.Population.Breed = *breed
	}
	if setFlags["mutation-rate"] {
		cfg.Population.MutationRate = *mutationRate
	}
	if setFlags["gens"] {
		cfg.Run.Generations = *generations
	}
	if setFlags["seed"] {
		cfg.Run.Seed = *seed
	}
	if setFlags["workers"] {
		cfg.Run.Workers = *workers
	}
	if setFlags["eval-timeout"] {
		cfg.Run.EvaluationTimeout = *evalTimeout
	}
	if setFlags["store"] {
		cfg.Storage.Kind = *store.kind
	}
	if setFlags["db-path"] {
		cfg.Storage.Path = *store.path
	}
	if setFlags["metrics-addr"] {
		cfg.Metrics.Addr = *metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		return fmt.Errorf("parse --log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := neuroga.Options{
		StoreKind: cfg.Storage.Kind,
		DBPath:    cfg.Storage.Path,
		Logger:    logger,
	}
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		stopMetrics, err := serveMetrics(cfg.Metrics.Addr, reg, logger)
		if err != nil {
			return err
		}
		defer stopMetrics()
		opts.Registerer = reg
	}

	client, err := neuroga.New(opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, neuroga.RunRequestFromConfig(cfg))
	if err != nil {
		return err
	}

	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			RunID            string        `json:"run_id"`
			Generations      int           `json:"generations"`
			FinalBestFitness model.Score   `json:"final_best_fitness"`
			BestByGeneration []model.Score `json:"best_by_generation"`
			DurationMS       int64         `json:"duration_ms"`
		}{
			RunID:            summary.RunID,
			Generations:      len(summary.BestByGeneration),
			FinalBestFitness: model.Score(summary.FinalBestFitness),
			BestByGeneration: model.Scores(summary.BestByGeneration),
			DurationMS:       summary.Duration.Milliseconds(),
		})
	}

	fmt.Fprintf(stdout, "run_id=%s task=%s generations=%s evaluations=%s final_best_fitness=%.6f duration=%s\n",
		summary.RunID,
		cfg.Run.Task,
		humanize.Comma(int64(len(summary.BestByGeneration))),
		humanize.Comma(int64(len(summary.BestByGeneration)*cfg.Population.Size)),
		summary.FinalBestFitness,
		summary.Duration.Round(time.Millisecond),
	)
	return nil
}

// serveMetrics exposes reg on addr until the returned stop function runs.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", listener.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}

func runRuns(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := store.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	runs, err := client.Runs(ctx, neuroga.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	if *jsonOut {
		type runsItem struct {
			RunID            string      `json:"run_id"`
			CreatedAtUTC     string      `json:"created_at_utc"`
			Task             string      `json:"task"`
			Topology         []int       `json:"topology"`
			Seed             int64       `json:"seed"`
			PopulationSize   int         `json:"population_size"`
			Generations      int         `json:"generations"`
			FinalBestFitness model.Score `json:"final_best_fitness"`
			DurationMS       int64       `json:"duration_ms"`
		}
		items := make([]runsItem, 0, len(runs))
		for _, r := range runs {
			items = append(items, runsItem{
				RunID:            r.RunID,
				CreatedAtUTC:     r.CreatedAt.Format(time.RFC3339),
				Task:             r.Task,
				Topology:         r.Topology,
				Seed:             r.Seed,
				PopulationSize:   r.Population,
				Generations:      r.Generations,
				FinalBestFitness: model.Score(r.FinalBestFitness),
				DurationMS:       r.Duration.Milliseconds(),
			})
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	}

	for _, r := range runs {
		fmt.Fprintf(stdout, "run_id=%s created=%q task=%s topology=%s seed=%d pop=%s gens=%s final_best_fitness=%.6f\n",
			r.RunID,
			humanize.Time(r.CreatedAt),
			r.Task,
			formatInts(r.Topology),
			r.Seed,
			humanize.Comma(int64(r.Population)),
			humanize.Comma(int64(r.Generations)),
			r.FinalBestFitness,
		)
	}
	return nil
}

func runFitness(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show fitness history for the most recent run")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit fitness history as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkRunSelection(*runID, *latest, "fitness"); err != nil {
		return err
	}

	client, err := store.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.FitnessHistory(ctx, neuroga.FitnessHistoryRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  max(*limit, 0),
	})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(stdout, "no fitness history")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(model.Scores(history))
	}

	for i, best := range history {
		fmt.Fprintf(stdout, "generation=%d best_fitness=%.6f\n", i+1, best)
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show diagnostics for the most recent run")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	store := addStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := checkRunSelection(*runID, *latest, "diagnostics"); err != nil {
		return err
	}

	client, err := store.client()
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, neuroga.DiagnosticsRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  max(*limit, 0),
	})
	if err != nil {
		return err
	}
	if len(diagnostics) == 0 {
		fmt.Fprintln(stdout, "no diagnostics")
		return nil
	}
	if *jsonOut {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(diagnostics)
	}

	for _, d := range diagnostics {
		fmt.Fprintf(stdout, "generation=%d size=%d best=%.6f mean=%.6f min=%.6f best_ever=%.6f duration_ms=%d\n",
			d.Generation,
			d.Size,
			d.Best,
			d.Mean,
			d.Min,
			d.BestEver,
			d.DurationMS,
		)
	}
	return nil
}

func checkRunSelection(runID string, latest bool, command string) error {
	if runID != "" && latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if runID == "" && !latest {
		return fmt.Errorf("%s requires --run-id or --latest", command)
	}
	return nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	out := make([]int, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.Atoi(field)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func formatInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: neurogactl <init|reset|run|runs|fitness|diagnostics|tasks> [flags]", msg)
}
