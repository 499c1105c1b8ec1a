// Package config loads run settings from INI files.
//
// A file only needs the keys it changes; everything else keeps the value from
// Default. Example:
//
//	[run]
//	task = xor
//	generations = 200
//
//	[population]
//	size = 100
//	keep = 10
//
//	[network]
//	topology = 2 4 1
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"neuroga/internal/evo"
	"neuroga/internal/task"
)

type Config struct {
	Run        RunConfig
	Population PopulationConfig
	Network    NetworkConfig
	Task       TaskConfig
	Storage    StorageConfig
	Metrics    MetricsConfig
}

type RunConfig struct {
	Task              string        `ini:"task"`
	Generations       int           `ini:"generations"`
	Seed              int64         `ini:"seed"`
	Workers           int           `ini:"workers"`
	EvaluationTimeout time.Duration `ini:"evaluation_timeout"`
}

type PopulationConfig struct {
	Size         int     `ini:"size"`
	Keep         int     `ini:"keep"`
	Clone        int     `ini:"clone"`
	Breed        int     `ini:"breed"`
	MutationRate float64 `ini:"mutation_rate"`
}

type NetworkConfig struct {
	Topology []int `ini:"topology" delim:" "`
}

// TaskConfig carries optional task parameters; tasks fall back to their own
// defaults when these are empty.
type TaskConfig struct {
	Input  []float64 `ini:"input" delim:" "`
	Target []float64 `ini:"target" delim:" "`
}

type StorageConfig struct {
	Kind string `ini:"kind"`
	Path string `ini:"path"`
}

type MetricsConfig struct {
	Addr string `ini:"addr"`
}

func Default() Config {
	return Config{
		Run: RunConfig{
			Task:        "xor",
			Generations: 100,
			Seed:        1,
		},
		Population: PopulationConfig{
			Size:         50,
			Keep:         5,
			Clone:        10,
			Breed:        20,
			MutationRate: 0.05,
		},
		Network: NetworkConfig{Topology: []int{2, 4, 1}},
		Storage: StorageConfig{Kind: "sqlite", Path: "neuroga.db"},
	}
}

// Load reads the INI file at path over Default and validates the result.
func Load(path string) (Config, error) {
	return load(path)
}

// Parse is Load for in-memory INI content.
func Parse(data []byte) (Config, error) {
	return load(data)
}

func load(source any) (Config, error) {
	file, err := ini.LoadSources(ini.LoadOptions{UnescapeValueCommentSymbols: true}, source)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}

	cfg := Default()
	sections := []struct {
		name   string
		target any
	}{
		{"run", &cfg.Run},
		{"population", &cfg.Population},
		{"network", &cfg.Network},
		{"task", &cfg.Task},
		{"storage", &cfg.Storage},
		{"metrics", &cfg.Metrics},
	}
	for _, s := range sections {
		if !file.HasSection(s.name) {
			continue
		}
		if err := file.Section(s.name).StrictMapTo(s.target); err != nil {
			return Config{}, fmt.Errorf("map [%s] section: %w", s.name, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Run.Task) == "" {
		return fmt.Errorf("config: run.task is required")
	}
	if c.Run.Generations < 1 {
		return fmt.Errorf("config: run.generations must be >= 1, got %d", c.Run.Generations)
	}
	switch c.Storage.Kind {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("config: storage.path is required for sqlite")
		}
	default:
		return fmt.Errorf("config: unsupported storage.kind %q", c.Storage.Kind)
	}
	if err := c.Evolution().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Evolution returns the driver settings. Logger is left for the caller.
func (c Config) Evolution() evo.Config {
	return evo.Config{
		Topology:          append([]int(nil), c.Network.Topology...),
		PopulationSize:    c.Population.Size,
		Keep:              c.Population.Keep,
		Clone:             c.Population.Clone,
		Breed:             c.Population.Breed,
		MutationRate:      c.Population.MutationRate,
		Workers:           c.Run.Workers,
		EvaluationTimeout: c.Run.EvaluationTimeout,
		Seed:              c.Run.Seed,
	}
}

func (c Config) TaskParams() task.Params {
	return task.Params{
		Input:  append([]float64(nil), c.Task.Input...),
		Target: append([]float64(nil), c.Task.Target...),
	}
}
