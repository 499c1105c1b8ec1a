package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// RunRecord describes one completed evolution run. Networks are never stored;
// only the run parameters and its outcome are.
type RunRecord struct {
	VersionedRecord
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	Task           string    `json:"task"`
	Topology       []int     `json:"topology"`
	PopulationSize int       `json:"population_size"`
	Keep           int       `json:"keep"`
	Clone          int       `json:"clone"`
	Breed          int       `json:"breed"`
	MutationRate   float64   `json:"mutation_rate"`
	Seed           int64     `json:"seed"`
	Generations    int       `json:"generations"`
	BestFitness    float64   `json:"best_fitness"`
	DurationMS     int64     `json:"duration_ms"`
}

type GenerationDiagnostics struct {
	Generation int     `json:"generation"`
	Size       int     `json:"size"`
	Best       float64 `json:"best"`
	Mean       float64 `json:"mean"`
	Min        float64 `json:"min"`
	BestEver   float64 `json:"best_ever"`
	DurationMS int64   `json:"duration_ms"`
}
