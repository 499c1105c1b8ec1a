package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroga/internal/model"
)

func storeBackends(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			store := NewSQLiteStore(filepath.Join(t.TempDir(), "neuroga.db"))
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func sampleRun(id string, created time.Time) model.RunRecord {
	return model.RunRecord{
		VersionedRecord: NewVersionedRecord(),
		ID:              id,
		CreatedAt:       created,
		Task:            "target",
		Topology:        []int{2, 3, 1},
		PopulationSize:  10,
		Keep:            2,
		Clone:           2,
		Breed:           2,
		MutationRate:    0.1,
		Seed:            42,
		Generations:     50,
		BestFitness:     -0.01,
		DurationMS:      120,
	}
}

func TestStoreRunRoundTrip(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			require.NoError(t, store.Init(ctx))

			run := sampleRun("run-1", time.Unix(1700000000, 0).UTC())
			require.NoError(t, store.SaveRun(ctx, run))

			loaded, ok, err := store.GetRun(ctx, "run-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, run.ID, loaded.ID)
			assert.Equal(t, run.Topology, loaded.Topology)
			assert.True(t, run.CreatedAt.Equal(loaded.CreatedAt))
			assert.InDelta(t, run.BestFitness, loaded.BestFitness, 1e-12)

			_, ok, err = store.GetRun(ctx, "missing")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreSaveRunOverwrites(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			require.NoError(t, store.Init(ctx))

			run := sampleRun("run-1", time.Unix(1700000000, 0))
			require.NoError(t, store.SaveRun(ctx, run))
			run.Generations = 75
			require.NoError(t, store.SaveRun(ctx, run))

			loaded, ok, err := store.GetRun(ctx, "run-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 75, loaded.Generations)

			runs, err := store.ListRuns(ctx, 0)
			require.NoError(t, err)
			assert.Len(t, runs, 1)
		})
	}
}

func TestStoreListRunsNewestFirst(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			require.NoError(t, store.Init(ctx))

			base := time.Unix(1700000000, 0)
			require.NoError(t, store.SaveRun(ctx, sampleRun("old", base)))
			require.NoError(t, store.SaveRun(ctx, sampleRun("new", base.Add(2*time.Hour))))
			require.NoError(t, store.SaveRun(ctx, sampleRun("mid", base.Add(time.Hour))))

			runs, err := store.ListRuns(ctx, 0)
			require.NoError(t, err)
			require.Len(t, runs, 3)
			assert.Equal(t, []string{"new", "mid", "old"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

			limited, err := store.ListRuns(ctx, 2)
			require.NoError(t, err)
			require.Len(t, limited, 2)
			assert.Equal(t, "new", limited[0].ID)
		})
	}
}

func TestStoreHistoryAndDiagnosticsRoundTrip(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			require.NoError(t, store.Init(ctx))

			history := []float64{-0.9, -0.5, -0.2}
			require.NoError(t, store.SaveFitnessHistory(ctx, "run-1", history))
			loadedHistory, ok, err := store.GetFitnessHistory(ctx, "run-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, history, loadedHistory)

			diagnostics := []model.GenerationDiagnostics{
				{Generation: 1, Size: 10, Best: -0.9, Mean: -1.4, Min: -2, BestEver: -0.9, DurationMS: 3},
				{Generation: 2, Size: 10, Best: -0.5, Mean: -1.1, Min: -1.8, BestEver: -0.5, DurationMS: 2},
			}
			require.NoError(t, store.SaveGenerationDiagnostics(ctx, "run-1", diagnostics))
			loadedDiagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, diagnostics, loadedDiagnostics)

			_, ok, err = store.GetFitnessHistory(ctx, "run-2")
			require.NoError(t, err)
			assert.False(t, ok)
			_, ok, err = store.GetGenerationDiagnostics(ctx, "run-2")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreRunResultIsStoredTogether(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			require.NoError(t, store.Init(ctx))

			run := sampleRun("run-1", time.Unix(1700000000, 0).UTC())
			run.BestFitness = 0.4
			result := RunResult{
				Run:     run,
				History: []float64{math.Inf(-1), 0.4},
				Diagnostics: []model.GenerationDiagnostics{
					{Generation: 1, Size: 10, Best: math.Inf(-1), Mean: math.Inf(-1), Min: math.Inf(-1), BestEver: math.Inf(-1)},
					{Generation: 2, Size: 10, Best: 0.4, Mean: math.Inf(-1), Min: math.Inf(-1), BestEver: 0.4},
				},
			}
			require.NoError(t, store.SaveRunResult(ctx, result))

			loaded, ok, err := store.GetRun(ctx, "run-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, run.ID, loaded.ID)
			assert.True(t, run.CreatedAt.Equal(loaded.CreatedAt))
			assert.InDelta(t, run.BestFitness, loaded.BestFitness, 1e-12)
			history, ok, err := store.GetFitnessHistory(ctx, "run-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, result.History, history)
			diagnostics, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, result.Diagnostics, diagnostics)
		})
	}
}

func TestStoreRunResultRequiresInit(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			err := store.SaveRunResult(context.Background(), RunResult{Run: sampleRun("run-1", time.Now())})
			require.Error(t, err)
		})
	}
}

func TestStoreReset(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := open(t)
			require.NoError(t, store.Init(ctx))

			require.NoError(t, store.SaveRun(ctx, sampleRun("run-1", time.Now())))
			require.NoError(t, store.SaveFitnessHistory(ctx, "run-1", []float64{1}))
			require.NoError(t, store.Reset(ctx))

			runs, err := store.ListRuns(ctx, 0)
			require.NoError(t, err)
			assert.Empty(t, runs)
			_, ok, err := store.GetFitnessHistory(ctx, "run-1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreRequiresInit(t *testing.T) {
	for name, open := range storeBackends(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			err := store.SaveRun(context.Background(), sampleRun("run-1", time.Now()))
			require.Error(t, err)
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Init(ctx))

	run := sampleRun("run-1", time.Now())
	require.NoError(t, store.SaveRun(ctx, run))
	run.Topology[0] = 99

	loaded, _, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Topology[0])
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "neuroga.db")

	first := NewSQLiteStore(dbPath)
	require.NoError(t, first.Init(ctx))
	require.NoError(t, first.SaveRun(ctx, sampleRun("persisted", time.Unix(1700000000, 0))))
	require.NoError(t, first.Close())

	second := NewSQLiteStore(dbPath)
	require.NoError(t, second.Init(ctx))
	t.Cleanup(func() { _ = second.Close() })

	loaded, ok, err := second.GetRun(ctx, "persisted")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "persisted", loaded.ID)
}

func TestSQLiteStoreRequiresPath(t *testing.T) {
	require.Error(t, NewSQLiteStore("").Init(context.Background()))
}
