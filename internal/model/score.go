package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Score is a fitness value on the wire. Finite values encode as JSON numbers;
// NaN and the infinities encode as the strings "NaN", "+Inf" and "-Inf".
type Score float64

func (s Score) MarshalJSON() ([]byte, error) {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return json.Marshal(v)
}

func (s *Score) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		switch text {
		case "NaN", "+Inf", "-Inf":
		default:
			return fmt.Errorf("invalid score %q", text)
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return err
		}
		*s = Score(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = Score(v)
	return nil
}

// Scores converts a fitness series to its wire form.
func Scores(values []float64) []Score {
	if values == nil {
		return nil
	}
	out := make([]Score, len(values))
	for i, v := range values {
		out[i] = Score(v)
	}
	return out
}

// Float64s converts a wire series back to plain values.
func Float64s(scores []Score) []float64 {
	if scores == nil {
		return nil
	}
	out := make([]float64, len(scores))
	for i, s := range scores {
		out[i] = float64(s)
	}
	return out
}

type runWire struct {
	runAlias
	MutationRate Score `json:"mutation_rate"`
	BestFitness  Score `json:"best_fitness"`
}

type runAlias RunRecord

func (r RunRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(runWire{
		runAlias:     runAlias(r),
		MutationRate: Score(r.MutationRate),
		BestFitness:  Score(r.BestFitness),
	})
}

func (r *RunRecord) UnmarshalJSON(data []byte) error {
	var wire runWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = RunRecord(wire.runAlias)
	r.MutationRate = float64(wire.MutationRate)
	r.BestFitness = float64(wire.BestFitness)
	return nil
}

type diagnosticsWire struct {
	diagnosticsAlias
	Best     Score `json:"best"`
	Mean     Score `json:"mean"`
	Min      Score `json:"min"`
	BestEver Score `json:"best_ever"`
}

type diagnosticsAlias GenerationDiagnostics

func (d GenerationDiagnostics) MarshalJSON() ([]byte, error) {
	return json.Marshal(diagnosticsWire{
		diagnosticsAlias: diagnosticsAlias(d),
		Best:             Score(d.Best),
		Mean:             Score(d.Mean),
		Min:              Score(d.Min),
		BestEver:         Score(d.BestEver),
	})
}

func (d *GenerationDiagnostics) UnmarshalJSON(data []byte) error {
	var wire diagnosticsWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*d = GenerationDiagnostics(wire.diagnosticsAlias)
	d.Best = float64(wire.Best)
	d.Mean = float64(wire.Mean)
	d.Min = float64(wire.Min)
	d.BestEver = float64(wire.BestEver)
	return nil
}
