package task

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"

	"neuroga/internal/evo"
	"neuroga/internal/nn"
)

// Target rewards networks whose output for Input lies close to Target. The
// score is the negative Euclidean distance, so 0 is a perfect match.
type Target struct {
	Input  []float64
	Target []float64
}

func (t Target) Score(ctx context.Context, network *nn.Network) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	out, err := network.FeedForwardSlice(t.Input)
	if err != nil {
		return 0, err
	}
	if len(out) != len(t.Target) {
		return 0, fmt.Errorf("target: network has %d outputs, target has %d", len(out), len(t.Target))
	}
	return -floats.Distance(out, t.Target, 2), nil
}

func newTarget(topology []int, params Params) (evo.TaskFactory, error) {
	if err := checkIO("target", topology, 0, 0); err != nil {
		return nil, err
	}
	inputs, outputs := topology[0], topology[len(topology)-1]

	input := params.Input
	if len(input) == 0 {
		input = make([]float64, inputs)
		for i := range input {
			input[i] = 0.5
		}
	}
	target := params.Target
	if len(target) == 0 {
		target = make([]float64, outputs)
		for i := range target {
			target[i] = 0.5
			if i%2 == 1 {
				target[i] = -0.5
			}
		}
	}
	if len(input) != inputs {
		return nil, fmt.Errorf("target: input has %d values, topology expects %d", len(input), inputs)
	}
	if len(target) != outputs {
		return nil, fmt.Errorf("target: target has %d values, topology expects %d", len(target), outputs)
	}

	return evo.SharedTask(Target{
		Input:  append([]float64(nil), input...),
		Target: append([]float64(nil), target...),
	}), nil
}
