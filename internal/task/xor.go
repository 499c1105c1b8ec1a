package task

import (
	"context"

	"neuroga/internal/evo"
	"neuroga/internal/nn"
)

type xorCase struct {
	in   []float64
	want float64
}

// Inputs and outputs use ±1 to match the tanh output range.
var xorCases = []xorCase{
	{in: []float64{-1, -1}, want: -1},
	{in: []float64{-1, 1}, want: 1},
	{in: []float64{1, -1}, want: 1},
	{in: []float64{1, 1}, want: -1},
}

// XOR scores the negative sum of squared errors over the four XOR cases.
type XOR struct{}

func (XOR) Score(ctx context.Context, network *nn.Network) (float64, error) {
	var sse float64
	for _, c := range xorCases {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		out, err := network.FeedForwardSlice(c.in)
		if err != nil {
			return 0, err
		}
		delta := out[0] - c.want
		sse += delta * delta
	}
	return -sse, nil
}

func newXOR(topology []int, _ Params) (evo.TaskFactory, error) {
	if err := checkIO("xor", topology, 2, 1); err != nil {
		return nil, err
	}
	return evo.SharedTask(XOR{}), nil
}
