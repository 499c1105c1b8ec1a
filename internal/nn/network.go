package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrInvalidTopology   = errors.New("invalid topology")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrShape             = errors.New("input shape mismatch")
)

// Init selects the starting values of a new network's weights and biases.
type Init int

const (
	InitZero Init = iota
	InitRandom
)

func (i Init) String() string {
	switch i {
	case InitZero:
		return "zero"
	case InitRandom:
		return "random"
	default:
		return fmt.Sprintf("init(%d)", int(i))
	}
}

// Network is a feed-forward network whose layers apply tanh(W·x + b).
// A Network is never modified after construction, so it is safe to share
// between goroutines.
type Network struct {
	layerSizes []int
	layers     []layer
}

type layer struct {
	weights *mat.Dense
	biases  *mat.VecDense
}

func (l layer) feedForward(x mat.Vector) *mat.VecDense {
	rows, _ := l.weights.Dims()
	out := mat.NewVecDense(rows, nil)
	out.MulVec(l.weights, x)
	out.AddVec(out, l.biases)
	for i := 0; i < rows; i++ {
		out.SetVec(i, math.Tanh(out.AtVec(i)))
	}
	return out
}

// ValidateTopology checks a layer size list: at least an input and an output
// layer, all sizes positive.
func ValidateTopology(layerSizes []int) error {
	if len(layerSizes) < 2 {
		return fmt.Errorf("%w: need at least two layers, got %d", ErrInvalidTopology, len(layerSizes))
	}
	if layerSizes[0] <= 0 {
		return fmt.Errorf("%w: input size must be > 0, got %d", ErrInvalidTopology, layerSizes[0])
	}
	for i := 1; i < len(layerSizes); i++ {
		if layerSizes[i] <= 0 {
			return fmt.Errorf("%w: layer %d size must be > 0, got %d", ErrInvalidTopology, i, layerSizes[i])
		}
	}
	return nil
}

// New builds a network for the given layer sizes. InitRandom draws every
// weight and bias from Uniform and requires rng.
func New(layerSizes []int, init Init, rng *rand.Rand) (*Network, error) {
	if err := ValidateTopology(layerSizes); err != nil {
		return nil, err
	}
	switch init {
	case InitZero:
	case InitRandom:
		if rng == nil {
			return nil, errors.New("random initialization requires a random source")
		}
	default:
		return nil, fmt.Errorf("unsupported init mode: %s", init)
	}

	n := &Network{
		layerSizes: append([]int(nil), layerSizes...),
		layers:     make([]layer, len(layerSizes)-1),
	}
	for i := 1; i < len(layerSizes); i++ {
		weights := mat.NewDense(layerSizes[i], layerSizes[i-1], nil)
		biases := mat.NewVecDense(layerSizes[i], nil)
		if init == InitRandom {
			fillUniform(weights.RawMatrix().Data, rng)
			fillUniform(biases.RawVector().Data, rng)
		}
		n.layers[i-1] = layer{weights: weights, biases: biases}
	}
	return n, nil
}

// NewFromParameters builds a network from per-layer weight matrices and bias
// vectors. The inputs are copied.
func NewFromParameters(weights []*mat.Dense, biases []*mat.VecDense) (*Network, error) {
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no layers", ErrDimensionMismatch)
	}
	if len(weights) != len(biases) {
		return nil, fmt.Errorf("%w: %d weight matrices but %d bias vectors", ErrDimensionMismatch, len(weights), len(biases))
	}

	n := &Network{
		layerSizes: make([]int, len(weights)+1),
		layers:     make([]layer, len(weights)),
	}
	for i := range weights {
		if weights[i] == nil || biases[i] == nil {
			return nil, fmt.Errorf("%w: layer %d has no parameters", ErrDimensionMismatch, i+1)
		}
		rows, cols := weights[i].Dims()
		if i == 0 {
			n.layerSizes[0] = cols
		}
		if cols != n.layerSizes[i] {
			return nil, fmt.Errorf("%w: layer %d weights columns (%d) do not match previous layer size %d",
				ErrDimensionMismatch, i+1, cols, n.layerSizes[i])
		}
		if biases[i].Len() != rows {
			return nil, fmt.Errorf("%w: layer %d biases rows (%d) do not match layer size %d",
				ErrDimensionMismatch, i+1, biases[i].Len(), rows)
		}
		n.layerSizes[i+1] = rows
		n.layers[i] = layer{
			weights: mat.DenseCopyOf(weights[i]),
			biases:  mat.VecDenseCopyOf(biases[i]),
		}
	}
	return n, nil
}

// NewFromArrays is NewFromParameters for raw row-major arrays:
// weights[layer][row][col] and biases[layer][row].
func NewFromArrays(weights [][][]float64, biases [][]float64) (*Network, error) {
	if len(weights) != len(biases) {
		return nil, fmt.Errorf("%w: %d weight matrices but %d bias vectors", ErrDimensionMismatch, len(weights), len(biases))
	}
	ws := make([]*mat.Dense, len(weights))
	bs := make([]*mat.VecDense, len(biases))
	for i, rows := range weights {
		if len(rows) == 0 || len(rows[0]) == 0 {
			return nil, fmt.Errorf("%w: layer %d weights are empty", ErrDimensionMismatch, i+1)
		}
		cols := len(rows[0])
		data := make([]float64, 0, len(rows)*cols)
		for r, row := range rows {
			if len(row) != cols {
				return nil, fmt.Errorf("%w: layer %d weights row %d has %d columns, want %d",
					ErrDimensionMismatch, i+1, r, len(row), cols)
			}
			data = append(data, row...)
		}
		ws[i] = mat.NewDense(len(rows), cols, data)

		if len(biases[i]) == 0 {
			return nil, fmt.Errorf("%w: layer %d biases are empty", ErrDimensionMismatch, i+1)
		}
		bs[i] = mat.NewVecDense(len(biases[i]), append([]float64(nil), biases[i]...))
	}
	return NewFromParameters(ws, bs)
}

// FeedForward runs a column vector of length InputSize through every layer
// and returns the output layer's activations.
func (n *Network) FeedForward(input mat.Matrix) (*mat.VecDense, error) {
	if input == nil {
		return nil, fmt.Errorf("%w: nil input", ErrShape)
	}
	rows, cols := input.Dims()
	if cols != 1 {
		return nil, fmt.Errorf("%w: input must be a column vector, got %dx%d", ErrShape, rows, cols)
	}
	if rows != n.InputSize() {
		return nil, fmt.Errorf("%w: input length (%d) must match network input size (%d)", ErrShape, rows, n.InputSize())
	}

	values := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		values.SetVec(i, input.At(i, 0))
	}
	for _, l := range n.layers {
		values = l.feedForward(values)
	}
	return values, nil
}

// FeedForwardSlice is FeedForward for a flat input slice.
func (n *Network) FeedForwardSlice(input []float64) ([]float64, error) {
	if len(input) != n.InputSize() {
		return nil, fmt.Errorf("%w: input length (%d) must match network input size (%d)", ErrShape, len(input), n.InputSize())
	}
	out, err := n.FeedForward(mat.NewVecDense(len(input), append([]float64(nil), input...)))
	if err != nil {
		return nil, err
	}
	return mat.Col(nil, 0, out), nil
}

func (n *Network) InputSize() int {
	return n.layerSizes[0]
}

func (n *Network) OutputSize() int {
	return n.layerSizes[len(n.layerSizes)-1]
}

// LayerSizes returns a copy of the topology, input layer included.
func (n *Network) LayerSizes() []int {
	return append([]int(nil), n.layerSizes...)
}

// NumActiveLayers counts the hidden and output layers.
func (n *Network) NumActiveLayers() int {
	return len(n.layers)
}

// Weights returns a copy of active layer i's weight matrix. Active layers are
// indexed from 0 (first layer after the input). It panics if i is out of range.
func (n *Network) Weights(i int) *mat.Dense {
	return mat.DenseCopyOf(n.layers[i].weights)
}

// Biases returns a copy of active layer i's bias vector. It panics if i is out
// of range.
func (n *Network) Biases(i int) *mat.VecDense {
	return mat.VecDenseCopyOf(n.layers[i].biases)
}

func (n *Network) SameTopology(other *Network) bool {
	if other == nil || len(n.layerSizes) != len(other.layerSizes) {
		return false
	}
	for i := range n.layerSizes {
		if n.layerSizes[i] != other.layerSizes[i] {
			return false
		}
	}
	return true
}

// Uniform draws a parameter value from [-1, 1).
func Uniform(rng *rand.Rand) float64 {
	return rng.Float64()*2 - 1
}

func fillUniform(values []float64, rng *rand.Rand) {
	for i := range values {
		values[i] = Uniform(rng)
	}
}
