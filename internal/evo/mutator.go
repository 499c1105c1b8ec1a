package evo

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"neuroga/internal/nn"
)

// Mutator holds a working copy of a network's genome (per-layer weights and
// biases) and applies mutation and crossover to it. Operations chain; the
// first failure is kept and returned by Network.
type Mutator struct {
	weights []*mat.Dense
	biases  []*mat.VecDense
	rng     *rand.Rand
	err     error
}

func NewMutator(network *nn.Network, rng *rand.Rand) *Mutator {
	m := &Mutator{rng: rng}
	if network == nil {
		m.err = errors.New("network is required")
		return m
	}
	if rng == nil {
		m.err = errors.New("random source is required")
		return m
	}
	m.weights, m.biases = genome(network)
	return m
}

// Mutate replaces each genome element, with probability rate, by a fresh
// value from nn.Uniform.
func (m *Mutator) Mutate(rate float64) *Mutator {
	if m.err != nil {
		return m
	}
	for i := range m.weights {
		mutateValues(m.weights[i].RawMatrix().Data, rate, m.rng)
		mutateValues(m.biases[i].RawVector().Data, rate, m.rng)
	}
	return m
}

// CrossoverWith takes every genome element from either the working genome or
// other with equal probability. Both genomes must share a topology.
func (m *Mutator) CrossoverWith(other *nn.Network) *Mutator {
	if m.err != nil {
		return m
	}
	if other == nil {
		m.err = fmt.Errorf("%w: crossover partner is nil", ErrTopologyMismatch)
		return m
	}
	if other.NumActiveLayers() != len(m.weights) {
		m.err = fmt.Errorf("%w: %d active layers vs %d", ErrTopologyMismatch, len(m.weights), other.NumActiveLayers())
		return m
	}

	otherWeights, otherBiases := genome(other)
	for i := range m.weights {
		r, c := m.weights[i].Dims()
		or, oc := otherWeights[i].Dims()
		if r != or || c != oc {
			m.err = fmt.Errorf("%w: layer %d is %dx%d vs %dx%d", ErrTopologyMismatch, i+1, r, c, or, oc)
			return m
		}
	}
	for i := range m.weights {
		crossValues(m.weights[i].RawMatrix().Data, otherWeights[i].RawMatrix().Data, m.rng)
		crossValues(m.biases[i].RawVector().Data, otherBiases[i].RawVector().Data, m.rng)
	}
	return m
}

// Network builds a new network from the working genome.
func (m *Mutator) Network() (*nn.Network, error) {
	if m.err != nil {
		return nil, m.err
	}
	return nn.NewFromParameters(m.weights, m.biases)
}

func (m *Mutator) Err() error {
	return m.err
}

func genome(network *nn.Network) ([]*mat.Dense, []*mat.VecDense) {
	layers := network.NumActiveLayers()
	weights := make([]*mat.Dense, layers)
	biases := make([]*mat.VecDense, layers)
	for i := 0; i < layers; i++ {
		weights[i] = network.Weights(i)
		biases[i] = network.Biases(i)
	}
	return weights, biases
}

func mutateValues(values []float64, rate float64, rng *rand.Rand) {
	for i := range values {
		if rng.Float64() < rate {
			values[i] = nn.Uniform(rng)
		}
	}
}

func crossValues(dst, other []float64, rng *rand.Rand) {
	for i := range dst {
		if rng.Float64() >= 0.5 {
			dst[i] = other[i]
		}
	}
}
