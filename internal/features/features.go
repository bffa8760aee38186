// Package features builds the fixed-width model input for a transaction.
//
// The classifier was trained on the 30 column credit card layout:
// Time, V1..V28, Amount. Callers only ever know a handful of those
// fields, so the rest are filled with gaussian noise to keep the model
// from seeing a constant, uninformative vector.
package features

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
)

// Width is the number of model input columns.
const Width = 30

// Column positions of the fields that come from real input.
const (
	IdxTime   = 0
	IdxV1     = 1
	IdxV2     = 2
	IdxAmount = Width - 1
)

// DefaultNoiseStdDev is the spread of the synthetic V3..V28 values.
const DefaultNoiseStdDev = 1.5

var ErrWidth = errors.New("transaction must have exactly 30 features")

// Transaction is one model input row in column order.
type Transaction [Width]float64

// Columns returns the column names in model order.
func Columns() []string {
	cols := make([]string, 0, Width)
	cols = append(cols, "Time")
	for i := 1; i <= 28; i++ {
		cols = append(cols, "V"+strconv.Itoa(i))
	}
	return append(cols, "Amount")
}

// Slice returns a copy of the row as a slice.
func (t Transaction) Slice() []float64 {
	out := make([]float64, Width)
	copy(out, t[:])
	return out
}

// Amount returns the Amount column.
func (t Transaction) Amount() float64 { return t[IdxAmount] }

// Noise draws normally distributed values.
type Noise interface {
	Normal(mean, stddev float64) float64
}

// RandNoise is a Noise backed by math/rand/v2. Safe for concurrent use.
type RandNoise struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandNoise returns a noise source. A zero seed draws from the runtime source.
func NewRandNoise(seed uint64) *RandNoise {
	if seed == 0 {
		return &RandNoise{}
	}
	return &RandNoise{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Normal returns mean + stddev * N(0,1).
func (n *RandNoise) Normal(mean, stddev float64) float64 {
	if n.rng == nil {
		return mean + stddev*rand.NormFloat64()
	}
	n.mu.Lock()
	v := n.rng.NormFloat64()
	n.mu.Unlock()
	return mean + stddev*v
}

// Named holds the fields a caller actually knows.
type Named struct {
	TimeMillis float64
	V1         float64
	V2         float64
	Amount     float64
}

// FromNamed builds a row from named input. Time arrives in milliseconds
// and is stored in seconds. V3..V28 are drawn from N(0, stddev).
func FromNamed(n Named, noise Noise, stddev float64) Transaction {
	var t Transaction
	t[IdxTime] = n.TimeMillis / 1000
	t[IdxV1] = n.V1
	t[IdxV2] = n.V2
	for i := 3; i < IdxAmount; i++ {
		t[i] = noise.Normal(0, stddev)
	}
	t[IdxAmount] = n.Amount
	return t
}

// FromVector copies a complete 30 column row.
func FromVector(v []float64) (Transaction, error) {
	var t Transaction
	if len(v) != Width {
		return t, fmt.Errorf("%w: got %d", ErrWidth, len(v))
	}
	copy(t[:], v)
	return t, nil
}
