// Package dataset assembles labeled training rows for the forest: the
// reference credit card CSV, synthetic fraud and safe traffic, and class
// balancing.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/mbd888/fraudwatchdog/internal/features"
)

// Class labels.
const (
	Safe  = 0
	Fraud = 1
)

var (
	ErrHeader  = errors.New("csv header does not match Time,V1..V28,Amount,Class")
	ErrNoRows  = errors.New("dataset has no rows")
	ErrPattern = errors.New("pattern must have 30 features")
)

// Set is a labeled feature matrix.
type Set struct {
	X [][]float64
	Y []int
}

// Len returns the number of rows.
func (s *Set) Len() int { return len(s.X) }

// Add appends one row.
func (s *Set) Add(row []float64, label int) {
	s.X = append(s.X, row)
	s.Y = append(s.Y, label)
}

// Append adds every row of other.
func (s *Set) Append(other *Set) {
	if other == nil {
		return
	}
	s.X = append(s.X, other.X...)
	s.Y = append(s.Y, other.Y...)
}

// Counts returns the number of safe and fraud rows.
func (s *Set) Counts() (safe, fraud int) {
	for _, y := range s.Y {
		if y == Fraud {
			fraud++
		} else {
			safe++
		}
	}
	return safe, fraud
}

// LoadCSV reads the reference dataset. maxRows <= 0 reads everything.
func LoadCSV(path string, maxRows int) (*Set, error) {
	f, err := os.Open(path) // #nosec G304 -- dataset path comes from configuration
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadCSV(f, maxRows)
}

// ReadCSV parses rows in the Time,V1..V28,Amount,Class layout.
func ReadCSV(r io.Reader, maxRows int) (*Set, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	want := append(features.Columns(), "Class")
	if len(header) != len(want) {
		return nil, ErrHeader
	}
	for i, name := range header {
		if strings.Trim(name, "\" \ufeff") != want[i] {
			return nil, ErrHeader
		}
	}

	set := &Set{}
	for line := 2; maxRows <= 0 || set.Len() < maxRows; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := make([]float64, features.Width)
		for i := 0; i < features.Width; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, want[i], err)
			}
			row[i] = v
		}
		class, err := strconv.ParseFloat(strings.Trim(rec[features.Width], "\" "), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d column Class: %w", line, err)
		}
		label := Safe
		if class >= 0.5 {
			label = Fraud
		}
		set.Add(row, label)
	}
	if set.Len() == 0 {
		return nil, ErrNoRows
	}
	return set, nil
}

// WriteCSV writes s in the layout ReadCSV accepts.
func WriteCSV(w io.Writer, s *Set) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append(features.Columns(), "Class")); err != nil {
		return err
	}
	rec := make([]string, features.Width+1)
	for i, row := range s.X {
		for j, v := range row {
			rec[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		rec[features.Width] = strconv.Itoa(s.Y[i])
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Generator produces synthetic rows from a seeded source.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator returns a generator. The same seed yields the same rows.
func NewGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d))}
}

// Chaos pattern values used by the traffic simulator.
const (
	ChaosAmount = 50000.0
	ChaosV      = -50.0
)

// ChaosFraud returns n fraud rows carrying the simulator's extreme
// pattern: V1 and V11 pinned at -50 and a 50k amount.
func (g *Generator) ChaosFraud(n int) *Set {
	set := &Set{}
	for i := 0; i < n; i++ {
		row := g.baseRow()
		row[features.IdxTime] = 0
		row[features.IdxV1] = ChaosV
		row[11] = ChaosV
		row[features.IdxAmount] = ChaosAmount
		set.Add(row, Fraud)
	}
	return set
}

// JitterAround returns n fraud rows spread around pattern with the given
// standard deviation.
func (g *Generator) JitterAround(pattern []float64, n int, stddev float64) (*Set, error) {
	if len(pattern) != features.Width {
		return nil, ErrPattern
	}
	set := &Set{}
	for i := 0; i < n; i++ {
		row := make([]float64, features.Width)
		for j, v := range pattern {
			row[j] = v + stddev*g.rng.NormFloat64()
		}
		set.Add(row, Fraud)
	}
	return set, nil
}

// SafeBaseline returns n ordinary transactions: N(0,1) components, a
// small amount and a timestamp within the first two days.
func (g *Generator) SafeBaseline(n int) *Set {
	set := &Set{}
	for i := 0; i < n; i++ {
		row := g.baseRow()
		row[features.IdxTime] = float64(g.rng.IntN(170001))
		row[features.IdxAmount] = g.rng.Float64() * 100
		set.Add(row, Safe)
	}
	return set
}

// SimulatedTransaction mirrors the traffic simulator: half of the rows
// use the chaos pattern. The returned bool reports whether it did.
func (g *Generator) SimulatedTransaction(chaosRate float64) ([]float64, bool) {
	row := g.baseRow()
	row[features.IdxTime] = float64(g.rng.IntN(170001))
	row[features.IdxAmount] = g.rng.Float64() * 100
	if g.rng.Float64() < chaosRate {
		row[features.IdxAmount] = ChaosAmount
		row[features.IdxV1] = ChaosV
		row[11] = ChaosV
		return row, true
	}
	return row, false
}

// Float64 exposes the generator's uniform source.
func (g *Generator) Float64() float64 { return g.rng.Float64() }

func (g *Generator) baseRow() []float64 {
	row := make([]float64, features.Width)
	for j := 1; j < features.IdxAmount; j++ {
		row[j] = g.rng.NormFloat64()
	}
	return row
}

// Shuffle permutes the set in place.
func (g *Generator) Shuffle(s *Set) {
	g.rng.Shuffle(s.Len(), func(i, j int) {
		s.X[i], s.X[j] = s.X[j], s.X[i]
		s.Y[i], s.Y[j] = s.Y[j], s.Y[i]
	})
}

// Split shuffles and divides the set, putting testFraction of rows in test.
func (g *Generator) Split(s *Set, testFraction float64) (train, test *Set) {
	shuffled := &Set{X: append([][]float64(nil), s.X...), Y: append([]int(nil), s.Y...)}
	g.Shuffle(shuffled)
	cut := int(float64(shuffled.Len()) * (1 - testFraction))
	train = &Set{X: shuffled.X[:cut], Y: shuffled.Y[:cut]}
	test = &Set{X: shuffled.X[cut:], Y: shuffled.Y[cut:]}
	return train, test
}
