// Package forest implements the binary random forest classifier behind
// the watchdog: bagged CART trees split on Gini impurity, with a random
// subset of features considered at every node.
package forest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

var (
	ErrNotFitted     = errors.New("forest has no trees")
	ErrEmptyDataset  = errors.New("training set is empty")
	ErrInvalidLabel  = errors.New("labels must be 0 or 1")
	ErrFeatureWidth  = errors.New("feature width mismatch")
	ErrSingleClass   = errors.New("training set needs both classes")
	ErrShapeMismatch = errors.New("rows and labels differ in length")
)

// Config controls training.
type Config struct {
	NEstimators    int
	MaxDepth       int
	MinSamplesLeaf int
	MaxFeatures    int // 0 means sqrt(n_features)
	Seed           uint64
	Jobs           int // parallel tree builders, 0 means GOMAXPROCS
}

// DefaultConfig mirrors the production retrain settings.
func DefaultConfig() Config {
	return Config{
		NEstimators:    100,
		MaxDepth:       12,
		MinSamplesLeaf: 1,
		Seed:           42,
	}
}

// Meta describes how an artifact was produced.
type Meta struct {
	Version   int       `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Samples   int       `json:"samples"`
	FraudRate float64   `json:"fraud_rate"`
	Trees     int       `json:"trees"`
}

// Node is a flattened tree node. Leaves carry the fraction of fraud
// samples that reached them.
type Node struct {
	Feature   int     `json:"f"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l,omitempty"`
	Right     int     `json:"r,omitempty"`
	Leaf      bool    `json:"leaf,omitempty"`
	Fraud     float64 `json:"p,omitempty"`
}

// Tree is a single decision tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Forest is a fitted classifier.
type Forest struct {
	NFeatures int    `json:"n_features"`
	Meta      Meta   `json:"meta"`
	Trees     []Tree `json:"trees"`
}

// Fit trains a new forest on rows X with labels y.
func Fit(ctx context.Context, X [][]float64, y []int, cfg Config) (*Forest, error) {
	if len(X) == 0 {
		return nil, ErrEmptyDataset
	}
	if len(X) != len(y) {
		return nil, ErrShapeMismatch
	}
	width := len(X[0])
	fraud := 0
	for i, row := range X {
		if len(row) != width {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrFeatureWidth, i, len(row), width)
		}
		switch y[i] {
		case 0:
		case 1:
			fraud++
		default:
			return nil, fmt.Errorf("%w: row %d has label %d", ErrInvalidLabel, i, y[i])
		}
	}
	if fraud == 0 || fraud == len(y) {
		return nil, ErrSingleClass
	}

	if cfg.NEstimators <= 0 {
		cfg.NEstimators = DefaultConfig().NEstimators
	}
	if cfg.MinSamplesLeaf <= 0 {
		cfg.MinSamplesLeaf = 1
	}
	mtry := cfg.MaxFeatures
	if mtry <= 0 || mtry > width {
		mtry = int(math.Max(1, math.Round(math.Sqrt(float64(width)))))
	}
	jobs := cfg.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	trees := make([]Tree, cfg.NEstimators)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i := range trees {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
			b := &builder{
				X:        X,
				y:        y,
				mtry:     mtry,
				maxDepth: cfg.MaxDepth,
				minLeaf:  cfg.MinSamplesLeaf,
				rng:      rng,
			}
			idx := make([]int, len(X))
			for j := range idx {
				idx[j] = rng.IntN(len(X))
			}
			b.grow(idx, 0)
			trees[i] = Tree{Nodes: b.nodes}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Forest{
		NFeatures: width,
		Trees:     trees,
		Meta: Meta{
			TrainedAt: time.Now().UTC(),
			Samples:   len(X),
			FraudRate: float64(fraud) / float64(len(X)),
			Trees:     len(trees),
		},
	}, nil
}

// PredictProba returns [P(safe), P(fraud)] averaged over all trees.
func (f *Forest) PredictProba(x []float64) ([2]float64, error) {
	if f == nil || len(f.Trees) == 0 {
		return [2]float64{}, ErrNotFitted
	}
	if len(x) != f.NFeatures {
		return [2]float64{}, fmt.Errorf("%w: got %d, want %d", ErrFeatureWidth, len(x), f.NFeatures)
	}
	var sum float64
	for i := range f.Trees {
		sum += f.Trees[i].fraud(x)
	}
	p := sum / float64(len(f.Trees))
	return [2]float64{1 - p, p}, nil
}

// Predict returns the majority class for x.
func (f *Forest) Predict(x []float64) (int, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return 0, err
	}
	if proba[1] > proba[0] {
		return 1, nil
	}
	return 0, nil
}

// Validate checks that every tree can be walked for an input of
// NFeatures values: split features are in range, children point forward
// inside the tree, and leaves hold a probability.
func (f *Forest) Validate() error {
	if f.NFeatures <= 0 {
		return fmt.Errorf("%w: n_features %d", ErrFormat, f.NFeatures)
	}
	for ti := range f.Trees {
		nodes := f.Trees[ti].Nodes
		if len(nodes) == 0 {
			return fmt.Errorf("%w: tree %d has no nodes", ErrFormat, ti)
		}
		for at, node := range nodes {
			if node.Leaf {
				if !(node.Fraud >= 0 && node.Fraud <= 1) {
					return fmt.Errorf("%w: tree %d node %d: leaf probability %v", ErrFormat, ti, at, node.Fraud)
				}
				continue
			}
			if node.Feature < 0 || node.Feature >= f.NFeatures {
				return fmt.Errorf("%w: tree %d node %d: feature %d out of range", ErrFormat, ti, at, node.Feature)
			}
			if node.Left <= at || node.Left >= len(nodes) || node.Right <= at || node.Right >= len(nodes) {
				return fmt.Errorf("%w: tree %d node %d: children %d/%d", ErrFormat, ti, at, node.Left, node.Right)
			}
		}
	}
	return nil
}

func (t *Tree) fraud(x []float64) float64 {
	n := 0
	for {
		node := &t.Nodes[n]
		if node.Leaf {
			return node.Fraud
		}
		if x[node.Feature] <= node.Threshold {
			n = node.Left
		} else {
			n = node.Right
		}
	}
}

type builder struct {
	X        [][]float64
	y        []int
	mtry     int
	maxDepth int
	minLeaf  int
	rng      *rand.Rand
	nodes    []Node
}

type pair struct {
	v float64
	y int
}

// grow appends the subtree for idx and returns its node index.
func (b *builder) grow(idx []int, depth int) int {
	pos := 0
	for _, i := range idx {
		pos += b.y[i]
	}
	at := len(b.nodes)
	b.nodes = append(b.nodes, Node{Leaf: true, Fraud: float64(pos) / float64(len(idx))})

	if pos == 0 || pos == len(idx) {
		return at
	}
	if b.maxDepth > 0 && depth >= b.maxDepth {
		return at
	}
	if len(idx) < 2*b.minLeaf {
		return at
	}

	feature, threshold, ok := b.bestSplit(idx, pos)
	if !ok {
		return at
	}

	var left, right []int
	for _, i := range idx {
		if b.X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[at] = Node{Feature: feature, Threshold: threshold, Left: l, Right: r}
	return at
}

func (b *builder) bestSplit(idx []int, pos int) (int, float64, bool) {
	n := len(idx)
	parent := gini(pos, n)
	best := parent
	bestFeature, bestThreshold, found := -1, 0.0, false

	pairs := make([]pair, n)
	for _, feature := range b.rng.Perm(len(b.X[0]))[:b.mtry] {
		for k, i := range idx {
			pairs[k] = pair{v: b.X[i][feature], y: b.y[i]}
		}
		sort.Slice(pairs, func(a, c int) bool { return pairs[a].v < pairs[c].v })

		leftPos := 0
		for k := 0; k < n-1; k++ {
			leftPos += pairs[k].y
			if pairs[k].v == pairs[k+1].v {
				continue
			}
			nl := k + 1
			nr := n - nl
			if nl < b.minLeaf || nr < b.minLeaf {
				continue
			}
			score := (float64(nl)*gini(leftPos, nl) + float64(nr)*gini(pos-leftPos, nr)) / float64(n)
			if score < best-1e-12 {
				best = score
				bestFeature = feature
				bestThreshold = pairs[k].v + (pairs[k+1].v-pairs[k].v)/2
				found = true
			}
		}
	}
	return bestFeature, bestThreshold, found
}

func gini(pos, n int) float64 {
	if n == 0 {
		return 0
	}
	p := float64(pos) / float64(n)
	return 1 - p*p - (1-p)*(1-p)
}
