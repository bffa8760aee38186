package mlops

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mbd888/fraudwatchdog/internal/dataset"
	"github.com/mbd888/fraudwatchdog/internal/events"
	"github.com/mbd888/fraudwatchdog/internal/features"
	"github.com/mbd888/fraudwatchdog/internal/forest"
)

// TrainerConfig sizes the synthetic parts of a retrain set.
type TrainerConfig struct {
	JitterSamples  int     // fraud rows around the session's last pattern
	JitterStdDev   float64 // spread of those rows
	ChaosSamples   int     // chaos-pattern fraud rows, always included
	SafeSamples    int     // synthetic legit rows
	LabeledLimit   int     // newest analyst-labeled events to include
	CSVPath        string  // optional reference dataset
	CSVMaxRows     int
	SMOTENeighbors int
	MaxMinority    int // SMOTE neighbour search cap
	Seed           uint64
	Forest         forest.Config
}

// DefaultTrainerConfig returns settings that retrain in well under a
// second without a reference CSV.
func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		JitterSamples:  50,
		JitterStdDev:   0.5,
		ChaosSamples:   50,
		SafeSamples:    400,
		LabeledLimit:   500,
		CSVMaxRows:     50000,
		SMOTENeighbors: 5,
		MaxMinority:    2000,
		Forest:         forest.DefaultConfig(),
	}
}

// Composition counts where the rows of a training set came from.
type Composition struct {
	Jitter   int `json:"jitter"`
	Chaos    int `json:"chaos"`
	Safe     int `json:"safe"`
	Labeled  int `json:"labeled"`
	CSV      int `json:"csv"`
	Balanced int `json:"balanced"`
	Fraud    int `json:"fraud"`
	Legit    int `json:"legit"`
}

// New reports the rows contributed by this cycle's fresh evidence.
func (c Composition) New() int { return c.Jitter + c.Chaos + c.Labeled }

// Inputs is the per-session evidence a retrain learns from.
type Inputs struct {
	LastPattern []float64
	Labeled     []*events.Event
}

// Trainer assembles datasets and fits forests.
type Trainer struct {
	cfg TrainerConfig

	mu  sync.Mutex // guards gen
	gen *dataset.Generator
	csv *dataset.Set
}

// NewTrainer creates a trainer. The reference CSV, if configured, is read
// lazily on first use and kept in memory.
func NewTrainer(cfg TrainerConfig) *Trainer {
	return &Trainer{cfg: cfg, gen: dataset.NewGenerator(cfg.Seed)}
}

// Config returns the trainer's configuration.
func (t *Trainer) Config() TrainerConfig { return t.cfg }

// Dataset builds the balanced training set for in.
func (t *Trainer) Dataset(in Inputs) (*dataset.Set, Composition, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var comp Composition
	set := &dataset.Set{}

	if len(in.LastPattern) == features.Width && t.cfg.JitterSamples > 0 {
		jit, err := t.gen.JitterAround(in.LastPattern, t.cfg.JitterSamples, t.cfg.JitterStdDev)
		if err != nil {
			return nil, comp, err
		}
		set.Append(jit)
		comp.Jitter = jit.Len()
	}
	if t.cfg.ChaosSamples > 0 {
		chaos := t.gen.ChaosFraud(t.cfg.ChaosSamples)
		set.Append(chaos)
		comp.Chaos = chaos.Len()
	}
	if t.cfg.SafeSamples > 0 {
		safe := t.gen.SafeBaseline(t.cfg.SafeSamples)
		set.Append(safe)
		comp.Safe = safe.Len()
	}
	for _, e := range in.Labeled {
		if len(e.Features) != features.Width || e.Label == events.LabelNone {
			continue
		}
		set.Add(append([]float64(nil), e.Features...), e.Label.Class())
		comp.Labeled++
	}

	if t.cfg.CSVPath != "" {
		if t.csv == nil {
			ref, err := dataset.LoadCSV(t.cfg.CSVPath, t.cfg.CSVMaxRows)
			if err != nil {
				return nil, comp, fmt.Errorf("reference dataset: %w", err)
			}
			t.csv = ref
		}
		set.Append(t.csv)
		comp.CSV = t.csv.Len()
	}

	if set.Len() == 0 {
		return nil, comp, dataset.ErrNoRows
	}

	balanced := t.gen.SMOTE(set, t.cfg.SMOTENeighbors, t.cfg.MaxMinority)
	comp.Balanced = balanced.Len() - set.Len()
	comp.Legit, comp.Fraud = balanced.Counts()
	t.gen.Shuffle(balanced)
	return balanced, comp, nil
}

// Train builds the dataset for in and fits a forest stamped with version.
func (t *Trainer) Train(ctx context.Context, in Inputs, version int) (*forest.Forest, Composition, error) {
	set, comp, err := t.Dataset(in)
	if err != nil {
		return nil, comp, err
	}
	f, err := t.Fit(ctx, set, version)
	return f, comp, err
}

// Bootstrap trains from the reference CSV alone and evaluates on a
// held-out split taken after balancing.
func (t *Trainer) Bootstrap(ctx context.Context, testFraction float64) (*forest.Forest, dataset.Report, error) {
	if t.cfg.CSVPath == "" {
		return nil, dataset.Report{}, errors.New("bootstrap needs a reference CSV")
	}
	ref, err := dataset.LoadCSV(t.cfg.CSVPath, t.cfg.CSVMaxRows)
	if err != nil {
		return nil, dataset.Report{}, err
	}

	t.mu.Lock()
	balanced := t.gen.SMOTE(ref, t.cfg.SMOTENeighbors, t.cfg.MaxMinority)
	train, test := t.gen.Split(balanced, testFraction)
	t.mu.Unlock()

	f, err := t.Fit(ctx, train, 1)
	if err != nil {
		return nil, dataset.Report{}, err
	}
	pred := make([]int, test.Len())
	for i, row := range test.X {
		if pred[i], err = f.Predict(row); err != nil {
			return nil, dataset.Report{}, err
		}
	}
	return f, dataset.Evaluate(test.Y, pred), nil
}

// Fit trains a forest on set and stamps it with version.
func (t *Trainer) Fit(ctx context.Context, set *dataset.Set, version int) (*forest.Forest, error) {
	f, err := forest.Fit(ctx, set.X, set.Y, t.cfg.Forest)
	if err != nil {
		return nil, fmt.Errorf("fit forest: %w", err)
	}
	f.Meta.Version = version
	return f, nil
}
