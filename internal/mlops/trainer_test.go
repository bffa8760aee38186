package mlops

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudwatchdog/internal/dataset"
	"github.com/mbd888/fraudwatchdog/internal/events"
)

func writeReferenceCSV(t *testing.T, safe, fraud int) string {
	t.Helper()
	g := dataset.NewGenerator(11)
	set := g.SafeBaseline(safe)
	set.Append(g.ChaosFraud(fraud))

	path := filepath.Join(t.TempDir(), "creditcard.csv")
	fh, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, dataset.WriteCSV(fh, set))
	require.NoError(t, fh.Close())
	return path
}

func TestTrainer_DatasetComposition(t *testing.T) {
	tr := NewTrainer(smallTrainerConfig())

	labeled := []*events.Event{
		{ID: "a", Features: pattern30(1), Label: events.LabelFraud},
		{ID: "b", Features: pattern30(2), Label: events.LabelLegit},
		{ID: "short", Features: []float64{1}, Label: events.LabelFraud},
		{ID: "unlabeled", Features: pattern30(3)},
	}
	set, comp, err := tr.Dataset(Inputs{LastPattern: pattern30(500), Labeled: labeled})
	require.NoError(t, err)

	assert.Equal(t, 20, comp.Jitter)
	assert.Equal(t, 20, comp.Chaos)
	assert.Equal(t, 60, comp.Safe)
	assert.Equal(t, 2, comp.Labeled)
	assert.Equal(t, 42, comp.New())
	// 41 fraud vs 61 legit before balancing.
	assert.Equal(t, 20, comp.Balanced)
	assert.Equal(t, 61, comp.Fraud)
	assert.Equal(t, 61, comp.Legit)
	assert.Equal(t, 122, set.Len())
}

func TestTrainer_DatasetWithReferenceCSV(t *testing.T) {
	cfg := smallTrainerConfig()
	cfg.CSVPath = writeReferenceCSV(t, 30, 5)
	tr := NewTrainer(cfg)

	_, comp, err := tr.Dataset(Inputs{})
	require.NoError(t, err)
	assert.Equal(t, 35, comp.CSV)
	assert.Equal(t, comp.Fraud, comp.Legit)
}

func TestTrainer_MissingReferenceCSV(t *testing.T) {
	cfg := smallTrainerConfig()
	cfg.CSVPath = filepath.Join(t.TempDir(), "missing.csv")
	_, _, err := NewTrainer(cfg).Dataset(Inputs{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTrainer_EmptyDataset(t *testing.T) {
	_, _, err := NewTrainer(TrainerConfig{}).Dataset(Inputs{})
	assert.ErrorIs(t, err, dataset.ErrNoRows)
}

func TestTrainer_TrainStampsVersion(t *testing.T) {
	tr := NewTrainer(smallTrainerConfig())
	f, _, err := tr.Train(context.Background(), Inputs{}, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, f.Meta.Version)
	assert.False(t, f.Meta.TrainedAt.IsZero())

	// The chaos pattern is learned.
	chaos := pattern30(50000)
	chaos[1], chaos[11] = -50, -50
	proba, err := f.PredictProba(chaos)
	require.NoError(t, err)
	assert.Greater(t, proba[1], 0.5)
}

func TestTrainer_Bootstrap(t *testing.T) {
	cfg := smallTrainerConfig()
	cfg.CSVPath = writeReferenceCSV(t, 200, 20)
	tr := NewTrainer(cfg)

	f, report, err := tr.Bootstrap(context.Background(), 0.2)
	require.NoError(t, err)
	assert.Equal(t, 1, f.Meta.Version)
	assert.Greater(t, report.Accuracy, 0.9)

	_, _, err = NewTrainer(smallTrainerConfig()).Bootstrap(context.Background(), 0.2)
	assert.Error(t, err)
}
