package verdict

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Boundaries(t *testing.T) {
	tests := []struct {
		profile string
		p       float64
		want    Verdict
	}{
		{"v1", 0.41, Fraud},
		{"v1", 0.40, Review},
		{"v1", 0.15, Review},
		{"v1", 0.1499, Safe},
		{"v2", 0.46, Fraud},
		{"v2", 0.45, Review},
		{"v2", 0.19, Safe},
		{"v3", 0.55, Review},
		{"v3", 0.551, Fraud},
		{"v3", 0.20, Review},
		{"v3", 0.0, Safe},
	}

	profiles := NewProfiles()
	for _, tt := range tests {
		th, err := profiles.Get(tt.profile)
		require.NoError(t, err)
		assert.Equal(t, tt.want, th.Classify(tt.p), "%s p=%v", tt.profile, tt.p)
	}
}

func TestThresholds_Validate(t *testing.T) {
	assert.NoError(t, Thresholds{Fraud: 0.4, Review: 0.15}.Validate())
	assert.NoError(t, Thresholds{Fraud: 0.5, Review: 0.5}.Validate())
	assert.ErrorIs(t, Thresholds{Fraud: 0.1, Review: 0.2}.Validate(), ErrInvalidThresholds)
	assert.ErrorIs(t, Thresholds{Fraud: 1.1, Review: 0.2}.Validate(), ErrInvalidThresholds)
	assert.ErrorIs(t, Thresholds{Fraud: 0.5, Review: -0.1}.Validate(), ErrInvalidThresholds)
}

func TestBandAndLabel(t *testing.T) {
	assert.Equal(t, GreyZone, BandFor(0.7499))
	assert.Equal(t, HighConfidence, BandFor(0.75))

	label, conf := LabelFor([2]float64{0.2, 0.8})
	assert.Equal(t, LabelFraud, label)
	assert.InDelta(t, 0.8, conf, 1e-9)

	label, conf = LabelFor([2]float64{0.5, 0.5})
	assert.Equal(t, LabelLegit, label)
	assert.InDelta(t, 0.5, conf, 1e-9)
}

func TestProfiles_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  strict:
    fraud: 0.3
    review: 0.1
  v1:
    fraud: 0.5
    review: 0.2
`), 0o600))

	p := NewProfiles()
	require.NoError(t, p.LoadFile(path))

	strict, err := p.Get("strict")
	require.NoError(t, err)
	assert.Equal(t, Thresholds{Fraud: 0.3, Review: 0.1}, strict)

	v1, _ := p.Get("v1")
	assert.Equal(t, 0.5, v1.Fraud, "file entries override built-ins")

	assert.Equal(t, []string{"strict", "v1", "v2", "v3"}, p.Names())
}

func TestProfiles_LoadFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles:\n  broken: {fraud: 0.1, review: 0.9}\n"), 0o600))

	p := NewProfiles()
	err := p.LoadFile(path)
	assert.ErrorIs(t, err, ErrInvalidThresholds)
	_, err = p.Get("broken")
	assert.ErrorIs(t, err, ErrUnknownProfile)
}
