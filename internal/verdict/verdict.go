// Package verdict turns a fraud probability into the label shown to
// analysts.
package verdict

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// Verdict is the tri-state classification returned to callers.
type Verdict string

const (
	Safe   Verdict = "Safe"
	Review Verdict = "REQUIRES_HUMAN_REVIEW"
	Fraud  Verdict = "FRAUD"
)

// Band tags how sure the model is about its majority class.
type Band string

const (
	HighConfidence Band = "HIGH_CONFIDENCE"
	GreyZone       Band = "UNCERTAIN_GREY_ZONE"
)

// GreyZoneCutoff is the majority-class confidence below which a result
// is flagged as drifting.
const GreyZoneCutoff = 0.75

// Label is the hard prediction of the classifier.
type Label string

const (
	LabelFraud Label = "FRAUD"
	LabelLegit Label = "LEGIT"
)

var (
	ErrInvalidThresholds = errors.New("thresholds must satisfy 0 <= review <= fraud <= 1")
	ErrUnknownProfile    = errors.New("unknown threshold profile")
)

// Thresholds are the two static cutoffs. A probability above Fraud is
// fraud; one in [Review, Fraud] needs a human.
type Thresholds struct {
	Fraud  float64 `json:"fraud" yaml:"fraud"`
	Review float64 `json:"review" yaml:"review"`
}

// Validate checks the cutoffs are ordered and in range.
func (t Thresholds) Validate() error {
	if t.Review < 0 || t.Fraud > 1 || t.Review > t.Fraud {
		return fmt.Errorf("%w: review=%v fraud=%v", ErrInvalidThresholds, t.Review, t.Fraud)
	}
	return nil
}

// Classify maps p to a verdict.
func (t Thresholds) Classify(p float64) Verdict {
	switch {
	case p > t.Fraud:
		return Fraud
	case p >= t.Review:
		return Review
	default:
		return Safe
	}
}

// BandFor returns the confidence band for a majority-class confidence.
func BandFor(confidence float64) Band {
	if confidence < GreyZoneCutoff {
		return GreyZone
	}
	return HighConfidence
}

// LabelFor returns the hard label for [P(safe), P(fraud)].
func LabelFor(proba [2]float64) (Label, float64) {
	if proba[1] > proba[0] {
		return LabelFraud, proba[1]
	}
	return LabelLegit, proba[0]
}

// Built-in profiles. Each dashboard iteration tuned its own cutoffs.
var builtins = map[string]Thresholds{
	"v1": {Fraud: 0.40, Review: 0.15},
	"v2": {Fraud: 0.45, Review: 0.20},
	"v3": {Fraud: 0.55, Review: 0.20},
}

// DefaultProfile is used when none is configured.
const DefaultProfile = "v1"

// Profiles is a named set of thresholds.
type Profiles struct {
	mu       sync.RWMutex
	profiles map[string]Thresholds
}

// NewProfiles returns the built-in profiles.
func NewProfiles() *Profiles {
	p := &Profiles{profiles: make(map[string]Thresholds, len(builtins))}
	for name, t := range builtins {
		p.profiles[name] = t
	}
	return p
}

type profileFile struct {
	Profiles map[string]Thresholds `yaml:"profiles"`
}

// LoadFile merges profiles from a YAML file of the form
//
//	profiles:
//	  strict: {fraud: 0.3, review: 0.1}
func (p *Profiles) LoadFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from configuration
	if err != nil {
		return fmt.Errorf("read thresholds file: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse thresholds file: %w", err)
	}
	for name, t := range file.Profiles {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("profile %q: %w", name, err)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for name, t := range file.Profiles {
		p.profiles[name] = t
	}
	return nil
}

// Get returns a profile by name.
func (p *Profiles) Get(name string) (Thresholds, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.profiles[name]
	if !ok {
		return Thresholds{}, fmt.Errorf("%w: %s", ErrUnknownProfile, name)
	}
	return t, nil
}

// Names lists profile names in sorted order.
func (p *Profiles) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.profiles))
	for name := range p.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
