// Package inference scores transactions against the current model artifact
// and records each result in the live feed.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/fraudwatchdog/internal/events"
	"github.com/mbd888/fraudwatchdog/internal/features"
	"github.com/mbd888/fraudwatchdog/internal/forest"
	"github.com/mbd888/fraudwatchdog/internal/idgen"
	"github.com/mbd888/fraudwatchdog/internal/logging"
	"github.com/mbd888/fraudwatchdog/internal/metrics"
	"github.com/mbd888/fraudwatchdog/internal/model"
	"github.com/mbd888/fraudwatchdog/internal/pagination"
	"github.com/mbd888/fraudwatchdog/internal/realtime"
	"github.com/mbd888/fraudwatchdog/internal/traces"
	"github.com/mbd888/fraudwatchdog/internal/verdict"
)

var (
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrModelUnavailable   = errors.New("model unavailable")
)

// ModelSource returns the forest to score with.
type ModelSource interface {
	Current(ctx context.Context) (*forest.Forest, model.Info, error)
}

// PatternRecorder remembers a session's last model input.
type PatternRecorder interface {
	RecordPattern(ctx context.Context, session string, vec []float64) error
}

// Config tunes inference.
type Config struct {
	NoiseStdDev float64
	Profile     string // default threshold profile
}

// Result is the /predict response.
type Result struct {
	ID               string          `json:"id"`
	Status           verdict.Verdict `json:"status"`
	Probability      string          `json:"probability"`
	Amount           string          `json:"amount"`
	Prediction       verdict.Label   `json:"prediction"`
	ConfidenceScore  float64         `json:"confidence_score"`
	MLOpsStatus      verdict.Band    `json:"mlops_status"`
	Timestamp        time.Time       `json:"timestamp"`
	FraudProbability float64         `json:"fraud_probability"`
	Profile          string          `json:"profile"`
	ModelVersion     int             `json:"model_version"`
}

// Service scores transactions.
type Service struct {
	models   ModelSource
	events   events.Store
	patterns PatternRecorder
	profiles *verdict.Profiles
	noise    features.Noise
	hub      *realtime.Hub
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates an inference service. patterns may be nil.
func NewService(models ModelSource, store events.Store, patterns PatternRecorder, profiles *verdict.Profiles, noise features.Noise, cfg Config, logger *slog.Logger) *Service {
	if profiles == nil {
		profiles = verdict.NewProfiles()
	}
	if noise == nil {
		noise = features.NewRandNoise(0)
	}
	if cfg.NoiseStdDev <= 0 {
		cfg.NoiseStdDev = features.DefaultNoiseStdDev
	}
	if cfg.Profile == "" {
		cfg.Profile = verdict.DefaultProfile
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		models:   models,
		events:   store,
		patterns: patterns,
		profiles: profiles,
		noise:    noise,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// WithHub attaches a realtime hub for prediction notifications.
func (s *Service) WithHub(hub *realtime.Hub) *Service {
	s.hub = hub
	return s
}

// Predict scores req for session.
func (s *Service) Predict(ctx context.Context, session string, req *Request) (*Result, error) {
	ctx, span := traces.StartSpan(ctx, "inference.predict", traces.Session(session))
	defer span.End()

	profileName := req.Profile
	if profileName == "" {
		profileName = s.cfg.Profile
	}
	thresholds, err := s.profiles.Get(profileName)
	if err != nil {
		metrics.PredictionErrorsTotal.WithLabelValues("invalid").Inc()
		traces.Fail(span, err)
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	tx, amountRaw, err := req.vector(s.noise, s.cfg.NoiseStdDev)
	if err != nil {
		metrics.PredictionErrorsTotal.WithLabelValues("invalid").Inc()
		traces.Fail(span, err)
		return nil, err
	}

	f, info, err := s.models.Current(ctx)
	if err != nil {
		metrics.PredictionErrorsTotal.WithLabelValues("model").Inc()
		traces.Fail(span, err)
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}
	vec := tx.Slice()
	proba, err := f.PredictProba(vec)
	if err != nil {
		metrics.PredictionErrorsTotal.WithLabelValues("model").Inc()
		traces.Fail(span, err)
		return nil, fmt.Errorf("%w: %w", ErrModelUnavailable, err)
	}

	now := s.now().UTC()
	p := proba[1]
	label, confidence := verdict.LabelFor(proba)
	res := &Result{
		ID:               idgen.TransactionID(now),
		Status:           thresholds.Classify(p),
		Probability:      formatProbability(p),
		Amount:           amountRaw,
		Prediction:       label,
		ConfidenceScore:  round4(confidence),
		MLOpsStatus:      verdict.BandFor(confidence),
		Timestamp:        now,
		FraudProbability: p,
		Profile:          profileName,
		ModelVersion:     info.Version,
	}
	span.SetAttributes(traces.EventID(res.ID), traces.Verdict(string(res.Status)),
		traces.Probability(p), traces.ModelVersion(info.Version))
	metrics.PredictionsTotal.WithLabelValues(string(res.Status)).Inc()
	metrics.FraudProbability.Observe(p)

	log := logging.L(ctx)
	ev := &events.Event{
		ID:          res.ID,
		Session:     session,
		Status:      string(res.Status),
		Probability: p,
		Amount:      tx.Amount(),
		Prediction:  string(res.Prediction),
		Confidence:  res.ConfidenceScore,
		MLOpsStatus: string(res.MLOpsStatus),
		Features:    vec,
		CreatedAt:   now,
	}
	// The verdict is already decided; feed and pattern bookkeeping must
	// not turn it into an error.
	if err := s.events.Record(ctx, ev); err != nil {
		log.Warn("failed to record prediction", "id", res.ID, "error", err)
	}
	if s.patterns != nil {
		if err := s.patterns.RecordPattern(ctx, session, vec); err != nil {
			log.Warn("failed to remember last pattern", "session", session, "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Publish(realtime.EventPrediction, session, map[string]interface{}{
			"id":               res.ID,
			"status":           string(res.Status),
			"probability":      p,
			"amount":           res.Amount,
			"prediction":       string(res.Prediction),
			"confidence_score": res.ConfidenceScore,
			"mlops_status":     string(res.MLOpsStatus),
		})
	}

	log.Info("inference",
		"id", res.ID,
		"session", session,
		"status", res.Status,
		"probability", p,
		"modelVersion", info.Version,
	)
	return res, nil
}

// Feed returns the most recent events, newest first.
func (s *Service) Feed(ctx context.Context) ([]*events.Event, error) {
	return s.events.Recent(ctx, events.FeedSize)
}

// HistoryPage is one page of GET /events.
type HistoryPage struct {
	Events     []*events.Event `json:"events"`
	NextCursor string          `json:"next_cursor,omitempty"`
	HasMore    bool            `json:"has_more"`
}

// History pages through recorded predictions, newest first.
func (s *Service) History(ctx context.Context, q events.Query) (*HistoryPage, error) {
	if err := q.Normalize(); err != nil {
		return nil, err
	}
	limit := q.Limit
	q.Limit++
	evs, err := s.events.History(ctx, q)
	if err != nil {
		return nil, err
	}
	evs, next := pagination.Trim(evs, limit, func(e *events.Event) pagination.Cursor {
		return pagination.At(e.CreatedAt, e.ID)
	})
	if evs == nil {
		evs = []*events.Event{}
	}
	page := &HistoryPage{Events: evs, HasMore: next != nil}
	if next != nil {
		page.NextCursor = next.String()
	}
	return page, nil
}

// Label records an analyst's verdict on a served prediction.
func (s *Service) Label(ctx context.Context, id, label string) (*events.Event, error) {
	l, err := events.ParseLabel(label)
	if err != nil {
		return nil, err
	}
	ev, err := s.events.SetLabel(ctx, id, l)
	if err != nil {
		return nil, err
	}
	metrics.FeedbackTotal.WithLabelValues(string(l)).Inc()
	if s.hub != nil {
		s.hub.Publish(realtime.EventFeedback, ev.Session, map[string]interface{}{
			"id":     ev.ID,
			"label":  string(l),
			"status": ev.Status,
		})
	}
	logging.L(ctx).Info("prediction labeled", "id", ev.ID, "label", l)
	return ev, nil
}

// Model returns what the model source is serving, for the root endpoint.
func (s *Service) Model(ctx context.Context) (model.Info, error) {
	_, info, err := s.models.Current(ctx)
	return info, err
}

// Profiles returns the available threshold profile names.
func (s *Service) Profiles() []string { return s.profiles.Names() }
