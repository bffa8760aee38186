package mlops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mbd888/fraudwatchdog/internal/events"
	"github.com/mbd888/fraudwatchdog/internal/features"
	"github.com/mbd888/fraudwatchdog/internal/logging"
	"github.com/mbd888/fraudwatchdog/internal/metrics"
	"github.com/mbd888/fraudwatchdog/internal/model"
	"github.com/mbd888/fraudwatchdog/internal/realtime"
	"github.com/mbd888/fraudwatchdog/internal/syncutil"
	"github.com/mbd888/fraudwatchdog/internal/traces"
	"github.com/mbd888/fraudwatchdog/internal/vcs"
)

// Trigger names which entry point started a retrain.
const (
	TriggerSync  = "trigger-mlops"
	TriggerAsync = "retrain"
	TriggerTimer = "timer"
)

// VCSPolicy decides what a failed version-control publish does to the cycle.
type VCSPolicy string

const (
	// VCSReport fails the cycle with the publisher's error.
	VCSReport VCSPolicy = "report"
	// VCSSwallow logs the error and reports success with the error attached.
	VCSSwallow VCSPolicy = "swallow"
)

// ParseVCSPolicy accepts report or swallow; empty means report.
func ParseVCSPolicy(s string) (VCSPolicy, error) {
	switch VCSPolicy(s) {
	case "", VCSReport:
		return VCSReport, nil
	case VCSSwallow:
		return VCSSwallow, nil
	default:
		return "", fmt.Errorf("unknown VCS failure policy %q", s)
	}
}

// Config controls side effects of a retrain cycle.
type Config struct {
	TrainLogPath  string // appended to on every cycle when set
	CommitMessage string
	VCSPolicy     VCSPolicy
}

// Outcome is the result of one retrain cycle.
type Outcome struct {
	Session     string        `json:"session"`
	Trigger     string        `json:"trigger"`
	Progress    Progress      `json:"progress"`
	Model       model.Info    `json:"model"`
	Composition Composition   `json:"composition"`
	NewSamples  int           `json:"new_samples"`
	Duration    time.Duration `json:"duration_ns"`
	VCS         *vcs.Result   `json:"vcs,omitempty"`
	VCSError    string        `json:"vcs_error,omitempty"`
}

// Service runs retrain cycles. One cycle runs at a time across all sessions
// because every cycle overwrites the same artifact.
type Service struct {
	sessions  SessionStore
	events    events.Store
	loader    *model.Loader
	publisher vcs.Publisher
	trainer   *Trainer
	hub       *realtime.Hub
	cfg       Config
	logger    *slog.Logger
	mu        *syncutil.ContextMutex
	now       func() time.Time
}

// NewService creates a retrain service. publisher may be nil to skip
// version control; hub may be nil.
func NewService(sessions SessionStore, store events.Store, loader *model.Loader, trainer *Trainer, publisher vcs.Publisher, cfg Config, logger *slog.Logger) *Service {
	if publisher == nil {
		publisher = vcs.NopPublisher{}
	}
	if cfg.CommitMessage == "" {
		cfg.CommitMessage = vcs.DefaultCommitMessage
	}
	if cfg.VCSPolicy == "" {
		cfg.VCSPolicy = VCSReport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions:  sessions,
		events:    store,
		loader:    loader,
		publisher: publisher,
		trainer:   trainer,
		cfg:       cfg,
		logger:    logger,
		mu:        syncutil.NewContextMutex(),
		now:       time.Now,
	}
}

// WithHub attaches a realtime hub for retrain notifications.
func (s *Service) WithHub(hub *realtime.Hub) *Service {
	s.hub = hub
	return s
}

// Busy reports whether a retrain is running.
func (s *Service) Busy() bool { return s.mu.Locked() }

// Status returns the session's progress.
func (s *Service) Status(ctx context.Context, session string) (*SessionState, error) {
	if !ValidSession(session) {
		return nil, ErrInvalidSession
	}
	return s.sessions.Get(ctx, session)
}

// RecordPattern remembers the latest model input for session. Retrains
// centre their synthetic fraud on it.
func (s *Service) RecordPattern(ctx context.Context, session string, vec []float64) error {
	if !ValidSession(session) {
		return ErrInvalidSession
	}
	if len(vec) != features.Width {
		return features.ErrWidth
	}
	_, err := s.sessions.Update(ctx, session, func(st *SessionState) error {
		st.LastPattern = append(st.LastPattern[:0], vec...)
		return nil
	})
	return err
}

// Trigger runs a retrain cycle for session, waiting for any running cycle
// to finish first.
func (s *Service) Trigger(ctx context.Context, session, trigger string) (*Outcome, error) {
	if !ValidSession(session) {
		return nil, ErrInvalidSession
	}
	unlock, err := s.mu.Lock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return s.run(ctx, session, trigger)
}

// TryTrigger is Trigger that returns ErrRetrainInProgress instead of waiting.
func (s *Service) TryTrigger(ctx context.Context, session, trigger string) (*Outcome, error) {
	if !ValidSession(session) {
		return nil, ErrInvalidSession
	}
	unlock, ok := s.mu.TryLock()
	if !ok {
		return nil, ErrRetrainInProgress
	}
	defer unlock()
	return s.run(ctx, session, trigger)
}

func (s *Service) run(ctx context.Context, session, trigger string) (out *Outcome, err error) {
	ctx, span := traces.StartSpan(ctx, "mlops.retrain", traces.Session(session), traces.Trigger(trigger))
	defer span.End()

	start := s.now()
	log := logging.L(ctx).With("session", session, "trigger", trigger)
	defer func() {
		result := "success"
		switch {
		case err != nil:
			result = "error"
			traces.Fail(span, err)
		case out.VCSError != "":
			result = "vcs_swallowed"
		}
		metrics.RetrainsTotal.WithLabelValues(trigger, result).Inc()
		metrics.RetrainDuration.Observe(time.Since(start).Seconds())
	}()

	// Counters move first and stay moved if a later step fails.
	state, err := s.sessions.Update(ctx, session, func(st *SessionState) error {
		st.Progress = st.Progress.Bump()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bump progress: %w", err)
	}

	limit := s.trainer.Config().LabeledLimit
	var labeled []*events.Event
	if limit > 0 {
		if labeled, err = s.events.Labeled(ctx, limit); err != nil {
			return nil, fmt.Errorf("load labeled events: %w", err)
		}
	}

	set, comp, err := s.trainer.Dataset(Inputs{LastPattern: state.LastPattern, Labeled: labeled})
	if err != nil {
		return nil, fmt.Errorf("build dataset: %w", err)
	}
	if err := s.appendTrainLog(comp.New()); err != nil {
		return nil, err
	}

	f, err := s.trainer.Fit(ctx, set, s.nextArtifactVersion(ctx, state.Progress.Version))
	if err != nil {
		return nil, err
	}
	info, err := s.loader.Publish(f)
	if err != nil {
		return nil, fmt.Errorf("publish artifact: %w", err)
	}
	metrics.TrainingSamples.Set(float64(set.Len()))
	span.SetAttributes(traces.ModelVersion(info.Version))

	out = &Outcome{
		Session:     session,
		Trigger:     trigger,
		Progress:    state.Progress,
		Model:       info,
		Composition: comp,
		NewSamples:  comp.New(),
	}

	res, vcsErr := s.publisher.Publish(ctx, s.cfg.CommitMessage)
	out.VCS = res
	out.Duration = time.Since(start)
	if vcsErr != nil {
		if s.cfg.VCSPolicy != VCSSwallow {
			log.Error("retrain published artifact but version control failed", "error", vcsErr)
			return out, fmt.Errorf("%w: %w", ErrVCS, vcsErr)
		}
		log.Warn("version control failed, continuing", "error", vcsErr)
		out.VCSError = vcsErr.Error()
	}

	log.Info("model retrained",
		"version", state.Progress.Version,
		"maturity", state.Progress.Maturity,
		"threatsCaught", state.Progress.ThreatsCaught,
		"samples", set.Len(),
		"newSamples", out.NewSamples,
		"duration", out.Duration,
	)
	if s.hub != nil {
		s.hub.Publish(realtime.EventRetrain, session, map[string]interface{}{
			"trigger":        trigger,
			"version":        state.Progress.Version,
			"maturity":       state.Progress.Maturity,
			"threats_caught": state.Progress.ThreatsCaught,
			"samples":        set.Len(),
			"new_samples":    out.NewSamples,
			"vcs_error":      out.VCSError,
		})
	}
	return out, nil
}

// nextArtifactVersion stamps the shared artifact. Progress is per session,
// so the artifact version follows the session's counter only while that
// keeps it moving forward. Callers hold s.mu.
func (s *Service) nextArtifactVersion(ctx context.Context, sessionVersion int) int {
	_, cur, err := s.loader.Current(ctx)
	if err != nil || cur.Version < sessionVersion {
		return sessionVersion
	}
	return cur.Version + 1
}

// appendTrainLog writes one line per cycle, creating the file and its
// directory on first use.
func (s *Service) appendTrainLog(n int) error {
	if s.cfg.TrainLogPath == "" {
		return nil
	}
	if dir := filepath.Dir(s.cfg.TrainLogPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create train log dir: %w", err)
		}
	}
	fh, err := os.OpenFile(s.cfg.TrainLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open train log: %w", err)
	}
	_, werr := fmt.Fprintf(fh, "Model retrained on %s with %d new samples.\n", s.now().Format(time.ANSIC), n)
	return errors.Join(werr, fh.Close())
}
