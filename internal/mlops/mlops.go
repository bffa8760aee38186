// Package mlops runs the retraining cycle: it bumps per-session progress
// counters, logs the run, fits a new forest from synthetic and labeled data,
// publishes the artifact and pushes it to version control.
package mlops

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRetrainInProgress = errors.New("a retrain is already running")
	ErrInvalidSession    = errors.New("invalid session id")
	ErrVCS               = errors.New("version control publish failed")
)

// DefaultSession is used when a request carries no session header.
const DefaultSession = "default"

// SessionHeader carries the caller's session id.
const SessionHeader = "X-Session-ID"

// MaxCounter caps maturity and threats_caught.
const MaxCounter = 99

// MaturityStep is how much maturity grows per retrain.
const MaturityStep = 11

// Progress is the counter set shown on the dashboard.
type Progress struct {
	Version       int `json:"version"`
	Maturity      int `json:"maturity"`
	ThreatsCaught int `json:"threats_caught"`
}

// InitialProgress is the state of a session that has never retrained.
func InitialProgress() Progress {
	return Progress{Version: 1}
}

// Bump advances the counters for one retrain.
func (p Progress) Bump() Progress {
	return Progress{
		Version:       p.Version + 1,
		Maturity:      min(MaxCounter, p.Maturity+MaturityStep),
		ThreatsCaught: min(MaxCounter, p.ThreatsCaught+1),
	}
}

// SessionState is what a session remembers between requests.
type SessionState struct {
	Session     string    `json:"session"`
	Progress    Progress  `json:"progress"`
	LastPattern []float64 `json:"last_pattern,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func newSessionState(session string) *SessionState {
	return &SessionState{Session: session, Progress: InitialProgress()}
}

func (s *SessionState) clone() *SessionState {
	cp := *s
	if s.LastPattern != nil {
		cp.LastPattern = append([]float64(nil), s.LastPattern...)
	}
	return &cp
}

// SessionStore persists session state. Update applies fn atomically with
// respect to other updates of the same session; sessions that do not exist
// yet start from InitialProgress.
type SessionStore interface {
	Get(ctx context.Context, session string) (*SessionState, error)
	Update(ctx context.Context, session string, fn func(*SessionState) error) (*SessionState, error)
}

// ValidSession reports whether id is usable as a session key.
func ValidSession(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return false
		}
	}
	return true
}
