// Package model serves the classifier artifact to the inference path.
//
// The artifact on disk is the source of truth: it is overwritten by every
// retrain and may be replaced by hand. The loader keeps the decoded forest
// in memory and revalidates it against the file's size and modification
// time on every call, so a new artifact is picked up on the next request.
package model

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mbd888/fraudwatchdog/internal/features"
	"github.com/mbd888/fraudwatchdog/internal/forest"
	"github.com/mbd888/fraudwatchdog/internal/metrics"
)

var ErrUnavailable = errors.New("model artifact unavailable")

// Info describes the artifact currently being served.
type Info struct {
	Path      string    `json:"path"`
	Fallback  bool      `json:"fallback"`
	Version   int       `json:"version"`
	Trees     int       `json:"trees"`
	Samples   int       `json:"samples"`
	TrainedAt time.Time `json:"trained_at"`
	LoadedAt  time.Time `json:"loaded_at"`
}

type stamp struct {
	path    string
	size    int64
	modTime time.Time
}

type loaded struct {
	forest *forest.Forest
	info   Info
	stamp  stamp
}

// Loader reads the artifact from its primary path, falling back to the
// secondary path when the primary has never been written.
type Loader struct {
	primary  string
	fallback string
	logger   *slog.Logger

	mu      sync.RWMutex
	current *loaded

	group singleflight.Group
}

// NewLoader creates a loader. fallback may be empty.
func NewLoader(primary, fallback string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{primary: primary, fallback: fallback, logger: logger}
}

// Primary returns the path retrains write to.
func (l *Loader) Primary() string { return l.primary }

// Paths returns the primary and fallback paths.
func (l *Loader) Paths() (string, string) { return l.primary, l.fallback }

// Current returns the forest for the artifact currently on disk.
func (l *Loader) Current(ctx context.Context) (*forest.Forest, Info, error) {
	st, fallback, err := l.resolve()
	if err != nil {
		return nil, Info{}, err
	}

	l.mu.RLock()
	cur := l.current
	l.mu.RUnlock()
	if cur != nil && cur.stamp == st {
		return cur.forest, cur.info, nil
	}

	key := fmt.Sprintf("%s|%d|%d", st.path, st.size, st.modTime.UnixNano())
	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		return l.load(st, fallback)
	})
	if err != nil {
		return nil, Info{}, err
	}
	got := v.(*loaded)
	return got.forest, got.info, nil
}

// Publish writes f to the primary path and serves it immediately.
func (l *Loader) Publish(f *forest.Forest) (Info, error) {
	if err := f.Save(l.primary); err != nil {
		metrics.ArtifactLoadsTotal.WithLabelValues("publish_error").Inc()
		return Info{}, err
	}
	fi, err := os.Stat(l.primary)
	if err != nil {
		return Info{}, fmt.Errorf("stat published artifact: %w", err)
	}
	got := l.install(f, stamp{path: l.primary, size: fi.Size(), modTime: fi.ModTime()}, false)
	metrics.ArtifactLoadsTotal.WithLabelValues("published").Inc()
	return got.info, nil
}

// Invalidate drops the cached forest; the next call rereads the file.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	l.current = nil
	l.mu.Unlock()
}

// Info returns what is cached without touching the disk.
func (l *Loader) Info() (Info, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.current == nil {
		return Info{}, false
	}
	return l.current.info, true
}

func (l *Loader) resolve() (stamp, bool, error) {
	fi, err := os.Stat(l.primary)
	if err == nil {
		return stamp{path: l.primary, size: fi.Size(), modTime: fi.ModTime()}, false, nil
	}
	if !errors.Is(err, fs.ErrNotExist) || l.fallback == "" {
		return stamp{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	fi, ferr := os.Stat(l.fallback)
	if ferr != nil {
		return stamp{}, false, fmt.Errorf("%w: %v", ErrUnavailable, ferr)
	}
	return stamp{path: l.fallback, size: fi.Size(), modTime: fi.ModTime()}, true, nil
}

func (l *Loader) load(st stamp, fallback bool) (*loaded, error) {
	f, err := forest.Load(st.path)
	if err == nil && f.NFeatures != features.Width {
		err = fmt.Errorf("%w: artifact expects %d features, inputs have %d", forest.ErrFormat, f.NFeatures, features.Width)
	}
	if err != nil {
		metrics.ArtifactLoadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	got := l.install(f, st, fallback)
	metrics.ArtifactLoadsTotal.WithLabelValues("loaded").Inc()
	l.logger.Info("model artifact loaded",
		"path", st.path,
		"fallback", fallback,
		"version", f.Meta.Version,
		"trees", len(f.Trees),
	)
	return got, nil
}

func (l *Loader) install(f *forest.Forest, st stamp, fallback bool) *loaded {
	got := &loaded{
		forest: f,
		stamp:  st,
		info: Info{
			Path:      st.path,
			Fallback:  fallback,
			Version:   f.Meta.Version,
			Trees:     len(f.Trees),
			Samples:   f.Meta.Samples,
			TrainedAt: f.Meta.TrainedAt,
			LoadedAt:  time.Now().UTC(),
		},
	}
	l.mu.Lock()
	l.current = got
	l.mu.Unlock()
	metrics.ModelVersion.Set(float64(f.Meta.Version))
	return got
}
