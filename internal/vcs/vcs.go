// Package vcs publishes retrained artifacts by committing and pushing them
// with the git command line.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/mbd888/fraudwatchdog/internal/circuitbreaker"
	"github.com/mbd888/fraudwatchdog/internal/metrics"
	"github.com/mbd888/fraudwatchdog/internal/retry"
)

var (
	ErrGit      = errors.New("git command failed")
	ErrRejected = errors.New("push rejected by remote")
)

// DefaultCommitMessage is used when the caller passes an empty message.
const DefaultCommitMessage = "MLOps: Retraining based on human feedback"

// Result describes what a publish did.
type Result struct {
	Committed bool   `json:"committed"`
	Pushed    bool   `json:"pushed"`
	Commit    string `json:"commit,omitempty"`
	Remote    string `json:"remote,omitempty"`
	Branch    string `json:"branch,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// Publisher commits and pushes the working tree.
type Publisher interface {
	Publish(ctx context.Context, message string) (*Result, error)
}

// NopPublisher is used when version control is disabled.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string) (*Result, error) {
	metrics.VCSPublishTotal.WithLabelValues("skipped").Inc()
	return &Result{Skipped: true}, nil
}

// Runner executes git with args in dir and returns combined output.
type Runner func(ctx context.Context, dir string, args ...string) (string, error)

// ExecRunner runs the real git binary. Terminal prompts are disabled so a
// missing credential fails fast instead of hanging the request.
func ExecRunner(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...) // #nosec G204 -- args are built by this package
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if err != nil {
		return output, fmt.Errorf("%w: git %s: %v: %s", ErrGit, args[0], err, output)
	}
	return output, nil
}

// GitConfig configures a GitPublisher.
type GitConfig struct {
	RepoDir      string
	Remote       string
	Branch       string
	Paths        []string // passed to git add; defaults to "."
	Timeout      time.Duration
	PushAttempts int
	PushBackoff  time.Duration
}

func (c GitConfig) withDefaults() GitConfig {
	if c.RepoDir == "" {
		c.RepoDir = "."
	}
	if c.Remote == "" {
		c.Remote = "origin"
	}
	if c.Branch == "" {
		c.Branch = "main"
	}
	if len(c.Paths) == 0 {
		c.Paths = []string{"."}
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.PushAttempts <= 0 {
		c.PushAttempts = 3
	}
	if c.PushBackoff <= 0 {
		c.PushBackoff = time.Second
	}
	return c
}

// GitPublisher runs git add, commit and push in a repository.
type GitPublisher struct {
	cfg     GitConfig
	run     Runner
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// Option configures a GitPublisher.
type Option func(*GitPublisher)

// WithRunner replaces the git executor.
func WithRunner(r Runner) Option {
	return func(g *GitPublisher) { g.run = r }
}

// WithBreaker replaces the push circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(g *GitPublisher) { g.breaker = b }
}

// NewGitPublisher creates a publisher for cfg.RepoDir.
func NewGitPublisher(cfg GitConfig, logger *slog.Logger, opts ...Option) *GitPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	g := &GitPublisher{
		cfg:     cfg.withDefaults(),
		run:     ExecRunner,
		breaker: circuitbreaker.New(3, 5*time.Minute),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

var _ Publisher = (*GitPublisher)(nil)

// Publish stages the configured paths, commits with message and pushes to
// the configured remote and branch. An empty index is not an error; the
// push still runs so earlier unpushed commits go out.
func (g *GitPublisher) Publish(ctx context.Context, message string) (*Result, error) {
	if message == "" {
		message = DefaultCommitMessage
	}
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	res := &Result{Remote: g.cfg.Remote, Branch: g.cfg.Branch}

	if _, err := g.run(ctx, g.cfg.RepoDir, append([]string{"add", "--"}, g.cfg.Paths...)...); err != nil {
		metrics.VCSPublishTotal.WithLabelValues("failed").Inc()
		return res, err
	}

	out, err := g.run(ctx, g.cfg.RepoDir, "commit", "-m", message)
	switch {
	case err == nil:
		res.Committed = true
	case nothingToCommit(out):
		g.logger.Info("vcs: nothing to commit", "repo", g.cfg.RepoDir)
	default:
		metrics.VCSPublishTotal.WithLabelValues("failed").Inc()
		return res, err
	}

	if sha, err := g.run(ctx, g.cfg.RepoDir, "rev-parse", "HEAD"); err == nil {
		res.Commit = sha
	}

	err = g.breaker.Execute(g.cfg.Remote, func() error {
		return g.push(ctx)
	})
	if err != nil {
		result := "failed"
		if errors.Is(err, circuitbreaker.ErrOpen) {
			result = "circuit_open"
			err = fmt.Errorf("push to %s skipped: %w", g.cfg.Remote, err)
		}
		metrics.VCSPublishTotal.WithLabelValues(result).Inc()
		return res, err
	}
	res.Pushed = true
	metrics.VCSPublishTotal.WithLabelValues("pushed").Inc()
	g.logger.Info("vcs: pushed",
		"remote", g.cfg.Remote,
		"branch", g.cfg.Branch,
		"commit", res.Commit,
		"committed", res.Committed,
	)
	return res, nil
}

func (g *GitPublisher) push(ctx context.Context) error {
	policy := retry.Policy{
		MaxAttempts: g.cfg.PushAttempts,
		BaseDelay:   g.cfg.PushBackoff,
		MaxDelay:    30 * time.Second,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			g.logger.Warn("vcs: push failed, retrying", "attempt", attempt, "wait", wait, "error", err)
		},
	}
	return policy.Do(ctx, func(int) error {
		out, err := g.run(ctx, g.cfg.RepoDir, "push", g.cfg.Remote, g.cfg.Branch)
		if err == nil {
			return nil
		}
		if rejected(out) {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrRejected, err))
		}
		return err
	})
}

func nothingToCommit(out string) bool {
	return strings.Contains(out, "nothing to commit") ||
		strings.Contains(out, "nothing added to commit") ||
		strings.Contains(out, "no changes added to commit")
}

// rejected reports push failures that retrying will not fix.
func rejected(out string) bool {
	for _, s := range []string{"[rejected]", "non-fast-forward", "Authentication failed", "Permission denied", "does not appear to be a git repository"} {
		if strings.Contains(out, s) {
			return true
		}
	}
	return false
}
