// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/fraudwatchdog/internal/config"
	"github.com/mbd888/fraudwatchdog/internal/dbutil"
	"github.com/mbd888/fraudwatchdog/internal/events"
	"github.com/mbd888/fraudwatchdog/internal/features"
	"github.com/mbd888/fraudwatchdog/internal/health"
	"github.com/mbd888/fraudwatchdog/internal/idgen"
	"github.com/mbd888/fraudwatchdog/internal/inference"
	"github.com/mbd888/fraudwatchdog/internal/logging"
	"github.com/mbd888/fraudwatchdog/internal/metrics"
	"github.com/mbd888/fraudwatchdog/internal/mlops"
	"github.com/mbd888/fraudwatchdog/internal/model"
	"github.com/mbd888/fraudwatchdog/internal/ratelimit"
	"github.com/mbd888/fraudwatchdog/internal/realtime"
	"github.com/mbd888/fraudwatchdog/internal/security"
	"github.com/mbd888/fraudwatchdog/internal/traces"
	"github.com/mbd888/fraudwatchdog/internal/validation"
	"github.com/mbd888/fraudwatchdog/internal/vcs"
	"github.com/mbd888/fraudwatchdog/internal/verdict"
)

// Version is reported by /health and stamped on traces.
var Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	db           *sql.DB // nil if using in-memory
	events       events.Store
	sessions     mlops.SessionStore
	loader       *model.Loader
	modelWatcher *model.Watcher
	publisher    vcs.Publisher
	noise        features.Noise
	inference    *inference.Service
	mlops        *mlops.Service
	retrainer    *mlops.Retrainer
	retrainTimer *mlops.Timer
	realtimeHub  *realtime.Hub
	health       *health.Registry
	readiness    *health.Registry
	rateLimiter  *ratelimit.Limiter
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run
	stopTracing  func(context.Context) error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPublisher replaces the version control publisher (for testing)
func WithPublisher(p vcs.Publisher) Option {
	return func(s *Server) {
		s.publisher = p
	}
}

// WithNoise replaces the feature noise source (for testing)
func WithNoise(n features.Noise) Option {
	return func(s *Server) {
		s.noise = n
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (_ *Server, err error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if err := s.openStorage(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			s.release(ctx)
		}
	}()

	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, s.logger)
	if err != nil {
		s.logger.Warn("tracing disabled", "error", err)
	} else {
		s.stopTracing = stopTracing
	}

	// Model artifact
	s.loader = model.NewLoader(cfg.ModelPath, cfg.FallbackModelPath, s.logger)
	if cfg.WatchModel {
		w, err := model.NewWatcher(s.loader, s.logger)
		if err != nil {
			s.logger.Warn("model watcher disabled", "error", err)
		} else {
			s.modelWatcher = w
		}
	}
	if _, info, err := s.loader.Current(ctx); err != nil {
		// Predictions fail with model_unavailable until an artifact appears.
		s.logger.Warn("no model artifact yet", "error", err)
	} else {
		s.logger.Info("model loaded", "version", info.Version, "path", info.Path, "fallback", info.Fallback)
	}

	// Threshold profiles
	profiles := verdict.NewProfiles()
	if cfg.ThresholdsFile != "" {
		if err := profiles.LoadFile(cfg.ThresholdsFile); err != nil {
			return nil, fmt.Errorf("load threshold profiles: %w", err)
		}
	}
	if _, err := profiles.Get(cfg.ThresholdProfile); err != nil {
		return nil, fmt.Errorf("threshold profile: %w", err)
	}

	// Version control
	if s.publisher == nil {
		if cfg.VCSEnabled {
			s.publisher = vcs.NewGitPublisher(vcs.GitConfig{
				RepoDir:      cfg.RepoDir,
				Remote:       cfg.GitRemote,
				Branch:       cfg.GitBranch,
				Paths:        cfg.GitPaths,
				Timeout:      cfg.GitTimeout,
				PushAttempts: cfg.GitPushAttempts,
			}, s.logger)
			s.logger.Info("version control enabled", "repo", cfg.RepoDir, "remote", cfg.GitRemote, "branch", cfg.GitBranch)
		} else {
			s.publisher = vcs.NopPublisher{}
		}
	}

	// Realtime hub for the live feed websocket
	s.realtimeHub = realtime.NewHub(s.logger, cfg.AllowedOrigins...)

	// Retraining
	policy, err := mlops.ParseVCSPolicy(cfg.VCSFailurePolicy)
	if err != nil {
		return nil, err
	}
	trainerCfg := mlops.DefaultTrainerConfig()
	trainerCfg.CSVPath = cfg.TrainingCSV
	trainerCfg.CSVMaxRows = cfg.TrainingCSVRows
	trainerCfg.Seed = cfg.RetrainSeed
	trainerCfg.Forest.NEstimators = cfg.RetrainTrees
	trainerCfg.Forest.Seed = cfg.RetrainSeed

	s.mlops = mlops.NewService(s.sessions, s.events, s.loader, mlops.NewTrainer(trainerCfg), s.publisher, mlops.Config{
		TrainLogPath:  cfg.TrainLogPath,
		CommitMessage: cfg.GitCommitMessage,
		VCSPolicy:     policy,
	}, s.logger).WithHub(s.realtimeHub)
	s.retrainer = mlops.NewRetrainer(s.mlops, s.logger).WithTimeout(cfg.RetrainJobTimeout)
	if cfg.RetrainInterval > 0 {
		s.retrainTimer = mlops.NewTimer(s.retrainer, mlops.DefaultSession, cfg.RetrainInterval, s.logger)
		s.logger.Info("periodic retraining enabled", "interval", cfg.RetrainInterval)
	}

	// Inference
	s.inference = inference.NewService(s.loader, s.events, s.mlops, profiles, s.noise, inference.Config{
		NoiseStdDev: cfg.NoiseStdDev,
		Profile:     cfg.ThresholdProfile,
	}, s.logger).WithHub(s.realtimeHub)

	// Health. Readiness needs what a prediction needs: a model and storage.
	s.health = health.NewRegistry()
	s.readiness = health.NewRegistry()
	for _, r := range []*health.Registry{s.health, s.readiness} {
		r.Register("model", health.Model(s.loader))
		if s.db != nil {
			r.Register("database", health.DB("database", s.db))
		}
	}
	s.health.Register("retrainer", health.Worker("retrainer", s.retrainer.Running))

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// openStorage picks Postgres, SQLite or in-memory stores from config.
func (s *Server) openStorage(ctx context.Context) error {
	switch s.cfg.StorageBackend() {
	case "postgres":
		db, err := dbutil.OpenPostgres(ctx, s.cfg.DatabaseURL)
		if err != nil {
			return err
		}
		s.db = db
		store := events.NewPostgresStore(db)
		sessions := mlops.NewPostgresSessionStore(db)
		if err := migrate(ctx, store, sessions); err != nil {
			_ = db.Close()
			return err
		}
		s.events, s.sessions = store, sessions
		s.logger.Info("using PostgreSQL storage", "url", dbutil.MaskDSN(s.cfg.DatabaseURL))
	case "sqlite":
		db, err := dbutil.OpenSQLite(ctx, s.cfg.SQLitePath)
		if err != nil {
			return err
		}
		s.db = db
		store := events.NewSQLiteStore(db)
		sessions := mlops.NewSQLiteSessionStore(db)
		if err := migrate(ctx, store, sessions); err != nil {
			_ = db.Close()
			return err
		}
		s.events, s.sessions = store, sessions
		s.logger.Info("using SQLite storage", "path", s.cfg.SQLitePath)
	default:
		s.events = events.NewMemoryStore(s.cfg.EventBuffer)
		s.sessions = mlops.NewMemorySessionStore(s.cfg.SessionCapacity)
		s.logger.Info("using in-memory storage", "buffer", s.cfg.EventBuffer)
	}
	return nil
}

type migrator interface {
	Migrate(ctx context.Context) error
}

func migrate(ctx context.Context, stores ...migrator) error {
	for _, m := range stores {
		if err := m.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request ID first so every later log line carries it
	s.router.Use(s.requestIDMiddleware())

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
		rlCfg.BurstSize = max(rlCfg.BurstSize, s.cfg.RateLimitRPM/10)
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := validation.SanitizeString(c.GetHeader("X-Request-ID"), validation.MaxIDLength)
		if requestID == "" {
			requestID = idgen.RequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for the live feed
	s.router.GET("/live-feed/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	inference.NewHandler(s.inference).RegisterRoutes(s.router)
	mlops.NewHandler(s.mlops, s.retrainer).RegisterRoutes(s.router)
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Storage   string          `json:"storage"`
	Checks    []health.Status `json:"checks"`
	Realtime  interface{}     `json:"realtime,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Storage:   s.cfg.StorageBackend(),
		Checks:    checks,
		Realtime:  s.realtimeHub.Stats(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if ok, checks := s.readiness.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Background goroutines stop when Shutdown cancels this context.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// A synchronous retrain holds the connection for the whole cycle.
		WriteTimeout: s.cfg.RetrainJobTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"storage", s.cfg.StorageBackend(),
			"profile", s.cfg.ThresholdProfile,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	s.startBackground(runCtx)

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// startBackground launches the hub, workers and watchers.
func (s *Server) startBackground(ctx context.Context) {
	go s.realtimeHub.Run(ctx)
	go s.retrainer.Start(ctx)
	if s.retrainTimer != nil {
		go s.retrainTimer.Start(ctx)
	}
	if s.modelWatcher != nil {
		if err := s.modelWatcher.Start(ctx); err != nil {
			s.logger.Error("failed to start model watcher", "error", err)
		}
	}
	go metrics.StartDBStatsCollector(ctx, s.db, 15*time.Second)
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.retrainTimer != nil {
		s.retrainTimer.Stop()
		s.logger.Info("retrain timer stopped")
	}
	s.retrainer.Stop()

	if s.modelWatcher != nil {
		s.modelWatcher.Stop()
		s.logger.Info("model watcher stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// release frees what New acquired when construction fails part way.
func (s *Server) release(ctx context.Context) {
	if s.modelWatcher != nil {
		s.modelWatcher.Stop()
	}
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
