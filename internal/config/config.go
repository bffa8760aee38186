// Package config handles application configuration from environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Storage. Postgres wins when both are set; neither means in-memory.
	DatabaseURL     string
	SQLitePath      string
	EventBuffer     int // in-memory feed capacity
	SessionCapacity int // in-memory session limit

	// Model artifact
	ModelPath         string
	FallbackModelPath string
	WatchModel        bool

	// Inference
	NoiseStdDev      float64
	ThresholdProfile string
	ThresholdsFile   string // optional YAML with extra profiles

	// Retraining
	TrainLogPath      string
	TrainingCSV       string
	TrainingCSVRows   int
	RetrainTrees      int
	RetrainSeed       uint64
	RetrainInterval   time.Duration // 0 disables the periodic retrain
	RetrainJobTimeout time.Duration

	// Version control
	VCSEnabled       bool
	VCSFailurePolicy string // "report" or "swallow"
	RepoDir          string
	GitRemote        string
	GitBranch        string
	GitPaths         []string
	GitCommitMessage string
	GitTimeout       time.Duration
	GitPushAttempts  int

	// HTTP surface
	RateLimitRPM   int
	AllowedOrigins []string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"
	DefaultModelPath         = "backend/model/fraud_v2.pkl.json"
	DefaultFallbackModelPath = "backend/model/fraud_v1.pkl.json"
	DefaultTrainLogPath      = "backend/model/last_train_log.txt"
	DefaultNoiseStdDev       = 1.5
	DefaultThresholdProfile  = "v1"
	DefaultEventBuffer       = 1000
	DefaultSessionCapacity   = 10000
	DefaultTrainingCSVRows   = 50000
	DefaultRetrainTrees      = 100
	DefaultRetrainSeed       = 42
	DefaultRateLimit         = 100
	DefaultGitRemote         = "origin"
	DefaultGitBranch         = "main"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:         getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		SQLitePath:        os.Getenv("SQLITE_PATH"),
		EventBuffer:       int(getEnvInt64("EVENT_BUFFER", DefaultEventBuffer)),
		SessionCapacity:   int(getEnvInt64("SESSION_CAPACITY", DefaultSessionCapacity)),
		ModelPath:         getEnv("MODEL_PATH", DefaultModelPath),
		FallbackModelPath: getEnv("FALLBACK_MODEL_PATH", DefaultFallbackModelPath),
		WatchModel:        getEnvBool("MODEL_WATCH", true),
		NoiseStdDev:       getEnvFloat("NOISE_STDDEV", DefaultNoiseStdDev),
		ThresholdProfile:  getEnv("THRESHOLD_PROFILE", DefaultThresholdProfile),
		ThresholdsFile:    os.Getenv("THRESHOLDS_FILE"),
		TrainLogPath:      getEnv("TRAIN_LOG_PATH", DefaultTrainLogPath),
		TrainingCSV:       os.Getenv("TRAINING_CSV"),
		TrainingCSVRows:   int(getEnvInt64("TRAINING_CSV_MAX_ROWS", DefaultTrainingCSVRows)),
		RetrainTrees:      int(getEnvInt64("RETRAIN_TREES", DefaultRetrainTrees)),
		RetrainSeed:       uint64(getEnvInt64("RETRAIN_SEED", DefaultRetrainSeed)),
		RetrainInterval:   getEnvDuration("RETRAIN_INTERVAL", 0),
		RetrainJobTimeout: getEnvDuration("RETRAIN_JOB_TIMEOUT", 10*time.Minute),
		VCSEnabled:        getEnvBool("VCS_ENABLED", true),
		VCSFailurePolicy:  getEnv("VCS_FAILURE_POLICY", "report"),
		RepoDir:           getEnv("REPO_DIR", "."),
		GitRemote:         getEnv("GIT_REMOTE", DefaultGitRemote),
		GitBranch:         getEnv("GIT_BRANCH", DefaultGitBranch),
		GitPaths:          getEnvList("GIT_PATHS", []string{"."}),
		GitCommitMessage:  os.Getenv("GIT_COMMIT_MESSAGE"),
		GitTimeout:        getEnvDuration("GIT_TIMEOUT", 60*time.Second),
		GitPushAttempts:   int(getEnvInt64("GIT_PUSH_ATTEMPTS", 3)),
		RateLimitRPM:      int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		AllowedOrigins:    getEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is usable
func (c *Config) Validate() error {
	var errs []error
	if _, err := strconv.Atoi(c.Port); err != nil {
		errs = append(errs, fmt.Errorf("PORT must be numeric, got %q", c.Port))
	}
	if c.ModelPath == "" {
		errs = append(errs, errors.New("MODEL_PATH is required"))
	}
	if c.NoiseStdDev <= 0 {
		errs = append(errs, fmt.Errorf("NOISE_STDDEV must be positive, got %v", c.NoiseStdDev))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, fmt.Errorf("EVENT_BUFFER must be positive, got %d", c.EventBuffer))
	}
	if c.SessionCapacity <= 0 {
		errs = append(errs, fmt.Errorf("SESSION_CAPACITY must be positive, got %d", c.SessionCapacity))
	}
	if c.RetrainTrees <= 0 {
		errs = append(errs, fmt.Errorf("RETRAIN_TREES must be positive, got %d", c.RetrainTrees))
	}
	if c.RetrainInterval < 0 {
		errs = append(errs, errors.New("RETRAIN_INTERVAL must not be negative"))
	}
	switch c.VCSFailurePolicy {
	case "report", "swallow":
	default:
		errs = append(errs, fmt.Errorf("VCS_FAILURE_POLICY must be report or swallow, got %q", c.VCSFailurePolicy))
	}
	if c.VCSEnabled && (c.GitRemote == "" || c.GitBranch == "") {
		errs = append(errs, errors.New("GIT_REMOTE and GIT_BRANCH are required when VCS_ENABLED"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// StorageBackend names the store the server will open.
func (c *Config) StorageBackend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "memory"
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
