// Fraud Watchdog - transaction scoring API with human-in-the-loop retraining
package main

import (
	"context"
	"os"

	"github.com/mbd888/fraudwatchdog/internal/config"
	"github.com/mbd888/fraudwatchdog/internal/logging"
	"github.com/mbd888/fraudwatchdog/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting fraudwatchdog",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Re-create the logger now that level and format are known.
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"storage", cfg.StorageBackend(),
		"model", cfg.ModelPath,
		"profile", cfg.ThresholdProfile,
		"vcs", cfg.VCSEnabled,
	)

	if Version != "dev" {
		server.Version = Version
	}

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
