// Fraud Watchdog MCP Server - exposes scoring and retraining as MCP tools for LLMs
package main

import (
	"os"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mbd888/fraudwatchdog/internal/logging"
	"github.com/mbd888/fraudwatchdog/internal/mcpserver"
)

// Version is set by ldflags.
var Version = "dev"

func main() {
	// stdout carries the protocol.
	logger := logging.NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"), "text")

	cfg := mcpserver.Config{
		APIURL:  envOrDefault("WATCHDOG_API_URL", "http://localhost:8080"),
		Session: envOrDefault("WATCHDOG_SESSION", "mcp"),
	}
	if v := os.Getenv("WATCHDOG_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			logger.Error("invalid WATCHDOG_TIMEOUT", "value", v, "error", err)
			os.Exit(1)
		}
		cfg.Timeout = d
	}

	logger.Info("starting MCP server", "api", cfg.APIURL, "session", cfg.Session)
	s := mcpserver.NewMCPServer(cfg, Version)
	if err := server.ServeStdio(s); err != nil {
		logger.Error("MCP server error", "error", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
