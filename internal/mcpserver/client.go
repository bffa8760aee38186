package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the watchdog API.
type Config struct {
	APIURL  string        // Base URL, e.g. "http://localhost:8080"
	Session string        // X-Session-ID sent with every call
	Timeout time.Duration // per request; retrains can take a while
}

// WatchdogClient is a pure HTTP client for the watchdog API.
type WatchdogClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewWatchdogClient creates a new client for the watchdog API.
func NewWatchdogClient(cfg Config) *WatchdogClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &WatchdogClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *WatchdogClient) doRequest(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.Session != "" {
		req.Header.Set("X-Session-ID", c.cfg.Session)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Transaction is the named-field form of a /predict body.
type Transaction struct {
	Time   float64 `json:"Time"`
	V1     float64 `json:"V1"`
	V2     float64 `json:"V2"`
	Amount float64 `json:"Amount"`
}

// Predict scores one transaction.
func (c *WatchdogClient) Predict(ctx context.Context, tx Transaction, profile string) (json.RawMessage, error) {
	body := map[string]any{
		"Time":   tx.Time,
		"V1":     tx.V1,
		"V2":     tx.V2,
		"Amount": tx.Amount,
	}
	if profile != "" {
		body["profile"] = profile
	}
	return c.doRequest(ctx, http.MethodPost, "/predict", body)
}

// PredictVector scores a complete 30 feature row.
func (c *WatchdogClient) PredictVector(ctx context.Context, vec []float64, profile string) (json.RawMessage, error) {
	body := map[string]any{"features": vec}
	if profile != "" {
		body["profile"] = profile
	}
	return c.doRequest(ctx, http.MethodPost, "/predict", body)
}

// TriggerMLOps runs a synchronous retrain cycle.
func (c *WatchdogClient) TriggerMLOps(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/trigger-mlops", nil)
}

// LiveFeed returns the most recent predictions.
func (c *WatchdogClient) LiveFeed(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/live-feed", nil)
}

// Label records an analyst verdict on a prediction.
func (c *WatchdogClient) Label(ctx context.Context, id, label string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/feedback/"+url.PathEscape(id), map[string]string{"label": label})
}

// Status returns the session's retrain progress.
func (c *WatchdogClient) Status(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/mlops/status", nil)
}
