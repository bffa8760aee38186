package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewWatchdogClient(Config{APIURL: ts.URL, Session: "tab-1"})
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_SendsSessionHeader(t *testing.T) {
	var gotSession string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSession = r.Header.Get("X-Session-ID")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	client := NewWatchdogClient(Config{APIURL: ts.URL, Session: "tab-9"})
	_, err := client.LiveFeed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tab-9", gotSession)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "model_unavailable",
			"message": "model unavailable: model artifact unavailable",
		})
	}))
	defer ts.Close()

	client := NewWatchdogClient(Config{APIURL: ts.URL})
	_, err := client.Predict(context.Background(), Transaction{}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Contains(t, err.Error(), "model unavailable")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewWatchdogClient(Config{APIURL: ts.URL})
	_, err := client.Status(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewWatchdogClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.LiveFeed(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

// ============================================================
// Tool handler tests
// ============================================================

func TestHandlePredictTransaction(t *testing.T) {
	var body map[string]any
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":               "TXN-1767225600-0a1f",
			"status":           "FRAUD",
			"probability":      "0.91",
			"amount":           "250.0",
			"confidence_score": 0.91,
			"mlops_status":     "HIGH_CONFIDENCE",
			"model_version":    3,
		})
	}))
	defer done()

	result, err := h.HandlePredictTransaction(context.Background(), makeRequest(map[string]any{
		"time": 1000.0, "v1": -3.2, "v2": 2.1, "amount": 250.0, "profile": "v2",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "Verdict: FRAUD")
	assert.Contains(t, text, "TXN-1767225600-0a1f")
	assert.Contains(t, text, "Model version: 3")
	assert.Equal(t, -3.2, body["V1"])
	assert.Equal(t, "v2", body["profile"])
}

func TestHandlePredictTransaction_MissingField(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("API must not be called")
	}))
	defer done()

	result, err := h.HandlePredictTransaction(context.Background(), makeRequest(map[string]any{
		"time": 1000.0, "v1": 1.0, "v2": 2.0,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "amount is required")
}

func TestHandleTriggerMLOps(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/trigger-mlops", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":         "success",
			"message":        "Global Model Updated!",
			"version":        2,
			"maturity":       11,
			"threats_caught": 1,
			"new_samples":    50,
			"vcs_error":      "git push: rejected",
		})
	}))
	defer done()

	result, err := h.HandleTriggerMLOps(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Global Model Updated!")
	assert.Contains(t, text, "Version: 2")
	assert.Contains(t, text, "Maturity: 11%")
	assert.Contains(t, text, "not pushed")
}

func TestHandleTriggerMLOps_Failure(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "vcs_failed", "message": "version control: push rejected"})
	}))
	defer done()

	result, err := h.HandleTriggerMLOps(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "push rejected")
}

func TestHandleGetLiveFeed(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"id": "TXN-3", "status": "Safe", "probability": 0.01, "amount": 5},
			{"id": "TXN-2", "status": "FRAUD", "probability": 0.8, "amount": 900, "label": "fraud"},
			{"id": "TXN-1", "status": "Safe", "probability": 0.02, "amount": 7},
		})
	}))
	defer done()

	result, err := h.HandleGetLiveFeed(context.Background(), makeRequest(map[string]any{"limit": 2.0}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Last 2 transaction(s)")
	assert.Contains(t, text, "TXN-2 FRAUD p=0.8000 amount=900 labeled=fraud")
	assert.NotContains(t, text, "TXN-1")
}

func TestHandleGetLiveFeed_Empty(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer done()

	result, err := h.HandleGetLiveFeed(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No transactions scored yet.", resultText(t, result))
}

func TestHandleLabelTransaction(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/feedback/TXN-1-abcd", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "legit", body["label"])
		writeJSON(w, http.StatusOK, map[string]any{
			"event": map[string]any{"id": "TXN-1-abcd", "label": "legit", "status": "REQUIRES_HUMAN_REVIEW"},
		})
	}))
	defer done()

	result, err := h.HandleLabelTransaction(context.Background(), makeRequest(map[string]any{
		"id": "TXN-1-abcd", "label": "legit",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Labeled TXN-1-abcd as legit (model said REQUIRES_HUMAN_REVIEW).", resultText(t, result))
}

func TestHandleLabelTransaction_MissingArgs(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer done()

	result, err := h.HandleLabelTransaction(context.Background(), makeRequest(map[string]any{"id": "TXN-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "label is required")
}

func TestHandleGetMLOpsStatus(t *testing.T) {
	h, done := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tab-1", r.Header.Get("X-Session-ID"))
		writeJSON(w, http.StatusOK, map[string]any{
			"session":        "tab-1",
			"progress":       map[string]any{"version": 4, "maturity": 33, "threats_caught": 3},
			"retrain_active": true,
		})
	}))
	defer done()

	result, err := h.HandleGetMLOpsStatus(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Session: tab-1")
	assert.Contains(t, text, "Version: 4")
	assert.Contains(t, text, "Threats caught: 3")
	assert.Contains(t, text, "retrain is running")
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080"}, "test")
	require.NotNil(t, s)
}
