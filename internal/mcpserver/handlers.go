package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *WatchdogClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *WatchdogClient) *Handlers {
	return &Handlers{client: client}
}

// HandlePredictTransaction scores one transaction.
func (h *Handlers) HandlePredictTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var tx Transaction
	for _, f := range []struct {
		key string
		dst *float64
	}{{"time", &tx.Time}, {"v1", &tx.V1}, {"v2", &tx.V2}, {"amount", &tx.Amount}} {
		v, err := req.RequireFloat(f.key)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s is required", f.key)), nil
		}
		*f.dst = v
	}

	raw, err := h.client.Predict(ctx, tx, req.GetString("profile", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to score transaction: %v", err)), nil
	}

	text, err := formatPrediction(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse prediction: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleTriggerMLOps runs a retrain cycle.
func (h *Handlers) HandleTriggerMLOps(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.TriggerMLOps(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Retrain failed: %v", err)), nil
	}

	text, err := formatRetrain(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse retrain result: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleGetLiveFeed lists recent predictions.
func (h *Handlers) HandleGetLiveFeed(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.LiveFeed(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load live feed: %v", err)), nil
	}

	text, err := formatFeed(raw, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse live feed: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleLabelTransaction records a human verdict.
func (h *Handlers) HandleLabelTransaction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("id", "")
	if id == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	label := req.GetString("label", "")
	if label == "" {
		return mcp.NewToolResultError("label is required"), nil
	}

	raw, err := h.client.Label(ctx, id, label)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to label transaction: %v", err)), nil
	}

	var resp struct {
		Event map[string]any `json:"event"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Event == nil {
		return mcp.NewToolResultError("Failed to parse label response"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Labeled %s as %s (model said %s).",
		getString(resp.Event, "id"), getString(resp.Event, "label"), getString(resp.Event, "status"))), nil
}

// HandleGetMLOpsStatus reports retrain progress.
func (h *Handlers) HandleGetMLOpsStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.Status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to load status: %v", err)), nil
	}

	text, err := formatStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse status: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting ---

func formatPrediction(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Verdict: %s\n", getString(m, "status"))
	fmt.Fprintf(&sb, "  Transaction: %s\n", getString(m, "id"))
	fmt.Fprintf(&sb, "  Fraud probability: %s\n", getString(m, "probability"))
	fmt.Fprintf(&sb, "  Amount: %s\n", getString(m, "amount"))
	if v := getString(m, "mlops_status"); v != "" {
		fmt.Fprintf(&sb, "  Model confidence: %s (%s)\n", getString(m, "confidence_score"), v)
	}
	if v := getString(m, "model_version"); v != "" {
		fmt.Fprintf(&sb, "  Model version: %s\n", v)
	}
	return sb.String(), nil
}

func formatRetrain(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(getString(m, "message") + "\n")
	fmt.Fprintf(&sb, "  Version: %s\n", getString(m, "version"))
	fmt.Fprintf(&sb, "  Maturity: %s%%\n", getString(m, "maturity"))
	fmt.Fprintf(&sb, "  Threats caught: %s\n", getString(m, "threats_caught"))
	if v := getString(m, "new_samples"); v != "" {
		fmt.Fprintf(&sb, "  New samples: %s\n", v)
	}
	if v := getString(m, "vcs_error"); v != "" {
		fmt.Fprintf(&sb, "  Warning: model saved but not pushed: %s\n", v)
	}
	return sb.String(), nil
}

func formatFeed(raw json.RawMessage, limit int) (string, error) {
	var feed []map[string]any
	if err := json.Unmarshal(raw, &feed); err != nil {
		return "", fmt.Errorf("unexpected live feed format")
	}
	if len(feed) == 0 {
		return "No transactions scored yet.", nil
	}
	if limit > 0 && len(feed) > limit {
		feed = feed[:limit]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d transaction(s):\n\n", len(feed))
	for i, e := range feed {
		p, _ := getFloat(e, "probability")
		fmt.Fprintf(&sb, "%d. %s %s p=%.4f amount=%s", i+1, getString(e, "id"), getString(e, "status"), p, getString(e, "amount"))
		if l := getString(e, "label"); l != "" {
			fmt.Fprintf(&sb, " labeled=%s", l)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatStatus(raw json.RawMessage) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	progress, _ := m["progress"].(map[string]any)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s\n", getString(m, "session"))
	fmt.Fprintf(&sb, "  Version: %s\n", getString(progress, "version"))
	fmt.Fprintf(&sb, "  Maturity: %s%%\n", getString(progress, "maturity"))
	fmt.Fprintf(&sb, "  Threats caught: %s\n", getString(progress, "threats_caught"))
	if active, _ := m["retrain_active"].(bool); active {
		sb.WriteString("  A retrain is running now.\n")
	}
	return sb.String(), nil
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
