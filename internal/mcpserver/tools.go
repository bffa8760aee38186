package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the watchdog MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolPredictTransaction = mcp.NewTool("predict_transaction",
	mcp.WithDescription(
		"Score a card transaction for fraud. Returns FRAUD, REQUIRES_HUMAN_REVIEW or Safe "+
			"with the model's fraud probability and a transaction id you can label later."),
	mcp.WithNumber("time",
		mcp.Required(),
		mcp.Description("Transaction time in milliseconds")),
	mcp.WithNumber("v1",
		mcp.Required(),
		mcp.Description("First anonymized PCA component")),
	mcp.WithNumber("v2",
		mcp.Required(),
		mcp.Description("Second anonymized PCA component")),
	mcp.WithNumber("amount",
		mcp.Required(),
		mcp.Description("Transaction amount")),
	mcp.WithString("profile",
		mcp.Description("Threshold profile to classify with (e.g. 'v1', 'v2', 'v3'). Defaults to the server's profile.")),
)

var ToolTriggerMLOps = mcp.NewTool("trigger_mlops",
	mcp.WithDescription(
		"Retrain the global fraud model on the latest pattern, synthetic fraud and labeled feedback, "+
			"then publish it. Blocks until the cycle finishes and reports the new version."),
)

var ToolGetLiveFeed = mcp.NewTool("get_live_feed",
	mcp.WithDescription(
		"List the most recent scored transactions, newest first, with their verdicts and labels."),
	mcp.WithNumber("limit",
		mcp.Description("Show at most this many entries (default 20)")),
)

var ToolLabelTransaction = mcp.NewTool("label_transaction",
	mcp.WithDescription(
		"Record a human verdict on a scored transaction. Labeled transactions are learned from on the next retrain."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Transaction id from predict_transaction or get_live_feed (e.g. 'TXN-1767225600-0a1f')")),
	mcp.WithString("label",
		mcp.Required(),
		mcp.Description("Whether the transaction was fraud"),
		mcp.Enum("fraud", "legit")),
)

var ToolGetMLOpsStatus = mcp.NewTool("get_mlops_status",
	mcp.WithDescription(
		"Show retrain progress for this session: model version, maturity, threats caught and whether a retrain is running."),
)
