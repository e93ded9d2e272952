package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wayfinder/internal/traversal"
)

// ─── ReportOutcomeTool ──────────────────────────────────────────────────────

// ReportOutcomeTool handles the graph_report_outcome MCP tool.
type ReportOutcomeTool struct {
	sel *traversal.Selector
}

// NewReportOutcomeTool creates a ReportOutcomeTool backed by the given selector.
func NewReportOutcomeTool(sel *traversal.Selector) *ReportOutcomeTool {
	return &ReportOutcomeTool{sel: sel}
}

// Definition returns the MCP tool definition for graph_report_outcome.
func (t *ReportOutcomeTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_report_outcome",
		mcp.WithDescription(
			"Report how a pending traversal went. Updates the agent's affinity for the edge immediately "+
				"and queues a shared weight signal. Use abandon=true to drop the pending traversal without learning.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Agent that made the traversal"),
		),
		mcp.WithString("edge_id",
			mcp.Description("Edge returned by graph_select_next (required unless abandoning)"),
		),
		mcp.WithString("outcome",
			mcp.Description("One of: useful, neutral, unhelpful (required unless abandoning)"),
		),
		mcp.WithBoolean("abandon",
			mcp.Description("Release the agent without learning (default: false)"),
		),
	)
}

// Handle processes the graph_report_outcome tool call.
func (t *ReportOutcomeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agentID := req.GetString("agent_id", "")
	if agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}

	if boolArg(req, "abandon", false) {
		if !t.sel.Abandon(agentID) {
			return mcp.NewToolResultError("agent " + agentID + " has no pending traversal"), nil
		}
		return mcp.NewToolResultText("Pending traversal of " + agentID + " abandoned."), nil
	}

	edgeID := req.GetString("edge_id", "")
	if edgeID == "" {
		return mcp.NewToolResultError("'edge_id' is required"), nil
	}
	outcome, err := traversal.ParseOutcome(req.GetString("outcome", ""))
	if err != nil {
		return mcp.NewToolResultError("'outcome' must be one of: useful, neutral, unhelpful"), nil
	}

	rc, err := t.sel.ReportOutcome(ctx, agentID, edgeID, outcome)
	if err != nil {
		return mcp.NewToolResultError(describeTraversalError("report outcome", err)), nil
	}
	return jsonResult(rc)
}
