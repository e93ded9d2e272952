package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wayfinder/internal/traversal"
)

// ─── SelectNextTool ─────────────────────────────────────────────────────────

// SelectNextTool handles the graph_select_next MCP tool.
type SelectNextTool struct {
	sel *traversal.Selector
}

// NewSelectNextTool creates a SelectNextTool backed by the given selector.
func NewSelectNextTool(sel *traversal.Selector) *SelectNextTool {
	return &SelectNextTool{sel: sel}
}

// Definition returns the MCP tool definition for graph_select_next.
func (t *SelectNextTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_select_next",
		mcp.WithDescription(
			"Pick the next edge an agent should traverse out of its current node. "+
				"The traversal stays pending until graph_report_outcome is called for it; "+
				"the agent cannot select again before then. "+
				"Returns status SELECTED, EXHAUSTED (nothing affordable) or SATISFIED (every demand complete).",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Agent making the decision"),
		),
		mcp.WithString("current_node_id",
			mcp.Required(),
			mcp.Description("Node the agent is standing on"),
		),
		mcp.WithString("demands",
			mcp.Required(),
			mcp.Description(`JSON array of demands: [{"id":"d1","embedding":[...],"priority":1,"completeness":0}]`),
		),
		mcp.WithString("emotion",
			mcp.Description("JSON array with the agent's current emotion vector"),
		),
		mcp.WithNumber("budget",
			mcp.Description("Remaining energy; candidates costing more are skipped (default: unbounded)"),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Score and select without executing or reserving the agent (default: false)"),
		),
	)
}

// Handle processes the graph_select_next tool call.
func (t *SelectNextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sreq := traversal.SelectRequest{
		AgentID:       req.GetString("agent_id", ""),
		CurrentNodeID: req.GetString("current_node_id", ""),
		DryRun:        boolArg(req, "dry_run", false),
	}
	if sreq.AgentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	if sreq.CurrentNodeID == "" {
		return mcp.NewToolResultError("'current_node_id' is required"), nil
	}
	if ok, err := jsonArg(req, "demands", &sreq.Demands); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	} else if !ok {
		return mcp.NewToolResultError("'demands' is required"), nil
	}
	if _, err := jsonArg(req, "emotion", &sreq.Emotion); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if b, ok := floatArg(req, "budget"); ok {
		if b < 0 {
			return mcp.NewToolResultError("'budget' must not be negative"), nil
		}
		sreq.Budget = &b
	}

	sel, err := t.sel.SelectNext(ctx, sreq)
	if err != nil {
		return mcp.NewToolResultError(describeTraversalError("select next edge", err)), nil
	}
	return jsonResult(sel)
}

// describeTraversalError turns selector errors into client-facing text.
func describeTraversalError(op string, err error) string {
	switch {
	case errors.Is(err, traversal.ErrOutcomePending):
		return fmt.Sprintf("failed to %s: the previous traversal is still pending; report its outcome first", op)
	case traversal.IsInfra(err):
		return fmt.Sprintf("failed to %s: engine unavailable, retry later: %v", op, err)
	}
	return fmt.Sprintf("failed to %s: %v", op, err)
}
