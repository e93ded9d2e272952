package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wayfinder/internal/traversal"
)

// ─── ActivationTool ─────────────────────────────────────────────────────────

// ActivationTool handles the graph_set_activation MCP tool.
type ActivationTool struct {
	act *traversal.Activation
}

// NewActivationTool creates an ActivationTool for the given activation state.
func NewActivationTool(act *traversal.Activation) *ActivationTool {
	return &ActivationTool{act: act}
}

// Definition returns the MCP tool definition for graph_set_activation.
func (t *ActivationTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_set_activation",
		mcp.WithDescription(
			"Stage the system-wide or per-agent activation level. Values are clamped to [0, max]. "+
				"Staged values take effect on the next tick; publish=true makes them visible immediately.",
		),
		mcp.WithNumber("global",
			mcp.Description("System-wide activation"),
		),
		mcp.WithString("agent_id",
			mcp.Description("Agent whose activation is set by 'agent'"),
		),
		mcp.WithNumber("agent",
			mcp.Description("Activation for agent_id"),
		),
		mcp.WithBoolean("publish",
			mcp.Description("Publish staged values now instead of on the next tick (default: false)"),
		),
	)
}

// Handle processes the graph_set_activation tool call.
func (t *ActivationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	global, hasGlobal := floatArg(req, "global")
	agentLevel, hasAgent := floatArg(req, "agent")
	agentID := req.GetString("agent_id", "")

	if !hasGlobal && !hasAgent {
		return mcp.NewToolResultError("provide 'global', 'agent' or both"), nil
	}
	if hasAgent && agentID == "" {
		return mcp.NewToolResultError("'agent_id' is required when setting 'agent'"), nil
	}

	if hasGlobal {
		t.act.SetGlobal(global)
	}
	if hasAgent {
		t.act.SetAgent(agentID, agentLevel)
	}
	published := boolArg(req, "publish", false)
	if published {
		t.act.Tick()
	}

	lv := t.act.Levels(agentID)
	state := "staged"
	if published {
		state = "published"
	}
	return mcp.NewToolResultText(fmt.Sprintf("Activation %s (max %.2f). Current: global=%.3f agent=%.3f",
		state, t.act.Max(), lv.Global, lv.Agent)), nil
}
