package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wayfinder/internal/engine"
	"github.com/HendryAvila/wayfinder/internal/linkstrength"
)

// ─── LinkEventTool ──────────────────────────────────────────────────────────

// LinkEventTool handles the graph_link_event MCP tool.
type LinkEventTool struct {
	eng *engine.Engine
}

// NewLinkEventTool creates a LinkEventTool backed by the given engine.
func NewLinkEventTool(eng *engine.Engine) *LinkEventTool {
	return &LinkEventTool{eng: eng}
}

// Definition returns the MCP tool definition for graph_link_event.
func (t *LinkEventTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_link_event",
		mcp.WithDescription(
			"Apply a link strength event to an edge. validation raises strength in proportion to confidence, "+
				"confirmation applies a large fixed boost, coactivation records a traversal by agent_id, "+
				"decay applies one decay step. Returns the edge's new link strength.",
		),
		mcp.WithString("edge_id",
			mcp.Required(),
			mcp.Description("Edge to adjust"),
		),
		mcp.WithString("event",
			mcp.Required(),
			mcp.Description("One of: coactivation, validation, confirmation, decay"),
		),
		mcp.WithNumber("confidence",
			mcp.Description("Validation confidence in [0, 1] (validation only)"),
		),
		mcp.WithString("agent_id",
			mcp.Description("Traversing agent (coactivation only)"),
		),
	)
}

// Handle processes the graph_link_event tool call.
func (t *LinkEventTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	edgeID := req.GetString("edge_id", "")
	if edgeID == "" {
		return mcp.NewToolResultError("'edge_id' is required"), nil
	}
	typ, err := linkstrength.ParseEventType(req.GetString("event", ""))
	if err != nil {
		return mcp.NewToolResultError("'event' must be one of: coactivation, validation, confirmation, decay"), nil
	}

	ev := linkstrength.Event{Type: typ, AgentID: req.GetString("agent_id", "")}
	switch typ {
	case linkstrength.EventValidation:
		c, ok := floatArg(req, "confidence")
		if !ok {
			return mcp.NewToolResultError("'confidence' is required for validation events"), nil
		}
		if c < 0 || c > 1 {
			return mcp.NewToolResultError("'confidence' must be within [0, 1]"), nil
		}
		ev.Confidence = c
	case linkstrength.EventCoactivation:
		if ev.AgentID == "" {
			return mcp.NewToolResultError("'agent_id' is required for coactivation events"), nil
		}
	}

	strength, err := t.eng.LinkEvent(ctx, edgeID, ev)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to apply %s event: %v", typ, err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Link strength of %s after %s: %.4f", edgeID, typ, strength)), nil
}
