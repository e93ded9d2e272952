package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wayfinder/internal/engine"
)

// ─── IngestTool ─────────────────────────────────────────────────────────────

// IngestTool handles the graph_ingest_signal MCP tool.
type IngestTool struct {
	eng *engine.Engine
}

// NewIngestTool creates an IngestTool backed by the given engine.
func NewIngestTool(eng *engine.Engine) *IngestTool {
	return &IngestTool{eng: eng}
}

// Definition returns the MCP tool definition for graph_ingest_signal.
func (t *IngestTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_ingest_signal",
		mcp.WithDescription(
			"Feed one parsed event into the graph: usefulness marks on existing nodes and edges, "+
				"plus any nodes and links the event formed. Marks are apportioned into integer seats "+
				"and learned on the next flush; formations are created and quality-scored immediately. "+
				"A formation naming an existing node or link re-forms it and refreshes its quality.",
		),
		mcp.WithString("record",
			mcp.Required(),
			mcp.Description(`JSON signal record: {"event_id":"e1","marks":[{"target_id":"n1","category":"useful"}],`+
				`"formations":[{"node_type":"Concept","fields":{...},"embedding":[...],"evidence_refs":[...]}],`+
				`"link_formations":[{"from":"n1","to":"n2","link_type":"ENABLES"}],"at":"2025-10-21T09:00:00Z"}`),
		),
		mcp.WithBoolean("flush",
			mcp.Description("Apply queued learning right away instead of waiting for the next cycle (default: false)"),
		),
	)
}

// Handle processes the graph_ingest_signal tool call.
func (t *IngestTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var rec engine.SignalRecord
	if ok, err := jsonArg(req, "record", &rec); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	} else if !ok {
		return mcp.NewToolResultError("'record' is required"), nil
	}

	rc, err := t.eng.Ingest(ctx, rec)
	if err != nil {
		if errors.Is(err, engine.ErrDuplicateEvent) {
			return mcp.NewToolResultError(fmt.Sprintf("event %q was already ingested", rec.EventID)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("failed to ingest signal: %v", err)), nil
	}

	if boolArg(req, "flush", false) {
		if _, err := t.eng.Flush(ctx); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("signal %s accepted but flush failed: %v", rc.EventID, err)), nil
		}
		rc.Queued = 0
	}
	return jsonResult(rc)
}
