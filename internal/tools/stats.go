package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wayfinder/internal/engine"
)

// StatsTool handles the graph_stats MCP tool.
type StatsTool struct {
	eng *engine.Engine
}

// NewStatsTool creates a StatsTool backed by the given engine.
func NewStatsTool(eng *engine.Engine) *StatsTool {
	return &StatsTool{eng: eng}
}

// Definition returns the MCP tool definition for graph_stats.
func (t *StatsTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_stats",
		mcp.WithDescription(
			"Show engine statistics: graph size, queued learning, cohort baselines and learner heartbeat.",
		),
	)
}

// Handle processes the graph_stats tool call.
func (t *StatsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	stats := t.eng.Stats()

	var sb strings.Builder
	sb.WriteString("## Graph Statistics\n\n")
	sb.WriteString(fmt.Sprintf("- **Nodes**: %d\n", stats.Nodes))
	sb.WriteString(fmt.Sprintf("- **Edges**: %d\n", stats.Edges))
	sb.WriteString(fmt.Sprintf("- **Queued events**: %d\n", stats.Queued))
	sb.WriteString(fmt.Sprintf("- **Cohort baselines**: %d\n", stats.Baselines))
	sb.WriteString("\n## Learner\n\n")
	if stats.Learner.Batches == 0 {
		sb.WriteString("- No learning batches applied yet\n")
	} else {
		sb.WriteString(fmt.Sprintf("- **Batches**: %d\n", stats.Learner.Batches))
		sb.WriteString(fmt.Sprintf("- **Updates**: %d\n", stats.Learner.Updates))
		sb.WriteString(fmt.Sprintf("- **Mean |Δ log-weight|**: %.4f\n", stats.Learner.MeanAbsDelta))
	}

	return mcp.NewToolResultText(sb.String()), nil
}
