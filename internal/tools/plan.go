package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wayfinder/internal/planner"
)

// ─── PlanTool ───────────────────────────────────────────────────────────────

// PlanTool handles the graph_plan_path MCP tool.
type PlanTool struct {
	planner *planner.Planner
	maxHops int
}

// NewPlanTool creates a PlanTool backed by the given planner. maxHops is
// the default hop bound; ≤ 0 uses planner.DefaultMaxHops.
func NewPlanTool(p *planner.Planner, maxHops int) *PlanTool {
	if maxHops <= 0 {
		maxHops = planner.DefaultMaxHops
	}
	return &PlanTool{planner: p, maxHops: maxHops}
}

// Definition returns the MCP tool definition for graph_plan_path.
func (t *PlanTool) Definition() mcp.Tool {
	return mcp.NewTool("graph_plan_path",
		mcp.WithDescription(
			"Walk the graph hop by hop from a start node, spending the agent's energy budget, "+
				"until every demand is satisfied, nothing affordable remains, or max_hops is reached. "+
				"Each hop is classified and learned. With preview=true nothing is learned or spent.",
		),
		mcp.WithString("agent_id",
			mcp.Required(),
			mcp.Description("Agent the plan runs for"),
		),
		mcp.WithString("start_node_id",
			mcp.Required(),
			mcp.Description("Node the plan starts from"),
		),
		mcp.WithString("demands",
			mcp.Required(),
			mcp.Description(`JSON array of demands: [{"id":"d1","embedding":[...],"priority":1,"completeness":0}]`),
		),
		mcp.WithString("emotion",
			mcp.Description("JSON array with the agent's current emotion vector"),
		),
		mcp.WithNumber("max_hops",
			mcp.Description(fmt.Sprintf("Upper bound on hops (default: %d)", t.maxHops)),
		),
		mcp.WithBoolean("preview",
			mcp.Description("Dry run: select hops without executing, learning or spending (default: false)"),
		),
		mcp.WithBoolean("refill",
			mcp.Description("Restore the agent's budget to full capacity before planning (default: false)"),
		),
	)
}

// Handle processes the graph_plan_path tool call.
func (t *PlanTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	preq := planner.PlanRequest{
		AgentID:     req.GetString("agent_id", ""),
		StartNodeID: req.GetString("start_node_id", ""),
		MaxHops:     intArg(req, "max_hops", t.maxHops),
	}
	if preq.AgentID == "" {
		return mcp.NewToolResultError("'agent_id' is required"), nil
	}
	if preq.StartNodeID == "" {
		return mcp.NewToolResultError("'start_node_id' is required"), nil
	}
	if ok, err := jsonArg(req, "demands", &preq.Demands); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	} else if !ok {
		return mcp.NewToolResultError("'demands' is required"), nil
	}
	if _, err := jsonArg(req, "emotion", &preq.Emotion); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if boolArg(req, "refill", false) {
		t.planner.Budget(preq.AgentID).Refill()
	}

	run := t.planner.Execute
	if boolArg(req, "preview", false) {
		run = t.planner.Preview
	}
	res, err := run(ctx, preq)
	if err != nil {
		msg := describeTraversalError("plan path", err)
		if res != nil && len(res.Hops) > 0 {
			msg += fmt.Sprintf(" (after %d hops, ended at %s)", len(res.Hops), res.FinalNodeID)
		}
		return mcp.NewToolResultError(msg), nil
	}

	if len(res.Hops) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Plan stopped at %s before any hop: %s (remaining energy %.2f)",
			res.FinalNodeID, res.Stop, res.Remaining)), nil
	}
	out, _ := jsonResult(res)
	summary := fmt.Sprintf("%s after %d hops: %s (spent %.2f, remaining %.2f)\n\n",
		res.Stop, len(res.Hops), pathOf(res), res.Spent, res.Remaining)
	return mcp.NewToolResultText(summary + textOf(out)), nil
}

func pathOf(res *planner.PlanResult) string {
	var sb strings.Builder
	for i, h := range res.Hops {
		if i == 0 {
			sb.WriteString(h.Selection.EdgeID)
		} else {
			sb.WriteString(" → " + h.Selection.EdgeID)
		}
	}
	return sb.String()
}

func textOf(r *mcp.CallToolResult) string {
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}
