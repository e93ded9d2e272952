// Package server wires all components and creates the MCP server instance.
//
// This is the composition root: it builds concrete implementations from
// the configuration and injects them into the tools, prompts and
// resources that depend on them. No business logic lives here, only wiring.
package server

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/wayfinder/internal/prompts"
	"github.com/HendryAvila/wayfinder/internal/resources"
	"github.com/HendryAvila/wayfinder/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates the MCP server with every tool, prompt and resource
// registered against app.
func New(app *App) *server.MCPServer {
	s := server.NewMCPServer(
		"wayfinder",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register traversal tools ---

	selectTool := tools.NewSelectNextTool(app.Selector)
	s.AddTool(selectTool.Definition(), selectTool.Handle)

	reportTool := tools.NewReportOutcomeTool(app.Selector)
	s.AddTool(reportTool.Definition(), reportTool.Handle)

	planTool := tools.NewPlanTool(app.Planner, app.Config.Planner.MaxHops)
	s.AddTool(planTool.Definition(), planTool.Handle)

	activationTool := tools.NewActivationTool(app.Activation)
	s.AddTool(activationTool.Definition(), activationTool.Handle)

	// --- Register learning tools ---

	ingestTool := tools.NewIngestTool(app.Engine)
	s.AddTool(ingestTool.Definition(), ingestTool.Handle)

	linkTool := tools.NewLinkEventTool(app.Engine)
	s.AddTool(linkTool.Definition(), linkTool.Handle)

	statsTool := tools.NewStatsTool(app.Engine)
	s.AddTool(statsTool.Definition(), statsTool.Handle)

	// --- Register prompts ---

	traversePrompt := prompts.NewTraversePrompt()
	s.AddPrompt(traversePrompt.Definition(), traversePrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt()
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	rh := resources.NewHandler(app.Engine)
	s.AddResource(rh.SnapshotResource(), rh.HandleSnapshot)
	s.AddResource(rh.StatsResource(), rh.HandleStats)
	s.AddResourceTemplate(rh.NodeTemplate(), rh.HandleNode)
	s.AddResourceTemplate(rh.EdgeTemplate(), rh.HandleEdge)

	return s
}

// serverInstructions returns the system instructions that tell the AI
// how to use wayfinder.
func serverInstructions() string {
	return `You have access to wayfinder, a weighted knowledge graph that learns which paths are worth taking.

## TRAVERSING

Every hop is two calls:
1. graph_select_next(agent_id, current_node_id, demands) picks an edge and returns SELECTED, EXHAUSTED or SATISFIED.
2. graph_report_outcome(agent_id, edge_id, outcome) with useful, neutral or unhelpful.

You cannot select again for the same agent_id until you report (or abandon) the pending traversal.
Punishment is stronger than reward: only report useful when the hop really moved you toward the goal.

For a whole walk in one call, use graph_plan_path. It spends the agent's energy budget and stops when
the demands are satisfied, nothing affordable remains, or max_hops is reached. preview=true changes nothing.

## DEMANDS

A demand is {"id", "embedding", "priority", "completeness"}. Completeness rises as useful hops land;
a demand at or above the satisfied threshold no longer drives selection.

## LEARNING

- graph_ingest_signal feeds one parsed event: usefulness marks (misleading, not useful, somewhat useful,
  useful, very useful) on existing nodes/edges, plus newly formed nodes and links.
- graph_link_event applies validation, confirmation, coactivation or decay to one edge.
- graph_set_activation stages global or per-agent activation; higher activation sharpens focus and lowers cost (floored).

Learning from marks and outcomes is batched; graph_stats shows what is queued.

## READING

- graph://snapshot: the whole graph with learning state
- graph://nodes/{id} and graph://edges/{id}: one record
- graph://stats: engine heartbeat`
}
