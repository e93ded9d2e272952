// Package prompts implements MCP prompt handlers for the wayfinder graph.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// TraversePrompt handles the graph-traverse MCP prompt.
// It walks the AI through one select/report loop per hop.
type TraversePrompt struct{}

// NewTraversePrompt creates a TraversePrompt.
func NewTraversePrompt() *TraversePrompt {
	return &TraversePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *TraversePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("graph-traverse",
		mcp.WithPromptDescription(
			"Explore the graph from a starting node toward a goal, "+
				"choosing each hop with graph_select_next and reporting how it went.",
		),
		mcp.WithArgument("agent_id",
			mcp.ArgumentDescription("Agent identity to traverse as. Default: assistant"),
		),
		mcp.WithArgument("start_node_id",
			mcp.RequiredArgument(),
			mcp.ArgumentDescription("Node to start from"),
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What you are looking for, in plain words"),
		),
	)
}

// Handle processes the graph-traverse prompt request.
func (p *TraversePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	agentID := "assistant"
	startNode := ""
	goal := "the information the user needs"
	if args := req.Params.Arguments; args != nil {
		if v, ok := args["agent_id"]; ok && v != "" {
			agentID = v
		}
		startNode = args["start_node_id"]
		if v, ok := args["goal"]; ok && v != "" {
			goal = v
		}
	}
	if startNode == "" {
		return nil, fmt.Errorf("start_node_id is required")
	}

	return &mcp.GetPromptResult{
		Description: "Graph Traversal",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"Traverse the graph as agent `%s`, starting at node `%s`, looking for %s.\n\n"+
						"Loop until the status is SATISFIED or EXHAUSTED:\n"+
						"1. Call `graph_select_next` with agent_id=%q, the current node and a demand describing the goal\n"+
						"2. Read the target node (resource graph://nodes/{id}) and judge whether it moved you toward the goal\n"+
						"3. Call `graph_report_outcome` with useful, neutral or unhelpful; never skip this step\n"+
						"4. Raise the demand's completeness from the receipt and continue from the target node\n\n"+
						"When you are done, summarize the path you took and what you found.",
					agentID, startNode, goal, agentID,
				)),
			},
		},
	}, nil
}
