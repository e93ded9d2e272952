package prompts

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the graph-status MCP prompt.
// It instructs the AI to read and present the engine's health.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("graph-status",
		mcp.WithPromptDescription(
			"Check the health of the graph engine: size, queued learning "+
				"and whether weights are still moving.",
		),
	)
}

// Handle processes the graph-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	return &mcp.GetPromptResult{
		Description: "Graph Engine Status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `graph_stats` to check the graph engine.\n\n" +
						"Then:\n" +
						"1. Report how many nodes and edges the graph holds\n" +
						"2. Flag a growing queue of events, which means learning is falling behind\n" +
						"3. Say whether the mean weight change suggests the graph is still learning or has settled",
				),
			},
		},
	}, nil
}
