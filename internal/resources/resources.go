// Package resources implements MCP resource handlers for the wayfinder graph.
//
// Resources provide read-only data that the host can consume for context
// or visualization. They use URI-based addressing (graph://...) following
// MCP conventions.
package resources

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/wayfinder/internal/engine"
	"github.com/HendryAvila/wayfinder/internal/graph"
)

const (
	snapshotURI   = "graph://snapshot"
	statsURI      = "graph://stats"
	edgeURIPrefix = "graph://edges/"
	nodeURIPrefix = "graph://nodes/"
)

// Handler manages graph resource endpoints.
type Handler struct {
	g   *graph.Graph
	eng *engine.Engine
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{g: eng.Graph(), eng: eng}
}

// SnapshotResource returns the MCP resource definition for the full graph.
func (h *Handler) SnapshotResource() mcp.Resource {
	return mcp.NewResource(
		snapshotURI,
		"Graph Snapshot",
		mcp.WithResourceDescription("Every node and edge with learning state, link strength and per-agent state"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleSnapshot returns a consistent snapshot of the graph as JSON.
func (h *Handler) HandleSnapshot(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, h.g.Snapshot())
}

// StatsResource returns the MCP resource definition for engine statistics.
func (h *Handler) StatsResource() mcp.Resource {
	return mcp.NewResource(
		statsURI,
		"Engine Statistics",
		mcp.WithResourceDescription("Graph size, queued learning, baselines and learner heartbeat"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStats returns the engine heartbeat as JSON.
func (h *Handler) HandleStats(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(req.Params.URI, h.eng.Stats())
}

// NodeTemplate returns the MCP resource template for a single node.
func (h *Handler) NodeTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		nodeURIPrefix+"{id}",
		"Graph Node",
		mcp.WithTemplateDescription("One node with its learning state"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleNode returns one node as JSON.
func (h *Handler) HandleNode(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := strings.TrimPrefix(req.Params.URI, nodeURIPrefix)
	if id == "" || id == req.Params.URI {
		return errorResource(req.Params.URI, "expected graph://nodes/{id}"), nil
	}
	n, err := h.g.Node(id)
	if err != nil {
		return errorResource(req.Params.URI, fmt.Sprintf("node %q: %v", id, err)), nil
	}
	return jsonContents(req.Params.URI, n)
}

// EdgeTemplate returns the MCP resource template for a single edge.
func (h *Handler) EdgeTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		edgeURIPrefix+"{id}",
		"Graph Edge",
		mcp.WithTemplateDescription("One edge with learning state, link strength, co-activation and per-agent state"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

// HandleEdge returns one edge as JSON.
func (h *Handler) HandleEdge(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	id := strings.TrimPrefix(req.Params.URI, edgeURIPrefix)
	if id == "" || id == req.Params.URI {
		return errorResource(req.Params.URI, "expected graph://edges/{id}"), nil
	}
	e, err := h.g.Edge(id)
	if err != nil {
		return errorResource(req.Params.URI, fmt.Sprintf("edge %q: %v", id, err)), nil
	}
	return jsonContents(req.Params.URI, e)
}
