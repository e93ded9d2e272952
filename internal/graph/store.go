package graph

import "context"

// Store persists graph records. The graph itself stays in memory; a Store
// only has to accept upserts and hand everything back on startup.
type Store interface {
	Load(ctx context.Context) (*Records, error)
	SaveNodes(ctx context.Context, nodes []NodeRecord) error
	SaveEdges(ctx context.Context, edges []EdgeRecord) error
	SaveAgentStates(ctx context.Context, states []AgentRecord) error
	Close() error
}

// NopStore discards writes and loads an empty graph. Used when persistence
// is disabled and in tests.
type NopStore struct{}

func (NopStore) Load(context.Context) (*Records, error)             { return &Records{}, nil }
func (NopStore) SaveNodes(context.Context, []NodeRecord) error       { return nil }
func (NopStore) SaveEdges(context.Context, []EdgeRecord) error       { return nil }
func (NopStore) SaveAgentStates(context.Context, []AgentRecord) error { return nil }
func (NopStore) Close() error                                        { return nil }
