package traversal

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownAgent is returned for an empty agent id.
	ErrUnknownAgent = errors.New("traversal: unknown agent")
	// ErrUnknownNode is returned when the current node does not exist.
	ErrUnknownNode = errors.New("traversal: unknown node")
	// ErrNoDemand is returned when a selection carries no demands.
	ErrNoDemand = errors.New("traversal: no demand")
	// ErrOutcomePending is returned when an agent asks for its next edge
	// before reporting the outcome of its previous traversal.
	ErrOutcomePending = errors.New("traversal: outcome pending")
	// ErrNoPendingTraversal is returned when an outcome does not match the
	// agent's outstanding traversal.
	ErrNoPendingTraversal = errors.New("traversal: no pending traversal")
)

// InfraError marks a failure of the infrastructure behind a selection
// (graph lookups, learning sinks, cancellation) as opposed to a terminal
// status or a caller mistake.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("traversal: %s: infrastructure unavailable: %v", e.Op, e.Err)
}

func (e *InfraError) Unwrap() error { return e.Err }

// IsInfra reports whether err is an InfraError.
func IsInfra(err error) bool {
	var ie *InfraError
	return errors.As(err, &ie)
}

func infra(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InfraError{Op: op, Err: err}
}
