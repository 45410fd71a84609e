package graph

import (
	"errors"
	"fmt"
)

var (
	ErrNodeNotFound        = errors.New("node not found")
	ErrEdgeNotFound        = errors.New("edge not found")
	ErrDuplicateNode       = errors.New("node already exists")
	ErrDuplicateEdge       = errors.New("edge already exists")
	ErrEdgeEndpointMissing = errors.New("edge endpoint does not reference an existing node")
	ErrInvalidNode         = errors.New("invalid node")
)

// OpError wraps store errors with the operation and the element it targeted.
type OpError struct {
	Op  string // AddNode, AddEdge, ...
	ID  string // node or edge id
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func (e *OpError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNodeNotFound checks if an error indicates a node was not found.
func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

func opError(op, id string, err error) error {
	return &OpError{Op: op, ID: id, Err: err}
}
