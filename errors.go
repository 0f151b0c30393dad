package pipeline

import "errors"

var (
	ErrNodeNotFound     = errors.New("pipeline: node not found")
	ErrEdgeNotFound     = errors.New("pipeline: edge not found")
	ErrPipelineNotFound = errors.New("pipeline: pipeline not found")
	ErrUnknownNodeType  = errors.New("pipeline: unknown node type")
	ErrConfigMismatch   = errors.New("pipeline: config does not match node type")

	// Resolver errors. ErrPendingOutput marks a reference that is
	// syntactically valid and declared by the source node but has no value
	// until the node actually runs; callers use it to tell "run upstream
	// first" apart from a broken reference (ErrUnresolved).
	ErrNotReference  = errors.New("pipeline: not a variable reference")
	ErrPendingOutput = errors.New("pipeline: output declared but not produced yet")
	ErrUnresolved    = errors.New("pipeline: variable reference cannot be resolved")

	ErrInvalidImport = errors.New("pipeline: import document is missing nodes or edges")
)
