package pipeline

import "context"

// Backend is the persistence contract for the saved-pipeline collection.
// Implementations live in the postgres, sqlite, and memory subpackages.
type Backend interface {
	// List returns every saved pipeline, most recently updated first.
	List(ctx context.Context) ([]Pipeline, error)

	// Get returns the saved pipeline with the given id, or nil, nil when
	// none exists.
	Get(ctx context.Context, id string) (*Pipeline, error)

	// Put inserts or overwrites a pipeline, matched by ID.
	Put(ctx context.Context, p *Pipeline) error

	// Delete removes a saved pipeline. Deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
}
