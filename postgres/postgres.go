// Package postgres implements pipeline.Backend on PostgreSQL via pgx.
// Saved pipelines are stored one row each, with nodes and edges as JSONB.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clearpipe/pipeline"
)

// PGStore implements pipeline.Backend using PostgreSQL via pgx.
type PGStore struct {
	db *pgxpool.Pool
}

var _ pipeline.Backend = (*PGStore)(nil)

// New creates a PGStore backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}
