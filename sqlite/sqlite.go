// Package sqlite implements pipeline.Backend on a local SQLite file, for
// single-machine setups that don't run PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clearpipe/pipeline"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS saved_pipelines (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	version     INTEGER NOT NULL DEFAULT 1,
	nodes       TEXT NOT NULL DEFAULT '[]',
	edges       TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL
);
`

// Store implements pipeline.Backend over a SQLite database file.
type Store struct {
	db *sql.DB
}

var _ pipeline.Backend = (*Store)(nil)

// Open opens (or creates) the database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// List returns every saved pipeline, most recently updated first.
func (s *Store) List(ctx context.Context) ([]pipeline.Pipeline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, version, nodes, edges, created_at, updated_at
		   FROM saved_pipelines ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := []pipeline.Pipeline{}
	for rows.Next() {
		var p pipeline.Pipeline
		var nodes, edges string
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Version, &nodes, &edges, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan pipeline: %w", err)
		}
		if err := decodeGraph(&p, nodes, edges); err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows pipelines: %w", err)
	}

	return pipelines, nil
}

// Get fetches a single saved pipeline by id.
// Returns nil, nil if not found.
func (s *Store) Get(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	var p pipeline.Pipeline
	var nodes, edges string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, version, nodes, edges, created_at, updated_at
		   FROM saved_pipelines WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.Description, &p.Version, &nodes, &edges, &p.CreatedAt, &p.UpdatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: get pipeline %s: %w", id, err)
	}
	if err := decodeGraph(&p, nodes, edges); err != nil {
		return nil, err
	}
	return &p, nil
}

// Put inserts or overwrites a pipeline, matched by id.
func (s *Store) Put(ctx context.Context, p *pipeline.Pipeline) error {
	nodes, err := json.Marshal(p.Nodes)
	if err != nil {
		return fmt.Errorf("sqlite: marshal nodes: %w", err)
	}
	edges, err := json.Marshal(p.Edges)
	if err != nil {
		return fmt.Errorf("sqlite: marshal edges: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO saved_pipelines (id, name, description, version, nodes, edges, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     name = excluded.name,
		     description = excluded.description,
		     version = excluded.version,
		     nodes = excluded.nodes,
		     edges = excluded.edges,
		     updated_at = excluded.updated_at`,
		p.ID, p.Name, p.Description, p.Version, string(nodes), string(edges), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upsert pipeline %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes a saved pipeline. No error if the id doesn't exist.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM saved_pipelines WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete pipeline %s: %w", id, err)
	}
	return nil
}

func decodeGraph(p *pipeline.Pipeline, nodes, edges string) error {
	if err := json.Unmarshal([]byte(nodes), &p.Nodes); err != nil {
		return fmt.Errorf("sqlite: decode nodes for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(edges), &p.Edges); err != nil {
		return fmt.Errorf("sqlite: decode edges for %s: %w", p.ID, err)
	}
	return nil
}
