package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/clearpipe/pipeline"
)

// List returns every saved pipeline, most recently updated first.
func (s *PGStore) List(ctx context.Context) ([]pipeline.Pipeline, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, name, description, version, nodes, edges, created_at, updated_at
		   FROM saved_pipelines ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("postgres: query pipelines: %w", err)
	}
	defer rows.Close()

	pipelines := []pipeline.Pipeline{}
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows pipelines: %w", err)
	}

	return pipelines, nil
}

// Get fetches a single saved pipeline by id.
// Returns nil, nil if not found.
func (s *PGStore) Get(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, name, description, version, nodes, edges, created_at, updated_at
		   FROM saved_pipelines WHERE id = $1`, id)

	p, err := scanPipeline(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

// Put inserts or overwrites a pipeline, matched by id.
func (s *PGStore) Put(ctx context.Context, p *pipeline.Pipeline) error {
	nodes, err := json.Marshal(p.Nodes)
	if err != nil {
		return fmt.Errorf("postgres: marshal nodes: %w", err)
	}
	edges, err := json.Marshal(p.Edges)
	if err != nil {
		return fmt.Errorf("postgres: marshal edges: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO saved_pipelines (id, name, description, version, nodes, edges, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		     name = EXCLUDED.name,
		     description = EXCLUDED.description,
		     version = EXCLUDED.version,
		     nodes = EXCLUDED.nodes,
		     edges = EXCLUDED.edges,
		     updated_at = EXCLUDED.updated_at`,
		p.ID, p.Name, p.Description, p.Version, nodes, edges, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert pipeline %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes a saved pipeline. No error if the id doesn't exist.
func (s *PGStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM saved_pipelines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete pipeline %s: %w", id, err)
	}
	return nil
}

// scanPipeline reads one row into a Pipeline, decoding the JSONB columns.
func scanPipeline(row pgx.Row) (*pipeline.Pipeline, error) {
	var p pipeline.Pipeline
	var nodes, edges []byte

	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Version, &nodes, &edges, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("postgres: scan pipeline: %w", err)
	}
	if err := json.Unmarshal(nodes, &p.Nodes); err != nil {
		return nil, fmt.Errorf("postgres: decode nodes for %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(edges, &p.Edges); err != nil {
		return nil, fmt.Errorf("postgres: decode edges for %s: %w", p.ID, err)
	}
	return &p, nil
}
