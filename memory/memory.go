// Package memory provides an in-memory pipeline.Backend, used in tests and
// for embedded, persistence-free setups.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/clearpipe/pipeline"
)

// Store keeps the saved-pipeline collection in a map. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	pipelines map[string]pipeline.Pipeline
}

var _ pipeline.Backend = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{pipelines: make(map[string]pipeline.Pipeline)}
}

// List returns every saved pipeline, most recently updated first.
func (s *Store) List(_ context.Context) ([]pipeline.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]pipeline.Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns the pipeline with the given id, or nil, nil when absent.
func (s *Store) Get(_ context.Context, id string) (*pipeline.Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pipelines[id]
	if !ok {
		return nil, nil
	}
	out := p.Clone()
	return &out, nil
}

// Put inserts or overwrites a pipeline by id.
func (s *Store) Put(_ context.Context, p *pipeline.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pipelines[p.ID] = p.Clone()
	return nil
}

// Delete removes a pipeline. Absent ids are not an error.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pipelines, id)
	return nil
}
