package memory

import (
	"context"
	"testing"
	"time"

	"github.com/clearpipe/pipeline"
)

func savedPipeline(id string, updated time.Time) *pipeline.Pipeline {
	return &pipeline.Pipeline{
		ID:        id,
		Name:      "p-" + id,
		Nodes:     []pipeline.Node{},
		Edges:     []pipeline.Edge{},
		CreatedAt: updated.Add(-time.Hour),
		UpdatedAt: updated,
		Version:   1,
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := savedPipeline("a", time.Now())
	if err := s.Put(ctx, p); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Name != "p-a" {
		t.Fatalf("got %+v", got)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err = s.Get(ctx, "a")
	if err != nil || got != nil {
		t.Errorf("after delete: %v, %v, want nil, nil", got, err)
	}

	// Deleting again is not an error.
	if err := s.Delete(ctx, "a"); err != nil {
		t.Errorf("repeat delete: %v", err)
	}
}

func TestListOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Now()

	s.Put(ctx, savedPipeline("old", base.Add(-2*time.Hour)))
	s.Put(ctx, savedPipeline("new", base))
	s.Put(ctx, savedPipeline("mid", base.Add(-time.Hour)))

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"new", "mid", "old"}
	if len(list) != len(want) {
		t.Fatalf("list = %d entries, want %d", len(list), len(want))
	}
	for i, id := range want {
		if list[i].ID != id {
			t.Errorf("list[%d] = %s, want %s", i, list[i].ID, id)
		}
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := savedPipeline("a", time.Now())
	p.Nodes = []pipeline.Node{{ID: "n1", Type: pipeline.TypeDataset, Data: pipeline.NodeData{
		Label:  "Dataset",
		Status: pipeline.StatusIdle,
		Config: &pipeline.DatasetConfig{Source: "local", Path: "/x.csv"},
	}}}
	s.Put(ctx, p)

	got, _ := s.Get(ctx, "a")
	got.Nodes[0].Data.Label = "mutated"

	again, _ := s.Get(ctx, "a")
	if again.Nodes[0].Data.Label != "Dataset" {
		t.Error("Get must hand out copies, not shared state")
	}
}
