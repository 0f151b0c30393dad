package pipeline

import "testing"

func TestConnectedSource(t *testing.T) {
	nodes := []Node{
		{ID: "a", Type: TypeDataset, Data: NodeData{Config: &DatasetConfig{}}},
		{ID: "b", Type: TypeVersioning, Data: NodeData{Config: &VersioningConfig{}}},
		{ID: "c", Type: TypeTraining, Data: NodeData{Config: &TrainingConfig{}}},
	}
	edges := []Edge{
		{ID: "e1", Source: "a", Target: "c"},
		{ID: "e2", Source: "b", Target: "c"},
	}

	// First matching edge wins when several feed the same target.
	src := ConnectedSource("c", nodes, edges)
	if src == nil || src.ID != "a" {
		t.Errorf("ConnectedSource(c) = %v, want node a", src)
	}

	if src := ConnectedSource("a", nodes, edges); src != nil {
		t.Errorf("ConnectedSource(a) = %v, want nil", src)
	}

	// Edge pointing at a node that no longer exists.
	if src := ConnectedSource("c", nodes[1:], edges); src != nil {
		t.Errorf("dangling edge resolved to %v, want nil", src)
	}
}

func TestOutputVariables(t *testing.T) {
	cases := []struct {
		name string
		node Node
		want []string
	}{
		{
			name: "dataset",
			node: Node{Type: TypeDataset, Data: NodeData{Config: &DatasetConfig{}}},
			want: []string{"outputPath"},
		},
		{
			name: "versioning with list",
			node: Node{Type: TypeVersioning, Data: NodeData{Config: &VersioningConfig{
				InputPaths: []string{"/a", "/b"},
			}}},
			want: []string{"outputPath", "datasetId", "datasetName", "inputPaths[0]", "inputPaths[1]"},
		},
		{
			name: "versioning scalar",
			node: Node{Type: TypeVersioning, Data: NodeData{Config: &VersioningConfig{}}},
			want: []string{"outputPath", "datasetId", "datasetName", "inputPath"},
		},
		{
			name: "preprocessing with declared outputs",
			node: Node{Type: TypePreprocessing, Data: NodeData{Config: &PreprocessingConfig{
				Steps: []ScriptStep{{Name: "s", OutputVariables: []string{"rows", "cols"}}},
			}}},
			want: []string{"outputPath", "rows", "cols"},
		},
		{
			name: "training",
			node: Node{Type: TypeTraining, Data: NodeData{Config: &TrainingConfig{}}},
			want: []string{"modelPath", "metricsPath"},
		},
		{
			name: "report falls back to outputPath",
			node: Node{Type: TypeReport, Data: NodeData{Config: &ReportConfig{}}},
			want: []string{"outputPath"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := OutputVariables(&tc.node)
			if len(got) != len(tc.want) {
				t.Fatalf("variables = %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("variables[%d] = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}
