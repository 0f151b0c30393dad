package pipeline

import (
	"errors"
	"testing"
)

func datasetNode(cfg *DatasetConfig) *Node {
	return &Node{
		ID:   "src",
		Type: TypeDataset,
		Data: NodeData{Label: "Dataset", Status: StatusIdle, Config: cfg},
	}
}

func TestIsReference(t *testing.T) {
	cases := []struct {
		token string
		want  bool
	}{
		{"{{sourceNode.outputPath}}", true},
		{"{{sourceNode.inputPaths[0]}}", true},
		{"{{sourceNode.inputPaths[12]}}", true},
		{"/data/train.csv", false},
		{"{{sourceNode.}}", false},
		{"{{sourceNode.output path}}", false},
		{"{{otherNode.outputPath}}", false},
		{"{{sourceNode.outputPath}} extra", false},
		{"{{sourceNode.inputPaths[a]}}", false},
		{"", false},
	}
	for _, tc := range cases {
		t.Run(tc.token, func(t *testing.T) {
			if got := IsReference(tc.token); got != tc.want {
				t.Errorf("IsReference(%q) = %v, want %v", tc.token, got, tc.want)
			}
		})
	}
}

func TestResolveScalar(t *testing.T) {
	src := datasetNode(&DatasetConfig{Source: "local", Path: "/data/raw.csv", Format: "csv"})

	got, err := Resolve("{{sourceNode.path}}", src, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "/data/raw.csv" {
		t.Errorf("resolved %q, want /data/raw.csv", got)
	}
}

func TestResolveRootFieldsBeforeConfig(t *testing.T) {
	src := datasetNode(&DatasetConfig{Path: "/data/raw.csv"})
	src.Data.Label = "Raw Data"
	src.Data.Status = StatusCompleted

	for key, want := range map[string]string{
		"label":  "Raw Data",
		"status": "completed",
	} {
		got, err := Resolve("{{sourceNode."+key+"}}", src, nil)
		if err != nil {
			t.Fatalf("Resolve %s: %v", key, err)
		}
		if got != want {
			t.Errorf("%s resolved to %q, want %q", key, got, want)
		}
	}
}

func TestResolveRuntimeBeatsStatic(t *testing.T) {
	src := datasetNode(&DatasetConfig{Path: "/data/raw.csv", OutputPath: "/static/out.csv"})
	runtime := map[string]string{"outputPath": "/runtime/out.csv"}

	got, err := Resolve("{{sourceNode.outputPath}}", src, runtime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "/runtime/out.csv" {
		t.Errorf("resolved %q, want the runtime value", got)
	}
}

func TestResolveIndexed(t *testing.T) {
	src := &Node{
		ID:   "src",
		Type: TypeVersioning,
		Data: NodeData{Config: &VersioningConfig{
			InputPaths: []string{"/a.csv", "/b.csv"},
		}},
	}

	got, err := Resolve("{{sourceNode.inputPaths[1]}}", src, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "/b.csv" {
		t.Errorf("resolved %q, want /b.csv", got)
	}

	if _, err := Resolve("{{sourceNode.inputPaths[2]}}", src, nil); !errors.Is(err, ErrUnresolved) {
		t.Errorf("out-of-range index: got %v, want ErrUnresolved", err)
	}
}

func TestResolveIndexedRuntime(t *testing.T) {
	src := &Node{
		ID:   "src",
		Type: TypeVersioning,
		Data: NodeData{Config: &VersioningConfig{InputPaths: []string{"/static.csv"}}},
	}
	runtime := map[string]string{"inputPaths[0]": "/runtime.csv"}

	got, err := Resolve("{{sourceNode.inputPaths[0]}}", src, runtime)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "/runtime.csv" {
		t.Errorf("resolved %q, want the runtime value", got)
	}
}

func TestResolvePendingOutput(t *testing.T) {
	src := &Node{
		ID:   "src",
		Type: TypePreprocessing,
		Data: NodeData{Config: &PreprocessingConfig{
			Steps: []ScriptStep{{Name: "clean", OutputVariables: []string{"cleaned_path"}}},
		}},
	}

	// Declared but nothing produced yet.
	if _, err := Resolve("{{sourceNode.cleaned_path}}", src, nil); !errors.Is(err, ErrPendingOutput) {
		t.Fatalf("got %v, want ErrPendingOutput", err)
	}

	// After the run the runtime value wins.
	got, err := Resolve("{{sourceNode.cleaned_path}}", src, map[string]string{"cleaned_path": "/tmp/clean.csv"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "/tmp/clean.csv" {
		t.Errorf("resolved %q, want /tmp/clean.csv", got)
	}
}

func TestResolveAcrossConnectedNodes(t *testing.T) {
	store, _ := newTestStore(t)
	d, _ := store.AddNode(TypeDataset, Position{})
	v, _ := store.AddNode(TypeVersioning, Position{})
	store.Connect(d, v)
	store.UpdateNodeConfig(d, &DatasetConfig{Source: "local", Path: "/data", Format: "csv"})
	store.UpdateNodeConfig(v, &VersioningConfig{
		Tool:      "clearml",
		Action:    "create",
		InputPath: "{{sourceNode.outputPath}}",
	})

	nodes, edges := store.Draft()
	upstream := ConnectedSource(v, nodes, edges)
	if upstream == nil || upstream.ID != d {
		t.Fatalf("upstream = %v, want dataset node", upstream)
	}

	// Upstream has no outputPath configured and nothing has run.
	if _, err := Resolve("{{sourceNode.outputPath}}", upstream, nil); !errors.Is(err, ErrUnresolved) {
		t.Fatalf("got %v, want ErrUnresolved before outputPath is set", err)
	}

	store.UpdateNodeConfig(d, &DatasetConfig{Source: "local", Path: "/data", Format: "csv", OutputPath: "/data/out"})
	nodes, edges = store.Draft()
	upstream = ConnectedSource(v, nodes, edges)

	got, err := Resolve("{{sourceNode.outputPath}}", upstream, nil)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "/data/out" {
		t.Errorf("resolved %q, want /data/out", got)
	}
}

func TestResolveErrors(t *testing.T) {
	src := datasetNode(&DatasetConfig{Path: "/data/raw.csv"})

	cases := []struct {
		name    string
		token   string
		source  *Node
		runtime map[string]string
		want    error
	}{
		{name: "not a reference", token: "plain string", source: src, want: ErrNotReference},
		{name: "unknown key", token: "{{sourceNode.nope}}", source: src, want: ErrUnresolved},
		{name: "unset field", token: "{{sourceNode.outputPath}}", source: src, want: ErrUnresolved},
		{name: "nil source", token: "{{sourceNode.path}}", source: nil, want: ErrUnresolved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Resolve(tc.token, tc.source, tc.runtime); !errors.Is(err, tc.want) {
				t.Errorf("got %v, want %v", err, tc.want)
			}
		})
	}
}
