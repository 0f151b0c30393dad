package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// fakeScripts is a ScriptRunner that replays canned results.
type fakeScripts struct {
	results map[string]*ScriptResult
	runs    []Script
}

var _ ScriptRunner = (*fakeScripts)(nil)

func (f *fakeScripts) Run(_ context.Context, s Script) (*ScriptResult, error) {
	f.runs = append(f.runs, s)
	if res, ok := f.results[s.Name]; ok {
		return res, nil
	}
	return &ScriptResult{ExitCode: 0, Outputs: map[string]string{}}, nil
}

// fakeRegistry is a DatasetRegistry with scripted responses.
type fakeRegistry struct {
	datasets []Dataset
	created  *CreateDatasetRequest
	err      error
}

var _ DatasetRegistry = (*fakeRegistry)(nil)

func (f *fakeRegistry) ListDatasets(context.Context, ClearMLCredentials, string) ([]Dataset, error) {
	return f.datasets, f.err
}

func (f *fakeRegistry) DatasetInfo(_ context.Context, _ ClearMLCredentials, id string) (*Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Dataset{ID: id, Name: "found"}, nil
}

func (f *fakeRegistry) CreateDataset(_ context.Context, _ ClearMLCredentials, req CreateDatasetRequest) (*Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = &req
	return &Dataset{ID: "ds-1", Name: req.Name}, nil
}

func (f *fakeRegistry) VersionDataset(_ context.Context, _ ClearMLCredentials, req CreateDatasetRequest) (*Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = &req
	return &Dataset{ID: "ds-2", Name: req.Name}, nil
}

func (f *fakeRegistry) DownloadDataset(_ context.Context, _ ClearMLCredentials, id, outputPath string) (*Dataset, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &Dataset{ID: id, Name: "dl", LocalPath: outputPath}, nil
}

func execRequest(t NodeType, cfg Config) ExecRequest {
	return ExecRequest{Node: Node{
		ID:   "n1",
		Type: t,
		Data: NodeData{Label: defaultLabel(t), Config: cfg},
	}}
}

func TestDatasetExecutorLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(path, []byte("a,b\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	req := execRequest(TypeDataset, &DatasetConfig{Source: "local", Path: path})
	req.Inputs = map[string]string{"path": path}

	res, err := DatasetExecutor{}.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Warning {
		t.Errorf("result = %+v, want clean success", res)
	}
	if res.Outputs["outputPath"] != path {
		t.Errorf("outputPath = %q, want %q", res.Outputs["outputPath"], path)
	}
}

func TestDatasetExecutorMissingFile(t *testing.T) {
	req := execRequest(TypeDataset, &DatasetConfig{Source: "local", Path: "/no/such/file.csv"})
	req.Inputs = map[string]string{"path": "/no/such/file.csv"}

	res, err := DatasetExecutor{}.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Error("missing file should fail")
	}
}

func TestDatasetExecutorRemoteWarns(t *testing.T) {
	req := execRequest(TypeDataset, &DatasetConfig{Source: "s3", Path: "s3://bucket/x.csv"})
	req.Inputs = map[string]string{"path": "s3://bucket/x.csv"}

	res, err := DatasetExecutor{}.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || !res.Warning {
		t.Errorf("result = %+v, want success with warning", res)
	}
}

func TestVersioningExecutorCreate(t *testing.T) {
	registry := &fakeRegistry{}
	req := execRequest(TypeVersioning, &VersioningConfig{
		Tool:        "clearml",
		Action:      "create",
		DatasetName: "iris",
		Project:     "demo",
		InputPaths:  []string{"/raw/a.csv", "{{sourceNode.outputPath}}"},
	})
	req.Inputs = map[string]string{"inputPaths[1]": "/resolved/b.csv"}

	res, err := VersioningExecutor{Registry: registry}.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("create failed: %s", res.Message)
	}
	if res.Outputs["datasetId"] != "ds-1" {
		t.Errorf("datasetId = %q, want ds-1", res.Outputs["datasetId"])
	}
	if registry.created == nil {
		t.Fatal("registry never called")
	}
	want := []string{"/raw/a.csv", "/resolved/b.csv"}
	if len(registry.created.InputPaths) != 2 ||
		registry.created.InputPaths[0] != want[0] ||
		registry.created.InputPaths[1] != want[1] {
		t.Errorf("input paths = %v, want %v", registry.created.InputPaths, want)
	}
}

func TestVersioningExecutorConfigErrors(t *testing.T) {
	registry := &fakeRegistry{}
	cases := []struct {
		name string
		cfg  *VersioningConfig
	}{
		{"no tool", &VersioningConfig{Action: "create", DatasetName: "x", InputPath: "/a"}},
		{"create without name", &VersioningConfig{Tool: "clearml", Action: "create", InputPath: "/a"}},
		{"version without parent", &VersioningConfig{Tool: "clearml", Action: "version", InputPath: "/a"}},
		{"download without dataset", &VersioningConfig{Tool: "clearml", Action: "download"}},
		{"unknown action", &VersioningConfig{Tool: "clearml", Action: "publish"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := VersioningExecutor{Registry: registry}.Execute(context.Background(), execRequest(TypeVersioning, tc.cfg))
			if err != nil {
				t.Fatalf("execute: %v", err)
			}
			if res.Success {
				t.Errorf("want failure, got %+v", res)
			}
		})
	}
}

func TestVersioningExecutorRegistryError(t *testing.T) {
	registry := &fakeRegistry{err: errors.New("auth failed")}
	req := execRequest(TypeVersioning, &VersioningConfig{
		Tool: "clearml", Action: "list",
	})

	res, err := VersioningExecutor{Registry: registry}.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success || !strings.Contains(res.Message, "auth failed") {
		t.Errorf("result = %+v, want failure carrying the registry message", res)
	}
}

func TestPreprocessingExecutorRunsStepsInOrder(t *testing.T) {
	scripts := &fakeScripts{results: map[string]*ScriptResult{
		"clean":  {Outputs: map[string]string{"cleaned_path": "/tmp/clean.csv"}},
		"sample": {Outputs: map[string]string{"sample_path": "/tmp/sample.csv"}},
	}}
	req := execRequest(TypePreprocessing, &PreprocessingConfig{
		OutputPath: "/tmp/out",
		Steps: []ScriptStep{
			{Name: "clean", Script: "clean()", DataVariables: map[string]string{"src": "{{sourceNode.outputPath}}"}},
			{Name: "sample", Script: "sample()"},
		},
	})
	req.Inputs = map[string]string{"src": "/resolved.csv", "inputPath": "/resolved.csv"}

	res, err := PreprocessingExecutor{Scripts: scripts}.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success {
		t.Fatalf("failed: %s", res.Message)
	}
	if len(scripts.runs) != 2 || scripts.runs[0].Name != "clean" || scripts.runs[1].Name != "sample" {
		t.Errorf("runs = %+v, want clean then sample", scripts.runs)
	}
	if scripts.runs[0].Variables["src"] != "/resolved.csv" {
		t.Errorf("src variable = %q, want the resolved value", scripts.runs[0].Variables["src"])
	}
	if scripts.runs[0].Variables["input_path"] != "/resolved.csv" {
		t.Errorf("input_path = %q, want injected", scripts.runs[0].Variables["input_path"])
	}
	for k, want := range map[string]string{
		"cleaned_path": "/tmp/clean.csv",
		"sample_path":  "/tmp/sample.csv",
		"outputPath":   "/tmp/out",
	} {
		if res.Outputs[k] != want {
			t.Errorf("outputs[%s] = %q, want %q", k, res.Outputs[k], want)
		}
	}
}

func TestPreprocessingExecutorStepFailureStopsChain(t *testing.T) {
	scripts := &fakeScripts{results: map[string]*ScriptResult{
		"clean": {ExitCode: 2, Stderr: "Traceback\nValueError: bad rows\n"},
	}}
	req := execRequest(TypePreprocessing, &PreprocessingConfig{
		Steps: []ScriptStep{
			{Name: "clean", Script: "clean()"},
			{Name: "never", Script: "never()"},
		},
	})

	res, err := PreprocessingExecutor{Scripts: scripts}.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Success {
		t.Fatal("failed step should fail the node")
	}
	if !strings.Contains(res.Message, "ValueError: bad rows") {
		t.Errorf("message = %q, want the script's last stderr line", res.Message)
	}
	if len(scripts.runs) != 1 {
		t.Errorf("runs = %d, want chain stopped after the failure", len(scripts.runs))
	}
}

func TestTrainingExecutor(t *testing.T) {
	scripts := &fakeScripts{results: map[string]*ScriptResult{
		"Training": {Outputs: map[string]string{"modelPath": "/models/m.pt", "metricsPath": "/models/metrics.json"}},
	}}
	req := execRequest(TypeTraining, &TrainingConfig{
		Framework:       "pytorch",
		Script:          "train()",
		Hyperparameters: map[string]string{"lr": "0.01"},
		OutputDir:       "/models",
	})
	req.Inputs = map[string]string{"dataPath": "/data/train.csv"}

	res, err := TrainingExecutor{Scripts: scripts}.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Warning {
		t.Fatalf("result = %+v, want clean success", res)
	}
	if res.Outputs["modelPath"] != "/models/m.pt" {
		t.Errorf("modelPath = %q", res.Outputs["modelPath"])
	}
	vars := scripts.runs[0].Variables
	if vars["lr"] != "0.01" || vars["data_path"] != "/data/train.csv" || vars["output_dir"] != "/models" {
		t.Errorf("variables = %v", vars)
	}
}

func TestTrainingExecutorWarnsWithoutModelPath(t *testing.T) {
	scripts := &fakeScripts{}
	req := execRequest(TypeTraining, &TrainingConfig{Script: "train()"})

	res, err := TrainingExecutor{Scripts: scripts}.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || !res.Warning {
		t.Errorf("result = %+v, want success with warning", res)
	}
}

func TestExperimentExecutorInfo(t *testing.T) {
	registry := &fakeRegistry{}
	req := execRequest(TypeExperiment, &ExperimentConfig{Tool: "clearml", Action: "info"})
	req.Inputs = map[string]string{"datasetId": "ds-9"}

	res, err := ExperimentExecutor{Registry: registry}.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Outputs["datasetId"] != "ds-9" {
		t.Errorf("result = %+v, want info for ds-9", res)
	}
}

func TestReportExecutorWritesDocument(t *testing.T) {
	store, _ := newTestStore(t)
	a, _ := store.AddNode(TypeDataset, Position{})
	store.UpdateNodeStatus(a, StatusCompleted, "ok")
	reportID, _ := store.AddNode(TypeReport, Position{})

	dir := t.TempDir()
	metricsPath := filepath.Join(dir, "metrics.json")
	if err := os.WriteFile(metricsPath, []byte(`{"accuracy": 0.97}`), 0o644); err != nil {
		t.Fatal(err)
	}
	outPath := filepath.Join(dir, "nested", "report.json")

	cfg := &ReportConfig{
		Title:          "Run Summary",
		Format:         "json",
		OutputPath:     outPath,
		IncludeMetrics: true,
	}
	store.UpdateNodeConfig(reportID, cfg)
	node, _ := store.Node(reportID)

	res, err := ReportExecutor{Store: store}.Execute(context.Background(), ExecRequest{
		Node:   *node,
		Inputs: map[string]string{"metricsPath": metricsPath},
	})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || res.Warning {
		t.Fatalf("result = %+v, want clean success", res)
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("report not written: %v", err)
	}
	var doc struct {
		Title   string `json:"title"`
		Nodes   []struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"nodes"`
		Metrics map[string]float64 `json:"metrics"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if doc.Title != "Run Summary" {
		t.Errorf("title = %q", doc.Title)
	}
	if len(doc.Nodes) != 1 || doc.Nodes[0].ID != a {
		t.Errorf("nodes = %+v, want only the dataset node", doc.Nodes)
	}
	if doc.Metrics["accuracy"] != 0.97 {
		t.Errorf("metrics = %v, want embedded accuracy", doc.Metrics)
	}
}

func TestReportExecutorUnreadableMetricsWarns(t *testing.T) {
	store, _ := newTestStore(t)
	reportID, _ := store.AddNode(TypeReport, Position{})
	outPath := filepath.Join(t.TempDir(), "report.json")
	store.UpdateNodeConfig(reportID, &ReportConfig{
		Title:          "Summary",
		OutputPath:     outPath,
		MetricsPath:    "/no/such/metrics.json",
		IncludeMetrics: true,
	})
	node, _ := store.Node(reportID)

	res, err := ReportExecutor{Store: store}.Execute(context.Background(), ExecRequest{Node: *node})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !res.Success || !res.Warning {
		t.Errorf("result = %+v, want success with warning", res)
	}
	if _, err := os.Stat(outPath); err != nil {
		t.Error("report should still be written when metrics are missing")
	}
}

func TestDefaultExecutorsSkipNilCollaborators(t *testing.T) {
	store, _ := newTestStore(t)
	execs := DefaultExecutors(store, nil, nil)

	for _, typ := range []NodeType{TypeDataset, TypeReport} {
		if _, ok := execs[typ]; !ok {
			t.Errorf("%s executor missing", typ)
		}
	}
	for _, typ := range []NodeType{TypePreprocessing, TypeTraining, TypeVersioning, TypeExperiment} {
		if _, ok := execs[typ]; ok {
			t.Errorf("%s executor registered without its collaborator", typ)
		}
	}
}
