package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultExecutors wires the built-in executor set over the given
// collaborators. Types whose collaborator is nil get no executor; the runner
// reports them as unrunnable instead of panicking mid-run.
func DefaultExecutors(store *Store, scripts ScriptRunner, registry DatasetRegistry) map[NodeType]Executor {
	execs := map[NodeType]Executor{
		TypeDataset: DatasetExecutor{},
		TypeReport:  ReportExecutor{Store: store},
	}
	if scripts != nil {
		execs[TypePreprocessing] = PreprocessingExecutor{Scripts: scripts}
		execs[TypeTraining] = TrainingExecutor{Scripts: scripts}
	}
	if registry != nil {
		execs[TypeVersioning] = VersioningExecutor{Registry: registry}
		execs[TypeExperiment] = ExperimentExecutor{Registry: registry}
	}
	return execs
}

// ── dataset ─────────────────────────────────────────────────────────

// DatasetExecutor checks that a dataset node's source is reachable and
// publishes its output path.
type DatasetExecutor struct{}

func (DatasetExecutor) Execute(_ context.Context, req ExecRequest) (*ExecResult, error) {
	cfg, ok := req.Node.Data.Config.(*DatasetConfig)
	if !ok {
		return nil, ErrConfigMismatch
	}

	path := req.Inputs["path"]
	if path == "" {
		path = cfg.Path
	}
	if path == "" {
		return &ExecResult{Success: false, Message: "no dataset path configured"}, nil
	}

	out := cfg.OutputPath
	if out == "" {
		out = path
	}
	outputs := map[string]string{"outputPath": out}

	switch cfg.Source {
	case "", "local":
		info, err := os.Stat(path)
		if err != nil {
			return &ExecResult{Success: false, Message: fmt.Sprintf("dataset path not accessible: %v", err)}, nil
		}
		kind := "file"
		if info.IsDir() {
			kind = "directory"
		}
		return &ExecResult{
			Success: true,
			Message: fmt.Sprintf("dataset %s available at %s", kind, path),
			Outputs: outputs,
		}, nil
	default:
		// Remote sources are only shape-checked here; the download happens
		// in the consuming node's executor.
		return &ExecResult{
			Success: true,
			Warning: true,
			Message: fmt.Sprintf("remote %s source not verified until fetch", cfg.Source),
			Outputs: outputs,
		}, nil
	}
}

// ── versioning ──────────────────────────────────────────────────────

// VersioningExecutor dispatches a versioning node's action to the dataset
// registry.
type VersioningExecutor struct {
	Registry DatasetRegistry
}

func (e VersioningExecutor) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	cfg, ok := req.Node.Data.Config.(*VersioningConfig)
	if !ok {
		return nil, ErrConfigMismatch
	}
	if cfg.Tool == "" {
		return &ExecResult{Success: false, Message: "no versioning tool selected"}, nil
	}

	paths := e.inputPaths(cfg, req.Inputs)

	switch cfg.Action {
	case "create":
		if cfg.DatasetName == "" {
			return &ExecResult{Success: false, Message: "dataset name is required for create"}, nil
		}
		if len(paths) == 0 {
			return &ExecResult{Success: false, Message: "no input path configured"}, nil
		}
		ds, err := e.Registry.CreateDataset(ctx, cfg.Credentials, CreateDatasetRequest{
			Name:       cfg.DatasetName,
			Project:    cfg.Project,
			InputPaths: paths,
			Tags:       cfg.Tags,
		})
		if err != nil {
			return &ExecResult{Success: false, Message: err.Error()}, nil
		}
		return &ExecResult{
			Success: true,
			Message: fmt.Sprintf("dataset %s created", ds.ID),
			Outputs: map[string]string{"datasetId": ds.ID, "datasetName": ds.Name},
		}, nil

	case "version":
		parent := cfg.SelectedDataset
		if parent == "" {
			parent = cfg.DatasetID
		}
		if parent == "" {
			return &ExecResult{Success: false, Message: "no parent dataset selected"}, nil
		}
		if len(paths) == 0 {
			return &ExecResult{Success: false, Message: "no input path configured"}, nil
		}
		ds, err := e.Registry.VersionDataset(ctx, cfg.Credentials, CreateDatasetRequest{
			Name:       cfg.DatasetName,
			Project:    cfg.Project,
			InputPaths: paths,
			Tags:       cfg.Tags,
			ParentID:   parent,
		})
		if err != nil {
			return &ExecResult{Success: false, Message: err.Error()}, nil
		}
		return &ExecResult{
			Success: true,
			Message: fmt.Sprintf("new version %s of dataset %s", ds.ID, ds.Name),
			Outputs: map[string]string{"datasetId": ds.ID, "datasetName": ds.Name},
		}, nil

	case "download":
		id := cfg.SelectedDataset
		if id == "" {
			id = cfg.DatasetID
		}
		if id == "" {
			return &ExecResult{Success: false, Message: "no dataset selected for download"}, nil
		}
		ds, err := e.Registry.DownloadDataset(ctx, cfg.Credentials, id, cfg.OutputPath)
		if err != nil {
			return &ExecResult{Success: false, Message: err.Error()}, nil
		}
		return &ExecResult{
			Success: true,
			Message: fmt.Sprintf("dataset %s downloaded to %s", ds.ID, ds.LocalPath),
			Outputs: map[string]string{
				"outputPath":  ds.LocalPath,
				"datasetId":   ds.ID,
				"datasetName": ds.Name,
			},
		}, nil

	case "list":
		datasets, err := e.Registry.ListDatasets(ctx, cfg.Credentials, cfg.Project)
		if err != nil {
			return &ExecResult{Success: false, Message: err.Error()}, nil
		}
		return &ExecResult{Success: true, Message: fmt.Sprintf("found %d datasets", len(datasets))}, nil
	}

	return &ExecResult{Success: false, Message: fmt.Sprintf("unknown versioning action %q", cfg.Action)}, nil
}

// inputPaths prefers resolved values over the raw config fields.
func (VersioningExecutor) inputPaths(cfg *VersioningConfig, inputs map[string]string) []string {
	var paths []string
	if len(cfg.InputPaths) > 0 {
		for i, raw := range cfg.InputPaths {
			if v, ok := inputs[fmt.Sprintf("inputPaths[%d]", i)]; ok {
				paths = append(paths, v)
			} else if raw != "" {
				paths = append(paths, raw)
			}
		}
		return paths
	}
	if v, ok := inputs["inputPath"]; ok && v != "" {
		return []string{v}
	}
	if cfg.InputPath != "" {
		return []string{cfg.InputPath}
	}
	return nil
}

// ── preprocessing ───────────────────────────────────────────────────

// PreprocessingExecutor runs a node's script steps in order, feeding each
// step its resolved data variables and collecting declared outputs.
type PreprocessingExecutor struct {
	Scripts ScriptRunner
}

func (e PreprocessingExecutor) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	cfg, ok := req.Node.Data.Config.(*PreprocessingConfig)
	if !ok {
		return nil, ErrConfigMismatch
	}
	if len(cfg.Steps) == 0 {
		return &ExecResult{Success: false, Message: "no preprocessing steps configured"}, nil
	}

	outputs := make(map[string]string)
	for _, step := range cfg.Steps {
		vars := make(map[string]string, len(step.DataVariables)+1)
		for name, raw := range step.DataVariables {
			if v, ok := req.Inputs[name]; ok {
				vars[name] = v
			} else {
				vars[name] = raw
			}
		}
		if v, ok := req.Inputs["inputPath"]; ok && v != "" {
			vars["input_path"] = v
		}

		res, err := e.Scripts.Run(ctx, Script{
			Name:            step.Name,
			Path:            step.ScriptPath,
			Body:            step.Script,
			Variables:       vars,
			OutputVariables: step.OutputVariables,
		})
		if err != nil {
			return &ExecResult{Success: false, Message: fmt.Sprintf("step %q: %v", step.Name, err)}, nil
		}
		if res.ExitCode != 0 {
			return &ExecResult{
				Success: false,
				Message: fmt.Sprintf("step %q exited with code %d: %s", step.Name, res.ExitCode, lastLine(res.Stderr)),
			}, nil
		}
		for k, v := range res.Outputs {
			outputs[k] = v
		}
	}

	if cfg.OutputPath != "" {
		outputs["outputPath"] = cfg.OutputPath
	}
	return &ExecResult{
		Success: true,
		Message: fmt.Sprintf("%d step(s) completed", len(cfg.Steps)),
		Outputs: outputs,
	}, nil
}

// ── training ────────────────────────────────────────────────────────

// TrainingExecutor runs a training script and publishes where the model and
// metrics landed.
type TrainingExecutor struct {
	Scripts ScriptRunner
}

func (e TrainingExecutor) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	cfg, ok := req.Node.Data.Config.(*TrainingConfig)
	if !ok {
		return nil, ErrConfigMismatch
	}
	if cfg.Script == "" && cfg.ScriptPath == "" {
		return &ExecResult{Success: false, Message: "no training script configured"}, nil
	}

	vars := make(map[string]string, len(cfg.Hyperparameters)+2)
	for k, v := range cfg.Hyperparameters {
		vars[k] = v
	}
	if v, ok := req.Inputs["dataPath"]; ok && v != "" {
		vars["data_path"] = v
	}
	if cfg.OutputDir != "" {
		vars["output_dir"] = cfg.OutputDir
	}

	res, err := e.Scripts.Run(ctx, Script{
		Name:            req.Node.Data.Label,
		Path:            cfg.ScriptPath,
		Body:            cfg.Script,
		Variables:       vars,
		OutputVariables: []string{"modelPath", "metricsPath"},
	})
	if err != nil {
		return &ExecResult{Success: false, Message: err.Error()}, nil
	}
	if res.ExitCode != 0 {
		return &ExecResult{
			Success: false,
			Message: fmt.Sprintf("training exited with code %d: %s", res.ExitCode, lastLine(res.Stderr)),
		}, nil
	}

	outputs := map[string]string{}
	if v := res.Outputs["modelPath"]; v != "" {
		outputs["modelPath"] = v
	} else if cfg.ModelPath != "" {
		outputs["modelPath"] = cfg.ModelPath
	}
	if v := res.Outputs["metricsPath"]; v != "" {
		outputs["metricsPath"] = v
	} else if cfg.MetricsPath != "" {
		outputs["metricsPath"] = cfg.MetricsPath
	}

	if outputs["modelPath"] == "" {
		return &ExecResult{
			Success: true,
			Warning: true,
			Message: "training finished but reported no model path",
			Outputs: outputs,
		}, nil
	}
	return &ExecResult{Success: true, Message: "training completed", Outputs: outputs}, nil
}

// ── experiment ──────────────────────────────────────────────────────

// ExperimentExecutor passes list/info queries through to the registry.
type ExperimentExecutor struct {
	Registry DatasetRegistry
}

func (e ExperimentExecutor) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	cfg, ok := req.Node.Data.Config.(*ExperimentConfig)
	if !ok {
		return nil, ErrConfigMismatch
	}

	switch cfg.Action {
	case "list":
		datasets, err := e.Registry.ListDatasets(ctx, cfg.Credentials, cfg.Project)
		if err != nil {
			return &ExecResult{Success: false, Message: err.Error()}, nil
		}
		return &ExecResult{Success: true, Message: fmt.Sprintf("found %d datasets", len(datasets))}, nil

	case "info":
		id := cfg.DatasetID
		if v, ok := req.Inputs["datasetId"]; ok && v != "" {
			id = v
		}
		if id == "" {
			return &ExecResult{Success: false, Message: "no dataset id configured"}, nil
		}
		ds, err := e.Registry.DatasetInfo(ctx, cfg.Credentials, id)
		if err != nil {
			return &ExecResult{Success: false, Message: err.Error()}, nil
		}
		return &ExecResult{
			Success: true,
			Message: fmt.Sprintf("dataset %s (%s)", ds.Name, ds.ID),
			Outputs: map[string]string{"datasetId": ds.ID, "datasetName": ds.Name},
		}, nil
	}

	return &ExecResult{Success: false, Message: fmt.Sprintf("unknown experiment action %q", cfg.Action)}, nil
}

// ── report ──────────────────────────────────────────────────────────

// ReportExecutor writes a run summary document covering every node in the
// draft, optionally embedding the metrics file an upstream training node
// produced.
type ReportExecutor struct {
	Store *Store
}

type reportNode struct {
	ID            string     `json:"id"`
	Type          NodeType   `json:"type"`
	Label         string     `json:"label"`
	Status        NodeStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
}

type reportDocument struct {
	Title       string          `json:"title"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Nodes       []reportNode    `json:"nodes"`
	Metrics     json.RawMessage `json:"metrics,omitempty"`
}

func (e ReportExecutor) Execute(_ context.Context, req ExecRequest) (*ExecResult, error) {
	cfg, ok := req.Node.Data.Config.(*ReportConfig)
	if !ok {
		return nil, ErrConfigMismatch
	}
	if cfg.OutputPath == "" {
		return &ExecResult{Success: false, Message: "no report output path configured"}, nil
	}

	nodes, _ := e.Store.Draft()
	doc := reportDocument{Title: cfg.Title, GeneratedAt: time.Now().UTC()}
	for _, n := range nodes {
		if n.ID == req.Node.ID {
			continue
		}
		doc.Nodes = append(doc.Nodes, reportNode{
			ID:            n.ID,
			Type:          n.Type,
			Label:         n.Data.Label,
			Status:        n.Data.Status,
			StatusMessage: n.Data.StatusMessage,
		})
	}

	warning := ""
	if cfg.IncludeMetrics {
		metricsPath := req.Inputs["metricsPath"]
		if metricsPath == "" {
			metricsPath = cfg.MetricsPath
		}
		if metricsPath != "" {
			raw, err := os.ReadFile(metricsPath)
			if err != nil {
				warning = fmt.Sprintf("metrics file unreadable: %v", err)
			} else if json.Valid(raw) {
				doc.Metrics = raw
			} else {
				warning = fmt.Sprintf("metrics file %s is not valid JSON", metricsPath)
			}
		}
	}

	out, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return &ExecResult{Success: false, Message: err.Error()}, nil
	}
	if dir := filepath.Dir(cfg.OutputPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &ExecResult{Success: false, Message: err.Error()}, nil
		}
	}
	if err := os.WriteFile(cfg.OutputPath, out, 0o644); err != nil {
		return &ExecResult{Success: false, Message: err.Error()}, nil
	}

	outputs := map[string]string{"outputPath": cfg.OutputPath}
	if warning != "" {
		return &ExecResult{Success: true, Warning: true, Message: warning, Outputs: outputs}, nil
	}
	return &ExecResult{
		Success: true,
		Message: fmt.Sprintf("report written to %s", cfg.OutputPath),
		Outputs: outputs,
	}, nil
}

func lastLine(s string) string {
	s = strings.TrimRight(s, "\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
