package pipeline

import (
	"encoding/json"
	"fmt"
)

// Config is the type-specific configuration payload of a node. Each node type
// has exactly one variant; the discriminant is the node's Type field.
//
// Lookup and LookupList expose the variant's fields to the variable resolver
// under their symbolic names. Inputs returns the fields that may hold
// {{sourceNode.*}} references, keyed by the name executors expect them under.
type Config interface {
	// Kind returns the node type this config belongs to.
	Kind() NodeType
	// Lookup reports the scalar variable named key. Unset fields report false.
	Lookup(key string) (string, bool)
	// LookupList reports the list variable named key.
	LookupList(key string) ([]string, bool)
	// Inputs returns the reference-bearing input fields of this config.
	Inputs() map[string]string

	clone() Config
}

// DecodeConfig parses a raw config payload as the variant for node type t.
// A nil or empty payload yields the type's default config. Unknown types are
// rejected here, at the construction boundary.
func DecodeConfig(t NodeType, raw json.RawMessage) (Config, error) {
	cfg := DefaultConfig(t)
	if cfg == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, t)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("pipeline: decode %s config: %w", t, err)
	}
	return cfg, nil
}

// DefaultConfig returns the defaulted config variant for a node type, or nil
// for an unknown type.
func DefaultConfig(t NodeType) Config {
	switch t {
	case TypeDataset:
		return &DatasetConfig{Source: "local", Format: "csv"}
	case TypeVersioning:
		return &VersioningConfig{Tool: "clearml", Action: "create"}
	case TypePreprocessing:
		return &PreprocessingConfig{}
	case TypeTraining:
		return &TrainingConfig{Framework: "pytorch"}
	case TypeExperiment:
		return &ExperimentConfig{Tool: "clearml", Action: "list"}
	case TypeReport:
		return &ReportConfig{Format: "json", Title: "Pipeline Report"}
	}
	return nil
}

func defaultLabel(t NodeType) string {
	switch t {
	case TypeDataset:
		return "Dataset"
	case TypeVersioning:
		return "Versioning"
	case TypePreprocessing:
		return "Preprocessing"
	case TypeTraining:
		return "Training"
	case TypeExperiment:
		return "Experiment"
	case TypeReport:
		return "Report"
	}
	return string(t)
}

// ClearMLCredentials are passed through to the dataset-registry collaborator.
type ClearMLCredentials struct {
	APIHost   string `json:"apiHost,omitempty"`
	WebHost   string `json:"webHost,omitempty"`
	FilesHost string `json:"filesHost,omitempty"`
	AccessKey string `json:"accessKey,omitempty"`
	SecretKey string `json:"secretKey,omitempty"`
}

// ── dataset ─────────────────────────────────────────────────────────

// DatasetConfig describes where a dataset node reads its data from.
type DatasetConfig struct {
	Source     string `json:"source"` // local, s3, http
	Path       string `json:"path"`
	Format     string `json:"format"`
	OutputPath string `json:"outputPath,omitempty"`
}

func (c *DatasetConfig) Kind() NodeType { return TypeDataset }

func (c *DatasetConfig) Lookup(key string) (string, bool) {
	switch key {
	case "source":
		return nonEmpty(c.Source)
	case "path":
		return nonEmpty(c.Path)
	case "format":
		return nonEmpty(c.Format)
	case "outputPath":
		return nonEmpty(c.OutputPath)
	}
	return "", false
}

func (c *DatasetConfig) LookupList(string) ([]string, bool) { return nil, false }

func (c *DatasetConfig) Inputs() map[string]string {
	return map[string]string{"path": c.Path}
}

func (c *DatasetConfig) clone() Config {
	out := *c
	return &out
}

// ── versioning ──────────────────────────────────────────────────────

// VersioningConfig drives the dataset-registry collaborator (create a
// dataset, cut a new version, download, list).
type VersioningConfig struct {
	Tool            string             `json:"tool"`   // clearml, dvc
	Action          string             `json:"action"` // create, version, download, list
	Version         string             `json:"version,omitempty"`
	InputPath       string             `json:"inputPath,omitempty"`
	InputPaths      []string           `json:"inputPaths,omitempty"`
	OutputPath      string             `json:"outputPath,omitempty"`
	ConnectionID    string             `json:"connectionId,omitempty"`
	Credentials     ClearMLCredentials `json:"credentials,omitempty"`
	SelectedDataset string             `json:"selectedDataset,omitempty"`
	DatasetName     string             `json:"datasetName,omitempty"`
	DatasetID       string             `json:"datasetId,omitempty"`
	Project         string             `json:"project,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
}

func (c *VersioningConfig) Kind() NodeType { return TypeVersioning }

func (c *VersioningConfig) Lookup(key string) (string, bool) {
	switch key {
	case "tool":
		return nonEmpty(c.Tool)
	case "version":
		return nonEmpty(c.Version)
	case "inputPath":
		return nonEmpty(c.InputPath)
	case "outputPath":
		return nonEmpty(c.OutputPath)
	case "datasetId":
		return nonEmpty(c.DatasetID)
	case "datasetName":
		return nonEmpty(c.DatasetName)
	case "selectedDataset":
		return nonEmpty(c.SelectedDataset)
	case "project":
		return nonEmpty(c.Project)
	}
	return "", false
}

func (c *VersioningConfig) LookupList(key string) ([]string, bool) {
	switch key {
	case "inputPaths":
		return c.InputPaths, len(c.InputPaths) > 0
	case "tags":
		return c.Tags, len(c.Tags) > 0
	}
	return nil, false
}

func (c *VersioningConfig) Inputs() map[string]string {
	in := map[string]string{"inputPath": c.InputPath}
	for i, p := range c.InputPaths {
		in[fmt.Sprintf("inputPaths[%d]", i)] = p
	}
	return in
}

func (c *VersioningConfig) clone() Config {
	out := *c
	out.InputPaths = append([]string(nil), c.InputPaths...)
	out.Tags = append([]string(nil), c.Tags...)
	return &out
}

// ── preprocessing ───────────────────────────────────────────────────

// ScriptStep is one script invocation inside a preprocessing node.
// DataVariables map script variable names to values; a value may be a
// {{sourceNode.*}} reference resolved before the step runs. OutputVariables
// name the values the script reports back through sentinel stdout lines.
type ScriptStep struct {
	Name            string            `json:"name"`
	Script          string            `json:"script,omitempty"`     // inline body
	ScriptPath      string            `json:"scriptPath,omitempty"` // path on disk
	DataVariables   map[string]string `json:"dataVariables,omitempty"`
	OutputVariables []string          `json:"outputVariables,omitempty"`
}

// PreprocessingConfig chains script steps over an input path.
type PreprocessingConfig struct {
	InputPath  string       `json:"inputPath,omitempty"`
	OutputPath string       `json:"outputPath,omitempty"`
	Steps      []ScriptStep `json:"steps,omitempty"`
}

func (c *PreprocessingConfig) Kind() NodeType { return TypePreprocessing }

// DeclaredOutputs lists every output variable named by any step, in source
// order.
func (c *PreprocessingConfig) DeclaredOutputs() []string {
	var out []string
	for _, step := range c.Steps {
		out = append(out, step.OutputVariables...)
	}
	return out
}

func (c *PreprocessingConfig) Lookup(key string) (string, bool) {
	switch key {
	case "inputPath":
		return nonEmpty(c.InputPath)
	case "outputPath":
		return nonEmpty(c.OutputPath)
	}
	return "", false
}

func (c *PreprocessingConfig) LookupList(string) ([]string, bool) { return nil, false }

func (c *PreprocessingConfig) Inputs() map[string]string {
	in := map[string]string{"inputPath": c.InputPath}
	for _, step := range c.Steps {
		for name, value := range step.DataVariables {
			in[name] = value
		}
	}
	return in
}

func (c *PreprocessingConfig) clone() Config {
	out := *c
	out.Steps = make([]ScriptStep, len(c.Steps))
	for i, step := range c.Steps {
		s := step
		s.OutputVariables = append([]string(nil), step.OutputVariables...)
		if step.DataVariables != nil {
			s.DataVariables = make(map[string]string, len(step.DataVariables))
			for k, v := range step.DataVariables {
				s.DataVariables[k] = v
			}
		}
		out.Steps[i] = s
	}
	return &out
}

// ── training ────────────────────────────────────────────────────────

// TrainingConfig runs a training script against a (usually upstream-fed)
// data path.
type TrainingConfig struct {
	Framework       string            `json:"framework,omitempty"`
	Script          string            `json:"script,omitempty"`     // inline body
	ScriptPath      string            `json:"scriptPath,omitempty"` // path on disk
	DataPath        string            `json:"dataPath,omitempty"`
	Hyperparameters map[string]string `json:"hyperparameters,omitempty"`
	OutputDir       string            `json:"outputDir,omitempty"`
	ModelPath       string            `json:"modelPath,omitempty"`
	MetricsPath     string            `json:"metricsPath,omitempty"`
}

func (c *TrainingConfig) Kind() NodeType { return TypeTraining }

func (c *TrainingConfig) Lookup(key string) (string, bool) {
	switch key {
	case "framework":
		return nonEmpty(c.Framework)
	case "dataPath":
		return nonEmpty(c.DataPath)
	case "outputDir":
		return nonEmpty(c.OutputDir)
	case "modelPath":
		return nonEmpty(c.ModelPath)
	case "metricsPath":
		return nonEmpty(c.MetricsPath)
	}
	return "", false
}

func (c *TrainingConfig) LookupList(string) ([]string, bool) { return nil, false }

func (c *TrainingConfig) Inputs() map[string]string {
	return map[string]string{"dataPath": c.DataPath}
}

func (c *TrainingConfig) clone() Config {
	out := *c
	if c.Hyperparameters != nil {
		out.Hyperparameters = make(map[string]string, len(c.Hyperparameters))
		for k, v := range c.Hyperparameters {
			out.Hyperparameters[k] = v
		}
	}
	return &out
}

// ── experiment ──────────────────────────────────────────────────────

// ExperimentConfig queries the experiment-tracking collaborator.
type ExperimentConfig struct {
	Tool        string             `json:"tool"`   // clearml
	Action      string             `json:"action"` // list, info
	Project     string             `json:"project,omitempty"`
	TaskName    string             `json:"taskName,omitempty"`
	DatasetID   string             `json:"datasetId,omitempty"`
	Credentials ClearMLCredentials `json:"credentials,omitempty"`
}

func (c *ExperimentConfig) Kind() NodeType { return TypeExperiment }

func (c *ExperimentConfig) Lookup(key string) (string, bool) {
	switch key {
	case "project":
		return nonEmpty(c.Project)
	case "taskName":
		return nonEmpty(c.TaskName)
	case "datasetId":
		return nonEmpty(c.DatasetID)
	}
	return "", false
}

func (c *ExperimentConfig) LookupList(string) ([]string, bool) { return nil, false }

func (c *ExperimentConfig) Inputs() map[string]string {
	return map[string]string{"datasetId": c.DatasetID}
}

func (c *ExperimentConfig) clone() Config {
	out := *c
	return &out
}

// ── report ──────────────────────────────────────────────────────────

// ReportConfig writes a run summary document to disk.
type ReportConfig struct {
	Title          string `json:"title,omitempty"`
	Format         string `json:"format,omitempty"` // json
	OutputPath     string `json:"outputPath,omitempty"`
	MetricsPath    string `json:"metricsPath,omitempty"`
	IncludeMetrics bool   `json:"includeMetrics,omitempty"`
}

func (c *ReportConfig) Kind() NodeType { return TypeReport }

func (c *ReportConfig) Lookup(key string) (string, bool) {
	switch key {
	case "title":
		return nonEmpty(c.Title)
	case "outputPath":
		return nonEmpty(c.OutputPath)
	case "metricsPath":
		return nonEmpty(c.MetricsPath)
	}
	return "", false
}

func (c *ReportConfig) LookupList(string) ([]string, bool) { return nil, false }

func (c *ReportConfig) Inputs() map[string]string {
	return map[string]string{"metricsPath": c.MetricsPath}
}

func (c *ReportConfig) clone() Config {
	out := *c
	return &out
}

func nonEmpty(s string) (string, bool) { return s, s != "" }
