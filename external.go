package pipeline

import "context"

// Script describes one invocation of the script-execution collaborator.
// Variables are injected as top-level assignments before the script body;
// OutputVariables name the values the script is expected to report back via
// sentinel stdout lines.
type Script struct {
	Name            string
	Path            string // script file on disk; used when Body is empty
	Body            string // inline script body
	Variables       map[string]string
	OutputVariables []string
}

// ScriptResult is what the script-execution collaborator reports back.
// Outputs holds the values parsed from sentinel lines; Stdout has those
// lines already stripped.
type ScriptResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Outputs  map[string]string
}

// ScriptRunner executes scripts through an external interpreter.
type ScriptRunner interface {
	Run(ctx context.Context, s Script) (*ScriptResult, error)
}

// Dataset is a record in the remote dataset registry.
type Dataset struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Project   string   `json:"project,omitempty"`
	Version   string   `json:"version,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Created   string   `json:"created,omitempty"`
	WebURL    string   `json:"webUrl,omitempty"`
	LocalPath string   `json:"localPath,omitempty"` // set after a download
}

// CreateDatasetRequest carries everything a create or version action needs.
// ParentID is only consulted by Version.
type CreateDatasetRequest struct {
	Name        string
	Project     string
	InputPaths  []string
	Tags        []string
	Description string
	ParentID    string
}

// DatasetRegistry is the remote dataset-registry collaborator (ClearML-like).
// Failures come back as plain errors carrying the collaborator's message.
type DatasetRegistry interface {
	ListDatasets(ctx context.Context, creds ClearMLCredentials, project string) ([]Dataset, error)
	DatasetInfo(ctx context.Context, creds ClearMLCredentials, id string) (*Dataset, error)
	CreateDataset(ctx context.Context, creds ClearMLCredentials, req CreateDatasetRequest) (*Dataset, error)
	VersionDataset(ctx context.Context, creds ClearMLCredentials, req CreateDatasetRequest) (*Dataset, error)
	DownloadDataset(ctx context.Context, creds ClearMLCredentials, id, outputPath string) (*Dataset, error)
}
