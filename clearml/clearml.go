// Package clearml implements pipeline.DatasetRegistry by shelling out to a
// Python wrapper around the ClearML SDK. The wrapper exposes one action per
// invocation (list, info, create, version, download) and prints a single
// JSON response on stdout.
package clearml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/clearpipe/pipeline"
)

// DefaultTimeout caps a single wrapper invocation. Dataset uploads and
// downloads can be slow, so this is deliberately generous.
const DefaultTimeout = 10 * time.Minute

// Client implements pipeline.DatasetRegistry through the wrapper CLI.
// The zero value needs Wrapper set; Python defaults to "python3".
type Client struct {
	Python  string        // interpreter binary
	Wrapper string        // path to the wrapper script
	Timeout time.Duration // wall-clock limit per action
	Log     *slog.Logger
}

var _ pipeline.DatasetRegistry = (*Client)(nil)

// response mirrors the wrapper's JSON output. Every action sets success;
// the remaining fields depend on the action.
type response struct {
	Success        bool               `json:"success"`
	Error          string             `json:"error"`
	DatasetID      string             `json:"datasetId"`
	DatasetName    string             `json:"datasetName"`
	DatasetProject string             `json:"datasetProject"`
	LocalPath      string             `json:"localPath"`
	WebURL         string             `json:"webUrl"`
	Count          int                `json:"count"`
	Datasets       []pipeline.Dataset `json:"datasets"`
}

// ListDatasets returns the registry's datasets, optionally filtered by project.
func (c *Client) ListDatasets(ctx context.Context, creds pipeline.ClearMLCredentials, project string) ([]pipeline.Dataset, error) {
	args := []string{"list"}
	if project != "" {
		args = append(args, "--dataset-project", project)
	}
	resp, err := c.invoke(ctx, creds, args)
	if err != nil {
		return nil, err
	}
	return resp.Datasets, nil
}

// DatasetInfo fetches metadata for one dataset by id.
func (c *Client) DatasetInfo(ctx context.Context, creds pipeline.ClearMLCredentials, id string) (*pipeline.Dataset, error) {
	if id == "" {
		return nil, errors.New("clearml: dataset id required")
	}
	resp, err := c.invoke(ctx, creds, []string{"info", "--dataset-id", id})
	if err != nil {
		return nil, err
	}
	return resp.dataset(), nil
}

// CreateDataset registers a new dataset from the request's input paths.
func (c *Client) CreateDataset(ctx context.Context, creds pipeline.ClearMLCredentials, req pipeline.CreateDatasetRequest) (*pipeline.Dataset, error) {
	if req.Name == "" {
		return nil, errors.New("clearml: dataset name required")
	}
	if len(req.InputPaths) == 0 {
		return nil, errors.New("clearml: at least one input path required")
	}
	resp, err := c.invoke(ctx, creds, datasetArgs("create", req))
	if err != nil {
		return nil, err
	}
	return resp.dataset(), nil
}

// VersionDataset creates a new version as a child of req.ParentID.
func (c *Client) VersionDataset(ctx context.Context, creds pipeline.ClearMLCredentials, req pipeline.CreateDatasetRequest) (*pipeline.Dataset, error) {
	if req.ParentID == "" {
		return nil, errors.New("clearml: parent dataset id required")
	}
	if len(req.InputPaths) == 0 {
		return nil, errors.New("clearml: at least one input path required")
	}
	args := append(datasetArgs("version", req), "--dataset-id", req.ParentID)
	resp, err := c.invoke(ctx, creds, args)
	if err != nil {
		return nil, err
	}
	return resp.dataset(), nil
}

// DownloadDataset fetches a dataset copy to outputPath and reports where it
// actually landed in the result's LocalPath.
func (c *Client) DownloadDataset(ctx context.Context, creds pipeline.ClearMLCredentials, id, outputPath string) (*pipeline.Dataset, error) {
	if id == "" {
		return nil, errors.New("clearml: dataset id required")
	}
	args := []string{"download", "--dataset-id", id}
	if outputPath != "" {
		args = append(args, "--output-path", outputPath)
	}
	resp, err := c.invoke(ctx, creds, args)
	if err != nil {
		return nil, err
	}
	return resp.dataset(), nil
}

// invoke runs one wrapper action and decodes its JSON response. A response
// with success=false becomes an error carrying the wrapper's own message.
func (c *Client) invoke(ctx context.Context, creds pipeline.ClearMLCredentials, args []string) (*response, error) {
	if c.Wrapper == "" {
		return nil, errors.New("clearml: wrapper script not configured")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	python := c.Python
	if python == "" {
		python = "python3"
	}

	action := args[0]
	full := append([]string{c.Wrapper}, args...)
	full = append(full, credentialArgs(creds)...)

	cmd := exec.CommandContext(ctx, python, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("clearml: %s timed out after %s", action, timeout)
	}

	// The wrapper reports action failures in its JSON body, so try to
	// decode even when the process exited non-zero.
	resp, decodeErr := decodeResponse(stdout.Bytes())
	if decodeErr != nil {
		if runErr != nil {
			return nil, fmt.Errorf("clearml: %s: %w: %s", action, runErr, lastLine(stderr.String()))
		}
		return nil, fmt.Errorf("clearml: %s: %w", action, decodeErr)
	}

	if c.Log != nil {
		c.Log.Debug("clearml action finished", "action", action, "success", resp.Success)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "unknown registry error"
		}
		return nil, fmt.Errorf("clearml: %s: %s", action, msg)
	}
	return resp, nil
}

// decodeResponse parses the wrapper's stdout. The wrapper may print SDK noise
// before the response, so decoding starts at the last line that looks like a
// JSON object.
func decodeResponse(out []byte) (*response, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var resp response
		if err := json.Unmarshal([]byte(line), &resp); err == nil {
			return &resp, nil
		}
	}
	return nil, errors.New("no JSON response on stdout")
}

// dataset assembles a Dataset from the response's flat fields.
func (r *response) dataset() *pipeline.Dataset {
	return &pipeline.Dataset{
		ID:        r.DatasetID,
		Name:      r.DatasetName,
		Project:   r.DatasetProject,
		WebURL:    r.WebURL,
		LocalPath: r.LocalPath,
	}
}

func datasetArgs(action string, req pipeline.CreateDatasetRequest) []string {
	args := []string{action, "--dataset-name", req.Name}
	if req.Project != "" {
		args = append(args, "--dataset-project", req.Project)
	}
	for _, p := range req.InputPaths {
		args = append(args, "--input-path", p)
	}
	for _, t := range req.Tags {
		args = append(args, "--tags", t)
	}
	if req.Description != "" {
		args = append(args, "--description", req.Description)
	}
	return args
}

func credentialArgs(creds pipeline.ClearMLCredentials) []string {
	var args []string
	if creds.APIHost != "" {
		args = append(args, "--api-host", creds.APIHost)
	}
	if creds.WebHost != "" {
		args = append(args, "--web-host", creds.WebHost)
	}
	if creds.FilesHost != "" {
		args = append(args, "--files-host", creds.FilesHost)
	}
	if creds.AccessKey != "" {
		args = append(args, "--access-key", creds.AccessKey)
	}
	if creds.SecretKey != "" {
		args = append(args, "--secret-key", creds.SecretKey)
	}
	return args
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
