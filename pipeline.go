package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NodeType identifies the kind of pipeline step a node represents.
type NodeType string

const (
	TypeDataset       NodeType = "dataset"
	TypeVersioning    NodeType = "versioning"
	TypePreprocessing NodeType = "preprocessing"
	TypeTraining      NodeType = "training"
	TypeExperiment    NodeType = "experiment"
	TypeReport        NodeType = "report"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case TypeDataset, TypeVersioning, TypePreprocessing, TypeTraining, TypeExperiment, TypeReport:
		return true
	}
	return false
}

// NodeStatus tracks a node through its execution lifecycle.
type NodeStatus string

const (
	StatusIdle      NodeStatus = "idle"
	StatusRunning   NodeStatus = "running"
	StatusCompleted NodeStatus = "completed"
	StatusWarning   NodeStatus = "warning"
	StatusError     NodeStatus = "error"
)

// Position is a node's canvas coordinate. It has no effect on execution.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData carries the editable content of a node plus its execution-derived
// status fields.
type NodeData struct {
	Label         string     `json:"label"`
	Description   string     `json:"description,omitempty"`
	Status        NodeStatus `json:"status"`
	StatusMessage string     `json:"statusMessage,omitempty"`
	LastUpdated   time.Time  `json:"lastUpdated"`
	Config        Config     `json:"config"`
}

// Node is a configured step in the pipeline graph. The Config variant held in
// Data is always the one matching Type; mismatches are rejected at decode.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// UnmarshalJSON decodes a node, dispatching the config payload on the node
// type. Unknown types fail here rather than at first field access.
func (n *Node) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       string   `json:"id"`
		Type     NodeType `json:"type"`
		Position Position `json:"position"`
		Data     struct {
			Label         string          `json:"label"`
			Description   string          `json:"description"`
			Status        NodeStatus      `json:"status"`
			StatusMessage string          `json:"statusMessage"`
			LastUpdated   time.Time       `json:"lastUpdated"`
			Config        json.RawMessage `json:"config"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	cfg, err := DecodeConfig(raw.Type, raw.Data.Config)
	if err != nil {
		return fmt.Errorf("pipeline: node %q: %w", raw.ID, err)
	}

	status := raw.Data.Status
	if status == "" {
		status = StatusIdle
	}

	n.ID = raw.ID
	n.Type = raw.Type
	n.Position = raw.Position
	n.Data = NodeData{
		Label:         raw.Data.Label,
		Description:   raw.Data.Description,
		Status:        status,
		StatusMessage: raw.Data.StatusMessage,
		LastUpdated:   raw.Data.LastUpdated,
		Config:        cfg,
	}
	return nil
}

// clone returns a deep copy, including the config variant.
func (n Node) clone() Node {
	out := n
	if n.Data.Config != nil {
		out.Data.Config = n.Data.Config.clone()
	}
	return out
}

// Edge is a directed connection: the target node may consume outputs of the
// source node.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Pipeline is a named, versioned snapshot of a node/edge set.
type Pipeline struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Nodes       []Node    `json:"nodes"`
	Edges       []Edge    `json:"edges"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     int       `json:"version"`
}

// Clone returns a deep copy safe to hand across ownership boundaries.
func (p Pipeline) Clone() Pipeline {
	out := p
	out.Nodes = cloneNodes(p.Nodes)
	out.Edges = cloneEdges(p.Edges)
	return out
}

func cloneNodes(nodes []Node) []Node {
	if nodes == nil {
		return nil
	}
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		out[i] = n.clone()
	}
	return out
}

func cloneEdges(edges []Edge) []Edge {
	if edges == nil {
		return nil
	}
	out := make([]Edge, len(edges))
	copy(out, edges)
	return out
}

func newID() string { return uuid.NewString() }
