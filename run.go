package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ExecRequest is what an executor receives for one node: the node itself,
// its reference-bearing config fields already resolved against the upstream
// node, and the upstream node's runtime outputs from earlier in the run.
type ExecRequest struct {
	Node    Node
	Inputs  map[string]string
	Runtime map[string]string
}

// ExecResult is an executor's verdict for one node. Failure is communicated
// via Success=false plus Message, never a typed error. Outputs become the
// node's runtime outputs, available to downstream references for the rest of
// the run.
type ExecResult struct {
	Success bool              `json:"success"`
	Warning bool              `json:"warning,omitempty"`
	Message string            `json:"message,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// Executor runs one node type. Implementations call external collaborators
// and report the outcome; they never mutate the store themselves.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (*ExecResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req ExecRequest) (*ExecResult, error)

// Execute calls the underlying function.
func (f ExecutorFunc) Execute(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	return f(ctx, req)
}

// Runner drives a single run of the working draft: strictly sequential, one
// pass, no retries. A node's failure never halts its siblings; a downstream
// node whose upstream failed surfaces its own resolution error instead.
type Runner struct {
	store     *Store
	executors map[NodeType]Executor
	log       *slog.Logger
}

// NewRunner builds a Runner over a store and a per-type executor set. A nil
// logger falls back to slog.Default().
func NewRunner(store *Store, executors map[NodeType]Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: store, executors: executors, log: logger}
}

// RunReport summarizes one run, keyed by node id.
type RunReport struct {
	Started  time.Time             `json:"started"`
	Finished time.Time             `json:"finished"`
	Results  map[string]ExecResult `json:"results"`
}

// Failed counts nodes that ended in failure.
func (r *RunReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Success {
			n++
		}
	}
	return n
}

// Run walks the draft's nodes in insertion order, restricted to the given
// types (none means all), executing each and threading runtime outputs
// forward. The context is checked between nodes; an in-flight executor call
// is never interrupted mid-node beyond what ctx gives it.
func (r *Runner) Run(ctx context.Context, types ...NodeType) (*RunReport, error) {
	nodes, edges := r.store.Draft()

	target := make(map[NodeType]bool, len(types))
	for _, t := range types {
		target[t] = true
	}

	report := &RunReport{Started: time.Now().UTC(), Results: make(map[string]ExecResult)}
	produced := make(map[string]map[string]string)

	for i := range nodes {
		n := nodes[i]
		if len(target) > 0 && !target[n.Type] {
			continue
		}
		if err := ctx.Err(); err != nil {
			report.Finished = time.Now().UTC()
			return report, err
		}

		exec, ok := r.executors[n.Type]
		if !ok {
			r.fail(report, n, fmt.Sprintf("no executor registered for node type %q", n.Type))
			continue
		}

		r.store.UpdateNodeStatus(n.ID, StatusRunning, "")
		r.log.Info("node running", "id", n.ID, "type", n.Type, "label", n.Data.Label)

		upstream := ConnectedSource(n.ID, nodes, edges)
		var runtime map[string]string
		if upstream != nil {
			runtime = produced[upstream.ID]
		}

		inputs, err := resolveInputs(&n, upstream, runtime)
		if err != nil {
			r.fail(report, n, err.Error())
			continue
		}

		res, err := exec.Execute(ctx, ExecRequest{Node: n, Inputs: inputs, Runtime: runtime})
		if err != nil {
			res = &ExecResult{Success: false, Message: err.Error()}
		}
		report.Results[n.ID] = *res

		switch {
		case !res.Success:
			r.store.UpdateNodeStatus(n.ID, StatusError, res.Message)
			r.log.Warn("node failed", "id", n.ID, "message", res.Message)
		case res.Warning:
			r.store.UpdateNodeStatus(n.ID, StatusWarning, res.Message)
		default:
			r.store.UpdateNodeStatus(n.ID, StatusCompleted, res.Message)
		}

		if res.Success && len(res.Outputs) > 0 {
			produced[n.ID] = res.Outputs
		}
	}

	report.Finished = time.Now().UTC()
	return report, nil
}

func (r *Runner) fail(report *RunReport, n Node, message string) {
	r.store.UpdateNodeStatus(n.ID, StatusError, message)
	report.Results[n.ID] = ExecResult{Success: false, Message: message}
	r.log.Warn("node failed", "id", n.ID, "message", message)
}

// resolveInputs resolves every reference-bearing config field of n against
// its upstream node and that node's runtime outputs. Literal values pass
// through untouched; empty fields are dropped.
func resolveInputs(n *Node, upstream *Node, runtime map[string]string) (map[string]string, error) {
	inputs := make(map[string]string)
	for key, raw := range n.Data.Config.Inputs() {
		if raw == "" {
			continue
		}
		if !IsReference(raw) {
			inputs[key] = raw
			continue
		}
		if upstream == nil {
			return nil, fmt.Errorf("input %s references %s but no upstream node is connected", key, raw)
		}
		v, err := Resolve(raw, upstream, runtime)
		if err != nil {
			return nil, fmt.Errorf("input %s (%s): %w", key, raw, err)
		}
		inputs[key] = v
	}
	return inputs, nil
}
