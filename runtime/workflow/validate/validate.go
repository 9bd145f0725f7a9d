// Package validate checks workflow definitions before execution. Validation
// returns the full list of problems rather than failing fast so the authoring
// UI can surface every issue in one round-trip.
package validate

import (
	"fmt"
	"sort"

	"github.com/flowmesh/flowrun/runtime/workflow"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
)

type (
	// Code classifies a validation failure.
	Code string

	// Error describes a single structural problem with a workflow.
	Error struct {
		// Code classifies the failure.
		Code Code `json:"code"`
		// NodeID identifies the offending node when the failure is
		// node-scoped.
		NodeID string `json:"node_id,omitempty"`
		// Message is a human-readable description.
		Message string `json:"message"`
	}
)

const (
	// CodeUnknownNode indicates an edge endpoint that names a missing node.
	CodeUnknownNode Code = "UNKNOWN_NODE"
	// CodeUnknownPort indicates an edge referencing a missing output or input
	// name on an existing node.
	CodeUnknownPort Code = "UNKNOWN_PORT"
	// CodeTypeMismatch indicates an edge whose output kind is not assignable
	// to its input kind.
	CodeTypeMismatch Code = "TYPE_MISMATCH"
	// CodeDuplicateInput indicates more than one edge into a non-repeated
	// input.
	CodeDuplicateInput Code = "DUPLICATE_INPUT"
	// CodeInvalidConnection indicates a required input without a default that
	// has neither an incoming edge nor a literal value.
	CodeInvalidConnection Code = "INVALID_CONNECTION"
	// CodeCycleDetected indicates the edge-induced graph is not acyclic.
	CodeCycleDetected Code = "CYCLE_DETECTED"
	// CodeDuplicateNode indicates two nodes sharing one id.
	CodeDuplicateNode Code = "DUPLICATE_NODE"
)

// Error implements the error interface.
func (e Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Workflow checks the workflow's structure and returns every problem found.
// Checks run in order: edge endpoints resolve, port names exist, kinds are
// assignable, non-repeated inputs have at most one incoming edge, required
// inputs are satisfiable, and the graph is acyclic (Kahn's algorithm). A nil
// return means the workflow is valid.
func Workflow(wf *workflow.Workflow) []Error {
	var errs []Error

	seen := make(map[string]bool, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if seen[n.ID] {
			errs = append(errs, Error{Code: CodeDuplicateNode, NodeID: n.ID, Message: "duplicate node id"})
		}
		seen[n.ID] = true
	}

	inbound := make(map[string]map[string]int) // nodeID -> input name -> edge count
	for _, e := range wf.Edges {
		src := wf.Node(e.SourceNode)
		dst := wf.Node(e.TargetNode)
		if src == nil {
			errs = append(errs, Error{Code: CodeUnknownNode, NodeID: e.SourceNode, Message: fmt.Sprintf("edge source node %q does not exist", e.SourceNode)})
		}
		if dst == nil {
			errs = append(errs, Error{Code: CodeUnknownNode, NodeID: e.TargetNode, Message: fmt.Sprintf("edge target node %q does not exist", e.TargetNode)})
		}
		if src == nil || dst == nil {
			continue
		}
		out := src.Output(e.SourceOutput)
		if out == nil {
			errs = append(errs, Error{Code: CodeUnknownPort, NodeID: src.ID, Message: fmt.Sprintf("output %q does not exist", e.SourceOutput)})
		}
		in := dst.Input(e.TargetInput)
		if in == nil {
			errs = append(errs, Error{Code: CodeUnknownPort, NodeID: dst.ID, Message: fmt.Sprintf("input %q does not exist", e.TargetInput)})
		}
		if out == nil || in == nil {
			continue
		}
		if !param.Assignable(out.Kind, in.Kind) {
			errs = append(errs, Error{
				Code:    CodeTypeMismatch,
				NodeID:  dst.ID,
				Message: fmt.Sprintf("output %s.%s (%s) is not assignable to input %s.%s (%s)", src.ID, out.Name, out.Kind, dst.ID, in.Name, in.Kind),
			})
		}
		if inbound[dst.ID] == nil {
			inbound[dst.ID] = make(map[string]int)
		}
		inbound[dst.ID][in.Name]++
		if !in.Repeated && inbound[dst.ID][in.Name] > 1 {
			errs = append(errs, Error{
				Code:    CodeDuplicateInput,
				NodeID:  dst.ID,
				Message: fmt.Sprintf("input %q accepts a single connection but has %d", in.Name, inbound[dst.ID][in.Name]),
			})
		}
	}

	for _, n := range wf.Nodes {
		for _, in := range n.Inputs {
			if !in.Required || in.Default != nil || in.Value != nil {
				continue
			}
			if inbound[n.ID][in.Name] == 0 {
				errs = append(errs, Error{
					Code:    CodeInvalidConnection,
					NodeID:  n.ID,
					Message: fmt.Sprintf("required input %q has no incoming connection, literal value, or default", in.Name),
				})
			}
		}
	}

	if cyclic(wf) {
		errs = append(errs, Error{Code: CodeCycleDetected, Message: "workflow graph contains a cycle"})
	}
	return errs
}

// cyclic runs a Kahn topological pass over the edge-induced graph. If the
// pass consumes fewer than |V| nodes, a cycle exists.
func cyclic(wf *workflow.Workflow) bool {
	indegree := make(map[string]int, len(wf.Nodes))
	succ := make(map[string][]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		indegree[n.ID] = 0
	}
	for _, e := range wf.Edges {
		if _, ok := indegree[e.SourceNode]; !ok {
			continue
		}
		if _, ok := indegree[e.TargetNode]; !ok {
			continue
		}
		succ[e.SourceNode] = append(succ[e.SourceNode], e.TargetNode)
		indegree[e.TargetNode]++
	}
	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)
	consumed := 0
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		consumed++
		for _, next := range succ[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return consumed < len(wf.Nodes)
}
