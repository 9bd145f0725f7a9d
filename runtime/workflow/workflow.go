// Package workflow defines the data model for user-authored dataflow graphs.
//
// A Workflow is a directed acyclic graph of Nodes. Each node declares typed
// input and output parameters; Edges connect a specific output of one node to
// a specific input of another. The model is authored by the workflow builder
// layer, stored as a JSON document, and treated as an immutable snapshot for
// the duration of a single execution: later edits to the workflow do not
// affect in-flight executions.
package workflow

import (
	"context"
	"errors"

	"github.com/flowmesh/flowrun/runtime/workflow/param"
)

// ErrNotFound indicates that no workflow exists for the given identifier.
var ErrNotFound = errors.New("workflow not found")

type (
	// Trigger identifies how an execution of the workflow is initiated.
	Trigger string

	// Position records the node placement on the authoring canvas. The engine
	// never interprets it; it round-trips through persistence so the authoring
	// layer can restore layouts.
	Position struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}

	// Node is a unit of computation with declared inputs and outputs. Type
	// indexes into the node registry; ID is unique within the workflow.
	Node struct {
		// ID uniquely identifies the node within its workflow.
		ID string `json:"id"`
		// Type is the node type identifier resolved through the registry
		// (e.g., "math.add", "core.template").
		Type string `json:"type"`
		// Position is the authoring canvas placement.
		Position Position `json:"position"`
		// Inputs declares the node's input parameters, including literal
		// values and defaults supplied by the author.
		Inputs []param.Decl `json:"inputs,omitempty"`
		// Outputs declares the node's output parameters. Values are cleared
		// by the authoring layer on save; only the executor populates them.
		Outputs []param.Decl `json:"outputs,omitempty"`
		// ErrorTag optionally labels the node for error routing in the UI.
		ErrorTag string `json:"error_tag,omitempty"`
	}

	// Edge is a directed connection from one node's output to another node's
	// input. Both endpoints must resolve, the output kind must be assignable
	// to the input kind, and non-repeated inputs accept at most one edge.
	Edge struct {
		SourceNode   string `json:"source_node"`
		SourceOutput string `json:"source_output"`
		TargetNode   string `json:"target_node"`
		TargetInput  string `json:"target_input"`
	}

	// Workflow is a validated DAG of typed nodes and edges.
	Workflow struct {
		// ID is the workflow UUID assigned by the authoring layer.
		ID string `json:"id"`
		// Name is the human-readable workflow name.
		Name string `json:"name"`
		// Trigger identifies how executions are initiated.
		Trigger Trigger `json:"trigger"`
		// Nodes lists the workflow nodes. IDs are unique within the slice.
		Nodes []Node `json:"nodes"`
		// Edges lists the directed connections between node ports. Slice
		// order is significant: repeated inputs gather upstream values in
		// edge insertion order.
		Edges []Edge `json:"edges"`
	}

	// Store loads workflow definitions for execution. The engine reads a
	// snapshot at submission time; implementations must return a copy that
	// the caller may retain for the full execution.
	Store interface {
		// Load retrieves the workflow with the given ID. Returns ErrNotFound
		// (possibly wrapped) when no such workflow exists.
		Load(ctx context.Context, id string) (*Workflow, error)
	}
)

const (
	// TriggerManual indicates executions are started explicitly by a caller.
	TriggerManual Trigger = "manual"
	// TriggerHTTP indicates executions are started by an inbound HTTP request.
	TriggerHTTP Trigger = "http"
	// TriggerEmail indicates executions are started by an inbound email.
	TriggerEmail Trigger = "email"
	// TriggerCron indicates executions are started on a schedule.
	TriggerCron Trigger = "cron"
)

// Node returns the node with the given ID, or nil if the workflow has no such
// node.
func (w *Workflow) Node(id string) *Node {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i]
		}
	}
	return nil
}

// Input returns the input declaration with the given name, or nil.
func (n *Node) Input(name string) *param.Decl {
	for i := range n.Inputs {
		if n.Inputs[i].Name == name {
			return &n.Inputs[i]
		}
	}
	return nil
}

// Output returns the output declaration with the given name, or nil.
func (n *Node) Output(name string) *param.Decl {
	for i := range n.Outputs {
		if n.Outputs[i].Name == name {
			return &n.Outputs[i]
		}
	}
	return nil
}

// IncomingEdges returns the edges targeting the given node, preserving the
// workflow's edge insertion order.
func (w *Workflow) IncomingEdges(nodeID string) []Edge {
	var in []Edge
	for _, e := range w.Edges {
		if e.TargetNode == nodeID {
			in = append(in, e)
		}
	}
	return in
}
