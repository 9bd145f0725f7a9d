// Package registry catalogs node type descriptors and the factories that
// yield their executable implementations. The registry is per-process,
// constructed at startup, and read-only afterwards from the engine's point of
// view; the engine resolves workflow node types through it when validating and
// executing.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/flowmesh/flowrun/runtime/workflow/node"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
)

type (
	// Descriptor describes a node type: its identity, authoring metadata, and
	// declared ports. ComputeCost is the budget units one successful
	// execution consumes; zero means the engine default of one unit.
	Descriptor struct {
		// ID is the node type identifier referenced by workflow nodes
		// (e.g., "math.add").
		ID string `json:"id"`
		// DisplayName is shown by the authoring UI.
		DisplayName string `json:"display_name"`
		// Description provides human-readable context.
		Description string `json:"description,omitempty"`
		// Tags carries metadata labels used by the catalog UI.
		Tags []string `json:"tags,omitempty"`
		// Inputs declares the canonical input ports for the type.
		Inputs []param.Decl `json:"inputs,omitempty"`
		// Outputs declares the canonical output ports for the type.
		Outputs []param.Decl `json:"outputs,omitempty"`
		// ComputeCost is the budget units consumed per successful execution.
		// Zero means the engine default (1).
		ComputeCost int `json:"compute_cost,omitempty"`
		// Inlinable marks nodes cheap enough to run on the scheduler
		// goroutine without a worker slot.
		Inlinable bool `json:"inlinable,omitempty"`
		// AsTool marks node types that may be exposed as callable tools to
		// AI assistants.
		AsTool bool `json:"as_tool,omitempty"`
		// Compatibility optionally restricts the triggers or environments the
		// type supports.
		Compatibility []string `json:"compatibility,omitempty"`
		// MultiStep marks node types that require the durable engine's
		// sleep/doStep facilities. The in-process registry rejects them.
		MultiStep bool `json:"multi_step,omitempty"`
	}

	// Factory yields a fresh executable instance of a node type. Factories
	// must be safe to call concurrently; instances are not reused across
	// executions.
	Factory func() node.Node

	// Registry maps node type ids to descriptors and factories.
	Registry struct {
		mu      sync.RWMutex
		entries map[string]entry
	}

	entry struct {
		desc    Descriptor
		factory Factory
	}
)

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a node type. It rejects duplicate ids, nil factories, and
// multi-step types: the in-process engine offers no replay-safe sleep/doStep
// facilities, so multi-step nodes must target the durable variant.
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	if desc.ID == "" {
		return fmt.Errorf("node type id is required")
	}
	if factory == nil {
		return fmt.Errorf("node type %q: factory is required", desc.ID)
	}
	if desc.MultiStep {
		return fmt.Errorf("node type %q: multi-step nodes are not supported by the in-process engine", desc.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.entries[desc.ID]; dup {
		return fmt.Errorf("node type %q already registered", desc.ID)
	}
	r.entries[desc.ID] = entry{desc: desc, factory: factory}
	return nil
}

// MustRegister registers the node type and panics on error. Intended for
// startup-time registration of built-in node packages.
func (r *Registry) MustRegister(desc Descriptor, factory Factory) {
	if err := r.Register(desc, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the descriptor and factory for a node type id.
func (r *Registry) Lookup(id string) (Descriptor, Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Descriptor{}, nil, false
	}
	return e.desc, e.factory, true
}

// Descriptor returns the descriptor for a node type id.
func (r *Registry) Descriptor(id string) (Descriptor, bool) {
	d, _, ok := r.Lookup(id)
	return d, ok
}

// Descriptors returns all registered descriptors sorted by id, for catalog
// endpoints and tooling.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Cost returns the effective compute cost for a descriptor: ComputeCost when
// positive, otherwise the engine default of one unit.
func (d Descriptor) Cost() int {
	if d.ComputeCost > 0 {
		return d.ComputeCost
	}
	return 1
}
