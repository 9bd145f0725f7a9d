package scheduler_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flowmesh/flowrun/runtime/workflow"
	"github.com/flowmesh/flowrun/runtime/workflow/budget"
	"github.com/flowmesh/flowrun/runtime/workflow/execution"
	"github.com/flowmesh/flowrun/runtime/workflow/executor"
	"github.com/flowmesh/flowrun/runtime/workflow/node"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
	"github.com/flowmesh/flowrun/runtime/workflow/registry"
	"github.com/flowmesh/flowrun/runtime/workflow/scheduler"
	"github.com/flowmesh/flowrun/runtime/workflow/stream"
)

// testRegistry registers simple node types used across scheduler tests:
// "emit" outputs its literal "value" input, "combine" adds its two inputs,
// "fail" always errors, "slow" blocks until cancelled.
func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	numIn := func(name string, required bool) param.Decl {
		return param.Decl{Name: name, Kind: param.Number, Required: required}
	}
	numOut := param.Decl{Name: "result", Kind: param.Number}

	require.NoError(t, reg.Register(registry.Descriptor{
		ID:      "emit",
		Inputs:  []param.Decl{numIn("value", true)},
		Outputs: []param.Decl{numOut},
	}, func() node.Node {
		return node.Func(func(_ context.Context, in *node.Input) *node.Result {
			v, errRes := in.Number("value")
			if errRes != nil {
				return errRes
			}
			return node.Success(map[string]param.Value{"result": {Kind: param.Number, Data: v}})
		})
	}))

	require.NoError(t, reg.Register(registry.Descriptor{
		ID:      "combine",
		Inputs:  []param.Decl{numIn("a", true), numIn("b", true)},
		Outputs: []param.Decl{numOut},
	}, func() node.Node {
		return node.Func(func(_ context.Context, in *node.Input) *node.Result {
			a, errRes := in.Number("a")
			if errRes != nil {
				return errRes
			}
			b, errRes := in.Number("b")
			if errRes != nil {
				return errRes
			}
			return node.Success(map[string]param.Value{"result": {Kind: param.Number, Data: a + b}})
		})
	}))

	require.NoError(t, reg.Register(registry.Descriptor{
		ID:      "fail",
		Outputs: []param.Decl{numOut},
	}, func() node.Node {
		return node.Func(func(context.Context, *node.Input) *node.Result {
			return node.Errorf("boom")
		})
	}))

	require.NoError(t, reg.Register(registry.Descriptor{
		ID:      "slow",
		Outputs: []param.Decl{numOut},
	}, func() node.Node {
		return node.Func(func(ctx context.Context, _ *node.Input) *node.Result {
			<-ctx.Done()
			return node.ErrorFrom(ctx.Err())
		})
	}))
	return reg
}

func emitNode(id string, value float64) workflow.Node {
	return workflow.Node{
		ID:   id,
		Type: "emit",
		Inputs: []param.Decl{{
			Name: "value", Kind: param.Number, Required: true,
			Value: &param.Value{Kind: param.Number, Data: value},
		}},
		Outputs: []param.Decl{{Name: "result", Kind: param.Number}},
	}
}

func combineNode(id string) workflow.Node {
	return workflow.Node{
		ID:   id,
		Type: "combine",
		Inputs: []param.Decl{
			{Name: "a", Kind: param.Number, Required: true},
			{Name: "b", Kind: param.Number, Required: true},
		},
		Outputs: []param.Decl{{Name: "result", Kind: param.Number}},
	}
}

func edge(srcNode, dstNode, dstIn string) workflow.Edge {
	return workflow.Edge{SourceNode: srcNode, SourceOutput: "result", TargetNode: dstNode, TargetInput: dstIn}
}

func run(t *testing.T, wf *workflow.Workflow, reg *registry.Registry, opts scheduler.Config) (*scheduler.Result, []stream.Event) {
	t.Helper()
	sink := stream.NewChannelSink(256)
	opts.Workflow = wf
	opts.Emitter = stream.NewEmitter("exec-1", sink)
	if opts.Executor == nil {
		opts.Executor = executor.New(executor.Config{
			Workflow:       wf,
			Registry:       reg,
			OrganizationID: "org-1",
			ExecutionID:    "exec-1",
			NodeDeadline:   5 * time.Second,
		})
	}
	if opts.Parallelism == 0 {
		opts.Parallelism = 2
	}
	res := scheduler.New(opts).Run(context.Background())
	_ = sink.Close(context.Background())
	var events []stream.Event
	for ev := range sink.Events() {
		events = append(events, ev)
	}
	return res, events
}

func eventsOfType(events []stream.Event, typ stream.EventType) []stream.Event {
	var out []stream.Event
	for _, ev := range events {
		if ev.Type() == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestChainRunsInTopologicalOrder(t *testing.T) {
	reg := testRegistry(t)
	wf := &workflow.Workflow{
		ID: "wf-1",
		Nodes: []workflow.Node{
			combineNode("b"),
			emitNode("a", 2),
			combineNode("c"),
		},
		Edges: []workflow.Edge{
			edge("a", "b", "a"),
			edge("a", "b", "b"),
			edge("a", "c", "a"),
			edge("b", "c", "b"),
		},
	}
	res, events := run(t, wf, reg, scheduler.Config{})

	require.Equal(t, execution.StatusCompleted, res.Status)
	require.Equal(t, execution.NodeCompleted, res.Nodes["c"].Status)
	// a=2, b=4, c=2+4=6
	require.Equal(t, 6.0, res.Nodes["c"].Outputs["result"].Data)

	starts := eventsOfType(events, stream.EventNodeStart)
	require.Len(t, starts, 3)
	order := map[string]int{}
	for i, ev := range starts {
		order[ev.Payload().(stream.NodeStartPayload).NodeID] = i
	}
	require.Less(t, order["a"], order["b"])
	require.Less(t, order["b"], order["c"])

	// Sequence numbers are strictly increasing starting at 1.
	for i, ev := range events {
		require.Equal(t, uint64(i+1), ev.Seq())
	}
	require.Equal(t, 3, res.Usage)
}

func TestFanOutGathersInEdgeOrder(t *testing.T) {
	reg := testRegistry(t)
	require.NoError(t, reg.Register(registry.Descriptor{
		ID: "sum",
		Inputs: []param.Decl{
			{Name: "values", Kind: param.Number, Required: true, Repeated: true},
		},
		Outputs: []param.Decl{{Name: "result", Kind: param.Number}},
	}, func() node.Node {
		return node.Func(func(_ context.Context, in *node.Input) *node.Result {
			total := 0.0
			for _, v := range in.Repeated("values") {
				f, _ := param.Float64(v.Data)
				total += f
			}
			return node.Success(map[string]param.Value{"result": {Kind: param.Number, Data: total}})
		})
	}))

	wf := &workflow.Workflow{
		ID: "wf-2",
		Nodes: []workflow.Node{
			emitNode("n1", 5),
			emitNode("n2", 15),
			emitNode("n3", 30),
			{
				ID:   "total",
				Type: "sum",
				Inputs: []param.Decl{
					{Name: "values", Kind: param.Number, Required: true, Repeated: true},
				},
				Outputs: []param.Decl{{Name: "result", Kind: param.Number}},
			},
		},
		Edges: []workflow.Edge{
			edge("n1", "total", "values"),
			edge("n2", "total", "values"),
			edge("n3", "total", "values"),
		},
	}
	res, _ := run(t, wf, reg, scheduler.Config{Parallelism: 3})
	require.Equal(t, execution.StatusCompleted, res.Status)
	require.Equal(t, 50.0, res.Nodes["total"].Outputs["result"].Data)
}

func TestFailureSkipsDownstream(t *testing.T) {
	reg := testRegistry(t)
	wf := &workflow.Workflow{
		ID: "wf-3",
		Nodes: []workflow.Node{
			{ID: "bad", Type: "fail", Outputs: []param.Decl{{Name: "result", Kind: param.Number}}},
			combineNode("mid"),
			combineNode("leaf"),
			emitNode("ok", 1),
		},
		Edges: []workflow.Edge{
			edge("bad", "mid", "a"),
			edge("ok", "mid", "b"),
			edge("mid", "leaf", "a"),
			edge("ok", "leaf", "b"),
		},
	}
	res, events := run(t, wf, reg, scheduler.Config{})

	require.Equal(t, execution.StatusError, res.Status)
	require.Equal(t, "boom", res.Err)
	require.Equal(t, execution.NodeError, res.Nodes["bad"].Status)
	require.Equal(t, execution.NodeSkipped, res.Nodes["mid"].Status)
	require.Equal(t, execution.NodeSkipped, res.Nodes["leaf"].Status)
	require.Equal(t, execution.NodeCompleted, res.Nodes["ok"].Status)

	skips := eventsOfType(events, stream.EventNodeSkip)
	require.Len(t, skips, 2)
	// The independent branch still contributes usage.
	require.Equal(t, 1, res.Usage)
}

func TestBudgetExhaustionStopsDispatch(t *testing.T) {
	reg := testRegistry(t)
	// Chain of three nodes costing 1 each with a budget of 2.
	wf := &workflow.Workflow{
		ID: "wf-4",
		Nodes: []workflow.Node{
			emitNode("a", 1),
			combineNode("b"),
			combineNode("c"),
		},
		Edges: []workflow.Edge{
			edge("a", "b", "a"),
			edge("a", "b", "b"),
			edge("b", "c", "a"),
			edge("a", "c", "b"),
		},
	}
	meter := budget.NewInMemMeter(map[string]int{"org-1": 2})
	res, _ := run(t, wf, reg, scheduler.Config{
		Meter:          meter,
		OrganizationID: "org-1",
		Parallelism:    1,
	})

	require.Equal(t, execution.StatusExhausted, res.Status)
	// Two nodes completed before the budget ran out; their usage survives.
	require.Equal(t, 2, res.Usage)
	require.Equal(t, execution.NodeCompleted, res.Nodes["a"].Status)
	require.Equal(t, execution.NodeCompleted, res.Nodes["b"].Status)
	require.Equal(t, execution.NodeIdle, res.Nodes["c"].Status)

	remaining, err := meter.Remaining(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, 0, remaining)
}

func TestBudgetCoversInFlightNodes(t *testing.T) {
	reg := testRegistry(t)
	require.NoError(t, reg.Register(registry.Descriptor{
		ID:          "costly",
		ComputeCost: 10,
		Outputs:     []param.Decl{{Name: "result", Kind: param.Number}},
	}, func() node.Node {
		return node.Func(func(context.Context, *node.Input) *node.Result {
			return node.Success(map[string]param.Value{"result": {Kind: param.Number, Data: 1.0}})
		})
	}))

	// Three independent nodes costing 10 each against a budget of 25. With
	// parallelism above the node count, dispatch must still admit only the
	// two the budget covers.
	costly := func(id string) workflow.Node {
		return workflow.Node{ID: id, Type: "costly", Outputs: []param.Decl{{Name: "result", Kind: param.Number}}}
	}
	wf := &workflow.Workflow{
		ID:    "wf-7",
		Nodes: []workflow.Node{costly("c1"), costly("c2"), costly("c3")},
	}
	meter := budget.NewInMemMeter(map[string]int{"org-1": 25})
	res, _ := run(t, wf, reg, scheduler.Config{
		Meter:          meter,
		OrganizationID: "org-1",
		Parallelism:    4,
	})

	require.Equal(t, execution.StatusExhausted, res.Status)
	require.Equal(t, 20, res.Usage)
	require.Equal(t, execution.NodeCompleted, res.Nodes["c1"].Status)
	require.Equal(t, execution.NodeCompleted, res.Nodes["c2"].Status)
	require.Equal(t, execution.NodeIdle, res.Nodes["c3"].Status)

	remaining, err := meter.Remaining(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, 5, remaining)
}

func TestCancellationResolvesCancelled(t *testing.T) {
	reg := testRegistry(t)
	wf := &workflow.Workflow{
		ID: "wf-5",
		Nodes: []workflow.Node{
			{ID: "hang", Type: "slow", Outputs: []param.Decl{{Name: "result", Kind: param.Number}}},
		},
	}
	sink := stream.NewChannelSink(64)
	exec := executor.New(executor.Config{
		Workflow:       wf,
		Registry:       reg,
		OrganizationID: "org-1",
		ExecutionID:    "exec-1",
	})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	res := scheduler.New(scheduler.Config{
		Workflow:    wf,
		Executor:    exec,
		Emitter:     stream.NewEmitter("exec-1", sink),
		Parallelism: 1,
	}).Run(ctx)

	require.Equal(t, execution.StatusCancelled, res.Status)
	require.Equal(t, execution.NodeError, res.Nodes["hang"].Status)
	require.Zero(t, res.Usage)
}

func TestNodeTimeoutSkipsDownstream(t *testing.T) {
	reg := testRegistry(t)
	require.NoError(t, reg.Register(registry.Descriptor{
		ID:      "stuck",
		Outputs: []param.Decl{{Name: "result", Kind: param.Number}},
	}, func() node.Node {
		return node.Func(func(context.Context, *node.Input) *node.Result {
			time.Sleep(time.Second)
			return node.Success(map[string]param.Value{"result": {Kind: param.Number, Data: 1.0}})
		})
	}))

	wf := &workflow.Workflow{
		ID: "wf-8",
		Nodes: []workflow.Node{
			{ID: "hang", Type: "stuck", Outputs: []param.Decl{{Name: "result", Kind: param.Number}}},
			combineNode("after"),
			emitNode("ok", 1),
		},
		Edges: []workflow.Edge{
			edge("hang", "after", "a"),
			edge("ok", "after", "b"),
		},
	}
	exec := executor.New(executor.Config{
		Workflow:       wf,
		Registry:       reg,
		OrganizationID: "org-1",
		ExecutionID:    "exec-1",
		NodeDeadline:   20 * time.Millisecond,
	})
	res, events := run(t, wf, reg, scheduler.Config{Executor: exec})

	require.Equal(t, execution.StatusError, res.Status)
	require.Equal(t, "timeout", res.Err)
	require.Equal(t, execution.NodeError, res.Nodes["hang"].Status)
	require.Equal(t, "timeout", res.Nodes["hang"].Error)
	require.Equal(t, execution.NodeSkipped, res.Nodes["after"].Status)
	require.Equal(t, execution.NodeCompleted, res.Nodes["ok"].Status)
	require.Len(t, eventsOfType(events, stream.EventNodeSkip), 1)
}

func TestDeterministicEventOrder(t *testing.T) {
	reg := testRegistry(t)
	wf := &workflow.Workflow{
		ID: "wf-6",
		Nodes: []workflow.Node{
			emitNode("n3", 3),
			emitNode("n1", 1),
			emitNode("n2", 2),
			combineNode("zz"),
		},
		Edges: []workflow.Edge{
			edge("n1", "zz", "a"),
			edge("n2", "zz", "b"),
		},
	}

	var orders [][]string
	for i := 0; i < 3; i++ {
		_, events := run(t, wf, reg, scheduler.Config{Parallelism: 1})
		var starts []string
		for _, ev := range eventsOfType(events, stream.EventNodeStart) {
			starts = append(starts, ev.Payload().(stream.NodeStartPayload).NodeID)
		}
		orders = append(orders, starts)
	}
	require.Equal(t, orders[0], orders[1])
	require.Equal(t, orders[1], orders[2])
	// Ready ties break on ascending node id.
	require.Equal(t, []string{"n1", "n2", "n3", "zz"}, orders[0])
}
