// Package scheduler orders and dispatches node executions for one workflow
// run. A single goroutine owns all mutable state: it maintains the ready set,
// hands ready nodes to executor workers up to the configured parallelism, and
// commits results in the order they arrive. Workers only run nodes and report
// back over a channel, so no lock guards the run state.
package scheduler

import (
	"context"
	"sort"

	"golang.org/x/time/rate"

	"github.com/flowmesh/flowrun/runtime/workflow"
	"github.com/flowmesh/flowrun/runtime/workflow/budget"
	"github.com/flowmesh/flowrun/runtime/workflow/execution"
	"github.com/flowmesh/flowrun/runtime/workflow/executor"
	"github.com/flowmesh/flowrun/runtime/workflow/param"
	"github.com/flowmesh/flowrun/runtime/workflow/stream"
	"github.com/flowmesh/flowrun/runtime/workflow/telemetry"
)

type (
	// Config assembles a Scheduler for one execution.
	Config struct {
		// Workflow is the validated workflow snapshot.
		Workflow *workflow.Workflow
		// Executor runs individual nodes.
		Executor *executor.Executor
		// Emitter receives node lifecycle events in commit order. May be nil.
		Emitter *stream.Emitter
		// Meter enforces the organization's compute budget. May be nil for
		// unmetered executions.
		Meter budget.Meter
		// OrganizationID scopes budget accounting.
		OrganizationID string
		// Parallelism bounds concurrent node executions. Values below one are
		// treated as one.
		Parallelism int
		// Limiter optionally throttles node dispatch. May be nil.
		Limiter *rate.Limiter
		// Logger defaults to a noop implementation when nil.
		Logger telemetry.Logger
	}

	// Result is the outcome of a scheduler run. The engine folds it into the
	// execution record and emits the terminal event.
	Result struct {
		// Status is the terminal execution status.
		Status execution.Status
		// Nodes records the per-node outcomes, including idle entries for
		// nodes that never ran.
		Nodes map[string]*execution.NodeExecution
		// Usage is the total compute cost committed over successful nodes.
		Usage int
		// Err carries the first node failure message, or the budget or
		// cancellation message for the corresponding statuses.
		Err string
	}

	// Scheduler executes one workflow run.
	Scheduler struct {
		cfg Config
	}

	workerResult struct {
		nodeID  string
		outcome *executor.Outcome
	}

	runState struct {
		// preds and succs hold the deduplicated dependency graph.
		preds map[string]map[string]struct{}
		succs map[string]map[string]struct{}
		// waiting counts unterminated predecessors per pending node.
		waiting map[string]int
		// ready holds dispatchable node ids, kept sorted.
		ready []string
		// inflight tracks dispatched nodes awaiting results.
		inflight map[string]struct{}
		// done marks nodes that reached a terminal node status.
		done map[string]struct{}
		// outputs accumulates wire-form outputs of completed nodes.
		outputs executor.Outputs
		// nodes is the recorded outcome per node.
		nodes map[string]*execution.NodeExecution
		// usage is the committed compute cost so far.
		usage int
		// reserved holds the cost claimed per in-flight node; claimed is
		// their sum. Dispatch gates on usage plus claimed so concurrent
		// dispatch cannot overrun the budget before commits land.
		reserved map[string]int
		claimed  int
		// remaining is the budget snapshot taken at start.
		remaining int
		// firstErr is the first node failure message.
		firstErr string
		// stop is set once no further nodes may be dispatched.
		stop bool
		// exhausted and cancelled record why dispatch stopped.
		exhausted bool
		cancelled bool
	}
)

const (
	// skipReasonUpstream is recorded on nodes skipped because a transitive
	// predecessor failed or was skipped.
	skipReasonUpstream = "upstream failure"

	exhaustedMessage = "compute budget exhausted"
	cancelledMessage = "execution cancelled"
)

// New constructs a Scheduler. Call Run exactly once.
func New(cfg Config) *Scheduler {
	if cfg.Parallelism < 1 {
		cfg.Parallelism = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NewNoopLogger()
	}
	return &Scheduler{cfg: cfg}
}

// Run executes the workflow to a terminal status. Cancelling ctx stops new
// dispatches, cancels in-flight nodes, and resolves the run as cancelled.
// Run blocks until every in-flight node has reported back, so node goroutines
// never outlive the call except for nodes that ignore cancellation.
func (s *Scheduler) Run(ctx context.Context) *Result {
	st := s.newRunState()
	if err := s.snapshotBudget(ctx, st); err != nil {
		return &Result{Status: execution.StatusError, Nodes: st.nodes, Err: err.Error()}
	}

	results := make(chan workerResult, s.cfg.Parallelism)
	for {
		s.dispatch(ctx, st, results)
		if len(st.inflight) == 0 {
			if st.stop || len(st.ready) == 0 {
				break
			}
			// Ready nodes remain but dispatch made no progress; only the
			// limiter can cause this and dispatch blocks on it, so this is
			// unreachable. Guard against a livelock anyway.
			continue
		}

		select {
		case res := <-results:
			s.commit(ctx, st, res)
		case <-ctx.Done():
			st.stop = true
			st.cancelled = true
			// In-flight nodes observe the cancelled context and report back.
			for len(st.inflight) > 0 {
				s.commit(context.WithoutCancel(ctx), st, <-results)
			}
		}
	}

	return s.resolve(st)
}

func (s *Scheduler) newRunState() *runState {
	wf := s.cfg.Workflow
	st := &runState{
		preds:    make(map[string]map[string]struct{}, len(wf.Nodes)),
		succs:    make(map[string]map[string]struct{}, len(wf.Nodes)),
		waiting:  make(map[string]int, len(wf.Nodes)),
		inflight: make(map[string]struct{}),
		reserved: make(map[string]int),
		done:     make(map[string]struct{}, len(wf.Nodes)),
		outputs:  make(executor.Outputs, len(wf.Nodes)),
		nodes:    make(map[string]*execution.NodeExecution, len(wf.Nodes)),
	}
	for _, n := range wf.Nodes {
		st.preds[n.ID] = make(map[string]struct{})
		st.succs[n.ID] = make(map[string]struct{})
		st.nodes[n.ID] = &execution.NodeExecution{NodeID: n.ID, Status: execution.NodeIdle}
	}
	for _, e := range wf.Edges {
		st.preds[e.TargetNode][e.SourceNode] = struct{}{}
		st.succs[e.SourceNode][e.TargetNode] = struct{}{}
	}
	for _, n := range wf.Nodes {
		st.waiting[n.ID] = len(st.preds[n.ID])
		if st.waiting[n.ID] == 0 {
			st.ready = append(st.ready, n.ID)
		}
	}
	sort.Strings(st.ready)
	return st
}

func (s *Scheduler) snapshotBudget(ctx context.Context, st *runState) error {
	st.remaining = budget.Unlimited
	if s.cfg.Meter == nil {
		return nil
	}
	remaining, err := s.cfg.Meter.Remaining(ctx, s.cfg.OrganizationID)
	if err != nil {
		return err
	}
	st.remaining = remaining
	return nil
}

// dispatch moves ready nodes to workers until the parallelism bound is hit,
// the ready set drains, or the budget cannot cover the next node. Ready nodes
// are taken in ascending node id order so runs are deterministic.
func (s *Scheduler) dispatch(ctx context.Context, st *runState, results chan<- workerResult) {
	for !st.stop && len(st.ready) > 0 && len(st.inflight) < s.cfg.Parallelism {
		id := st.ready[0]
		n := s.cfg.Workflow.Node(id)
		if n == nil {
			// Validated workflows reference only declared nodes.
			st.ready = st.ready[1:]
			continue
		}

		cost := s.cfg.Executor.Cost(*n)
		if st.remaining-st.usage-st.claimed < cost {
			st.stop = true
			st.exhausted = true
			s.cfg.Logger.Info(ctx, "budget exhausted, stopping dispatch",
				"workflow_id", s.cfg.Workflow.ID,
				"node_id", id,
				"cost", cost,
				"usage", st.usage,
				"claimed", st.claimed,
			)
			return
		}
		if s.cfg.Limiter != nil {
			if err := s.cfg.Limiter.Wait(ctx); err != nil {
				st.stop = true
				st.cancelled = true
				return
			}
		}

		st.ready = st.ready[1:]
		st.inflight[id] = struct{}{}
		st.reserved[id] = cost
		st.claimed += cost
		st.nodes[id].Status = execution.NodeExecuting
		s.emitStart(ctx, id)

		// Snapshot the outer map: commits mutate it while workers read, and
		// the inner per-node maps are immutable once recorded.
		upstream := make(executor.Outputs, len(st.outputs))
		for k, v := range st.outputs {
			upstream[k] = v
		}
		go func(n workflow.Node) {
			results <- workerResult{nodeID: n.ID, outcome: s.cfg.Executor.Run(ctx, n, upstream)}
		}(*n)
	}
}

// commit folds one worker result into the run state: records the outcome,
// emits the corresponding event, accounts usage, and either promotes
// successors to the ready set or skips the failed node's whole downstream.
func (s *Scheduler) commit(ctx context.Context, st *runState, res workerResult) {
	delete(st.inflight, res.nodeID)
	st.claimed -= st.reserved[res.nodeID]
	delete(st.reserved, res.nodeID)
	st.done[res.nodeID] = struct{}{}
	ne := st.nodes[res.nodeID]
	ne.Status = res.outcome.Status

	if res.outcome.Status == execution.NodeCompleted {
		ne.Outputs = res.outcome.Outputs
		st.outputs[res.nodeID] = res.outcome.Outputs
		st.usage += res.outcome.Usage
		if s.cfg.Meter != nil {
			if err := s.cfg.Meter.Commit(ctx, s.cfg.OrganizationID, res.outcome.Usage); err != nil {
				s.cfg.Logger.Error(ctx, "budget commit failed",
					"org_id", s.cfg.OrganizationID,
					"node_id", res.nodeID,
					"err", err,
				)
			}
		}
		s.emitComplete(ctx, res.nodeID, res.outcome.Outputs)
		s.promote(res.nodeID, st)
		return
	}

	ne.Error = res.outcome.Err
	if st.firstErr == "" {
		st.firstErr = res.outcome.Err
	}
	s.emitError(ctx, res.nodeID, res.outcome.Err)
	s.skipDownstream(ctx, st, res.nodeID)
}

// promote decrements the wait count of the completed node's successors and
// appends newly unblocked ones to the ready set, keeping it sorted.
func (s *Scheduler) promote(nodeID string, st *runState) {
	added := false
	for succ := range st.succs[nodeID] {
		if _, terminal := st.done[succ]; terminal {
			continue
		}
		st.waiting[succ]--
		if st.waiting[succ] == 0 {
			st.ready = append(st.ready, succ)
			added = true
		}
	}
	if added {
		sort.Strings(st.ready)
	}
}

// skipDownstream marks every unterminated transitive successor of the failed
// node as skipped, breadth-first in ascending node id order so skip events
// are deterministic.
func (s *Scheduler) skipDownstream(ctx context.Context, st *runState, nodeID string) {
	frontier := []string{nodeID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			succs := make([]string, 0, len(st.succs[id]))
			for succ := range st.succs[id] {
				succs = append(succs, succ)
			}
			sort.Strings(succs)
			for _, succ := range succs {
				if _, terminal := st.done[succ]; terminal {
					continue
				}
				if _, running := st.inflight[succ]; running {
					// Already dispatched through another path; its own result
					// will be committed when it reports back.
					continue
				}
				st.done[succ] = struct{}{}
				st.nodes[succ].Status = execution.NodeSkipped
				st.ready = remove(st.ready, succ)
				s.emitSkip(ctx, succ)
				next = append(next, succ)
			}
		}
		frontier = next
	}
}

// resolve maps the finished run state to a terminal status. Cancellation wins
// over exhaustion, exhaustion over node errors.
func (s *Scheduler) resolve(st *runState) *Result {
	res := &Result{Nodes: st.nodes, Usage: st.usage}
	switch {
	case st.cancelled:
		res.Status = execution.StatusCancelled
		res.Err = cancelledMessage
	case st.exhausted:
		res.Status = execution.StatusExhausted
		res.Err = exhaustedMessage
	case st.firstErr != "":
		res.Status = execution.StatusError
		res.Err = st.firstErr
	default:
		res.Status = execution.StatusCompleted
	}
	return res
}

func (s *Scheduler) emitStart(ctx context.Context, nodeID string) {
	if s.cfg.Emitter == nil {
		return
	}
	if err := s.cfg.Emitter.NodeStart(ctx, nodeID); err != nil {
		s.cfg.Logger.Warn(ctx, "event emit failed", "event", "node-start", "node_id", nodeID, "err", err)
	}
}

func (s *Scheduler) emitComplete(ctx context.Context, nodeID string, outputs map[string]param.Value) {
	if s.cfg.Emitter == nil {
		return
	}
	if err := s.cfg.Emitter.NodeComplete(ctx, nodeID, outputs); err != nil {
		s.cfg.Logger.Warn(ctx, "event emit failed", "event", "node-complete", "node_id", nodeID, "err", err)
	}
}

func (s *Scheduler) emitError(ctx context.Context, nodeID, message string) {
	if s.cfg.Emitter == nil {
		return
	}
	if err := s.cfg.Emitter.NodeError(ctx, nodeID, message); err != nil {
		s.cfg.Logger.Warn(ctx, "event emit failed", "event", "node-error", "node_id", nodeID, "err", err)
	}
}

func (s *Scheduler) emitSkip(ctx context.Context, nodeID string) {
	if s.cfg.Emitter == nil {
		return
	}
	if err := s.cfg.Emitter.NodeSkip(ctx, nodeID, skipReasonUpstream); err != nil {
		s.cfg.Logger.Warn(ctx, "event emit failed", "event", "node-skip", "node_id", nodeID, "err", err)
	}
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
