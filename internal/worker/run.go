package worker

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cityrollup/rollup/internal/cityerr"
	"github.com/cityrollup/rollup/internal/dag"
	"github.com/cityrollup/rollup/internal/proofsystem"
)

// RootSet marks the terminal task identities of a block's proof DAG (the
// Groth16 wrapper and the standalone signature-proof jobs): a finished job
// in this set is not propagated to a synthetic parent, since none exists.
type RootSet map[dag.JobID]bool

// NewRootSet builds a RootSet from a list of root job ids, normalizing each
// to its task identity.
func NewRootSet(roots ...dag.JobID) RootSet {
	s := make(RootSet, len(roots))
	for _, r := range roots {
		s[r.TaskID()] = true
	}
	return s
}

// Coordinator bundles the queue, proof store, counters, and aggregation
// routing table one worker pool shares for a deployment.
type Coordinator struct {
	Queue    *JobQueue
	Store    ProofStore
	Counters Counters
	Toolbox  proofsystem.CircuitToolbox
	Prover   proofsystem.StandardProver
	Metrics  *Metrics
	Log      *logrus.Entry

	// Edges maps a child's task identity to every aggregation edge it feeds.
	// Almost every job feeds exactly one parent slot; the exceptions are the
	// block-state-transition proof, fanning out to every per-input
	// sighash-final job and the Groth16 wrapper, and a SigHashTree entry
	// duplicated as padding, which feeds both slots of its parent. Populated by the orchestrator from every ClassTree,
	// Agg1Result, Agg2Result, BlockStateTransitionResult, the introspection/
	// wrapper/final per-input chain, SigHashTree, and the Groth16 wrapper's
	// edge pair for the block currently being built. A completed non-root
	// job not found here is a planning bug, not a retryable fault.
	Edges map[dag.JobID][]dag.Edge
}

// ExecuteJob runs one popped job to completion: decode its witness (and,
// for aggregators, their children's proofs), prove, persist the output, and
// — unless job is a root — feed the result to its parent via the routing
// edge the orchestrator registered, enqueuing the parent once all of its
// children have landed.
//
// Output keys are idempotent, so re-executing the same job id after a crash
// or a duplicate pop is safe: at-least-once semantics only waste work.
func (co *Coordinator) ExecuteJob(ctx context.Context, job dag.JobID, roots RootSet) error {
	task := job.TaskID()
	witness, err := GetWitness(co.Store, task)
	if err != nil {
		return cityerr.Wrap(err, "worker.ExecuteJob: missing witness")
	}

	var children []proofsystem.Proof
	if task.RequiresChildProofs() {
		outs, err := GetChildOutputs(co.Store, task)
		if err != nil {
			return cityerr.Wrap(err, "worker.ExecuteJob: missing child proof")
		}
		children = make([]proofsystem.Proof, len(outs))
		for i, out := range outs {
			children[i] = proofsystem.Proof(out)
		}
	}

	proof, err := co.Prover.Prove(ctx, task.CircuitType, witness, children)
	if err != nil {
		if co.Metrics != nil {
			co.Metrics.JobsFailed.WithLabelValues(fmt.Sprintf("%d", task.CircuitType)).Inc()
		}
		return cityerr.New(cityerr.KindProofFailure, "worker.ExecuteJob", err)
	}
	PutOutput(co.Store, task, proof)
	if co.Metrics != nil {
		co.Metrics.JobsCompleted.WithLabelValues(fmt.Sprintf("%d", task.CircuitType)).Inc()
	}
	if co.Log != nil {
		co.Log.WithField("circuit_type", task.CircuitType).Debug("job completed")
	}

	if roots[task] {
		return nil
	}

	edges, ok := co.Edges[task]
	if !ok || len(edges) == 0 {
		return cityerr.New(cityerr.KindFatal, "worker.ExecuteJob: no aggregation edge for non-root job", nil)
	}
	for _, edge := range edges {
		PutChildOutput(co.Store, edge.Parent, edge.Slot, proof)
		count := co.Counters.Increment(edge.Parent)
		if count >= edge.Expected {
			co.Queue.Enqueue(edge.Parent)
			if co.Log != nil {
				co.Log.WithField("circuit_type", edge.Parent.CircuitType).Debug("parent ready, enqueued")
			}
		}
	}
	return nil
}

// RunLoop pops jobs from topic until ctx is cancelled or the queue is
// closed, executing each with ExecuteJob. A prove failure is logged and
// does not stop the loop — it is up to the orchestrator to notice a root
// job never completes and abort the block.
func (co *Coordinator) RunLoop(ctx context.Context, topic dag.Topic, roots RootSet) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		job, ok := co.Queue.Pop(topic)
		if !ok {
			return
		}
		if co.Metrics != nil {
			co.Metrics.JobsPopped.WithLabelValues(fmt.Sprintf("%d", topic)).Inc()
		}
		if err := co.ExecuteJob(ctx, job, roots); err != nil && co.Log != nil {
			co.Log.WithError(err).WithField("circuit_type", job.CircuitType).Warn("job execution failed")
		}
	}
}
