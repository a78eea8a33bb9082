// Package orchestrator drives one block's full production pipeline: turning
// a batch of requested actions into a materialized proof DAG ready for the
// worker pool (Enqueue), and turning that DAG's finished root proof into a
// broadcast L1 transaction (Finalize).
//
// Grounded on the Rust original's block builder entry point
// (_examples/original_source/city_mono/src/... block production driver),
// carried the way orbas1-Synnergy's core/blockchain_synchronization.go
// drives a multi-stage pipeline from one logger-injected coordinator type.
package orchestrator

import (
	"context"

	"github.com/btcsuite/btcd/txscript"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/sirupsen/logrus"

	"github.com/cityrollup/rollup/internal/cityerr"
	"github.com/cityrollup/rollup/internal/citystate"
	"github.com/cityrollup/rollup/internal/dag"
	"github.com/cityrollup/rollup/internal/l1api"
	"github.com/cityrollup/rollup/internal/planner"
	"github.com/cityrollup/rollup/internal/proofsystem"
	"github.com/cityrollup/rollup/internal/qhash"
	"github.com/cityrollup/rollup/internal/sighash"
	"github.com/cityrollup/rollup/internal/worker"
)

// Orchestrator ties the city state store, the Groth16 wrapper, and the L1
// broadcaster into one block-production pipeline. The job queue, proof
// store, and counters it wires into a Coordinator per block are supplied by
// the caller, so the same Orchestrator can drive many Coordinators (e.g.
// one per worker-pool deployment) without sharing their in-flight state.
type Orchestrator struct {
	City              *citystate.Store
	Toolbox           proofsystem.CircuitToolbox
	Wrapper           proofsystem.Groth16Wrapper
	L1                l1api.L1Api
	Whitelist         *sighash.WhitelistTree
	WhitelistDisabled bool
	Log               *logrus.Entry
}

// BlockInputs describes the L1 side of one block: what it spends and pays
// out, independent of the L2 batch being settled.
type BlockInputs struct {
	PrevBlockSpend     sighash.BlockSpendUTXO
	PrevBlockIsGenesis bool
	Deposits           []sighash.DepositUTXO
	Withdrawals        []sighash.WithdrawalPayout
	FeeSats            uint64
	LockTime           uint32
	Sequence           uint32
}

// BlockPlan is everything Finalize needs once the worker pool has drained
// every job Enqueue produced.
type BlockPlan struct {
	Checkpoint             uint64
	Roots                  worker.RootSet
	Groth16JobID           dag.JobID
	Transaction            sighash.Transaction
	BlockSpendRedeemScript []byte // nil for genesis; the P2SH script Finalize spends
	CurrentStateRoot       qhash.QHash
	NextStateRoot          qhash.QHash
	Rejected               []planner.Rejection
}

// Enqueue runs batch against the city state at checkpoint, materializes
// every class's aggregation tree, the two root-aggregation levels, the
// per-input sighash introspection chain and its aggregation tree, and the
// final Groth16-wrapper join; writes every witness the worker pool will
// need; wires co's routing table; and enqueues every leaf job. It returns
// once the DAG is fully queued — proving itself happens asynchronously via
// Coordinator.RunLoop, driven independently of this call.
func (o *Orchestrator) Enqueue(ctx context.Context, checkpoint uint64, co *worker.Coordinator, batch planner.Batch, in BlockInputs) (*BlockPlan, error) {
	prevState, _, err := o.City.GetBlockState(checkpoint)
	if err != nil {
		return nil, err
	}
	currentRoot, err := o.City.GetCityRoot(checkpoint)
	if err != nil {
		return nil, err
	}

	res, err := planner.ProcessBatch(checkpoint, o.City, prevState, batch)
	if err != nil {
		return nil, err
	}

	newState := citystate.CityL2BlockState{
		CheckpointID:              checkpoint,
		NextUserID:                res.NextUserID,
		NextDepositID:             res.NextDepositID,
		NextAddWithdrawalID:       res.NextAddWithdrawalID,
		NextProcessWithdrawalID:   res.NextProcessWithdrawalID,
		TotalDepositsClaimedEpoch: res.TotalDepositsClaimedEpoch,
	}
	if err := o.City.SetBlockState(newState); err != nil {
		return nil, err
	}

	nextRoot, err := o.City.GetCityRoot(checkpoint)
	if err != nil {
		return nil, err
	}

	registerUser := dag.BuildClassTree(checkpoint, dag.ClassRegisterUser, res.RegisterUser, res.RootBeforeRegisterUser)
	addDeposit := dag.BuildClassTree(checkpoint, dag.ClassAddDeposit, res.AddDeposit, res.RootBeforeAddDeposit)
	claimDeposit := dag.BuildClassTree(checkpoint, dag.ClassClaimDeposit, res.ClaimDeposit, res.RootBeforeClaimDeposit)
	l2Transfer := dag.BuildClassTree(checkpoint, dag.ClassL2Transfer, res.TokenTransfer, res.RootBeforeTokenTransfer)
	addWithdrawal := dag.BuildClassTree(checkpoint, dag.ClassAddWithdrawal, res.AddWithdrawal, res.RootBeforeAddWithdrawal)
	processWithdrawal := dag.BuildClassTree(checkpoint, dag.ClassProcessWithdrawal, res.ProcessWithdrawal, res.RootBeforeProcessWithdrawal)

	agg1 := dag.AssembleAgg1(checkpoint, registerUser, claimDeposit, l2Transfer)
	agg2 := dag.AssembleAgg2(checkpoint, addWithdrawal, processWithdrawal, addDeposit)
	bst := dag.AssembleBlockStateTransition(checkpoint, agg1, agg2)

	newBlockScript, err := o.City.GetCityBlockScript(checkpoint)
	if err != nil {
		return nil, err
	}

	tx, introWitness, err := sighash.Build(sighash.BuildRequest{
		PrevBlockSpend:       in.PrevBlockSpend,
		PrevBlockIsGenesis:   in.PrevBlockIsGenesis,
		Deposits:             in.Deposits,
		Withdrawals:          in.Withdrawals,
		NewBlockRedeemScript: newBlockScript,
		FeeSats:              in.FeeSats,
		LockTime:             in.LockTime,
		Sequence:             in.Sequence,
	})
	if err != nil {
		return nil, err
	}

	scriptCodes := make([][]byte, 0, len(tx.Inputs))
	if !in.PrevBlockIsGenesis {
		scriptCodes = append(scriptCodes, introWitness.BlockSpendRedeemScript)
	}
	for _, d := range in.Deposits {
		scriptCodes = append(scriptCodes, d.ScriptCode)
	}

	leafWitnesses, err := sighash.BuildLeafWitnesses(checkpoint, tx, scriptCodes, currentRoot, nextRoot)
	if err != nil {
		return nil, err
	}

	if o.Toolbox != nil {
		introDesc, err := o.Toolbox.Descriptor(dag.CircuitSigHashIntrospection)
		if err != nil {
			return nil, err
		}
		if err := sighash.CheckWhitelist(o.Whitelist, []qhash.QHash{introDesc.Fingerprint}, o.WhitelistDisabled); err != nil {
			return nil, err
		}
	}

	finalJobIDs := make([]dag.JobID, len(leafWitnesses))
	for i := range leafWitnesses {
		finalJobIDs[i] = sighash.FinalJobID(checkpoint, uint32(i))
	}
	sigHashTree := dag.BuildSigHashTree(checkpoint, finalJobIDs)
	groth16ID, g16Edges := dag.Groth16WrapperEdges(checkpoint, bst.JobID, sigHashTree.RootJobID)

	edges := map[dag.JobID][]dag.Edge{}
	addEdges := func(es []dag.Edge) {
		for _, e := range es {
			edges[e.Child] = append(edges[e.Child], e)
		}
	}
	addEdges(registerUser.Edges)
	addEdges(addDeposit.Edges)
	addEdges(claimDeposit.Edges)
	addEdges(l2Transfer.Edges)
	addEdges(addWithdrawal.Edges)
	addEdges(processWithdrawal.Edges)
	addEdges(agg1.Edges)
	addEdges(agg2.Edges)
	addEdges(bst.Edges)
	addEdges(sigHashTree.Edges)
	addEdges(g16Edges)

	// Per-input sighash chain: introspection feeds the whitelist wrapper,
	// which feeds the final join alongside the one block-state-transition
	// proof shared by every input (a genuine fan-out, unlike every other
	// join in the DAG).
	bstTask := bst.JobID.TaskID()
	for i := range leafWitnesses {
		introID := sighash.IntrospectionJobID(checkpoint, uint32(i)).TaskID()
		wrapperID := sighash.WrapperJobID(checkpoint, uint32(i)).TaskID()
		finalID := sighash.FinalJobID(checkpoint, uint32(i)).TaskID()
		edges[introID] = append(edges[introID], dag.Edge{Child: introID, Parent: wrapperID, Slot: 0, Expected: 1})
		edges[wrapperID] = append(edges[wrapperID], dag.Edge{Child: wrapperID, Parent: finalID, Slot: 0, Expected: 2})
		edges[bstTask] = append(edges[bstTask], dag.Edge{Child: bstTask, Parent: finalID, Slot: 1, Expected: 2})
	}
	co.Edges = edges
	if co.Log == nil {
		co.Log = o.Log
	}
	// The Groth16 wrapper carries no public data beyond its two child
	// proofs (the block-state-transition root and the sighash root).
	worker.PutWitness(co.Store, groth16ID, nil)

	if err := writeWitnesses(co.Store, res, []dag.ClassTree{registerUser, addDeposit, claimDeposit, l2Transfer, addWithdrawal, processWithdrawal}, agg1, agg2, bst, sigHashTree, leafWitnesses); err != nil {
		return nil, err
	}

	enqueueClassLeaves(co.Queue, registerUser)
	enqueueClassLeaves(co.Queue, addDeposit)
	enqueueClassLeaves(co.Queue, claimDeposit)
	enqueueClassLeaves(co.Queue, l2Transfer)
	enqueueClassLeaves(co.Queue, addWithdrawal)
	enqueueClassLeaves(co.Queue, processWithdrawal)
	for _, w := range leafWitnesses {
		co.Queue.Enqueue(w.JobID)
	}
	for _, j := range res.SignatureJobs {
		co.Queue.Enqueue(j)
	}

	roots := append([]dag.JobID{groth16ID}, res.SignatureJobs...)

	return &BlockPlan{
		Checkpoint:             checkpoint,
		Roots:                  worker.NewRootSet(roots...),
		Groth16JobID:           groth16ID,
		Transaction:            tx,
		BlockSpendRedeemScript: in.PrevBlockSpend.RedeemScript,
		CurrentStateRoot:       currentRoot,
		NextStateRoot:          nextRoot,
		Rejected:               res.Rejected,
	}, nil
}

// enqueueClassLeaves queues every leaf of tree (real or dummy-padded); its
// internal aggregator nodes are queued dynamically as their children finish.
func enqueueClassLeaves(q *worker.JobQueue, tree dag.ClassTree) {
	for _, n := range tree.Nodes {
		if n.IsLeaf {
			q.Enqueue(n.JobID)
		}
	}
}

// writeWitnesses persists the input-witness blob for every job Enqueue will
// queue or that a worker will later pop once its edges fire: real leaves
// carry the request witness planner encoded, dummy-padded leaves and every
// internal aggregator node carry the public transition data the aggregator
// circuit binds to, and pass-through nodes (the sighash wrapper and its
// root tree) carry no new public data of their own.
func writeWitnesses(store worker.ProofStore, res *planner.Result, classes []dag.ClassTree, agg1 dag.Agg1Result, agg2 dag.Agg2Result, bst dag.BlockStateTransitionResult, sigHashTree dag.SigHashTree, leafWitnesses []sighash.LeafWitness) error {
	leafSets := [][]dag.LeafInput{res.RegisterUser, res.AddDeposit, res.ClaimDeposit, res.TokenTransfer, res.AddWithdrawal, res.ProcessWithdrawal}
	for ci, tree := range classes {
		leaves := leafSets[ci]
		li := 0
		for _, n := range tree.Nodes {
			if n.IsLeaf {
				if !n.IsDummy && li < len(leaves) {
					worker.PutWitness(store, n.JobID, leaves[li].Witness)
					li++
				} else {
					worker.PutWitness(store, n.JobID, nil)
				}
				continue
			}
			enc, err := rlp.EncodeToBytes(dag.NewAggWitness(n))
			if err != nil {
				return cityerr.New(cityerr.KindFatal, "orchestrator.writeWitnesses", err)
			}
			worker.PutWitness(store, n.JobID, enc)
		}
	}

	if err := putAggWitness(store, agg1.JobID, agg1.Transition, agg1.CombinedHash, true); err != nil {
		return err
	}
	if err := putAggWitness(store, agg2.JobID, agg2.Transition, agg2.EventsHash, true); err != nil {
		return err
	}
	bstTransition := dag.AggStateTransition{Start: bst.CurrentStateRoot, End: bst.NextStateRoot}
	if err := putAggWitness(store, bst.JobID, bstTransition, qhash.Combine(bst.WithdrawalEventsHash, bst.DepositEventsHash), true); err != nil {
		return err
	}

	for _, w := range leafWitnesses {
		enc, err := rlp.EncodeToBytes(w)
		if err != nil {
			return cityerr.New(cityerr.KindFatal, "orchestrator.writeWitnesses", err)
		}
		worker.PutWitness(store, w.JobID, enc)
		worker.PutWitness(store, sighash.WrapperJobID(w.JobID.GoalID, uint32(w.InputIndex)), nil)
		worker.PutWitness(store, sighash.FinalJobID(w.JobID.GoalID, uint32(w.InputIndex)), enc)
	}

	seenRoots := map[dag.JobID]bool{}
	for _, e := range sigHashTree.Edges {
		if !seenRoots[e.Parent] {
			seenRoots[e.Parent] = true
			worker.PutWitness(store, e.Parent, nil)
		}
	}
	return nil
}

func putAggWitness(store worker.ProofStore, job dag.JobID, t dag.AggStateTransition, eventHash qhash.QHash, hasEvent bool) error {
	w := dag.AggWitness{
		StartRoot: [4]uint64(t.Start),
		EndRoot:   [4]uint64(t.End),
		EventHash: [4]uint64(eventHash),
		HasEvent:  hasEvent,
	}
	enc, err := rlp.EncodeToBytes(w)
	if err != nil {
		return cityerr.New(cityerr.KindFatal, "orchestrator.putAggWitness", err)
	}
	worker.PutWitness(store, job, enc)
	return nil
}

// buildBlockSpendScriptSig assembles the scriptSig spending the previous
// block's P2SH output: the Groth16 proof elements, then the redeem script
// per standard P2SH convention.
func buildBlockSpendScriptSig(proof proofsystem.Groth16Proof, redeemScript []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddData(proof.PiA[:])
	b.AddData(proof.PiB0[:])
	b.AddData(proof.PiB1[:])
	b.AddData(proof.PiC[:])
	b.AddData(redeemScript)
	script, err := b.Script()
	if err != nil {
		return nil, cityerr.New(cityerr.KindFatal, "orchestrator.buildBlockSpendScriptSig", err)
	}
	return script, nil
}

// Finalize reads plan's Groth16 wrapper job's standard-prover output (it
// does not block: if that job has not completed yet it returns a
// NotFound-kind error), wraps it into an on-chain Groth16 proof, attaches
// it to the block-spend input's scriptSig (when the block is not genesis),
// and broadcasts the finished transaction.
func (o *Orchestrator) Finalize(ctx context.Context, store worker.ProofStore, plan *BlockPlan) ([32]byte, error) {
	rootProof, err := worker.GetOutput(store, plan.Groth16JobID)
	if err != nil {
		return [32]byte{}, cityerr.Wrap(err, "orchestrator.Finalize: groth16 wrapper job not yet complete")
	}
	g16, err := o.Wrapper.Wrap(ctx, proofsystem.Proof(rootProof))
	if err != nil {
		return [32]byte{}, cityerr.New(cityerr.KindProofFailure, "orchestrator.Finalize", err)
	}

	tx := plan.Transaction
	if len(plan.BlockSpendRedeemScript) > 0 && len(tx.Inputs) > 0 {
		inputs := make([]sighash.TxInput, len(tx.Inputs))
		copy(inputs, tx.Inputs)
		scriptSig, err := buildBlockSpendScriptSig(g16, plan.BlockSpendRedeemScript)
		if err != nil {
			return [32]byte{}, err
		}
		inputs[0].Script = scriptSig
		tx.Inputs = inputs
	}

	txid, err := o.L1.SendTransaction(ctx, tx)
	if err != nil {
		return [32]byte{}, cityerr.New(cityerr.KindL1Error, "orchestrator.Finalize", err)
	}
	return txid, nil
}
