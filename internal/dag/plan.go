package dag

// AggWitness is the RLP-encodable public-input binding for one internal
// aggregation node: the transition it attests to, plus its combined event
// hash when the class carries one. Leaf witnesses are opaque request data
// (internal/planner encodes those); this is what every level above a leaf
// carries instead.
type AggWitness struct {
	StartRoot [4]uint64
	EndRoot   [4]uint64
	EventHash [4]uint64
	HasEvent  bool
}

// NewAggWitness packages an AggNode's public-input fields for RLP encoding.
func NewAggWitness(n AggNode) AggWitness {
	return AggWitness{
		StartRoot: [4]uint64(n.Transition.Start),
		EndRoot:   [4]uint64(n.Transition.End),
		EventHash: [4]uint64(n.EventHash),
		HasEvent:  n.HasEvent,
	}
}

// SigHashTree is the materialized binary aggregation tree joining every
// per-input sighash-final proof into the single root the Groth16 wrapper
// consumes. Every internal node (including the tree's own root) is tagged
// CircuitSigHashRoot; only the leaves carry the true per-input final
// circuit type.
type SigHashTree struct {
	RootJobID JobID
	Edges     []Edge
}

// BuildSigHashTree pads finalJobIDs to the next power of two with
// already-identical dummy entries (the last real input is simply reused;
// a sighash-final proof is a pure pass-through, so duplicating one wastes
// work but does not corrupt the aggregate the way a mismatched identity
// root would for a class tree) and folds them pairwise up to one root.
func BuildSigHashTree(checkpoint uint64, finalJobIDs []JobID) SigHashTree {
	if len(finalJobIDs) == 0 {
		root := JobID{Topic: TopicStandardProof, GoalID: checkpoint, CircuitType: CircuitSigHashRoot, GroupID: groupSigHashRoot}
		return SigHashTree{RootJobID: root}
	}
	size := nextPow2(len(finalJobIDs))
	level := make([]JobID, size)
	for i := 0; i < size; i++ {
		if i < len(finalJobIDs) {
			level[i] = finalJobIDs[i].TaskID()
		} else {
			level[i] = finalJobIDs[len(finalJobIDs)-1].TaskID()
		}
	}

	var edges []Edge
	for len(level) > 1 {
		next := make([]JobID, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			left, right := level[i], level[i+1]
			parentID := left.Parent()
			parentID.CircuitType = CircuitSigHashRoot
			parentID.GroupID = groupSigHashRoot
			edges = append(edges,
				Edge{Child: left, Parent: parentID, Slot: 0, Expected: 2},
				Edge{Child: right, Parent: parentID, Slot: 1, Expected: 2},
			)
			next[i/2] = parentID
		}
		level = next
	}
	return SigHashTree{RootJobID: level[0], Edges: edges}
}

const groupSigHashRoot uint32 = 200

// Groth16WrapperEdges wires the final block-state-transition proof and the
// sighash-root proof into the single Groth16 wrapper job.
func Groth16WrapperEdges(checkpoint uint64, blockStateTransition, sigHashRoot JobID) (JobID, []Edge) {
	id := JobID{Topic: TopicGroth16Proof, GoalID: checkpoint, CircuitType: CircuitGroth16Wrapper}
	edges := []Edge{
		{Child: blockStateTransition.TaskID(), Parent: id, Slot: 0, Expected: 2},
		{Child: sigHashRoot.TaskID(), Parent: id, Slot: 1, Expected: 2},
	}
	return id, edges
}
