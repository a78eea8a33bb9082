package dag

import "github.com/cityrollup/rollup/internal/qhash"

// AggStateTransition is the (start, end) state-root pair a proof attests to:
// "the city root was `Start` before this operation and `End` after it."
type AggStateTransition struct {
	Start qhash.QHash
	End   qhash.QHash
}

// Identity returns the dummy padding transition: a proof that changes
// nothing, used to round a class's leaf count up to a power of two.
func Identity(stateRoot qhash.QHash) AggStateTransition {
	return AggStateTransition{Start: stateRoot, End: stateRoot}
}

// LeafInput is one real leaf of an operation class's aggregation tree: its
// serialized witness (opaque to this package) and the transition (plus,
// for event-bearing classes, the event hash) it attests to.
type LeafInput struct {
	Witness    []byte
	Transition AggStateTransition
	EventHash  qhash.QHash
	HasEvent   bool
}

// AggNode is one node of a materialized aggregation tree: either a leaf
// (Left/Right unset) or an internal aggregator pairing two children.
type AggNode struct {
	JobID      JobID
	IsLeaf     bool
	IsDummy    bool
	Left       JobID
	Right      JobID
	Transition AggStateTransition
	EventHash  qhash.QHash
	HasEvent   bool
}

// Edge records one child-to-parent aggregation relationship a completed job
// must feed: when child finishes, its proof belongs in Parent's Slot, and
// Parent is ready to enqueue once Expected children have all landed.
//
// Parent job ids are materialized explicitly here (rather than re-derived
// generically from a child's own JobID) because the parent's CircuitType
// differs from the child's at the leaf-to-first-aggregate-level boundary,
// and because cross-tree joins (Agg1, Agg2, the Groth16 wrapper) combine
// proofs from entirely unrelated job identities that share no JobID.Parent()
// lineage at all.
type Edge struct {
	Child    JobID
	Parent   JobID
	Slot     uint8
	Expected uint32
}

// ClassTree is the materialized aggregation tree for one operation class.
type ClassTree struct {
	Class      OperationClass
	RootJobID  JobID
	Root       AggStateTransition
	RootEvent  qhash.QHash
	HasEvents  bool
	Nodes      []AggNode // leaves first, then each level up to (and including) the root
	Edges      []Edge    // child->parent propagation edges for every internal node
}

func nextPow2(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// BuildClassTree pads leaves to the next power of two with dummy identity
// transitions and folds them into a single balanced binary aggregation
// tree. identity is the city root as it stood just before this class's
// turn in the batch; it is the unchanged state root of the single dummy
// node that stands in for an empty class. Pads of a non-empty class use the
// last real leaf's end root instead (see below).
func BuildClassTree(checkpoint uint64, class OperationClass, leaves []LeafInput, identity qhash.QHash) ClassTree {
	if len(leaves) == 0 {
		root := JobID{
			Topic:       TopicStandardProof,
			GoalID:      checkpoint,
			CircuitType: class.DummyAggregateCircuit(),
			GroupID:     uint32(class),
			SubGroupID:  0,
			TaskIndex:   0,
		}
		node := AggNode{JobID: root, IsLeaf: true, IsDummy: true, Transition: Identity(identity)}
		return ClassTree{Class: class, RootJobID: root, Root: node.Transition, Nodes: []AggNode{node}}
	}

	// Dummy pads continue from the last real leaf's end, so the padded
	// subtree chains as a no-op onto the real work instead of resetting to
	// the root the class started from.
	padRoot := identity
	if len(leaves) > 0 {
		padRoot = leaves[len(leaves)-1].Transition.End
	}

	size := nextPow2(len(leaves))
	level := make([]AggNode, size)
	for i := 0; i < size; i++ {
		if i < len(leaves) {
			l := leaves[i]
			level[i] = AggNode{
				JobID:      LeafJobID(checkpoint, class, uint32(i)),
				IsLeaf:     true,
				Transition: l.Transition,
				EventHash:  l.EventHash,
				HasEvent:   l.HasEvent,
			}
		} else {
			level[i] = AggNode{
				JobID: JobID{
					Topic:       TopicStandardProof,
					GoalID:      checkpoint,
					CircuitType: class.DummyAggregateCircuit(),
					GroupID:     uint32(class),
					SubGroupID:  0,
					TaskIndex:   uint32(i),
				},
				IsLeaf:     true,
				IsDummy:    true,
				Transition: Identity(padRoot),
			}
		}
	}

	var nodes []AggNode
	var edges []Edge
	nodes = append(nodes, level...)

	for len(level) > 1 {
		next := make([]AggNode, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			left, right := level[i], level[i+1]
			parentID := left.JobID.Parent()
			parentID.CircuitType = class.AggregateCircuit()
			if left.IsDummy && right.IsDummy {
				parentID.CircuitType = class.DummyAggregateCircuit()
			}
			n := AggNode{
				JobID:   parentID,
				IsDummy: left.IsDummy && right.IsDummy,
				Left:    left.JobID.OutputKey(),
				Right:   right.JobID.OutputKey(),
				Transition: AggStateTransition{
					Start: left.Transition.Start,
					End:   right.Transition.End,
				},
			}
			if left.HasEvent || right.HasEvent {
				n.HasEvent = true
				n.EventHash = qhash.Combine(left.EventHash, right.EventHash)
			}
			edges = append(edges,
				Edge{Child: left.JobID.TaskID(), Parent: parentID, Slot: 0, Expected: 2},
				Edge{Child: right.JobID.TaskID(), Parent: parentID, Slot: 1, Expected: 2},
			)
			next[i/2] = n
		}
		nodes = append(nodes, next...)
		level = next
	}

	root := level[0]
	return ClassTree{
		Class:     class,
		RootJobID: root.JobID,
		Root:      root.Transition,
		RootEvent: root.EventHash,
		HasEvents: root.HasEvent,
		Nodes:     nodes,
		Edges:     edges,
	}
}

// rootGroupID values for the two fixed root-aggregation levels and the
// final block-state-transition job, kept out of the per-class GroupID
// space (which runs 0..5, one per OperationClass).
const (
	groupAgg1               uint32 = 100
	groupAgg2               uint32 = 101
	groupBlockStateTransition uint32 = 102
)

// Agg1Result is the output of aggregating the register-user, claim-deposit,
// and l2-transfer class roots.
type Agg1Result struct {
	JobID        JobID
	Transition   AggStateTransition
	CombinedHash qhash.QHash
	Edges        []Edge
}

// AssembleAgg1 chains register_user -> claim_deposit -> l2_transfer. Unlike
// the binary class trees, this join is a fixed 3-way fan-in: the three
// class roots are unrelated job identities with no shared JobID.Parent()
// lineage, so the edges are built explicitly rather than derived.
func AssembleAgg1(checkpoint uint64, registerUser, claimDeposit, l2Transfer ClassTree) Agg1Result {
	id := JobID{
		Topic:       TopicStandardProof,
		GoalID:      checkpoint,
		CircuitType: CircuitAgg1UserRegisterClaimDepositL2Transfer,
		GroupID:     groupAgg1,
	}
	edges := []Edge{
		{Child: registerUser.RootJobID.TaskID(), Parent: id, Slot: 0, Expected: 3},
		{Child: claimDeposit.RootJobID.TaskID(), Parent: id, Slot: 1, Expected: 3},
		{Child: l2Transfer.RootJobID.TaskID(), Parent: id, Slot: 2, Expected: 3},
	}
	return Agg1Result{
		JobID: id,
		Transition: AggStateTransition{
			Start: registerUser.Root.Start,
			End:   l2Transfer.Root.End,
		},
		CombinedHash: qhash.Combine(registerUser.Root.End, claimDeposit.Root.End),
		Edges:        edges,
	}
}

// Agg2Result is the output of aggregating the add-withdrawal,
// process-withdrawal, and add-deposit class roots.
type Agg2Result struct {
	JobID                JobID
	Transition           AggStateTransition
	EventsHash           qhash.QHash
	WithdrawalEventsHash qhash.QHash
	DepositEventsHash    qhash.QHash
	Edges                []Edge
}

// AssembleAgg2 chains add_withdrawal -> process_withdrawal -> add_deposit,
// another fixed 3-way fan-in (see AssembleAgg1).
func AssembleAgg2(checkpoint uint64, addWithdrawal, processWithdrawal, addDeposit ClassTree) Agg2Result {
	id := JobID{
		Topic:       TopicStandardProof,
		GoalID:      checkpoint,
		CircuitType: CircuitAgg2AddProcessL1WithdrawalAddL1Deposit,
		GroupID:     groupAgg2,
	}
	edges := []Edge{
		{Child: addWithdrawal.RootJobID.TaskID(), Parent: id, Slot: 0, Expected: 3},
		{Child: processWithdrawal.RootJobID.TaskID(), Parent: id, Slot: 1, Expected: 3},
		{Child: addDeposit.RootJobID.TaskID(), Parent: id, Slot: 2, Expected: 3},
	}
	return Agg2Result{
		JobID: id,
		Transition: AggStateTransition{
			Start: addWithdrawal.Root.Start,
			End:   addDeposit.Root.End,
		},
		EventsHash:           qhash.Combine(processWithdrawal.RootEvent, addDeposit.RootEvent),
		WithdrawalEventsHash: processWithdrawal.RootEvent,
		DepositEventsHash:    addDeposit.RootEvent,
		Edges:                edges,
	}
}

// BlockStateTransitionResult is the 16-field public statement the on-chain
// Groth16 wrapper ultimately binds to.
type BlockStateTransitionResult struct {
	JobID                JobID
	CurrentStateRoot     qhash.QHash
	NextStateRoot        qhash.QHash
	WithdrawalEventsHash qhash.QHash
	DepositEventsHash    qhash.QHash
	Edges                []Edge
}

// AssembleBlockStateTransition combines Agg1 and Agg2 into the block's
// final public statement: a plain binary join.
func AssembleBlockStateTransition(checkpoint uint64, agg1 Agg1Result, agg2 Agg2Result) BlockStateTransitionResult {
	id := JobID{
		Topic:       TopicStandardProof,
		GoalID:      checkpoint,
		CircuitType: CircuitBlockStateTransition,
		GroupID:     groupBlockStateTransition,
	}
	edges := []Edge{
		{Child: agg1.JobID.TaskID(), Parent: id, Slot: 0, Expected: 2},
		{Child: agg2.JobID.TaskID(), Parent: id, Slot: 1, Expected: 2},
	}
	return BlockStateTransitionResult{
		JobID:                id,
		CurrentStateRoot:     agg1.Transition.Start,
		NextStateRoot:        agg2.Transition.End,
		WithdrawalEventsHash: agg2.WithdrawalEventsHash,
		DepositEventsHash:    agg2.DepositEventsHash,
		Edges:                edges,
	}
}
