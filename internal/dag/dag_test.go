package dag

import (
	"testing"

	"github.com/cityrollup/rollup/internal/qhash"
)

func TestJobIDRoundTrip(t *testing.T) {
	j := JobID{
		Topic:       TopicStandardProof,
		GoalID:      42,
		CircuitType: CircuitL2Transfer,
		GroupID:     3,
		SubGroupID:  1,
		TaskIndex:   7,
		DataType:    DataOutputProof,
		DataIndex:   1,
	}
	got := FromBytes(j.Bytes())
	if got != j {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, j)
	}
}

func TestParentHalvesTaskIndexAndBumpsSubGroup(t *testing.T) {
	j := LeafJobID(1, ClassL2Transfer, 6)
	p := j.Parent()
	if p.SubGroupID != j.SubGroupID+1 {
		t.Fatalf("expected sub_group_id+1, got %d", p.SubGroupID)
	}
	if p.TaskIndex != 3 {
		t.Fatalf("expected task_index halved to 3, got %d", p.TaskIndex)
	}

	sibling := LeafJobID(1, ClassL2Transfer, 7)
	if sibling.Parent() != p {
		t.Fatalf("adjacent leaves must share one parent")
	}
}

func TestDataKeysShareTaskIdentity(t *testing.T) {
	j := LeafJobID(1, ClassRegisterUser, 2)
	j.DataType = DataInputWitness
	out := j.OutputKey()
	if out.TaskID() != j.TaskID() {
		t.Fatalf("OutputKey must preserve task identity")
	}
	if out.DataType != DataOutputProof {
		t.Fatalf("OutputKey must address the output slot")
	}
}

func TestBuildClassTreeEmptyIsDummyIdentity(t *testing.T) {
	root := qhash.FromUint64s(1, 1, 1, 1)
	tree := BuildClassTree(1, ClassAddDeposit, nil, root)
	if !tree.Root.Start.Equal(root) || !tree.Root.End.Equal(root) {
		t.Fatalf("empty class must produce the identity transition")
	}
	if len(tree.Nodes) != 1 || !tree.Nodes[0].IsDummy {
		t.Fatalf("empty class must materialize a single dummy node")
	}
}

func TestBuildClassTreePadsToPowerOfTwo(t *testing.T) {
	root := qhash.FromUint64s(2, 2, 2, 2)
	leaves := []LeafInput{
		{Transition: AggStateTransition{Start: root, End: qhash.FromUint64s(3, 0, 0, 0)}},
		{Transition: AggStateTransition{Start: qhash.FromUint64s(3, 0, 0, 0), End: qhash.FromUint64s(4, 0, 0, 0)}},
		{Transition: AggStateTransition{Start: qhash.FromUint64s(4, 0, 0, 0), End: qhash.FromUint64s(5, 0, 0, 0)}},
	}
	tree := BuildClassTree(1, ClassL2Transfer, leaves, root)

	if !tree.Root.Start.Equal(root) {
		t.Fatalf("root start must chain from the first leaf's start")
	}
	if !tree.Root.End.Equal(qhash.FromUint64s(5, 0, 0, 0)) {
		t.Fatalf("root end must chain to the last real leaf's end, got %v", tree.Root.End)
	}
	// 3 leaves pad to 4; 4 leaves + 2 level-1 aggregators + 1 root = 7 nodes.
	if len(tree.Nodes) != 7 {
		t.Fatalf("expected 7 materialized nodes, got %d", len(tree.Nodes))
	}
}

func TestBlockStateTransitionChainsAgg1Agg2(t *testing.T) {
	root := qhash.FromUint64s(9, 9, 9, 9)
	empty := BuildClassTree(1, ClassRegisterUser, nil, root)
	agg1 := AssembleAgg1(1, empty, empty, empty)
	agg2 := AssembleAgg2(1, empty, empty, empty)
	bst := AssembleBlockStateTransition(1, agg1, agg2)
	if !bst.CurrentStateRoot.Equal(root) || !bst.NextStateRoot.Equal(root) {
		t.Fatalf("an all-empty block must be an identity transition end to end")
	}
}
