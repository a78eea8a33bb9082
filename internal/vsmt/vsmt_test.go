package vsmt

import (
	"testing"

	"github.com/cityrollup/rollup/internal/kvstore"
	"github.com/cityrollup/rollup/internal/qhash"
)

func newTestTree(height int, marked bool) *Tree {
	store := kvstore.New(0)
	return NewTree(store, 1, 0, 0, 0, height, qhash.Zero, marked)
}

func TestEmptyTreeRootIsZeroHash(t *testing.T) {
	tr := newTestTree(4, false)
	root, err := tr.GetRoot(0)
	if err != nil {
		t.Fatal(err)
	}
	want := qhash.PrecomputeZeroHashes(4, qhash.Zero, false)[4]
	if !root.Equal(want) {
		t.Fatalf("empty tree root mismatch")
	}
}

func TestSetLeafChangesRootAndIsProvable(t *testing.T) {
	tr := newTestTree(4, false)
	leaf := qhash.FromUint64s(1, 2, 3, 4)

	delta, err := tr.SetLeaf(1, 5, leaf)
	if err != nil {
		t.Fatal(err)
	}
	if !tr.VerifyOld(delta) {
		t.Fatalf("old root does not recompute from the pre-image proof")
	}
	if !tr.VerifyNew(delta) {
		t.Fatalf("new root does not recompute from the post-image proof")
	}
	if delta.OldRoot.Equal(delta.NewRoot) {
		t.Fatalf("writing a non-zero leaf must change the root")
	}

	root, err := tr.GetRoot(1)
	if err != nil {
		t.Fatal(err)
	}
	if !root.Equal(delta.NewRoot) {
		t.Fatalf("GetRoot after SetLeaf must equal the delta's new root")
	}

	proof, err := tr.GetLeafProof(1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if !proof.Value.Equal(leaf) {
		t.Fatalf("leaf proof value mismatch")
	}
	if !tr.VerifyProof(proof) {
		t.Fatalf("leaf proof does not verify against the current root")
	}
}

func TestCheckpointsAreHistorized(t *testing.T) {
	tr := newTestTree(4, false)
	leafA := qhash.FromUint64s(10, 0, 0, 0)
	leafB := qhash.FromUint64s(20, 0, 0, 0)

	if _, err := tr.SetLeaf(5, 2, leafA); err != nil {
		t.Fatal(err)
	}
	rootAt5, err := tr.GetRoot(5)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tr.SetLeaf(9, 2, leafB); err != nil {
		t.Fatal(err)
	}

	rootAt7, err := tr.GetRoot(7)
	if err != nil {
		t.Fatal(err)
	}
	if !rootAt7.Equal(rootAt5) {
		t.Fatalf("reading between two checkpoints must return the earlier value")
	}

	rootAt9, err := tr.GetRoot(9)
	if err != nil {
		t.Fatal(err)
	}
	if rootAt9.Equal(rootAt5) {
		t.Fatalf("reading at the later checkpoint must reflect the later write")
	}
}

func TestMarkedLeafTreeUsesMarkedCombinerAtLeafLevel(t *testing.T) {
	plain := newTestTree(3, false)
	marked := newTestTree(3, true)

	leaf := qhash.FromUint64s(7, 7, 7, 7)
	dp, err := plain.SetLeaf(1, 1, leaf)
	if err != nil {
		t.Fatal(err)
	}
	dm, err := marked.SetLeaf(1, 1, leaf)
	if err != nil {
		t.Fatal(err)
	}
	if dp.NewRoot.Equal(dm.NewRoot) {
		t.Fatalf("a marked-leaf tree must diverge from a plain tree at the same leaf")
	}
}

func TestDeltaProofRejectsTamperedRoot(t *testing.T) {
	tr := newTestTree(4, false)
	leaf := qhash.FromUint64s(1, 1, 1, 1)
	delta, err := tr.SetLeaf(1, 3, leaf)
	if err != nil {
		t.Fatal(err)
	}
	delta.NewRoot = qhash.FromUint64s(9, 9, 9, 9)
	if tr.VerifyNew(delta) {
		t.Fatalf("tampered root must not verify")
	}
}
