// Package vsmt implements a versioned sparse Merkle tree on top of
// internal/kvstore's historized key/value contract: every node is keyed by
// its coordinates plus a checkpoint id, and a read at checkpoint c returns
// the value written at the greatest checkpoint <= c (falling back to a
// precomputed zero hash when no node has ever been written there).
//
// Grounded on the Rust original's CityMerkleChange / MerkleTreeProver model
// (_examples/original_source/city_mono/src/store/city/... and the
// kvq-merkle crate it composes with), carried into Go the way
// MuriData-muri-zkproof's pkg/merkle/csmt.go structures a fixed-height
// binary Merkle tree with precomputed per-level zero hashes.
package vsmt

import (
	"encoding/binary"

	"github.com/cityrollup/rollup/internal/cityerr"
	"github.com/cityrollup/rollup/internal/kvstore"
	"github.com/cityrollup/rollup/internal/qhash"
)

// NodeKey identifies a single tree node at a single checkpoint. Level counts
// down from the root (level 0) to the leaves (level Height); Index is the
// node's position within its level.
type NodeKey struct {
	TableType    uint16
	TreeID       uint8
	PrimaryID    uint64
	SecondaryID  uint32
	Level        uint8
	Index        uint64
	CheckpointID uint64
}

// keyWidth is the fixed serialized width of a NodeKey: the checkpoint id is
// the trailing 8 bytes, so a floor query with fuzzyBytes=8 ranges over every
// checkpoint of one fixed (table, tree, primary, secondary, level, index).
const keyWidth = 2 + 1 + 8 + 4 + 1 + 8 + 8

// Bytes serializes k to a fixed-width big-endian key.
func (k NodeKey) Bytes() []byte {
	b := make([]byte, keyWidth)
	binary.BigEndian.PutUint16(b[0:2], k.TableType)
	b[2] = k.TreeID
	binary.BigEndian.PutUint64(b[3:11], k.PrimaryID)
	binary.BigEndian.PutUint32(b[11:15], k.SecondaryID)
	b[15] = k.Level
	binary.BigEndian.PutUint64(b[16:24], k.Index)
	binary.BigEndian.PutUint64(b[24:32], k.CheckpointID)
	return b
}

// Tree is a fixed-height, checkpointed sparse Merkle tree addressed by
// (TableType, TreeID, PrimaryID, SecondaryID) and backed by a kvstore.Store.
type Tree struct {
	store       *kvstore.Store
	tableType   uint16
	treeID      uint8
	primaryID   uint64
	secondaryID uint32
	height      int
	markLeaves  bool
	zeroHashes  []qhash.QHash // Z_0 (leaf) .. Z_height (root)
}

// NewTree opens a tree view over store. zeroLeaf is the hash of a never-written
// leaf; markLeaves selects the domain-separated combiner for the leaf level,
// used by the deposit and withdrawal trees to bind a leaf to its tree.
func NewTree(store *kvstore.Store, tableType uint16, treeID uint8, primaryID uint64, secondaryID uint32, height int, zeroLeaf qhash.QHash, markLeaves bool) *Tree {
	return &Tree{
		store:       store,
		tableType:   tableType,
		treeID:      treeID,
		primaryID:   primaryID,
		secondaryID: secondaryID,
		height:      height,
		markLeaves:  markLeaves,
		zeroHashes:  qhash.PrecomputeZeroHashes(height, zeroLeaf, markLeaves),
	}
}

// Height returns the tree's leaf depth.
func (t *Tree) Height() int { return t.height }

func (t *Tree) nodeKey(checkpoint uint64, level uint8, index uint64) NodeKey {
	return NodeKey{
		TableType:    t.tableType,
		TreeID:       t.treeID,
		PrimaryID:    t.primaryID,
		SecondaryID:  t.secondaryID,
		Level:        level,
		Index:        index,
		CheckpointID: checkpoint,
	}
}

// GetNode returns the node value at (level, index) as of checkpoint,
// falling back to the precomputed zero hash of an empty subtree of the
// matching height when nothing has ever been written there.
func (t *Tree) GetNode(checkpoint uint64, level uint8, index uint64) (qhash.QHash, error) {
	key := t.nodeKey(checkpoint, level, index).Bytes()
	_, v, found, err := t.store.GetFloor(key, 8)
	if err != nil {
		return qhash.Zero, cityerr.New(cityerr.KindFatal, "vsmt.GetNode", err)
	}
	if !found {
		return t.zeroHashes[t.height-int(level)], nil
	}
	var b [32]byte
	copy(b[:], v)
	return qhash.FromBytes(b), nil
}

func (t *Tree) setNode(checkpoint uint64, level uint8, index uint64, value qhash.QHash) error {
	key := t.nodeKey(checkpoint, level, index).Bytes()
	b := value.Bytes()
	if err := t.store.Set(key, b[:]); err != nil {
		return cityerr.New(cityerr.KindFatal, "vsmt.setNode", err)
	}
	return nil
}

// LeafProof is a Merkle authentication path for one leaf: its value, the
// root it hashes to, and the sibling at every level ordered from the leaf
// (index 0) up to the node just below the root.
type LeafProof struct {
	Index    uint64
	Value    qhash.QHash
	Root     qhash.QHash
	Siblings []qhash.QHash
}

// GetLeafProof returns leafIndex's authentication path as of checkpoint.
func (t *Tree) GetLeafProof(checkpoint uint64, leafIndex uint64) (LeafProof, error) {
	value, err := t.GetNode(checkpoint, uint8(t.height), leafIndex)
	if err != nil {
		return LeafProof{}, err
	}
	siblings := make([]qhash.QHash, t.height)
	idx := leafIndex
	for lvl := t.height; lvl >= 1; lvl-- {
		sib, err := t.GetNode(checkpoint, uint8(lvl), idx^1)
		if err != nil {
			return LeafProof{}, err
		}
		siblings[t.height-lvl] = sib
		idx >>= 1
	}
	root, err := t.GetNode(checkpoint, 0, 0)
	if err != nil {
		return LeafProof{}, err
	}
	return LeafProof{Index: leafIndex, Value: value, Root: root, Siblings: siblings}, nil
}

// recomputeRoot folds value up through siblings to a root, using the
// tree's marked combiner at the leaf level only.
func (t *Tree) recomputeRoot(value qhash.QHash, index uint64, siblings []qhash.QHash) qhash.QHash {
	cur := value
	idx := index
	for lvl := 0; lvl < t.height; lvl++ {
		sib := siblings[lvl]
		var left, right qhash.QHash
		if idx%2 == 0 {
			left, right = cur, sib
		} else {
			left, right = sib, cur
		}
		if lvl == 0 && t.markLeaves {
			cur = qhash.CombineMarked(left, right)
		} else {
			cur = qhash.Combine(left, right)
		}
		idx >>= 1
	}
	return cur
}

// VerifyProof reports whether p is a valid authentication path to root.
func (t *Tree) VerifyProof(p LeafProof) bool {
	return t.recomputeRoot(p.Value, p.Index, p.Siblings).Equal(p.Root)
}

// DeltaMerkleProof records a single-leaf update: the root and value before
// and after, plus the sibling path shared by both recomputations.
type DeltaMerkleProof struct {
	Index    uint64
	OldValue qhash.QHash
	NewValue qhash.QHash
	OldRoot  qhash.QHash
	NewRoot  qhash.QHash
	Siblings []qhash.QHash
}

// VerifyOld reports whether (OldValue, Siblings) recomputes to OldRoot.
func (t *Tree) VerifyOld(d DeltaMerkleProof) bool {
	return t.recomputeRoot(d.OldValue, d.Index, d.Siblings).Equal(d.OldRoot)
}

// VerifyNew reports whether (NewValue, Siblings) recomputes to NewRoot.
func (t *Tree) VerifyNew(d DeltaMerkleProof) bool {
	return t.recomputeRoot(d.NewValue, d.Index, d.Siblings).Equal(d.NewRoot)
}

// SetLeaf writes newValue at leafIndex as of checkpoint and rewrites every
// ancestor up to the root, returning a proof of the transition. The sibling
// path is read once, before any node at checkpoint is written, and reused to
// recompute both the old and the new root.
func (t *Tree) SetLeaf(checkpoint uint64, leafIndex uint64, newValue qhash.QHash) (DeltaMerkleProof, error) {
	before, err := t.GetLeafProof(checkpoint, leafIndex)
	if err != nil {
		return DeltaMerkleProof{}, err
	}

	if err := t.setNode(checkpoint, uint8(t.height), leafIndex, newValue); err != nil {
		return DeltaMerkleProof{}, err
	}

	cur := newValue
	idx := leafIndex
	for lvl := t.height; lvl >= 1; lvl-- {
		sib := before.Siblings[t.height-lvl]
		var left, right qhash.QHash
		if idx%2 == 0 {
			left, right = cur, sib
		} else {
			left, right = sib, cur
		}
		if lvl == t.height && t.markLeaves {
			cur = qhash.CombineMarked(left, right)
		} else {
			cur = qhash.Combine(left, right)
		}
		idx >>= 1
		if err := t.setNode(checkpoint, uint8(lvl-1), idx, cur); err != nil {
			return DeltaMerkleProof{}, err
		}
	}

	return DeltaMerkleProof{
		Index:    leafIndex,
		OldValue: before.Value,
		NewValue: newValue,
		OldRoot:  before.Root,
		NewRoot:  cur,
		Siblings: before.Siblings,
	}, nil
}

// GetRoot returns the tree's root hash as of checkpoint.
func (t *Tree) GetRoot(checkpoint uint64) (qhash.QHash, error) {
	return t.GetNode(checkpoint, 0, 0)
}
