package sighash

import (
	"github.com/cityrollup/rollup/internal/cityerr"
	"github.com/cityrollup/rollup/internal/qhash"
)

// WhitelistHeight is the fixed height of the sighash whitelist tree: up to
// 2^8 permitted transaction-layout variants.
const WhitelistHeight = 8

// WhitelistTree commits to the fixed set of sighash-introspection-circuit
// fingerprints permitted on L1. Unlike internal/vsmt, it is built once per
// deployment from a static variant list rather than checkpointed.
type WhitelistTree struct {
	leaves []qhash.QHash
	levels [][]qhash.QHash // levels[0] = leaves (zero-padded to 2^height), levels[height] = [root]
}

// NewWhitelistTree builds a whitelist tree from the permitted variant
// fingerprints, zero-padding up to 2^WhitelistHeight.
func NewWhitelistTree(variantFingerprints []qhash.QHash) (*WhitelistTree, error) {
	if len(variantFingerprints) > 1<<WhitelistHeight {
		return nil, cityerr.New(cityerr.KindInvalidArgument, "sighash.NewWhitelistTree", nil)
	}
	size := 1 << WhitelistHeight
	leaves := make([]qhash.QHash, size)
	copy(leaves, variantFingerprints)

	levels := make([][]qhash.QHash, WhitelistHeight+1)
	levels[0] = leaves
	cur := leaves
	for lvl := 0; lvl < WhitelistHeight; lvl++ {
		next := make([]qhash.QHash, len(cur)/2)
		for i := 0; i < len(next); i++ {
			next[i] = qhash.Combine(cur[2*i], cur[2*i+1])
		}
		levels[lvl+1] = next
		cur = next
	}
	return &WhitelistTree{leaves: variantFingerprints, levels: levels}, nil
}

// Root returns the whitelist tree's root.
func (w *WhitelistTree) Root() qhash.QHash {
	return w.levels[WhitelistHeight][0]
}

// Proof returns the sibling path for leaf index, ordered leaf-to-root.
func (w *WhitelistTree) Proof(index int) ([]qhash.QHash, error) {
	if index < 0 || index >= 1<<WhitelistHeight {
		return nil, cityerr.New(cityerr.KindInvalidArgument, "sighash.Proof", nil)
	}
	siblings := make([]qhash.QHash, WhitelistHeight)
	idx := index
	for lvl := 0; lvl < WhitelistHeight; lvl++ {
		siblings[lvl] = w.levels[lvl][idx^1]
		idx >>= 1
	}
	return siblings, nil
}

// Contains reports whether fp is one of the permitted variant fingerprints.
func (w *WhitelistTree) Contains(fp qhash.QHash) bool {
	for _, l := range w.leaves {
		if l.Equal(fp) {
			return true
		}
	}
	return false
}

// VerifyProof reports whether (leaf, siblings) authenticates to the
// whitelist root at index.
func VerifyProof(root, leaf qhash.QHash, index int, siblings []qhash.QHash) bool {
	cur := leaf
	idx := index
	for _, sib := range siblings {
		if idx%2 == 0 {
			cur = qhash.Combine(cur, sib)
		} else {
			cur = qhash.Combine(sib, cur)
		}
		idx >>= 1
	}
	return cur.Equal(root)
}
