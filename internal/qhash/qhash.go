// Package qhash implements the single algebraic hash used throughout the
// block production pipeline: four 64-bit field elements combined two-to-one,
// with a domain-separated "marked leaf" variant for the first level of
// marked trees.
//
// The reference circuit's native field is Goldilocks; no Goldilocks
// implementation is available in the retrieved pack, so this package
// represents a QHash as four u64 limbs folded into a gnark-crypto bn254
// scalar-field element for the actual Poseidon2 permutation (grounded on
// _examples/MuriData-muri-zkproof/pkg/crypto/crypto.go). Both hashes are
// algebraic sponge constructions over a prime field of similar size; the
// substitution changes the concrete field, not the contract this package
// exposes (two-to-one combine, marked-leaf domain separation, zero-hash
// chains) — see DESIGN.md for this tradeoff.
package qhash

import (
	"encoding/binary"
	"math/big"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/poseidon2"
)

// domain tags, mirroring the real/padding separation used for leaf hashing
// in the retrieved pack's Poseidon wrapper.
const (
	domainTagPlain  = 0
	domainTagMarked = 1
)

// QHash is four 64-bit field elements, matching the in-circuit hash width.
type QHash [4]uint64

// Zero is the all-zero QHash.
var Zero = QHash{0, 0, 0, 0}

// FromUint64s builds a QHash from four limbs.
func FromUint64s(a, b, c, d uint64) QHash { return QHash{a, b, c, d} }

// Equal reports whether two hashes are identical.
func (h QHash) Equal(other QHash) bool { return h == other }

// IsZero reports whether h is the all-zero hash.
func (h QHash) IsZero() bool { return h == Zero }

// Bytes encodes h as 32 big-endian bytes, one u64 per 8-byte chunk.
func (h QHash) Bytes() [32]byte {
	var out [32]byte
	for i, limb := range h {
		binary.BigEndian.PutUint64(out[i*8:(i+1)*8], limb)
	}
	return out
}

// FromBytes decodes a 32-byte big-endian encoding produced by Bytes.
func FromBytes(b [32]byte) QHash {
	var h QHash
	for i := range h {
		h[i] = binary.BigEndian.Uint64(b[i*8 : (i+1)*8])
	}
	return h
}

// BytesLE encodes h as the little-endian byte reversal of Bytes, for
// embedding a hash as a single 256-bit field element in a script push.
func (h QHash) BytesLE() [32]byte {
	be := h.Bytes()
	var le [32]byte
	for i := range be {
		le[i] = be[len(be)-1-i]
	}
	return le
}

// HashBytes folds an arbitrary byte string into one QHash by splitting it
// into 32-byte (zero-padded) chunks and hashing the chunks together. Used to
// commit to variable-width byte fields (txids, public keys) alongside
// u64-valued fields in a single leaf hash.
func HashBytes(data []byte) QHash {
	var chunks []QHash
	for i := 0; i < len(data); i += 32 {
		var b [32]byte
		end := i + 32
		if end > len(data) {
			end = len(data)
		}
		copy(b[:], data[i:end])
		chunks = append(chunks, FromBytes(b))
	}
	if len(chunks) == 0 {
		return Zero
	}
	return HashFields(chunks...)
}

// toFieldElement folds the four limbs into a single bn254 scalar-field
// element, base 2^64, most-significant limb first.
func (h QHash) toFieldElement() fr.Element {
	b := h.Bytes()
	var e fr.Element
	e.SetBytes(b[:])
	return e
}

func fromFieldElement(e fr.Element) QHash {
	var big big.Int
	e.BigInt(&big)
	var b [32]byte
	big.FillBytes(b[:])
	return FromBytes(b)
}

func sponge(tag int, inputs ...QHash) QHash {
	h := poseidon2.NewMerkleDamgardHasher()
	if tag != domainTagPlain {
		var tagElem fr.Element
		tagElem.SetInt64(int64(tag))
		tb := tagElem.Bytes()
		h.Write(tb[:])
	}
	for _, in := range inputs {
		e := in.toFieldElement()
		b := e.Bytes()
		h.Write(b[:])
	}
	sum := h.Sum(nil)
	var out fr.Element
	out.SetBytes(sum)
	return fromFieldElement(out)
}

// Combine is the plain two-to-one node combiner.
func Combine(left, right QHash) QHash {
	return sponge(domainTagPlain, left, right)
}

// CombineMarked is the marked-leaf two-to-one combiner: it mixes a type tag
// so the first level of a marked-leaf tree is domain-separated from every
// other level and from plain trees.
func CombineMarked(left, right QHash) QHash {
	return sponge(domainTagMarked, left, right)
}

// HashFields hashes an arbitrary list of field elements into one QHash; used
// for leaf-record hashing (user state, deposits, withdrawals) and for
// AggStateTransition combination (H(start, end) and friends).
func HashFields(inputs ...QHash) QHash {
	return sponge(domainTagPlain, inputs...)
}

// PrecomputeZeroHashes returns Z_0..Z_height: the hash chain of the
// all-zero subtree at every level, from a single empty leaf up to the empty
// root. zeroLeaf is Z_0 (the hash of an empty leaf, which the caller may
// itself have domain-tagged).
func PrecomputeZeroHashes(height int, zeroLeaf QHash, markLeaves bool) []QHash {
	z := make([]QHash, height+1)
	z[0] = zeroLeaf
	for lvl := 0; lvl < height; lvl++ {
		if lvl == 0 && markLeaves {
			z[lvl+1] = CombineMarked(z[lvl], z[lvl])
		} else {
			z[lvl+1] = Combine(z[lvl], z[lvl])
		}
	}
	return z
}
