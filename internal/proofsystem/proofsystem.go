// Package proofsystem declares the black-box contracts the worker pool
// proves against: a standard (plonky2-family) recursive prover, and the
// final Groth16 wrapper that produces an on-chain-verifiable proof. No
// circuit is implemented here — concrete provers are supplied by the
// deployment and satisfy these interfaces.
//
// Grounded on the Rust original's dynamic-dispatch QStandardCircuit trait
// (_examples/original_source/city_mono/src/... circuit registry), collapsed
// per the design note turning it into a tagged CircuitKind plus a
// (commonData, verifierData, fingerprint) table owned by a toolbox, the way
// orbas1-Synnergy's pkg/consensus package hands a validator set to an
// interface rather than a concrete implementation.
package proofsystem

import (
	"context"

	"github.com/cityrollup/rollup/internal/dag"
	"github.com/cityrollup/rollup/internal/qhash"
)

// CircuitFingerprint identifies one compiled circuit variant; it is the
// value committed to the sighash whitelist tree.
type CircuitFingerprint = qhash.QHash

// CircuitDescriptor is what a toolbox hands back for one circuit kind: the
// data a prover needs to run it, the data a verifier needs to check its
// output, and the fingerprint that identifies the variant on-chain.
type CircuitDescriptor struct {
	CircuitType   dag.CircuitType
	CommonData    []byte
	VerifierData  []byte
	Fingerprint   CircuitFingerprint
}

// CircuitToolbox resolves a circuit type to its descriptor. Implementations
// own compiling (or loading precompiled) circuits; this package only
// defines the lookup contract a worker uses to pick the right prover.
type CircuitToolbox interface {
	Descriptor(circuitType dag.CircuitType) (CircuitDescriptor, error)
}

// Proof is an opaque recursive proof blob, as produced by the standard
// (plonky2-family) prover and consumed by its own aggregators.
type Proof []byte

// StandardProver runs one leaf or aggregation circuit: witnessBytes is the
// job's decoded input witness, childProofs is empty for leaves and holds one
// entry per fanned-in child otherwise (two for a binary join, three for the
// Agg1/Agg2 root-aggregation levels).
type StandardProver interface {
	Prove(ctx context.Context, circuitType dag.CircuitType, witnessBytes []byte, childProofs []Proof) (Proof, error)
	Verify(ctx context.Context, circuitType dag.CircuitType, proof Proof) error
}

// Groth16Proof is the four-element on-chain-verifiable proof pushed into
// the block-spend script: (pi_a, pi_b_a0, pi_b_a1, pi_c).
type Groth16Proof struct {
	PiA   [32]byte
	PiB0  [32]byte
	PiB1  [32]byte
	PiC   [32]byte
}

// Groth16Wrapper wraps a finished standard-prover root proof into the
// single Groth16 proof an L1 script can verify.
type Groth16Wrapper interface {
	Wrap(ctx context.Context, rootProof Proof) (Groth16Proof, error)
}
