package sighash

import (
	"crypto/sha256"

	"golang.org/x/crypto/ripemd160"

	"github.com/cityrollup/rollup/internal/cityerr"
	"github.com/cityrollup/rollup/internal/dag"
	"github.com/cityrollup/rollup/internal/qhash"
)

// BlockSpendUTXO is the previous block's P2SH output being spent to advance
// the rollup.
type BlockSpendUTXO struct {
	TxID         [32]byte
	Vout         uint32
	RedeemScript []byte // nil for the genesis block, which has no prior spend
}

// DepositUTXO is a non-block-spend funding input: a canonical P2PKH UTXO
// whose embedded public key a ClaimDeposit request later claims on L2.
type DepositUTXO struct {
	TxID           [32]byte
	Vout           uint32
	Value          uint64
	ScriptCode     []byte // the funding output's P2PKH scriptPubKey, for sighash
	FundingTxBytes []byte // the full previous transaction, for txid verification
}

// WithdrawalPayout is one L1 output paying out a processed withdrawal.
type WithdrawalPayout struct {
	Script []byte
	Value  uint64
}

// BuildRequest describes one block's L1 transaction inputs and outputs,
// independent of any proof.
type BuildRequest struct {
	PrevBlockSpend   BlockSpendUTXO
	PrevBlockIsGenesis bool
	Deposits         []DepositUTXO
	Withdrawals      []WithdrawalPayout
	NewBlockRedeemScript []byte
	FeeSats          uint64
	LockTime         uint32
	Sequence         uint32
}

// IntrospectionWitness is everything a per-input sighash-introspection
// circuit needs to recompute and publicly commit to one input's sighash.
type IntrospectionWitness struct {
	Tx                      Transaction
	BlockSpendIndex         int
	LastBlockSpendIndex     int // -1 if the previous block had no block-spend (genesis)
	FundingTxBytes          [][]byte
	BlockSpendRedeemScript  []byte
}

// Build assembles the block's L1 transaction: it spends the previous
// block's P2SH output (unless genesis) plus every deposit UTXO, and pays
// out a new block P2SH plus every withdrawal, in that fixed input/output
// order.
func Build(req BuildRequest) (Transaction, IntrospectionWitness, error) {
	var tx Transaction
	tx.Version = 2
	tx.LockTime = req.LockTime

	blockSpendIndex := -1
	lastBlockSpendIndex := -1
	fundingTxs := make([][]byte, 0, len(req.Deposits))

	if !req.PrevBlockIsGenesis {
		blockSpendIndex = 0
		lastBlockSpendIndex = 0
		tx.Inputs = append(tx.Inputs, TxInput{
			PrevTxID: req.PrevBlockSpend.TxID,
			PrevVout: req.PrevBlockSpend.Vout,
			Sequence: req.Sequence,
		})
	}
	for _, d := range req.Deposits {
		tx.Inputs = append(tx.Inputs, TxInput{PrevTxID: d.TxID, PrevVout: d.Vout, Sequence: req.Sequence})
		fundingTxs = append(fundingTxs, d.FundingTxBytes)
	}
	if len(tx.Inputs) == 0 {
		return Transaction{}, IntrospectionWitness{}, cityerr.New(cityerr.KindInvalidArgument, "sighash.Build", nil)
	}

	totalIn := uint64(0)
	for _, d := range req.Deposits {
		totalIn += d.Value
	}
	totalOut := uint64(0)
	for _, w := range req.Withdrawals {
		totalOut += w.Value
	}
	if req.FeeSats > 0 && totalIn > 0 && totalOut+req.FeeSats > totalIn {
		return Transaction{}, IntrospectionWitness{}, cityerr.New(cityerr.KindInvalidRequest, "sighash.Build", nil)
	}

	// The block output is P2SH: OP_HASH160 <RIPEMD160(SHA256(redeem))> OP_EQUAL.
	scriptHash := sha256.Sum256(req.NewBlockRedeemScript)
	h := ripemd160.New()
	h.Write(scriptHash[:])
	p2sh := append([]byte{0xa9, 0x14}, h.Sum(nil)...)
	p2sh = append(p2sh, 0x87)
	tx.Outputs = append(tx.Outputs, TxOutput{Value: 0, Script: p2sh})
	for _, w := range req.Withdrawals {
		tx.Outputs = append(tx.Outputs, TxOutput{Value: w.Value, Script: w.Script})
	}

	witness := IntrospectionWitness{
		Tx:                     tx,
		BlockSpendIndex:        blockSpendIndex,
		LastBlockSpendIndex:    lastBlockSpendIndex,
		FundingTxBytes:         fundingTxs,
		BlockSpendRedeemScript: req.PrevBlockSpend.RedeemScript,
	}
	return tx, witness, nil
}

// LeafWitness is one input's introspection proof witness: the sighash it
// attests to, and the state-transition hash it ties back to.
type LeafWitness struct {
	InputIndex     int
	JobID          dag.JobID
	Sighash        [32]byte
	SighashFelt252 qhash.QHash
	CombinedHash   qhash.QHash
}

// BuildLeafWitnesses computes each input's sighash (against scriptCodes,
// one redeem/scriptPubKey per input) and packages it for the per-input
// introspection circuit, binding it to the block-state-transition's
// combined hash (H(current_state_root, next_state_root)).
func BuildLeafWitnesses(checkpoint uint64, tx Transaction, scriptCodes [][]byte, currentStateRoot, nextStateRoot qhash.QHash) ([]LeafWitness, error) {
	if len(scriptCodes) != len(tx.Inputs) {
		return nil, cityerr.New(cityerr.KindInvalidArgument, "sighash.BuildLeafWitnesses", nil)
	}
	combined := qhash.Combine(currentStateRoot, nextStateRoot)
	out := make([]LeafWitness, len(tx.Inputs))
	for i := range tx.Inputs {
		sh, err := Sighash(tx, i, scriptCodes[i])
		if err != nil {
			return nil, err
		}
		out[i] = LeafWitness{
			InputIndex:     i,
			JobID:          IntrospectionJobID(checkpoint, uint32(i)),
			Sighash:        sh,
			SighashFelt252: qhash.HashBytes(sh[:]),
			CombinedHash:   combined,
		}
	}
	return out, nil
}

// IntrospectionJobID builds the per-input sighash-introspection job id.
func IntrospectionJobID(checkpoint uint64, inputIndex uint32) dag.JobID {
	return dag.JobID{
		Topic:       dag.TopicStandardProof,
		GoalID:      checkpoint,
		CircuitType: dag.CircuitSigHashIntrospection,
		GroupID:     0,
		TaskIndex:   inputIndex,
	}
}

// WrapperJobID builds the whitelist-checking wrapper job id for an
// introspection leaf.
func WrapperJobID(checkpoint uint64, inputIndex uint32) dag.JobID {
	j := IntrospectionJobID(checkpoint, inputIndex)
	j.CircuitType = dag.CircuitSigHashWrapper
	return j
}

// FinalJobID builds the job id joining a wrapped sighash proof with the
// block-state-transition proof.
func FinalJobID(checkpoint uint64, inputIndex uint32) dag.JobID {
	j := IntrospectionJobID(checkpoint, inputIndex)
	j.CircuitType = dag.CircuitSigHashFinal
	return j
}

// Groth16WrapperJobID builds the on-chain Groth16 wrapper job id.
func Groth16WrapperJobID(checkpoint uint64) dag.JobID {
	return dag.JobID{Topic: dag.TopicGroth16Proof, GoalID: checkpoint, CircuitType: dag.CircuitGroth16Wrapper}
}

// CheckWhitelist enforces that every leaf's circuit fingerprint is a
// permitted variant, unless whitelistDisabled (a dev-mode config flag) is
// set — production deployments MUST leave this false.
func CheckWhitelist(tree *WhitelistTree, fingerprints []qhash.QHash, whitelistDisabled bool) error {
	if whitelistDisabled {
		return nil
	}
	for _, fp := range fingerprints {
		if !tree.Contains(fp) {
			return cityerr.New(cityerr.KindWhitelistViolation, "sighash.CheckWhitelist", nil)
		}
	}
	return nil
}
