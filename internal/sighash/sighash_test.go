package sighash

import (
	"bytes"
	"testing"

	"github.com/cityrollup/rollup/internal/qhash"
)

func sampleTx() Transaction {
	return Transaction{
		Version: 2,
		Inputs: []TxInput{
			{PrevTxID: [32]byte{1}, PrevVout: 0, Sequence: 0xffffffff},
			{PrevTxID: [32]byte{2}, PrevVout: 1, Sequence: 0xffffffff},
		},
		Outputs: []TxOutput{
			{Value: 0, Script: []byte{0xa9, 0x14}},
			{Value: 5000, Script: []byte{0x76, 0xa9, 0x14}},
		},
		LockTime: 0,
	}
}

func TestSerializeFixedLayout(t *testing.T) {
	tx := sampleTx()
	b := tx.Serialize()
	if len(b) == 0 {
		t.Fatal("expected non-empty serialization")
	}
	// version (4) + input count (1) + 2*(32+4+1+4) + output count(1) + ...
	if b[0] != 2 || b[1] != 0 || b[2] != 0 || b[3] != 0 {
		t.Fatalf("unexpected version encoding: %x", b[:4])
	}
	b2 := tx.Serialize()
	if !bytes.Equal(b, b2) {
		t.Fatal("serialize must be deterministic")
	}
}

func TestSighashPreimageBlanksOtherInputs(t *testing.T) {
	tx := sampleTx()
	scriptCode := []byte{0x76, 0xa9, 0x14, 0xde, 0xad}
	pre0, err := SighashPreimage(tx, 0, scriptCode, SighashAll)
	if err != nil {
		t.Fatal(err)
	}
	pre1, err := SighashPreimage(tx, 1, scriptCode, SighashAll)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(pre0, pre1) {
		t.Fatal("preimages for distinct input indices must differ")
	}
	if !bytes.Contains(pre0, scriptCode) {
		t.Fatal("expected scriptCode embedded in the preimage")
	}
}

func TestSighashPreimageRejectsOutOfRange(t *testing.T) {
	tx := sampleTx()
	if _, err := SighashPreimage(tx, 5, nil, SighashAll); err == nil {
		t.Fatal("expected an error for an out-of-range input index")
	}
}

func TestSighashDeterministic(t *testing.T) {
	tx := sampleTx()
	scriptCode := []byte{0x76, 0xa9, 0x14}
	h1, err := Sighash(tx, 0, scriptCode)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := Sighash(tx, 0, scriptCode)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("sighash must be deterministic for identical inputs")
	}
	h3, err := Sighash(tx, 1, scriptCode)
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h3 {
		t.Fatal("distinct input indices must yield distinct sighashes")
	}
}

func TestWhitelistTreeMembership(t *testing.T) {
	variants := []qhash.QHash{
		qhash.FromUint64s(1, 0, 0, 0),
		qhash.FromUint64s(2, 0, 0, 0),
		qhash.FromUint64s(3, 0, 0, 0),
	}
	tree, err := NewWhitelistTree(variants)
	if err != nil {
		t.Fatal(err)
	}
	if !tree.Contains(variants[1]) {
		t.Fatal("expected variants[1] to be a member")
	}
	if tree.Contains(qhash.FromUint64s(99, 0, 0, 0)) {
		t.Fatal("did not expect an unlisted fingerprint to be a member")
	}
}

func TestWhitelistProofVerifies(t *testing.T) {
	variants := []qhash.QHash{
		qhash.FromUint64s(1, 0, 0, 0),
		qhash.FromUint64s(2, 0, 0, 0),
	}
	tree, err := NewWhitelistTree(variants)
	if err != nil {
		t.Fatal(err)
	}
	proof, err := tree.Proof(0)
	if err != nil {
		t.Fatal(err)
	}
	if !VerifyProof(tree.Root(), variants[0], 0, proof) {
		t.Fatal("expected the membership proof to verify")
	}
	if VerifyProof(tree.Root(), variants[1], 0, proof) {
		t.Fatal("proof for a different leaf must not verify at the same index")
	}
}

func TestBuildAssemblesBlockSpendAndDeposits(t *testing.T) {
	req := BuildRequest{
		PrevBlockSpend: BlockSpendUTXO{TxID: [32]byte{9}, Vout: 0, RedeemScript: []byte{0x51}},
		Deposits: []DepositUTXO{
			{TxID: [32]byte{1}, Vout: 0, Value: 1000, FundingTxBytes: []byte{0xde, 0xad}},
		},
		Withdrawals: []WithdrawalPayout{
			{Script: []byte{0x76, 0xa9, 0x14}, Value: 500},
		},
		NewBlockRedeemScript: []byte{0xa9, 0x14},
		Sequence:             0xffffffff,
	}
	tx, wit, err := Build(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(tx.Inputs) != 2 {
		t.Fatalf("expected one block-spend input plus one deposit input, got %d", len(tx.Inputs))
	}
	if len(tx.Outputs) != 2 {
		t.Fatalf("expected one block output plus one withdrawal output, got %d", len(tx.Outputs))
	}
	if wit.BlockSpendIndex != 0 {
		t.Fatalf("expected block-spend at index 0, got %d", wit.BlockSpendIndex)
	}
	if len(wit.FundingTxBytes) != 1 {
		t.Fatalf("expected one funding tx recorded for the deposit input")
	}
}

func TestBuildGenesisHasNoBlockSpend(t *testing.T) {
	req := BuildRequest{
		PrevBlockIsGenesis: true,
		Deposits: []DepositUTXO{
			{TxID: [32]byte{1}, Vout: 0, Value: 1000, FundingTxBytes: []byte{0xde}},
		},
		NewBlockRedeemScript: []byte{0xa9, 0x14},
		Sequence:             0xffffffff,
	}
	tx, wit, err := Build(req)
	if err != nil {
		t.Fatal(err)
	}
	if wit.BlockSpendIndex != -1 {
		t.Fatal("genesis block must have no block-spend input")
	}
	if len(tx.Inputs) != 1 {
		t.Fatalf("expected exactly the one deposit input, got %d", len(tx.Inputs))
	}
}

func TestBuildRejectsNoInputs(t *testing.T) {
	req := BuildRequest{PrevBlockIsGenesis: true, NewBlockRedeemScript: []byte{0xa9}}
	if _, _, err := Build(req); err == nil {
		t.Fatal("expected an error when a block has no spendable inputs at all")
	}
}

func TestBuildLeafWitnessesBindsStateTransition(t *testing.T) {
	req := BuildRequest{
		PrevBlockIsGenesis: true,
		Deposits: []DepositUTXO{
			{TxID: [32]byte{1}, Vout: 0, Value: 1000, FundingTxBytes: []byte{0xde}},
		},
		NewBlockRedeemScript: []byte{0xa9, 0x14},
		Sequence:             0xffffffff,
	}
	tx, _, err := Build(req)
	if err != nil {
		t.Fatal(err)
	}
	scriptCodes := [][]byte{{0x76, 0xa9, 0x14}}
	oldRoot := qhash.FromUint64s(1, 1, 1, 1)
	newRoot := qhash.FromUint64s(2, 2, 2, 2)
	leaves, err := BuildLeafWitnesses(7, tx, scriptCodes, oldRoot, newRoot)
	if err != nil {
		t.Fatal(err)
	}
	if len(leaves) != 1 {
		t.Fatalf("expected one leaf witness, got %d", len(leaves))
	}
	want := qhash.Combine(oldRoot, newRoot)
	if !leaves[0].CombinedHash.Equal(want) {
		t.Fatal("leaf witness must bind the combined old/new state root hash")
	}
	if leaves[0].JobID != IntrospectionJobID(7, 0) {
		t.Fatal("leaf witness job id must match IntrospectionJobID(checkpoint, index)")
	}
}

func TestCheckWhitelistRejectsUnlistedFingerprint(t *testing.T) {
	variants := []qhash.QHash{qhash.FromUint64s(1, 0, 0, 0)}
	tree, err := NewWhitelistTree(variants)
	if err != nil {
		t.Fatal(err)
	}
	err = CheckWhitelist(tree, []qhash.QHash{qhash.FromUint64s(42, 0, 0, 0)}, false)
	if err == nil {
		t.Fatal("expected a whitelist violation for an unlisted fingerprint")
	}
	if err := CheckWhitelist(tree, []qhash.QHash{qhash.FromUint64s(42, 0, 0, 0)}, true); err != nil {
		t.Fatal("dev-mode bypass must allow an unlisted fingerprint through")
	}
}
