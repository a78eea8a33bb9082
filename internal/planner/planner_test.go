package planner

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/cityrollup/rollup/internal/citystate"
	"github.com/cityrollup/rollup/internal/kvstore"
	"github.com/cityrollup/rollup/internal/qhash"
)

func signPayload(t *testing.T, priv *btcec.PrivateKey, payload any) []byte {
	t.Helper()
	enc, err := rlp.EncodeToBytes(payload)
	if err != nil {
		t.Fatal(err)
	}
	digest := sha256.Sum256(enc)
	sig := ecdsa.Sign(priv, digest[:])
	return sig.Serialize()
}

func newTestStore() *citystate.Store {
	return citystate.New(kvstore.New(0), 4, 4, 4)
}

func TestRegisterUserAccepted(t *testing.T) {
	cs := newTestStore()
	batch := Batch{RegisterUsers: []RegisterUserRequest{{UserID: 0, PublicKey: qhash.FromUint64s(1, 2, 3, 4)}}}
	res, err := ProcessBatch(1, cs, citystate.CityL2BlockState{}, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %+v", res.Rejected)
	}
	if len(res.RegisterUser) != 1 {
		t.Fatalf("expected one register-user leaf witness")
	}
	if res.NextUserID != 1 {
		t.Fatalf("expected next_user_id to advance to 1, got %d", res.NextUserID)
	}
}

func TestClaimDepositFlow(t *testing.T) {
	cs := newTestStore()
	priv, _ := btcec.NewPrivateKey()
	var pub [33]byte
	copy(pub[:], priv.PubKey().SerializeCompressed())

	batch := Batch{
		RegisterUsers: []RegisterUserRequest{{UserID: 0, PublicKey: qhash.HashBytes(pub[:])}},
		AddDeposits:   []AddDepositRequest{{Deposit: citystate.CityL1Deposit{Value: 1_000_000_000, TxID: [32]byte{1}, PublicKey: [33]byte{2}}}},
	}
	res, err := ProcessBatch(1, cs, citystate.CityL2BlockState{}, batch)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %+v", res.Rejected)
	}

	claim := ClaimDepositRequest{UserID: 0, DepositID: 0, Nonce: 1, SignerPubKey: pub}
	claim.Signature = signPayload(t, priv, claimDepositSigPayload{1, claim.UserID, claim.DepositID, claim.Nonce})

	res2, err := ProcessBatch(1, cs, citystate.CityL2BlockState{NextUserID: res.NextUserID, NextDepositID: res.NextDepositID}, Batch{ClaimDeposits: []ClaimDepositRequest{claim}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res2.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %+v", res2.Rejected)
	}
	if res2.TotalDepositsClaimedEpoch != 1 {
		t.Fatalf("expected total_deposits_claimed_epoch == 1, got %d", res2.TotalDepositsClaimedEpoch)
	}
	if len(res2.SignatureJobs) != 1 {
		t.Fatalf("expected one signature job enqueued for the claim")
	}
}

func TestTokenTransferRejectsBadSignature(t *testing.T) {
	cs := newTestStore()
	priv, _ := btcec.NewPrivateKey()
	other, _ := btcec.NewPrivateKey()
	var pub [33]byte
	copy(pub[:], priv.PubKey().SerializeCompressed())

	setup := Batch{RegisterUsers: []RegisterUserRequest{
		{UserID: 0, PublicKey: qhash.FromUint64s(1, 1, 1, 1)},
		{UserID: 1, PublicKey: qhash.FromUint64s(2, 2, 2, 2)},
	}}
	if _, err := ProcessBatch(1, cs, citystate.CityL2BlockState{}, setup); err != nil {
		t.Fatal(err)
	}
	if _, err := cs.IncrementUserBalance(1, 0, 100, nil); err != nil {
		t.Fatal(err)
	}

	transfer := TokenTransferRequest{SenderID: 0, ReceiverID: 1, Amount: 10, Nonce: 1, SignerPubKey: pub}
	// Sign with the wrong key.
	transfer.Signature = signPayload(t, other, transferSigPayload{1, transfer.SenderID, transfer.ReceiverID, transfer.Amount, transfer.Nonce})

	res, err := ProcessBatch(1, cs, citystate.CityL2BlockState{}, Batch{TokenTransfers: []TokenTransferRequest{transfer}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("expected the forged transfer to be rejected")
	}
}

// TestTokenTransferRejectsUnregisteredSigner confirms a self-consistent
// signature (SignerPubKey genuinely signed the payload) is still rejected
// when SignerPubKey isn't the sender's registered L2 key: the original key
// owner (who registered a different key) did not authorize this transfer,
// even though the signature itself verifies cleanly.
func TestTokenTransferRejectsUnregisteredSigner(t *testing.T) {
	cs := newTestStore()
	registered, _ := btcec.NewPrivateKey()
	imposter, _ := btcec.NewPrivateKey()
	var imposterPub [33]byte
	copy(imposterPub[:], imposter.PubKey().SerializeCompressed())

	setup := Batch{RegisterUsers: []RegisterUserRequest{
		{UserID: 0, PublicKey: qhash.HashBytes(registered.PubKey().SerializeCompressed())},
		{UserID: 1, PublicKey: qhash.FromUint64s(2, 2, 2, 2)},
	}}
	if _, err := ProcessBatch(1, cs, citystate.CityL2BlockState{}, setup); err != nil {
		t.Fatal(err)
	}
	if _, err := cs.IncrementUserBalance(1, 0, 100, nil); err != nil {
		t.Fatal(err)
	}

	transfer := TokenTransferRequest{SenderID: 0, ReceiverID: 1, Amount: 10, Nonce: 1, SignerPubKey: imposterPub}
	transfer.Signature = signPayload(t, imposter, transferSigPayload{1, transfer.SenderID, transfer.ReceiverID, transfer.Amount, transfer.Nonce})

	res, err := ProcessBatch(1, cs, citystate.CityL2BlockState{}, Batch{TokenTransfers: []TokenTransferRequest{transfer}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rejected) != 1 {
		t.Fatalf("expected the unregistered signer's transfer to be rejected despite a valid signature")
	}
}

func TestAddThenProcessWithdrawal(t *testing.T) {
	cs := newTestStore()
	priv, _ := btcec.NewPrivateKey()
	var pub [33]byte
	copy(pub[:], priv.PubKey().SerializeCompressed())

	if _, err := ProcessBatch(1, cs, citystate.CityL2BlockState{}, Batch{RegisterUsers: []RegisterUserRequest{{UserID: 0, PublicKey: qhash.HashBytes(pub[:])}}}); err != nil {
		t.Fatal(err)
	}
	if _, err := cs.IncrementUserBalance(1, 0, 500, nil); err != nil {
		t.Fatal(err)
	}

	w := AddWithdrawalRequest{
		UserID:      0,
		Withdrawal:  citystate.CityL1Withdrawal{Address: [20]byte{7}, AddressType: citystate.AddressP2PKH, Value: 100},
		Nonce:       1,
		SignerPubKey: pub,
	}
	w.Signature = signPayload(t, priv, withdrawalSigPayload{1, w.UserID, w.Withdrawal.Value, w.Nonce})

	res, err := ProcessBatch(1, cs, citystate.CityL2BlockState{}, Batch{AddWithdrawals: []AddWithdrawalRequest{w}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %+v", res.Rejected)
	}
	if res.NextAddWithdrawalID != 1 {
		t.Fatalf("expected next_add_withdrawal_id to advance")
	}

	res2, err := ProcessBatch(2, cs, citystate.CityL2BlockState{}, Batch{ProcessWithdrawals: []ProcessWithdrawalRequest{{WithdrawalID: 0}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res2.Rejected) != 0 {
		t.Fatalf("unexpected rejections: %+v", res2.Rejected)
	}
	if len(res2.ProcessWithdrawal) != 1 || !res2.ProcessWithdrawal[0].HasEvent {
		t.Fatalf("processed withdrawal must carry an event hash")
	}
}
