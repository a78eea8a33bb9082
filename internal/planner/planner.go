// Package planner turns one block's batch of requested actions into the
// per-operation leaf witnesses the proof DAG planner (internal/dag)
// aggregates. It is the only caller of internal/citystate's mutators during
// block production.
//
// Grounded on the Rust original's city_block_planner.rs request-to-leaf
// pipeline (_examples/original_source/city_mono/src/...), with signature
// verification following MuriData-muri-zkproof's use of
// btcsuite/btcd/btcec/v2 for secp256k1 checks.
package planner

import (
	"crypto/sha256"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/google/uuid"

	"github.com/cityrollup/rollup/internal/cityerr"
	"github.com/cityrollup/rollup/internal/citystate"
	"github.com/cityrollup/rollup/internal/dag"
	"github.com/cityrollup/rollup/internal/qhash"
)

// RegisterUserRequest registers userID with L2 public key PublicKey.
type RegisterUserRequest struct {
	UserID    uint64
	PublicKey qhash.QHash
}

// AddDepositRequest records an L1 deposit observed funding the block address.
type AddDepositRequest struct {
	Deposit citystate.CityL1Deposit
}

// ClaimDepositRequest claims a previously added deposit into userID's balance.
type ClaimDepositRequest struct {
	UserID      uint64
	DepositID   uint64
	Nonce       uint64
	SignerPubKey [33]byte
	Signature   []byte // DER-encoded secp256k1 signature
}

// TokenTransferRequest moves Amount from SenderID to ReceiverID.
type TokenTransferRequest struct {
	SenderID    uint64
	ReceiverID  uint64
	Amount      uint64
	Nonce       uint64
	SignerPubKey [33]byte
	Signature   []byte
}

// AddWithdrawalRequest queues an L1 withdrawal, debiting UserID immediately.
type AddWithdrawalRequest struct {
	UserID      uint64
	Withdrawal  citystate.CityL1Withdrawal
	Nonce       uint64
	SignerPubKey [33]byte
	Signature   []byte
}

// ProcessWithdrawalRequest marks a queued withdrawal as paid out on L1.
type ProcessWithdrawalRequest struct {
	WithdrawalID uint64
}

// Batch is one block's worth of requested actions, processed in the fixed
// order: register, claim, transfer, add-withdrawal, process-withdrawal,
// deposit. Deposit is processed last so a deposit added this block can only
// ever be claimed in a later one, never the same batch that recorded it.
type Batch struct {
	CorrelationID      uuid.UUID
	RegisterUsers      []RegisterUserRequest
	ClaimDeposits      []ClaimDepositRequest
	TokenTransfers     []TokenTransferRequest
	AddWithdrawals     []AddWithdrawalRequest
	ProcessWithdrawals []ProcessWithdrawalRequest
	AddDeposits        []AddDepositRequest
}

// Rejection records a request dropped from the batch and why.
type Rejection struct {
	Class OperationDescription
	Index int
	Err   error
}

// OperationDescription names a request kind for logs and rejections,
// without borrowing any internal type name.
type OperationDescription string

const (
	OpRegisterUser      OperationDescription = "register_user"
	OpAddDeposit        OperationDescription = "add_deposit"
	OpClaimDeposit       OperationDescription = "claim_deposit"
	OpTokenTransfer      OperationDescription = "token_transfer"
	OpAddWithdrawal      OperationDescription = "add_withdrawal"
	OpProcessWithdrawal  OperationDescription = "process_withdrawal"
)

// Result is everything the DAG planner needs to materialize one block's
// aggregation trees, plus the rejected requests for operator visibility.
type Result struct {
	CheckpointID       uint64
	RegisterUser       []dag.LeafInput
	AddDeposit         []dag.LeafInput
	ClaimDeposit       []dag.LeafInput
	TokenTransfer      []dag.LeafInput
	AddWithdrawal      []dag.LeafInput
	ProcessWithdrawal  []dag.LeafInput
	SignatureJobs      []dag.JobID
	NextUserID         uint64
	NextDepositID      uint64
	NextAddWithdrawalID uint64
	NextProcessWithdrawalID uint64
	TotalDepositsClaimedEpoch uint64
	Rejected           []Rejection

	// RootBeforeX is the city root as it stood immediately before class X's
	// loop began processing (i.e. after every earlier class in processing
	// order had already mutated state). BuildClassTree uses it as the
	// identity root for a class with no accepted requests, so its dummy pad
	// attests to "no change" against the root that actually preceded it
	// rather than the pre-batch root.
	RootBeforeRegisterUser      qhash.QHash
	RootBeforeAddDeposit        qhash.QHash
	RootBeforeClaimDeposit      qhash.QHash
	RootBeforeTokenTransfer     qhash.QHash
	RootBeforeAddWithdrawal     qhash.QHash
	RootBeforeProcessWithdrawal qhash.QHash
}

// ProcessBatch mutates cs at checkpoint and returns the leaf witnesses
// produced by every accepted request. Validation failures are dropped from
// the batch and recorded in Result.Rejected; the remainder proceeds.
func ProcessBatch(checkpoint uint64, cs *citystate.Store, prev citystate.CityL2BlockState, batch Batch) (*Result, error) {
	res := &Result{
		CheckpointID:              checkpoint,
		NextUserID:                prev.NextUserID,
		NextDepositID:             prev.NextDepositID,
		NextAddWithdrawalID:       prev.NextAddWithdrawalID,
		NextProcessWithdrawalID:   prev.NextProcessWithdrawalID,
		TotalDepositsClaimedEpoch: prev.TotalDepositsClaimedEpoch,
	}

	rootBeforeRegisterUser, err := cs.GetCityRoot(checkpoint)
	if err != nil {
		return nil, err
	}
	res.RootBeforeRegisterUser = rootBeforeRegisterUser

	for i, r := range batch.RegisterUsers {
		before, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		if _, err := cs.RegisterUser(checkpoint, r.UserID, r.PublicKey); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpRegisterUser, i, err})
			continue
		}
		after, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		witness, encErr := rlp.EncodeToBytes(r)
		if encErr != nil {
			return nil, cityerr.New(cityerr.KindFatal, "planner.ProcessBatch", encErr)
		}
		res.RegisterUser = append(res.RegisterUser, dag.LeafInput{Witness: witness, Transition: dag.AggStateTransition{Start: before, End: after}})
		if r.UserID+1 > res.NextUserID {
			res.NextUserID = r.UserID + 1
		}
	}

	rootBeforeClaimDeposit, err := cs.GetCityRoot(checkpoint)
	if err != nil {
		return nil, err
	}
	res.RootBeforeClaimDeposit = rootBeforeClaimDeposit

	for i, r := range batch.ClaimDeposits {
		if err := verifySignature(r.SignerPubKey[:], r.Signature, claimDepositSigPayload{checkpoint, r.UserID, r.DepositID, r.Nonce}); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpClaimDeposit, i, err})
			continue
		}
		if err := verifySignerIsRegistered(cs, checkpoint, r.UserID, r.SignerPubKey); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpClaimDeposit, i, err})
			continue
		}
		deposit, found, err := cs.GetDepositRecord(checkpoint, r.DepositID)
		if err != nil {
			return nil, err
		}
		if !found {
			res.Rejected = append(res.Rejected, Rejection{OpClaimDeposit, i, cityerr.New(cityerr.KindInvalidRequest, "planner.ClaimDeposit", nil)})
			continue
		}
		before, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		if _, err := cs.MarkDepositClaimed(checkpoint, r.DepositID); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpClaimDeposit, i, err})
			continue
		}
		nonce := r.Nonce
		if _, err := cs.IncrementUserBalance(checkpoint, r.UserID, deposit.Value, &nonce); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpClaimDeposit, i, err})
			continue
		}
		after, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		witness, encErr := rlp.EncodeToBytes(r)
		if encErr != nil {
			return nil, cityerr.New(cityerr.KindFatal, "planner.ProcessBatch", encErr)
		}
		sigJob := dag.ClaimDepositL1SignatureProofID(checkpoint, uint32(i))
		res.SignatureJobs = append(res.SignatureJobs, sigJob)
		res.ClaimDeposit = append(res.ClaimDeposit, dag.LeafInput{
			Witness:    witness,
			Transition: dag.AggStateTransition{Start: before, End: after},
		})
		res.TotalDepositsClaimedEpoch++
	}

	rootBeforeTokenTransfer, err := cs.GetCityRoot(checkpoint)
	if err != nil {
		return nil, err
	}
	res.RootBeforeTokenTransfer = rootBeforeTokenTransfer

	for i, r := range batch.TokenTransfers {
		if err := verifySignature(r.SignerPubKey[:], r.Signature, transferSigPayload{checkpoint, r.SenderID, r.ReceiverID, r.Amount, r.Nonce}); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpTokenTransfer, i, err})
			continue
		}
		if err := verifySignerIsRegistered(cs, checkpoint, r.SenderID, r.SignerPubKey); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpTokenTransfer, i, err})
			continue
		}
		before, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		nonce := r.Nonce
		if _, err := cs.DecrementUserBalance(checkpoint, r.SenderID, r.Amount, &nonce); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpTokenTransfer, i, err})
			continue
		}
		if _, err := cs.IncrementUserBalance(checkpoint, r.ReceiverID, r.Amount, nil); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpTokenTransfer, i, err})
			continue
		}
		after, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		witness, encErr := rlp.EncodeToBytes(r)
		if encErr != nil {
			return nil, cityerr.New(cityerr.KindFatal, "planner.ProcessBatch", encErr)
		}
		sigJob := dag.TransferSignatureProofID(checkpoint, uint32(i))
		res.SignatureJobs = append(res.SignatureJobs, sigJob)
		res.TokenTransfer = append(res.TokenTransfer, dag.LeafInput{
			Witness:    witness,
			Transition: dag.AggStateTransition{Start: before, End: after},
		})
	}

	rootBeforeAddWithdrawal, err := cs.GetCityRoot(checkpoint)
	if err != nil {
		return nil, err
	}
	res.RootBeforeAddWithdrawal = rootBeforeAddWithdrawal

	for i, r := range batch.AddWithdrawals {
		if err := verifySignature(r.SignerPubKey[:], r.Signature, withdrawalSigPayload{checkpoint, r.UserID, r.Withdrawal.Value, r.Nonce}); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpAddWithdrawal, i, err})
			continue
		}
		if err := verifySignerIsRegistered(cs, checkpoint, r.UserID, r.SignerPubKey); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpAddWithdrawal, i, err})
			continue
		}
		before, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		nonce := r.Nonce
		if _, err := cs.DecrementUserBalance(checkpoint, r.UserID, r.Withdrawal.Value, &nonce); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpAddWithdrawal, i, err})
			continue
		}
		withdrawalID := res.NextAddWithdrawalID
		if _, err := cs.AddWithdrawal(checkpoint, withdrawalID, r.Withdrawal); err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpAddWithdrawal, i, err})
			continue
		}
		after, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		witness, encErr := rlp.EncodeToBytes(r)
		if encErr != nil {
			return nil, cityerr.New(cityerr.KindFatal, "planner.ProcessBatch", encErr)
		}
		sigJob := dag.WithdrawalSignatureProofID(checkpoint, uint32(i))
		res.SignatureJobs = append(res.SignatureJobs, sigJob)
		res.AddWithdrawal = append(res.AddWithdrawal, dag.LeafInput{
			Witness:    witness,
			Transition: dag.AggStateTransition{Start: before, End: after},
		})
		res.NextAddWithdrawalID++
	}

	rootBeforeProcessWithdrawal, err := cs.GetCityRoot(checkpoint)
	if err != nil {
		return nil, err
	}
	res.RootBeforeProcessWithdrawal = rootBeforeProcessWithdrawal

	for i, r := range batch.ProcessWithdrawals {
		before, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		dp, err := cs.ProcessWithdrawal(checkpoint, r.WithdrawalID)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpProcessWithdrawal, i, err})
			continue
		}
		after, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		witness, encErr := rlp.EncodeToBytes(r)
		if encErr != nil {
			return nil, cityerr.New(cityerr.KindFatal, "planner.ProcessBatch", encErr)
		}
		res.ProcessWithdrawal = append(res.ProcessWithdrawal, dag.LeafInput{
			Witness:    witness,
			Transition: dag.AggStateTransition{Start: before, End: after},
			EventHash:  dp.OldValue,
			HasEvent:   true,
		})
		res.NextProcessWithdrawalID++
	}

	rootBeforeAddDeposit, err := cs.GetCityRoot(checkpoint)
	if err != nil {
		return nil, err
	}
	res.RootBeforeAddDeposit = rootBeforeAddDeposit

	for i, r := range batch.AddDeposits {
		depositID := res.NextDepositID
		before, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		dp, err := cs.AddDeposit(checkpoint, depositID, r.Deposit)
		if err != nil {
			res.Rejected = append(res.Rejected, Rejection{OpAddDeposit, i, err})
			continue
		}
		after, err := cs.GetCityRoot(checkpoint)
		if err != nil {
			return nil, err
		}
		witness, encErr := rlp.EncodeToBytes(r)
		if encErr != nil {
			return nil, cityerr.New(cityerr.KindFatal, "planner.ProcessBatch", encErr)
		}
		res.AddDeposit = append(res.AddDeposit, dag.LeafInput{
			Witness:    witness,
			Transition: dag.AggStateTransition{Start: before, End: after},
			EventHash:  dp.NewValue,
			HasEvent:   true,
		})
		res.NextDepositID++
	}

	return res, nil
}

type claimDepositSigPayload struct {
	Checkpoint uint64
	UserID     uint64
	DepositID  uint64
	Nonce      uint64
}

type transferSigPayload struct {
	Checkpoint uint64
	SenderID   uint64
	ReceiverID uint64
	Amount     uint64
	Nonce      uint64
}

type withdrawalSigPayload struct {
	Checkpoint uint64
	UserID     uint64
	Value      uint64
	Nonce      uint64
}

// verifySignature checks a DER-encoded secp256k1 signature over the SHA256
// of payload's canonical RLP encoding.
func verifySignature(pubKeyBytes []byte, sigDER []byte, payload any) error {
	enc, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return cityerr.New(cityerr.KindInvalidRequest, "planner.verifySignature", err)
	}
	digest := sha256.Sum256(enc)

	pk, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return cityerr.New(cityerr.KindInvalidRequest, "planner.verifySignature", err)
	}
	sig, err := ecdsa.ParseDERSignature(sigDER)
	if err != nil {
		return cityerr.New(cityerr.KindInvalidRequest, "planner.verifySignature", err)
	}
	if !sig.Verify(digest[:], pk) {
		return cityerr.New(cityerr.KindInvalidRequest, "planner.verifySignature", nil)
	}
	return nil
}

// verifySignerIsRegistered checks that signerPubKey is userID's registered L2
// public key, not merely a key that signs validly. Without this, a
// self-consistent signature from any key would let an attacker move or spend
// another user's balance.
func verifySignerIsRegistered(cs *citystate.Store, checkpoint, userID uint64, signerPubKey [33]byte) error {
	registered, found, err := cs.GetRegisteredPublicKey(checkpoint, userID)
	if err != nil {
		return err
	}
	if !found {
		return cityerr.New(cityerr.KindInvalidRequest, "planner.verifySignerIsRegistered", nil)
	}
	if !registered.Equal(qhash.HashBytes(signerPubKey[:])) {
		return cityerr.New(cityerr.KindInvalidRequest, "planner.verifySignerIsRegistered", nil)
	}
	return nil
}
