package orchestrator

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/cityrollup/rollup/internal/citystate"
	"github.com/cityrollup/rollup/internal/dag"
	"github.com/cityrollup/rollup/internal/kvstore"
	"github.com/cityrollup/rollup/internal/l1api"
	"github.com/cityrollup/rollup/internal/planner"
	"github.com/cityrollup/rollup/internal/proofsystem"
	"github.com/cityrollup/rollup/internal/qhash"
	"github.com/cityrollup/rollup/internal/sighash"
	"github.com/cityrollup/rollup/internal/worker"
)

// echoProver turns every job into a tiny deterministic blob tagging its
// circuit type, enough to exercise every edge without modeling real proofs.
type echoProver struct{}

func (echoProver) Prove(ctx context.Context, circuitType dag.CircuitType, witness []byte, children []proofsystem.Proof) (proofsystem.Proof, error) {
	out := append([]byte{byte(circuitType)}, witness...)
	return proofsystem.Proof(out), nil
}

func (echoProver) Verify(ctx context.Context, circuitType dag.CircuitType, proof proofsystem.Proof) error {
	return nil
}

type stubWrapper struct{}

func (stubWrapper) Wrap(ctx context.Context, rootProof proofsystem.Proof) (proofsystem.Groth16Proof, error) {
	return proofsystem.Groth16Proof{PiA: [32]byte{1}, PiB0: [32]byte{2}, PiB1: [32]byte{3}, PiC: [32]byte{4}}, nil
}

type stubL1 struct {
	sent []sighash.Transaction
}

func (s *stubL1) SendTransaction(ctx context.Context, tx sighash.Transaction) ([32]byte, error) {
	s.sent = append(s.sent, tx)
	return [32]byte{0xAA}, nil
}

func (s *stubL1) GetUTXOs(ctx context.Context, scriptPubKey []byte) ([]l1api.UTXO, error) {
	return nil, nil
}

func (s *stubL1) GetRawTransaction(ctx context.Context, txid [32]byte) ([]byte, error) {
	return nil, nil
}

func (s *stubL1) EstimateFeeRate(ctx context.Context, confirmationTarget uint32) (uint64, error) {
	return 1, nil
}

func newCityStore(t *testing.T) *citystate.Store {
	t.Helper()
	return citystate.New(kvstore.New(16), 8, 8, 8)
}

// runToCompletion drains the queue for every topic until all lanes are empty,
// running one ExecuteJob per popped job. Good enough for the small, finite
// DAGs these tests build.
func runToCompletion(t *testing.T, co *worker.Coordinator, plan *BlockPlan) {
	t.Helper()
	topics := []dag.Topic{dag.TopicStandardProof, dag.TopicGroth16Proof, dag.TopicBlockUserSignatureProof}
	for {
		progressed := false
		for _, topic := range topics {
			for {
				job, ok := co.Queue.TryPop(topic)
				if !ok {
					break
				}
				if err := co.ExecuteJob(context.Background(), job, plan.Roots); err != nil {
					t.Fatalf("ExecuteJob(%+v): %v", job, err)
				}
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// TestEnqueueDrivesGroth16JobToCompletion exercises Enqueue end to end on a
// non-genesis, no-deposit, no-withdrawal block with a single register-user
// request, then drains the queue and confirms the Groth16 wrapper job (the
// one true terminal root besides standalone signature jobs) produces output.
func TestEnqueueDrivesGroth16JobToCompletion(t *testing.T) {
	o := &Orchestrator{
		City:              newCityStore(t),
		Wrapper:           stubWrapper{},
		L1:                &stubL1{},
		WhitelistDisabled: true,
	}
	co := &worker.Coordinator{
		Queue:    worker.NewJobQueue(),
		Store:    worker.NewMemProofStore(),
		Counters: worker.NewMemCounters(),
		Prover:   echoProver{},
	}

	batch := planner.Batch{
		CorrelationID: uuid.Nil,
		RegisterUsers: []planner.RegisterUserRequest{
			{UserID: 0, PublicKey: qhash.QHash{1, 2, 3, 4}},
		},
	}
	in := BlockInputs{
		PrevBlockSpend: sighash.BlockSpendUTXO{
			TxID:         [32]byte{0x11},
			Vout:         0,
			RedeemScript: []byte{0x51},
		},
		PrevBlockIsGenesis: false,
		Sequence:           0xffffffff,
	}

	plan, err := o.Enqueue(context.Background(), 1, co, batch, in)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(plan.Rejected) != 0 {
		t.Fatalf("expected no rejected requests, got %+v", plan.Rejected)
	}
	if len(plan.Transaction.Inputs) != 1 {
		t.Fatalf("expected a single block-spend input, got %d", len(plan.Transaction.Inputs))
	}

	runToCompletion(t, co, plan)

	if _, err := worker.GetOutput(co.Store, plan.Groth16JobID); err != nil {
		t.Fatalf("expected the groth16 wrapper job to have completed: %v", err)
	}

	txid, err := o.Finalize(context.Background(), co.Store, plan)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if txid == ([32]byte{}) {
		t.Fatal("expected a non-zero txid from the stub L1 broadcaster")
	}
	if len(plan.Transaction.Inputs[0].Script) != 0 {
		t.Fatal("expected Finalize to leave the plan's own transaction copy untouched")
	}
}

// TestEnqueueRejectsDuplicateRegistration confirms a request citystate itself
// rejects surfaces in Result.Rejected rather than aborting the whole block.
func TestEnqueueRejectsDuplicateRegistration(t *testing.T) {
	o := &Orchestrator{
		City:              newCityStore(t),
		Wrapper:           stubWrapper{},
		L1:                &stubL1{},
		WhitelistDisabled: true,
	}
	makeCoordinator := func() *worker.Coordinator {
		return &worker.Coordinator{
			Queue:    worker.NewJobQueue(),
			Store:    worker.NewMemProofStore(),
			Counters: worker.NewMemCounters(),
			Prover:   echoProver{},
		}
	}
	in := BlockInputs{
		PrevBlockSpend: sighash.BlockSpendUTXO{
			TxID:         [32]byte{0x11},
			RedeemScript: []byte{0x51},
		},
		Sequence: 0xffffffff,
	}

	batch := planner.Batch{
		RegisterUsers: []planner.RegisterUserRequest{
			{UserID: 5, PublicKey: qhash.QHash{9, 9, 9, 9}},
		},
	}
	co1 := makeCoordinator()
	if _, err := o.Enqueue(context.Background(), 1, co1, batch, in); err != nil {
		t.Fatalf("first Enqueue: %v", err)
	}

	co2 := makeCoordinator()
	plan2, err := o.Enqueue(context.Background(), 2, co2, batch, in)
	if err != nil {
		t.Fatalf("second Enqueue: %v", err)
	}
	if len(plan2.Rejected) != 1 {
		t.Fatalf("expected the re-registration to be rejected, got %+v", plan2.Rejected)
	}
}
