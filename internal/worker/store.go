// Package worker implements the job queue, proof-blob store, and atomic
// per-parent completion counters that drive the recursive proof DAG: a pop
// off the queue fetches its witness (and, for aggregators, its children's
// proofs: one, two or three by circuit type), calls into
// proofsystem.StandardProver, writes the output, and enqueues the parent
// once all of its children have landed.
//
// Grounded on the Rust original's worker/proof_store.rs (in-memory/sled
// backing for job blobs) and the job_id get_input_proof_id/get_output_id
// accessors, carried the way orbas1-Synnergy's core/mempool.go manages a
// FIFO of pending transactions behind a mutex.
package worker

import (
	"sync"

	"github.com/cityrollup/rollup/internal/cityerr"
	"github.com/cityrollup/rollup/internal/dag"
)

// ProofStore is a byte-keyed blob store addressed by 24-byte job ids (and
// their derived subkeys for witness/child-proof/output/counter data).
type ProofStore interface {
	Put(key dag.JobID, value []byte)
	Get(key dag.JobID) ([]byte, bool)
}

// MemProofStore is an in-memory ProofStore for tests and single-process
// deployments.
type MemProofStore struct {
	mu   sync.RWMutex
	data map[[24]byte][]byte
}

// NewMemProofStore builds an empty in-memory proof store.
func NewMemProofStore() *MemProofStore {
	return &MemProofStore{data: make(map[[24]byte][]byte)}
}

func (s *MemProofStore) Put(key dag.JobID, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key.Bytes()] = value
}

func (s *MemProofStore) Get(key dag.JobID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key.Bytes()]
	return v, ok
}

// GetWitness reads the input-witness blob for job, or a NotFound error.
func GetWitness(store ProofStore, job dag.JobID) ([]byte, error) {
	v, ok := store.Get(job.InputWitnessKey())
	if !ok {
		return nil, cityerr.New(cityerr.KindNotFound, "worker.GetWitness", nil)
	}
	return v, nil
}

// GetOutput reads job's own output proof, or a NotFound error.
func GetOutput(store ProofStore, job dag.JobID) ([]byte, error) {
	v, ok := store.Get(job.OutputKey())
	if !ok {
		return nil, cityerr.New(cityerr.KindNotFound, "worker.GetOutput", nil)
	}
	return v, nil
}

// PutWitness writes job's input-witness blob.
func PutWitness(store ProofStore, job dag.JobID, witness []byte) {
	store.Put(job.InputWitnessKey(), witness)
}

// PutOutput writes job's own output proof. Output keys are idempotent
// (deterministic per job id), so at-least-once re-proving only overwrites
// an identical value.
func PutOutput(store ProofStore, job dag.JobID, proof []byte) {
	store.Put(job.OutputKey(), proof)
}

// GetChildOutputs reads job's child proofs, in slot order, for however many
// children job's circuit type fans in: 1 for the sighash wrapper, 2 for a
// binary join, 3 for the Agg1 and Agg2 root-aggregation levels.
func GetChildOutputs(store ProofStore, job dag.JobID) ([][]byte, error) {
	n := job.CircuitType.FanIn()
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		v, ok := store.Get(job.ChildOutputKey(uint8(i)))
		if !ok {
			return nil, cityerr.New(cityerr.KindNotFound, "worker.GetChildOutputs", nil)
		}
		out[i] = v
	}
	return out, nil
}

// PutChildOutput makes job's output proof readable by its parent at the
// given child slot (0 up to the parent's FanIn minus one). Aggregation witnesses reference a deterministic
// child slot per job id, so the parent looks this up by its own identity
// rather than the child's.
func PutChildOutput(store ProofStore, parent dag.JobID, childIndex uint8, proof []byte) {
	store.Put(parent.ChildOutputKey(childIndex), proof)
}

// Counters tracks, per task identity, how many of an aggregator's children
// have completed. Increment is atomic: concurrent workers finishing
// sibling children race safely to observe "all done" exactly once.
type Counters interface {
	Increment(key dag.JobID) uint32
}

// MemCounters is an in-memory Counters for tests and single-process
// deployments.
type MemCounters struct {
	mu     sync.Mutex
	counts map[[24]byte]uint32
}

// NewMemCounters builds an empty in-memory counter set.
func NewMemCounters() *MemCounters {
	return &MemCounters{counts: make(map[[24]byte]uint32)}
}

// Increment atomically increments and returns the new value of key's
// counter.
func (c *MemCounters) Increment(key dag.JobID) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.CounterKey().Bytes()
	c.counts[k]++
	return c.counts[k]
}
