// Package dag assigns stable, content-free job identifiers to every node of
// the recursive proof DAG and builds the binary aggregation trees (with
// dummy padding) that turn a flat list of leaf witnesses into the handful of
// root jobs the orchestrator waits on.
//
// Grounded on the Rust original's QProvingJobDataID / job_id.rs
// (_examples/original_source/city_mono/src/introspection/... and
// src/worker/proof_store.rs's id layout), carried into Go the way
// orbas1-Synnergy's core/rollups.go batches a list of transactions into a
// single aggregate header.
package dag

import "encoding/binary"

// Topic is the job-queue partition a job belongs to.
type Topic uint8

const (
	TopicStandardProof          Topic = 0
	TopicGroth16Proof           Topic = 1
	TopicBlockUserSignatureProof Topic = 2
)

// DataType distinguishes the several byte blobs addressable under one task
// identity: the witness it was given, a child aggregation input, its own
// output proof, or its completion counter.
type DataType uint8

const (
	DataInputWitness  DataType = 0
	DataBaseInputProof DataType = 1
	DataOutputProof   DataType = 2
	DataCounter       DataType = 3
)

// CircuitType tags which circuit a job runs: one of the six leaf operation
// classes, their real and dummy aggregators, the two root-aggregation
// levels, the block-state-transition circuit, the sighash family, the
// Groth16 wrapper, or a signature-verification leaf.
type CircuitType uint8

const (
	CircuitRegisterUser CircuitType = iota
	CircuitAddDeposit
	CircuitClaimDeposit
	CircuitL2Transfer
	CircuitAddWithdrawal
	CircuitProcessWithdrawal

	CircuitRegisterUserAggregate
	CircuitAddDepositAggregate
	CircuitClaimDepositAggregate
	CircuitL2TransferAggregate
	CircuitAddWithdrawalAggregate
	CircuitProcessWithdrawalAggregate

	CircuitDummyRegisterUserAggregate
	CircuitDummyAddDepositAggregate
	CircuitDummyClaimDepositAggregate
	CircuitDummyL2TransferAggregate
	CircuitDummyAddWithdrawalAggregate
	CircuitDummyProcessWithdrawalAggregate

	CircuitAgg1UserRegisterClaimDepositL2Transfer
	CircuitAgg2AddProcessL1WithdrawalAddL1Deposit
	CircuitBlockStateTransition

	CircuitSigHashIntrospection
	CircuitSigHashWrapper
	CircuitSigHashFinal
	CircuitSigHashRefundFinal
	CircuitSigHashRoot

	CircuitGroth16Wrapper

	CircuitTransferSignatureProof
	CircuitWithdrawalSignatureProof
	CircuitClaimDepositL1SignatureProof
)

// IsAggregator reports whether a circuit type's job is an aggregation node
// (consumes FanIn child proofs from ChildOutputKey(0) onward) rather than a
// leaf witness or a standalone signature-verification job.
func (c CircuitType) IsAggregator() bool {
	switch c {
	case CircuitRegisterUserAggregate, CircuitAddDepositAggregate, CircuitClaimDepositAggregate,
		CircuitL2TransferAggregate, CircuitAddWithdrawalAggregate, CircuitProcessWithdrawalAggregate,
		CircuitDummyRegisterUserAggregate, CircuitDummyAddDepositAggregate, CircuitDummyClaimDepositAggregate,
		CircuitDummyL2TransferAggregate, CircuitDummyAddWithdrawalAggregate, CircuitDummyProcessWithdrawalAggregate,
		CircuitAgg1UserRegisterClaimDepositL2Transfer, CircuitAgg2AddProcessL1WithdrawalAddL1Deposit,
		CircuitBlockStateTransition, CircuitSigHashWrapper, CircuitSigHashFinal, CircuitSigHashRefundFinal,
		CircuitSigHashRoot, CircuitGroth16Wrapper:
		return true
	default:
		return false
	}
}

// IsDummyAggregateCircuit reports whether c is one of the six padding
// circuit types BuildClassTree reuses for two distinct roles: a leaf-level
// identity pad (tree level 0, no real children) and a two-dummy-child
// internal join (above level 0, a genuine aggregator). The two roles share
// one circuit type and are only distinguishable by tree level.
func (c CircuitType) IsDummyAggregateCircuit() bool {
	switch c {
	case CircuitDummyRegisterUserAggregate, CircuitDummyAddDepositAggregate, CircuitDummyClaimDepositAggregate,
		CircuitDummyL2TransferAggregate, CircuitDummyAddWithdrawalAggregate, CircuitDummyProcessWithdrawalAggregate:
		return true
	default:
		return false
	}
}

// FanIn reports how many child proofs an aggregator job consumes: 1 for the
// sighash wrapper (a pass-through whitelist check over one introspection
// proof), 3 for the two root-aggregation levels (which fold three unrelated
// class roots), 2 for every other join (including sighash-final, which
// binds one wrapped sighash proof to the shared block-state-transition
// proof). Only meaningful when IsAggregator is true.
func (c CircuitType) FanIn() int {
	switch c {
	case CircuitSigHashWrapper:
		return 1
	case CircuitAgg1UserRegisterClaimDepositL2Transfer, CircuitAgg2AddProcessL1WithdrawalAddL1Deposit:
		return 3
	default:
		return 2
	}
}

// OperationClass enumerates the six leaf-witness kinds whose leaves get
// their own aggregation tree.
type OperationClass uint8

const (
	ClassRegisterUser OperationClass = iota
	ClassAddDeposit
	ClassClaimDeposit
	ClassL2Transfer
	ClassAddWithdrawal
	ClassProcessWithdrawal
)

// LeafCircuit returns the leaf circuit type for an operation class.
func (c OperationClass) LeafCircuit() CircuitType {
	return [...]CircuitType{
		CircuitRegisterUser, CircuitAddDeposit, CircuitClaimDeposit,
		CircuitL2Transfer, CircuitAddWithdrawal, CircuitProcessWithdrawal,
	}[c]
}

// AggregateCircuit returns the real-aggregator circuit type for a class.
func (c OperationClass) AggregateCircuit() CircuitType {
	return [...]CircuitType{
		CircuitRegisterUserAggregate, CircuitAddDepositAggregate, CircuitClaimDepositAggregate,
		CircuitL2TransferAggregate, CircuitAddWithdrawalAggregate, CircuitProcessWithdrawalAggregate,
	}[c]
}

// DummyAggregateCircuit returns the dummy-padding aggregator circuit type.
func (c OperationClass) DummyAggregateCircuit() CircuitType {
	return [...]CircuitType{
		CircuitDummyRegisterUserAggregate, CircuitDummyAddDepositAggregate, CircuitDummyClaimDepositAggregate,
		CircuitDummyL2TransferAggregate, CircuitDummyAddWithdrawalAggregate, CircuitDummyProcessWithdrawalAggregate,
	}[c]
}

// JobID is the 24-byte deterministic descriptor for one task's witness,
// child inputs, output proof, and completion counter.
type JobID struct {
	Topic       Topic
	GoalID      uint64 // the block checkpoint id this job belongs to
	CircuitType CircuitType
	GroupID     uint32 // distinguishes operation classes within one topic
	SubGroupID  uint32 // aggregation tree level
	TaskIndex   uint32 // position within a level
	DataType    DataType
	DataIndex   uint8
}

// Bytes serializes j to its 24-byte wire form.
func (j JobID) Bytes() [24]byte {
	var b [24]byte
	b[0] = byte(j.Topic)
	binary.LittleEndian.PutUint64(b[1:9], j.GoalID)
	b[9] = byte(j.CircuitType)
	binary.LittleEndian.PutUint32(b[10:14], j.GroupID)
	binary.LittleEndian.PutUint32(b[14:18], j.SubGroupID)
	binary.LittleEndian.PutUint32(b[18:22], j.TaskIndex)
	b[22] = byte(j.DataType)
	b[23] = j.DataIndex
	return b
}

// FromBytes decodes a 24-byte wire form produced by Bytes.
func FromBytes(b [24]byte) JobID {
	return JobID{
		Topic:       Topic(b[0]),
		GoalID:      binary.LittleEndian.Uint64(b[1:9]),
		CircuitType: CircuitType(b[9]),
		GroupID:     binary.LittleEndian.Uint32(b[10:14]),
		SubGroupID:  binary.LittleEndian.Uint32(b[14:18]),
		TaskIndex:   binary.LittleEndian.Uint32(b[18:22]),
		DataType:    DataType(b[22]),
		DataIndex:   b[23],
	}
}

// TaskID zeroes the data-addressing fields, leaving the identity shared by a
// task's witness, output, and counter keys.
func (j JobID) TaskID() JobID {
	j.DataType = 0
	j.DataIndex = 0
	return j
}

// withData returns a copy of j's task identity addressing a specific blob.
func (j JobID) withData(dt DataType, idx uint8) JobID {
	t := j.TaskID()
	t.DataType = dt
	t.DataIndex = idx
	return t
}

// InputWitnessKey addresses the serialized witness a worker must decode to
// run this job.
func (j JobID) InputWitnessKey() JobID { return j.withData(DataInputWitness, 0) }

// OutputKey addresses this job's own output proof, once produced.
func (j JobID) OutputKey() JobID { return j.withData(DataOutputProof, 0) }

// CounterKey addresses this job's completion counter (only meaningful for
// aggregation parents, which wait for FanIn children).
func (j JobID) CounterKey() JobID { return j.withData(DataCounter, 0) }

// ChildOutputKey addresses the output proof of child childIndex (0 or 1 for
// binary aggregation, up to 2 for Agg1/Agg2), read by this (parent) job when
// it runs.
func (j JobID) ChildOutputKey(childIndex uint8) JobID {
	return j.withData(DataBaseInputProof, childIndex)
}

// Parent derives the aggregation-tree parent of j: one level up, at half the
// task index, within the same sub-tree.
func (j JobID) Parent() JobID {
	p := j.TaskID()
	p.SubGroupID++
	p.TaskIndex >>= 1
	return p
}

// ChildSlot returns which of its parent's two child slots (0 or 1) j
// occupies, from the low bit of its own task index.
func (j JobID) ChildSlot() uint8 { return uint8(j.TaskIndex & 1) }

// RequiresChildProofs reports whether this specific job, at its own tree
// level, must read aggregated child proofs before it can run. Every
// aggregator circuit type does, except the dummy-aggregate padding types
// when they sit at the tree's leaf level (SubGroupID 0): there they stand in
// for a leaf with no real children at all, either padding a class's leaf
// level up to a power of two or standing in for a class with zero real
// requests.
func (j JobID) RequiresChildProofs() bool {
	if !j.CircuitType.IsAggregator() {
		return false
	}
	if j.CircuitType.IsDummyAggregateCircuit() && j.SubGroupID == 0 {
		return false
	}
	return true
}

// LeafJobID builds the job id for leaf i of operation class class at
// checkpoint c.
func LeafJobID(checkpoint uint64, class OperationClass, i uint32) JobID {
	return JobID{
		Topic:       TopicStandardProof,
		GoalID:      checkpoint,
		CircuitType: class.LeafCircuit(),
		GroupID:     uint32(class),
		SubGroupID:  0,
		TaskIndex:   i,
	}
}

// TransferSignatureProofID builds a signature-verification job id for L2
// transfer request taskIndex, group 1 per the original's fixed constant.
func TransferSignatureProofID(checkpoint uint64, taskIndex uint32) JobID {
	return JobID{
		Topic:       TopicBlockUserSignatureProof,
		GoalID:      checkpoint,
		CircuitType: CircuitTransferSignatureProof,
		GroupID:     1,
		TaskIndex:   taskIndex,
	}
}

// WithdrawalSignatureProofID builds a signature-verification job id for an
// add-withdrawal request, group 2 per the original's fixed constant.
func WithdrawalSignatureProofID(checkpoint uint64, taskIndex uint32) JobID {
	return JobID{
		Topic:       TopicBlockUserSignatureProof,
		GoalID:      checkpoint,
		CircuitType: CircuitWithdrawalSignatureProof,
		GroupID:     2,
		TaskIndex:   taskIndex,
	}
}

// ClaimDepositL1SignatureProofID builds a signature-verification job id for
// a claim-deposit request, group 2 alongside withdrawals.
func ClaimDepositL1SignatureProofID(checkpoint uint64, taskIndex uint32) JobID {
	return JobID{
		Topic:       TopicBlockUserSignatureProof,
		GoalID:      checkpoint,
		CircuitType: CircuitClaimDepositL1SignatureProof,
		GroupID:     2,
		TaskIndex:   taskIndex,
	}
}
