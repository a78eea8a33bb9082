// Package sighash builds the L1 transaction layout for a block, derives
// every input's Bitcoin-family sighash preimage, and assigns job ids for the
// per-input introspection proofs, the sighash whitelist check, and the
// final Groth16-wrapped root proof. Proving itself is out of scope: this
// package produces the data the (external) plonky2/Groth16 provers consume.
//
// Grounded on the Rust original's introspection/sighash module
// (_examples/original_source/city_mono/src/introspection/...), following
// btcsuite/btcd/chaincfg/chainhash for SHA256d the way
// MuriData-muri-zkproof's pkg/bridge package hashes L1 transaction data.
package sighash

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/cityrollup/rollup/internal/cityerr"
)

// SighashAll is the only signature-hash variant this rollup uses.
const SighashAll uint32 = 0x00000001

// TxInput is one Bitcoin-family transaction input.
type TxInput struct {
	PrevTxID [32]byte
	PrevVout uint32
	Script   []byte
	Sequence uint32
}

// TxOutput is one Bitcoin-family transaction output.
type TxOutput struct {
	Value  uint64
	Script []byte
}

// Transaction is a Bitcoin-family transaction: 4B version, var-int input
// count, inputs, var-int output count, outputs, 4B locktime.
type Transaction struct {
	Version  uint32
	Inputs   []TxInput
	Outputs  []TxOutput
	LockTime uint32
}

func putVarInt(buf []byte, n uint64) []byte {
	switch {
	case n < 0xfd:
		return append(buf, byte(n))
	case n <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:], uint16(n))
		return append(buf, b...)
	case n <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:], uint32(n))
		return append(buf, b...)
	default:
		b := make([]byte, 9)
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:], n)
		return append(buf, b...)
	}
}

func appendScript(buf []byte, script []byte) []byte {
	buf = putVarInt(buf, uint64(len(script)))
	return append(buf, script...)
}

// Serialize encodes tx in standard Bitcoin-family wire format.
func (tx Transaction) Serialize() []byte {
	var buf []byte
	var v [4]byte
	binary.LittleEndian.PutUint32(v[:], tx.Version)
	buf = append(buf, v[:]...)

	buf = putVarInt(buf, uint64(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf = append(buf, in.PrevTxID[:]...)
		var vout [4]byte
		binary.LittleEndian.PutUint32(vout[:], in.PrevVout)
		buf = append(buf, vout[:]...)
		buf = appendScript(buf, in.Script)
		var seq [4]byte
		binary.LittleEndian.PutUint32(seq[:], in.Sequence)
		buf = append(buf, seq[:]...)
	}

	buf = putVarInt(buf, uint64(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		var val [8]byte
		binary.LittleEndian.PutUint64(val[:], out.Value)
		buf = append(buf, val[:]...)
		buf = appendScript(buf, out.Script)
	}

	var lt [4]byte
	binary.LittleEndian.PutUint32(lt[:], tx.LockTime)
	buf = append(buf, lt[:]...)
	return buf
}

// SighashPreimage builds the SIGHASH_ALL preimage for inputIndex: every
// other input's script is blanked, inputIndex's script is replaced with
// scriptCode (the spent output's script), and the 4-byte hash type is
// appended.
func SighashPreimage(tx Transaction, inputIndex int, scriptCode []byte, hashType uint32) ([]byte, error) {
	if inputIndex < 0 || inputIndex >= len(tx.Inputs) {
		return nil, cityerr.New(cityerr.KindInvalidArgument, "sighash.SighashPreimage", nil)
	}
	copyTx := tx
	copyTx.Inputs = make([]TxInput, len(tx.Inputs))
	for i, in := range tx.Inputs {
		c := in
		if i == inputIndex {
			c.Script = scriptCode
		} else {
			c.Script = nil
		}
		copyTx.Inputs[i] = c
	}
	preimage := copyTx.Serialize()
	var ht [4]byte
	binary.LittleEndian.PutUint32(ht[:], hashType)
	return append(preimage, ht[:]...), nil
}

// Sighash returns the SHA256d of inputIndex's SIGHASH_ALL preimage.
func Sighash(tx Transaction, inputIndex int, scriptCode []byte) ([32]byte, error) {
	preimage, err := SighashPreimage(tx, inputIndex, scriptCode, SighashAll)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], chainhash.DoubleHashB(preimage))
	return out, nil
}
