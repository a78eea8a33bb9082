// Package l1api declares the Bitcoin-family L1 capability the orchestrator
// needs — broadcasting a finished block transaction, resolving funding
// UTXOs for deposits, and fee estimation — without depending on any
// concrete RPC client. Deployments supply an implementation; tests use an
// in-memory stub.
//
// Grounded on the Rust original's QBitcoinAPISync trait and BTCLinkRPCConfig
// (_examples/original_source/city_rollup_common/src/link/link_api.rs),
// narrowed to the four operations above; the orchestrator itself calls only
// SendTransaction.
package l1api

import (
	"context"
	"net/url"
	"strings"

	"github.com/cityrollup/rollup/internal/cityerr"
	"github.com/cityrollup/rollup/internal/sighash"
)

// UTXO is one unspent transaction output observed on L1, as reported by an
// Electrs-style index.
type UTXO struct {
	TxID      [32]byte
	Vout      uint32
	Value     uint64
	Confirmed bool
}

// L1Api is the capability surface the orchestrator needs from the
// Bitcoin-family network: broadcasting a finished transaction, listing an
// address's UTXOs (to discover pending deposits), and fee estimation.
type L1Api interface {
	SendTransaction(ctx context.Context, tx sighash.Transaction) (txid [32]byte, err error)
	GetUTXOs(ctx context.Context, scriptPubKey []byte) ([]UTXO, error)
	GetRawTransaction(ctx context.Context, txid [32]byte) ([]byte, error)
	EstimateFeeRate(ctx context.Context, confirmationTarget uint32) (satsPerByte uint64, err error)
}

// RPCConfig is the parsed shape of one L1 RPC endpoint URL: network name,
// base URL (origin+path, credentials stripped), and basic-auth credentials.
// IsDoge and IsRegtest are derived from the network name the way the
// original's config flags UTXO/fee conventions that differ between
// Bitcoin and Dogecoin-family chains.
type RPCConfig struct {
	Network   string
	URL       string
	User      string
	Password  string
	IsDoge    bool
	IsRegtest bool
}

// HasBasicAuth reports whether the endpoint carries embedded credentials.
func (c RPCConfig) HasBasicAuth() bool {
	return c.User != "" || c.Password != ""
}

// ParseRPCURL extracts an RPCConfig from one RPC URL, reading a "network"
// query parameter for the chain identity (defaulting to "dogeRegtest" when
// absent, matching the Rust original) and basic-auth credentials from the
// URL's userinfo component.
func ParseRPCURL(rpcURL string) (RPCConfig, error) {
	u, err := url.Parse(rpcURL)
	if err != nil {
		return RPCConfig{}, cityerr.New(cityerr.KindInvalidArgument, "l1api.ParseRPCURL", err)
	}

	network := u.Query().Get("network")
	if network == "" {
		network = "dogeRegtest"
	}

	password, _ := u.User.Password()
	final := u.Scheme + "://" + u.Host + u.Path

	lower := strings.ToLower(network)
	return RPCConfig{
		Network:   network,
		URL:       final,
		User:      u.User.Username(),
		Password:  password,
		IsDoge:    strings.Contains(lower, "doge"),
		IsRegtest: strings.Contains(lower, "regtest"),
	}, nil
}
