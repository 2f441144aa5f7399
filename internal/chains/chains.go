package chains

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
)

// Chain identifies a supported UTXO chain family. The set is closed: every
// switch over Chain in this package is exhaustive so fee constants and dust
// thresholds cannot silently diverge between components.
type Chain string

const (
	Bitcoin  Chain = "btc"
	Litecoin Chain = "ltc"
	Dogecoin Chain = "doge"
)

// Transaction size modelling constants shared by the selector, the
// consolidation planner and the pre-flight estimator. These mirror the
// persisted fee model and must not be tuned per deployment.
const (
	BytesPerInput  = 180
	BytesPerOutput = 34
	BytesOverhead  = 10
)

// Params carries the per-chain constants the withdrawal engine needs.
type Params struct {
	Chain          Chain
	Name           string
	Currency       string
	DustThreshold  int64
	DefaultFeeRate int64 // minor units per byte, used when the fee oracle fails
	Confirmations  int   // confirmations required before a tx counts as final
	Net            *chaincfg.Params
}

var litecoinNet = chaincfg.Params{
	Name:             "litecoin-mainnet",
	Net:              wire.BitcoinNet(0xdbb6c0fb),
	PubKeyHashAddrID: 0x30,
	ScriptHashAddrID: 0x32,
	PrivateKeyID:     0xb0,
	Bech32HRPSegwit:  "ltc",
}

var dogecoinNet = chaincfg.Params{
	Name:             "dogecoin-mainnet",
	Net:              wire.BitcoinNet(0xc0c0c0c0),
	PubKeyHashAddrID: 0x1e,
	ScriptHashAddrID: 0x16,
	PrivateKeyID:     0x9e,
}

func init() {
	// Register the non-bitcoin networks so btcutil can decode their
	// addresses. Duplicate registration only happens in tests.
	_ = chaincfg.Register(&litecoinNet)
	_ = chaincfg.Register(&dogecoinNet)
}

var params = map[Chain]Params{
	Bitcoin: {
		Chain:          Bitcoin,
		Name:           "Bitcoin",
		Currency:       "BTC",
		DustThreshold:  546,
		DefaultFeeRate: 1,
		Confirmations:  1,
		Net:            &chaincfg.MainNetParams,
	},
	Litecoin: {
		Chain:          Litecoin,
		Name:           "Litecoin",
		Currency:       "LTC",
		DustThreshold:  5460,
		DefaultFeeRate: 1,
		Confirmations:  2,
		Net:            &litecoinNet,
	},
	Dogecoin: {
		Chain:          Dogecoin,
		Name:           "Dogecoin",
		Currency:       "DOGE",
		DustThreshold:  1_000_000,
		DefaultFeeRate: 1,
		Confirmations:  2,
		Net:            &dogecoinNet,
	},
}

// All returns every supported chain in a stable order.
func All() []Chain {
	return []Chain{Bitcoin, Litecoin, Dogecoin}
}

// Parse maps a wire-format chain code to a Chain.
func Parse(s string) (Chain, error) {
	switch Chain(strings.ToLower(s)) {
	case Bitcoin:
		return Bitcoin, nil
	case Litecoin:
		return Litecoin, nil
	case Dogecoin:
		return Dogecoin, nil
	}
	return "", fmt.Errorf("unsupported chain %q", s)
}

// ParamsFor returns the chain constants for c.
func ParamsFor(c Chain) (Params, error) {
	p, ok := params[c]
	if !ok {
		return Params{}, fmt.Errorf("unsupported chain %q", c)
	}
	return p, nil
}

// MustParams is ParamsFor for call sites that already validated the chain.
func MustParams(c Chain) Params {
	p, err := ParamsFor(c)
	if err != nil {
		panic(err)
	}
	return p
}

// ValidAddress reports whether addr decodes as an address on c's network.
func ValidAddress(addr string, c Chain) bool {
	p, err := ParamsFor(c)
	if err != nil {
		return false
	}
	decoded, err := btcutil.DecodeAddress(addr, p.Net)
	if err != nil {
		return false
	}
	return decoded.IsForNet(p.Net)
}

// InputCost returns the fee attributable to spending a single input at the
// given rate. The consolidation heuristic compares UTXO values against it.
func InputCost(feeRate int64) int64 {
	return BytesPerInput * feeRate
}
