package broadcast

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/utxo"
)

// Assemble serializes a spend plan into an unsigned raw transaction. The
// recipient output comes first; a change output back to changeAddress is
// appended only when the plan retained change, so dust folding never leaves
// an empty output behind.
func Assemble(plan utxo.Plan, toAddress, changeAddress string, p chains.Params) (string, error) {
	if len(plan.Inputs) == 0 {
		return "", fmt.Errorf("plan has no inputs")
	}

	msg := wire.NewMsgTx(wire.TxVersion)

	for _, in := range plan.Inputs {
		prevHash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return "", fmt.Errorf("input %s: %w", in.ID, err)
		}
		msg.AddTxIn(wire.NewTxIn(wire.NewOutPoint(prevHash, in.Vout), nil, nil))
	}

	script, err := outputScript(toAddress, p)
	if err != nil {
		return "", fmt.Errorf("recipient address: %w", err)
	}
	msg.AddTxOut(wire.NewTxOut(plan.Amount, script))

	if plan.Change > 0 {
		changeScript, err := outputScript(changeAddress, p)
		if err != nil {
			return "", fmt.Errorf("change address: %w", err)
		}
		msg.AddTxOut(wire.NewTxOut(plan.Change, changeScript))
	}

	var buf bytes.Buffer
	if err := msg.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// ScriptHexFor returns the hex-encoded locking script paying to addr, used
// when recording change and consolidation outputs the wallet now owns.
func ScriptHexFor(addr string, p chains.Params) (string, error) {
	script, err := outputScript(addr, p)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(script), nil
}

func outputScript(addr string, p chains.Params) ([]byte, error) {
	decoded, err := btcutil.DecodeAddress(addr, p.Net)
	if err != nil {
		return nil, err
	}
	if !decoded.IsForNet(p.Net) {
		return nil, fmt.Errorf("address %s is not valid for %s", addr, p.Name)
	}
	return txscript.PayToAddrScript(decoded)
}
