package broadcast

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/utxo"
)

// Signer turns an unsigned serialized transaction into a signed one. Key
// custody lives outside this process; the production implementation calls the
// signing service over HTTP.
type Signer interface {
	Sign(ctx context.Context, chain chains.Chain, rawTx string, inputs []utxo.UTXO) (string, error)
}

// Broadcaster submits a signed raw transaction to the network and returns
// its hash. Failures are reported through the typed errors in this package.
type Broadcaster interface {
	Broadcast(ctx context.Context, chain chains.Chain, rawTx string) (string, error)
}

// Explorer answers questions about on-chain state: confirmation status, the
// spent-ness of individual outputs and raw transaction bodies.
type Explorer interface {
	Confirmed(ctx context.Context, chain chains.Chain, txHash string) (bool, int64, error)
	OutSpent(ctx context.Context, chain chains.Chain, txHash string, vout uint32) (bool, error)
	RawTransaction(ctx context.Context, chain chains.Chain, txHash string) (string, error)
}

// TxBuilder is the boundary the withdrawal engine drives: assemble the plan,
// sign it, submit it, return the on-chain hash.
type TxBuilder interface {
	BuildAndBroadcast(ctx context.Context, chain chains.Chain, plan utxo.Plan, toAddress, changeAddress string) (string, error)
}

// Pipeline implements TxBuilder as assemble -> sign -> broadcast.
type Pipeline struct {
	signer      Signer
	broadcaster Broadcaster
}

// NewPipeline wires a builder from a signer and a broadcaster.
func NewPipeline(signer Signer, broadcaster Broadcaster) *Pipeline {
	return &Pipeline{signer: signer, broadcaster: broadcaster}
}

// BuildAndBroadcast executes the full submit path for a spend plan. When the
// broadcaster reports the transaction as already known, the locally computed
// hash is returned inside an AcceptedError so the caller can finalize instead
// of retrying.
func (p *Pipeline) BuildAndBroadcast(ctx context.Context, chain chains.Chain, plan utxo.Plan, toAddress, changeAddress string) (string, error) {
	params, err := chains.ParamsFor(chain)
	if err != nil {
		return "", err
	}

	unsigned, err := Assemble(plan, toAddress, changeAddress, params)
	if err != nil {
		return "", err
	}

	signed, err := p.signer.Sign(ctx, chain, unsigned, plan.Inputs)
	if err != nil {
		return "", &ProviderError{Op: "sign", Err: err}
	}

	txHash, err := hashOf(signed)
	if err != nil {
		return "", fmt.Errorf("signed transaction does not deserialize: %w", err)
	}

	if _, err := p.broadcaster.Broadcast(ctx, chain, signed); err != nil {
		if IsAlreadyKnownMessage(err.Error()) {
			return "", &AcceptedError{TxHash: txHash, Err: err}
		}
		return "", err
	}
	return txHash, nil
}

func hashOf(rawTx string) (string, error) {
	raw, err := hex.DecodeString(rawTx)
	if err != nil {
		return "", err
	}
	var msg wire.MsgTx
	if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	return msg.TxHash().String(), nil
}
