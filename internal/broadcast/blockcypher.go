package broadcast

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/blockcypher/gobcy"

	"github.com/helix-pay/helix_custody/internal/chains"
)

// BlockCypher implements Broadcaster and Explorer on top of the BlockCypher
// HTTP API, which serves every chain family this engine supports.
type BlockCypher struct {
	apis map[chains.Chain]gobcy.API
}

// NewBlockCypher builds a client for all supported chains using one API
// token. network is "main" or "test3".
func NewBlockCypher(token, network string) *BlockCypher {
	if network == "" {
		network = "main"
	}
	apis := make(map[chains.Chain]gobcy.API, len(chains.All()))
	for _, c := range chains.All() {
		apis[c] = gobcy.API{Token: token, Coin: string(c), Chain: network}
	}
	return &BlockCypher{apis: apis}
}

func (b *BlockCypher) api(chain chains.Chain) (gobcy.API, error) {
	api, ok := b.apis[chain]
	if !ok {
		return gobcy.API{}, fmt.Errorf("unsupported chain %q", chain)
	}
	return api, nil
}

// Broadcast pushes a signed raw transaction. Provider messages describing a
// lost input race come back as InputSpentError with whatever outpoints could
// be parsed from the message text.
func (b *BlockCypher) Broadcast(_ context.Context, chain chains.Chain, rawTx string) (string, error) {
	api, err := b.api(chain)
	if err != nil {
		return "", err
	}

	skel, err := api.PushTX(rawTx)
	if err != nil {
		return "", classifyPushError(err)
	}
	return skel.Trans.Hash, nil
}

// classifyPushError maps a PushTX failure onto the error taxonomy. Transport
// failures surface from the client as *url.Error and mean the provider was
// unreachable, not that the network rejected the transaction.
func classifyPushError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &ProviderError{Op: "broadcast", Err: err}
	}

	msg := err.Error()
	switch {
	case IsSpentInputMessage(msg):
		return &InputSpentError{Outpoints: ParseSpentOutpoints(msg), Reason: msg}
	case IsAlreadyKnownMessage(msg):
		// The pipeline recovers the hash locally; surface the raw
		// message for it to classify.
		return err
	default:
		return &RejectedError{Reason: msg}
	}
}

// Confirmed reports whether txHash has reached the chain's confirmation
// threshold, along with the fee the network actually charged.
func (b *BlockCypher) Confirmed(_ context.Context, chain chains.Chain, txHash string) (bool, int64, error) {
	api, err := b.api(chain)
	if err != nil {
		return false, 0, err
	}
	p, err := chains.ParamsFor(chain)
	if err != nil {
		return false, 0, err
	}

	tx, err := api.GetTX(txHash, nil)
	if err != nil {
		return false, 0, &ProviderError{Op: "get transaction", Err: err}
	}
	return tx.Confirmations >= p.Confirmations && tx.BlockHeight > 0, int64(tx.Fees), nil
}

// OutSpent reports whether a specific output of txHash has been spent.
func (b *BlockCypher) OutSpent(_ context.Context, chain chains.Chain, txHash string, vout uint32) (bool, error) {
	api, err := b.api(chain)
	if err != nil {
		return false, err
	}

	tx, err := api.GetTX(txHash, nil)
	if err != nil {
		return false, &ProviderError{Op: "get transaction", Err: err}
	}
	if int(vout) >= len(tx.Outputs) {
		return false, fmt.Errorf("transaction %s has no output %d", txHash, vout)
	}
	return tx.Outputs[vout].SpentBy != "", nil
}

// RawTransaction fetches the raw hex body of txHash.
func (b *BlockCypher) RawTransaction(_ context.Context, chain chains.Chain, txHash string) (string, error) {
	api, err := b.api(chain)
	if err != nil {
		return "", err
	}

	tx, err := api.GetTX(txHash, map[string]string{"includeHex": "true"})
	if err != nil {
		return "", &ProviderError{Op: "get transaction", Err: err}
	}
	if tx.Hex == "" {
		return "", fmt.Errorf("provider returned no hex for %s", txHash)
	}
	return tx.Hex, nil
}
