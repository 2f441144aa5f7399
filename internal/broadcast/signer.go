package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helix-pay/helix_custody/internal/chains"
	"github.com/helix-pay/helix_custody/internal/utxo"
)

// HTTPSigner delegates signing to the custody signing service. Private keys
// never enter this process.
type HTTPSigner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSigner builds a signer client for the given service base URL.
func NewHTTPSigner(baseURL string) *HTTPSigner {
	return &HTTPSigner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type signRequest struct {
	Chain  string      `json:"chain"`
	RawTx  string      `json:"raw_tx"`
	Inputs []signInput `json:"inputs"`
}

type signInput struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Amount int64  `json:"amount"`
	Script string `json:"script"`
}

type signResponse struct {
	SignedTx string `json:"signed_tx"`
	Error    string `json:"error"`
}

// Sign posts the unsigned transaction and its input metadata to the signing
// service and returns the signed raw transaction.
func (s *HTTPSigner) Sign(ctx context.Context, chain chains.Chain, rawTx string, inputs []utxo.UTXO) (string, error) {
	payload := signRequest{Chain: string(chain), RawTx: rawTx}
	for _, in := range inputs {
		payload.Inputs = append(payload.Inputs, signInput{
			TxID:   in.TxID,
			Vout:   in.Vout,
			Amount: in.Amount,
			Script: in.Script,
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/sign", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded signResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode signer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signer returned %d: %s", resp.StatusCode, decoded.Error)
	}
	if decoded.SignedTx == "" {
		return "", fmt.Errorf("signer returned an empty transaction")
	}
	return decoded.SignedTx, nil
}
