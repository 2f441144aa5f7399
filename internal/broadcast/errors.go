package broadcast

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/helix-pay/helix_custody/internal/utxo"
)

// InputSpentError means the broadcast lost a race: one or more inputs were
// spent by another transaction first. Retryable after the implicated outputs
// are marked spent. Outpoints is empty when the provider message could not be
// parsed; callers then fall back to querying each candidate output on-chain.
type InputSpentError struct {
	Outpoints []utxo.Outpoint
	Reason    string
}

func (e *InputSpentError) Error() string {
	return fmt.Sprintf("inputs already spent: %s", e.Reason)
}

// RejectedError is a network-level rejection that retrying cannot fix
// (malformed script, fee below relay minimum, ...).
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("broadcast rejected: %s", e.Reason)
}

// AcceptedError signals that the network accepted the transaction but a
// subsequent step failed. It carries the recovered transaction hash and must
// be treated as success by callers: retrying or refunding would double-pay.
type AcceptedError struct {
	TxHash string
	Err    error
}

func (e *AcceptedError) Error() string {
	return fmt.Sprintf("transaction %s accepted by the network: %v", e.TxHash, e.Err)
}

func (e *AcceptedError) Unwrap() error { return e.Err }

// ProviderError wraps a failure of the explorer/broadcast endpoint itself.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

var (
	spentPatterns = []string{
		"already been spent",
		"already spent",
		"bad-txns-inputs-missingorspent",
		"missing inputs",
		"txn-mempool-conflict",
		"spent by another transaction",
	}

	acceptedPatterns = []string{
		"txn-already-known",
		"txn-already-in-mempool",
		"already in block chain",
		"transaction already exists",
	}

	outpointPattern = regexp.MustCompile(`\b([0-9a-fA-F]{64})[:\s]+(?:output\s+)?(\d+)\b`)
)

// IsSpentInputMessage reports whether a provider error message describes a
// spent or missing input.
func IsSpentInputMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range spentPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// IsAlreadyKnownMessage reports whether a provider error message means the
// transaction was accepted previously (double submission, or a crash between
// broadcast and bookkeeping).
func IsAlreadyKnownMessage(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range acceptedPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ParseSpentOutpoints extracts "txid:vout" coordinates from a provider error
// message. Message formats vary per backend, so an empty result is normal; it
// degrades the caller to a full per-output chain query, which is correct but
// slow.
func ParseSpentOutpoints(msg string) []utxo.Outpoint {
	matches := outpointPattern.FindAllStringSubmatch(msg, -1)
	outs := make([]utxo.Outpoint, 0, len(matches))
	for _, m := range matches {
		vout, err := strconv.ParseUint(m[2], 10, 32)
		if err != nil {
			continue
		}
		outs = append(outs, utxo.Outpoint{TxID: strings.ToLower(m[1]), Vout: uint32(vout)})
	}
	return outs
}
