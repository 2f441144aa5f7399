package broadcast

import (
	"errors"
	"net/url"
	"testing"
)

const txidA = "1b2cf0e8b1b0f171ad8165b4b72e1a81ac91e2b7a1d8167f0e46484a0a2fd3b2"

func TestIsSpentInputMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"Error validating transaction: txid " + txidA + " output 1 has already been spent.", true},
		{"bad-txns-inputs-missingorspent", true},
		{"Missing inputs", true},
		{"insufficient priority", false},
		{"dust output", false},
	}
	for _, c := range cases {
		if got := IsSpentInputMessage(c.msg); got != c.want {
			t.Fatalf("IsSpentInputMessage(%q) = %v, want %v", c.msg, got, c.want)
		}
	}
}

func TestParseSpentOutpoints(t *testing.T) {
	msg := "Error validating transaction: " + txidA + " output 1 has already been spent."
	outs := ParseSpentOutpoints(msg)
	if len(outs) != 1 {
		t.Fatalf("expected 1 outpoint, got %d", len(outs))
	}
	if outs[0].TxID != txidA || outs[0].Vout != 1 {
		t.Fatalf("unexpected outpoint %+v", outs[0])
	}
}

func TestParseSpentOutpointsColonForm(t *testing.T) {
	msg := "inputs spent: " + txidA + ": 0 conflicts with mempool"
	outs := ParseSpentOutpoints(msg)
	if len(outs) != 1 || outs[0].Vout != 0 {
		t.Fatalf("expected %s:0, got %+v", txidA, outs)
	}
}

func TestParseSpentOutpointsUnparseable(t *testing.T) {
	if outs := ParseSpentOutpoints("bad-txns-inputs-missingorspent"); len(outs) != 0 {
		t.Fatalf("expected no outpoints from an opaque message, got %+v", outs)
	}
}

func TestIsAlreadyKnownMessage(t *testing.T) {
	if !IsAlreadyKnownMessage("258: txn-already-known") {
		t.Fatal("expected already-known classification")
	}
	if IsAlreadyKnownMessage("bad-txns-inputs-missingorspent") {
		t.Fatal("spent inputs are not an accepted transaction")
	}
}

func TestClassifyPushErrorTransportFailure(t *testing.T) {
	dialErr := &url.Error{
		Op:  "Post",
		URL: "https://api.blockcypher.com/v1/btc/main/txs/push",
		Err: errors.New("dial tcp 104.16.0.1:443: connect: connection refused"),
	}

	var provider *ProviderError
	if err := classifyPushError(dialErr); !errors.As(err, &provider) {
		t.Fatalf("expected ProviderError for a transport failure, got %T: %v", err, err)
	}

	var rejected *RejectedError
	if err := classifyPushError(dialErr); errors.As(err, &rejected) {
		t.Fatal("a transport failure is not a network rejection")
	}
}

func TestClassifyPushErrorRejection(t *testing.T) {
	err := classifyPushError(errors.New("HTTP 400 Bad Request: Error validating transaction: insufficient priority."))
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("expected RejectedError, got %T: %v", err, err)
	}
}

func TestClassifyPushErrorSpentInputs(t *testing.T) {
	err := classifyPushError(errors.New("Error validating transaction: " + txidA + " output 1 has already been spent."))
	var spent *InputSpentError
	if !errors.As(err, &spent) {
		t.Fatalf("expected InputSpentError, got %T: %v", err, err)
	}
	if len(spent.Outpoints) != 1 || spent.Outpoints[0].TxID != txidA {
		t.Fatalf("unexpected outpoints %+v", spent.Outpoints)
	}
}

func TestClassifyPushErrorAlreadyKnownPassesThrough(t *testing.T) {
	raw := errors.New("HTTP 400 Bad Request: 258: txn-already-known")
	err := classifyPushError(raw)
	if err != raw {
		t.Fatalf("expected the raw already-known error, got %T: %v", err, err)
	}
}
