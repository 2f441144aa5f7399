package fees

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/helix-pay/helix_custody/internal/chains"
)

func TestHTTPOracleReturnsHalfHourFee(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"fastestFee":42,"halfHourFee":21,"hourFee":10}`))
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(map[chains.Chain]string{chains.Bitcoin: srv.URL})
	rate, err := oracle.FeeRate(context.Background(), chains.Bitcoin)
	if err != nil {
		t.Fatalf("fee rate: %v", err)
	}
	if rate != 21 {
		t.Fatalf("expected 21, got %d", rate)
	}
}

func TestHTTPOracleFallsBackToFastest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"fastestFee":5}`))
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(map[chains.Chain]string{chains.Bitcoin: srv.URL})
	rate, err := oracle.FeeRate(context.Background(), chains.Bitcoin)
	if err != nil || rate != 5 {
		t.Fatalf("expected 5, got %d err=%v", rate, err)
	}
}

func TestHTTPOracleErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	oracle := NewHTTPOracle(map[chains.Chain]string{chains.Bitcoin: srv.URL})
	if _, err := oracle.FeeRate(context.Background(), chains.Bitcoin); err == nil {
		t.Fatal("expected error on upstream failure")
	}

	// Unconfigured chain must error so the caller applies the default rate.
	if _, err := oracle.FeeRate(context.Background(), chains.Dogecoin); err == nil {
		t.Fatal("expected error for a chain without an endpoint")
	}
}
