package fees

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/helix-pay/helix_custody/internal/chains"
)

// Oracle reports the current linear fee rate (minor units per transaction
// byte) for a chain. Implementations fail soft at the call site: on error the
// caller substitutes the chain's default rate.
type Oracle interface {
	FeeRate(ctx context.Context, chain chains.Chain) (int64, error)
}

// HTTPOracle queries a recommended-fees endpoint per chain. The endpoints
// return the common {fastestFee, halfHourFee, hourFee} JSON shape; the
// half-hour tier is used.
type HTTPOracle struct {
	endpoints map[chains.Chain]string
	client    *http.Client
}

// NewHTTPOracle builds an oracle from a chain -> URL map.
func NewHTTPOracle(endpoints map[chains.Chain]string) *HTTPOracle {
	return &HTTPOracle{
		endpoints: endpoints,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type recommendedFees struct {
	FastestFee  int64 `json:"fastestFee"`
	HalfHourFee int64 `json:"halfHourFee"`
	HourFee     int64 `json:"hourFee"`
}

// FeeRate fetches the half-hour fee rate for chain.
func (o *HTTPOracle) FeeRate(ctx context.Context, chain chains.Chain) (int64, error) {
	url, ok := o.endpoints[chain]
	if !ok || url == "" {
		return 0, fmt.Errorf("no fee endpoint configured for %s", chain)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("fee endpoint returned %d", resp.StatusCode)
	}

	var fees recommendedFees
	if err := json.NewDecoder(resp.Body).Decode(&fees); err != nil {
		return 0, fmt.Errorf("decode fee response: %w", err)
	}

	rate := fees.HalfHourFee
	if rate <= 0 {
		rate = fees.FastestFee
	}
	if rate <= 0 {
		return 0, fmt.Errorf("fee endpoint returned no usable rate")
	}
	return rate, nil
}

// Static is a fixed-rate oracle for tests and air-gapped deployments.
type Static struct {
	Rate int64
}

// FeeRate returns the fixed rate.
func (s Static) FeeRate(context.Context, chains.Chain) (int64, error) {
	return s.Rate, nil
}
