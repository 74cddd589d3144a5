// Package sim implements a telephony provider that fakes call initiation.
// It exists for local development and load testing without a MOR account.
package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/voiceagent/internal/telephony"
)

// ProviderName keys this provider in the registry and its breaker.
const ProviderName = "sim"

// Provider simulates outbound call initiation.
type Provider struct {
	successRate float64
	minLatency  time.Duration
	maxLatency  time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

// NewProvider constructs a simulator with deterministic randomness.
func NewProvider(successRate float64, seed int64) *Provider {
	if successRate <= 0 || successRate > 1 {
		successRate = 0.9
	}
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Provider{
		successRate: successRate,
		minLatency:  20 * time.Millisecond,
		maxLatency:  120 * time.Millisecond,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// Name implements telephony.Provider.
func (p *Provider) Name() string { return ProviderName }

// InitiateCall simulates placing a call. A fraction of attempts fail with
// a provider error so retry and breaker paths get exercised.
func (p *Provider) InitiateCall(ctx context.Context, req telephony.CallRequest) (telephony.CallInfo, error) {
	p.mu.Lock()
	latency := p.minLatency + time.Duration(p.rng.Int63n(int64(p.maxLatency-p.minLatency)))
	ok := p.rng.Float64() <= p.successRate
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return telephony.CallInfo{}, ctx.Err()
	case <-time.After(latency):
	}

	if !ok {
		return telephony.CallInfo{}, fmt.Errorf("sim: initiate call to %s: simulated provider failure", req.ToNumber)
	}

	return telephony.CallInfo{
		CallID: "sim-" + uuid.NewString(),
		Status: telephony.CallStatusInitiated,
	}, nil
}
