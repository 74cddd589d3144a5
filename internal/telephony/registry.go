package telephony

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/acme/voiceagent/pkg/breaker"
)

// breakerPrefix namespaces provider breakers in dashboards and error
// messages. Registry lookups use the bare provider name.
const breakerPrefix = "telephony:"

// BreakerConfig holds circuit breaker settings applied to every provider.
type BreakerConfig struct {
	FailureThreshold int
	Timeout          time.Duration
	RecoveryTimeout  time.Duration
}

// Registry hands out providers wrapped with one circuit breaker per
// provider name. Breakers are created lazily and shared by all callers of
// the same provider.
type Registry struct {
	cfg             BreakerConfig
	defaultProvider string

	mu        sync.Mutex
	providers map[string]Provider
	breakers  map[string]*breaker.Breaker
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg BreakerConfig, defaultProvider string) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Registry{
		cfg:             cfg,
		defaultProvider: defaultProvider,
		providers:       make(map[string]Provider),
		breakers:        make(map[string]*breaker.Breaker),
	}
}

// Register adds a provider under its own name.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Provider returns the breaker-guarded provider for name. An empty name
// selects the configured default.
func (r *Registry) Provider(name string) (Provider, error) {
	if name == "" {
		name = r.defaultProvider
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("telephony: unknown provider %q", name)
	}

	b, ok := r.breakers[name]
	if !ok {
		b = breaker.New(breakerPrefix+name, r.cfg.FailureThreshold, r.cfg.Timeout, r.cfg.RecoveryTimeout)
		r.breakers[name] = b
	}

	return &guardedProvider{inner: p, breaker: b}, nil
}

// Snapshots reports the state of every provider breaker for dashboards.
func (r *Registry) Snapshots() []breaker.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snaps := make([]breaker.Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		snaps = append(snaps, b.Snapshot())
	}
	return snaps
}

// Reset forces the named provider's breaker closed. Operator escape hatch.
// Accepts either the bare provider name or the prefixed display name shown
// in snapshots.
func (r *Registry) Reset(name string) bool {
	name = strings.TrimPrefix(name, breakerPrefix)

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		return false
	}
	b.Reset()
	return true
}

// guardedProvider routes InitiateCall through the provider's breaker. The
// provider's own error passes through unchanged; only the fast-fail path
// yields *breaker.OpenError.
type guardedProvider struct {
	inner   Provider
	breaker *breaker.Breaker
}

func (g *guardedProvider) Name() string { return g.inner.Name() }

func (g *guardedProvider) InitiateCall(ctx context.Context, req CallRequest) (CallInfo, error) {
	var info CallInfo
	err := g.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		info, callErr = g.inner.InitiateCall(ctx, req)
		return callErr
	})
	if err != nil {
		return CallInfo{}, err
	}
	return info, nil
}
