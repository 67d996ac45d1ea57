// Package ratelimit provides the process-global, per-API-key token bucket
// the broker client serialises all outbound calls through.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate.Limiter with the explicit
// calls-per-second/burst configuration vocabulary the spec names, and a
// cancellation-aware Wait that observes the scheduler's cancellation token
// before blocking, per §5's suspension-point contract.
type Limiter struct {
	mu  sync.Mutex
	rl  *rate.Limiter
}

// New builds a Limiter refilling at callsPerSecond with the given burst
// capacity. rate.Limiter is the refill primitive; burst accounting itself is
// exactly rate.Limiter's own token bucket, so no extra bookkeeping is layered
// on top beyond exposing the vocabulary the spec uses (calls_per_second,
// burst_limit).
func New(callsPerSecond float64, burst int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(callsPerSecond), burst)}
}

// Wait blocks (respecting ctx cancellation) until a token is available, per
// the spec's "caller sleeps until the next token is available" rule.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// Allow reports whether a token is immediately available, consuming one if
// so, without blocking.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// SetLimit reconfigures the refill rate and burst at runtime (config hot
// reload is not in scope, but tests reuse this to model different
// configurations without constructing a fresh limiter).
func (l *Limiter) SetLimit(callsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rl.SetLimit(rate.Limit(callsPerSecond))
	l.rl.SetBurst(burst)
}

// Registry is the per-API-key singleton map the spec's "process-global per
// API key" language implies: one Limiter instance per broker API key, shared
// by every caller that presents that key.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	cps      float64
	burst    int
}

// NewRegistry builds a Registry that lazily constructs one Limiter per key
// using the given default calls-per-second/burst configuration.
func NewRegistry(callsPerSecond float64, burst int) *Registry {
	return &Registry{limiters: make(map[string]*Limiter), cps: callsPerSecond, burst: burst}
}

// For returns the Limiter for apiKey, creating it on first use.
func (r *Registry) For(apiKey string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[apiKey]
	if !ok {
		l = New(r.cps, r.burst)
		r.limiters[apiKey] = l
	}
	return l
}
