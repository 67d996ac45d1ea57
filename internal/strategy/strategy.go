// Package strategy implements the pluggable directional-signal evaluators
// that feed the aggregator: a shared confirmation/cooldown base plus five
// concrete indicator strategies, registered by name in a compile-time
// registry rather than resolved through dynamic class-name dispatch.
package strategy

import (
	"fmt"
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// Bar is one price observation a strategy's indicator math runs over.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Params configures a strategy instance: indicator periods, thresholds,
// confirmation-bar counts and cooldown minutes, per spec §4.C's Init
// contract.
type Params struct {
	ConfirmationBars int
	CooldownMinutes  int
	// Extra carries strategy-specific tunables (e.g. RSI period, band
	// width) so the shared Params type doesn't grow a field per strategy.
	Extra map[string]float64
}

// Strategy is the abstract contract every concrete strategy implements.
type Strategy struct {
	_ struct{} // prevent accidental literal construction; use the interface below
}

// Evaluator is the interface concrete strategies implement.
type Evaluator interface {
	Name() string
	Init(p Params)
	GenerateSignal(symbol models.Symbol, series []Bar, currentPosition *models.Position) models.SignalVote
	NotifyExecuted(symbol models.Symbol, side models.Side, at time.Time)
	Reset()
}

// Registry is the compile-time name -> constructor table named strategies
// resolve through at startup, replacing the source's dynamic class-name
// dispatch per DESIGN NOTES.
type Registry struct {
	constructors map[string]func() Evaluator
}

// NewRegistry builds a Registry pre-populated with the five strategies this
// core ships.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]func() Evaluator)}
	r.Register("ma_crossover", func() Evaluator { return NewMACrossover() })
	r.Register("rsi_mean_reversion", func() Evaluator { return NewRSIMeanReversion() })
	r.Register("bollinger_reversal", func() Evaluator { return NewBollingerReversal() })
	r.Register("volume_breakout", func() Evaluator { return NewVolumeBreakout() })
	r.Register("momentum", func() Evaluator { return NewMomentum() })
	return r
}

// Register adds (or overrides, in tests) a named constructor.
func (r *Registry) Register(name string, ctor func() Evaluator) {
	r.constructors[name] = ctor
}

// Resolve looks up a strategy by name and constructs a fresh instance.
// Unknown names fail fast with a clear error, per DESIGN NOTES.
func (r *Registry) Resolve(name string) (Evaluator, error) {
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("strategy: unknown strategy name %q", name)
	}
	return ctor(), nil
}
