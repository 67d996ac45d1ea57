// Package positionmgr evaluates, for every held position on every
// iteration, the ordered waterfall of exit checks from spec §4.E and emits
// at most one exit directive per position per call.
package positionmgr

import (
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// ExitReason names which of the six ordered checks fired.
type ExitReason string

const (
	ExitNone        ExitReason = ""
	ExitMarketClose ExitReason = "market_close"
	ExitStopLoss    ExitReason = "stop_loss"
	ExitTakeProfit  ExitReason = "take_profit"
	ExitTrail       ExitReason = "trail"
	ExitIntelligent ExitReason = "intelligent"
	ExitAggregator  ExitReason = "aggregator"
)

// Config tunes the waterfall's thresholds, defaults matching spec §4.E.
type Config struct {
	FlattenWindowMinutes          int
	TrailingActivationMultiplier  float64
	TrailingStopMultiplier        float64
	IntelligentExitThreshold      float64
	ThetaPressureDays             int
	WeightPnL                     float64
	WeightTheta                   float64
	WeightStrategyHint            float64
	WeightConfidenceDecay         float64
}

// DefaultConfig matches spec §4.E's stated defaults.
func DefaultConfig() Config {
	return Config{
		FlattenWindowMinutes:         5,
		TrailingActivationMultiplier: 1.1,
		TrailingStopMultiplier:       0.9,
		IntelligentExitThreshold:     0.70,
		ThetaPressureDays:            2,
		WeightPnL:                    0.30,
		WeightTheta:                  0.30,
		WeightStrategyHint:           0.20,
		WeightConfidenceDecay:        0.20,
	}
}

// Input is everything one Evaluate call needs about a single position.
type Input struct {
	Position         *models.Position
	LastPrice        models.Money
	ATR              float64 // average true range, in rupees
	Now              time.Time
	SessionCloseTime time.Time // zero value means "not applicable" (e.g. backtest)
	LiveMode         bool
	AggregatorExit   bool // §4.D's output for this symbol was an exit on this iteration

	// StrategyExitHint is an optional [0,1] opinion from the owning
	// strategy that the position should be closed; 0 if not provided.
	StrategyExitHint float64
	// ConfidenceStillPasses reports whether the entry confidence that
	// opened this position would still clear the entry confidence gate on
	// refreshed data. false means confidence has decayed.
	ConfidenceStillPasses bool
}

// Decision is the waterfall's verdict for one position on one iteration.
type Decision struct {
	Should bool
	Reason ExitReason
	Score  float64 // the intelligent-exit composite score, for observability
}

// Evaluator runs the ordered exit waterfall.
type Evaluator struct {
	cfg Config
}

// New constructs an Evaluator.
func New(cfg Config) *Evaluator {
	return &Evaluator{cfg: cfg}
}

// Evaluate runs the six ordered checks from spec §4.E and returns the
// first one that fires, mutating the position's trailing-stop state along
// the way (step 4 always runs so the ratchet keeps moving even when an
// earlier check hasn't fired).
func (e *Evaluator) Evaluate(in Input) Decision {
	pos := in.Position
	if pos == nil || pos.Shares == 0 {
		return Decision{}
	}

	if in.LiveMode && !in.SessionCloseTime.IsZero() {
		flattenAt := in.SessionCloseTime.Add(-time.Duration(e.cfg.FlattenWindowMinutes) * time.Minute)
		if !in.Now.Before(flattenAt) {
			return Decision{Should: true, Reason: ExitMarketClose}
		}
	}

	if pos.IsLong() && in.LastPrice <= pos.StopLoss {
		return Decision{Should: true, Reason: ExitStopLoss}
	}
	if pos.IsLong() && in.LastPrice >= pos.TakeProfit {
		return Decision{Should: true, Reason: ExitTakeProfit}
	}

	e.updateTrailing(pos, in)
	if pos.TrailingStopActive && in.LastPrice <= pos.TrailingStop {
		return Decision{Should: true, Reason: ExitTrail}
	}

	score := e.intelligentScore(pos, in)
	if score >= e.cfg.IntelligentExitThreshold {
		return Decision{Should: true, Reason: ExitIntelligent, Score: score}
	}

	if in.AggregatorExit {
		return Decision{Should: true, Reason: ExitAggregator, Score: score}
	}
	return Decision{Score: score}
}

// updateTrailing activates the trailing stop once price has moved
// TrailingActivationMultiplier*ATR past entry, then ratchets the stop
// upward only (never loosens), and pulls the stop to break-even once price
// reaches the halfway mark to the take-profit target.
func (e *Evaluator) updateTrailing(pos *models.Position, in Input) {
	if in.ATR <= 0 {
		return // no usable volatility estimate; leave the existing stop alone
	}

	activationLevel := pos.EntryPrice + models.Rupees(in.ATR*e.cfg.TrailingActivationMultiplier)
	if !pos.TrailingStopActive {
		if in.LastPrice < activationLevel {
			return
		}
		pos.TrailingStopActive = true
		pos.TrailingStop = pos.StopLoss
	}

	candidate := in.LastPrice - models.Rupees(in.ATR*e.cfg.TrailingStopMultiplier)
	if candidate > pos.TrailingStop {
		pos.TrailingStop = candidate
	}

	if pos.TakeProfit > pos.EntryPrice {
		halfway := pos.EntryPrice + (pos.TakeProfit-pos.EntryPrice)/2
		if in.LastPrice >= halfway && pos.EntryPrice > pos.TrailingStop {
			pos.TrailingStop = pos.EntryPrice
		}
	}
}

// intelligentScore blends PnL pressure, theta decay proximity, a
// strategy-provided hint and entry-confidence decay into one [0,1] score,
// guarding every denominator per spec §4.E's divide-by-zero hygiene
// clause.
func (e *Evaluator) intelligentScore(pos *models.Position, in Input) float64 {
	pnlFactor := clamp01(-pos.PnLPercent(in.LastPrice) / 20)

	thetaFactor := 0.0
	if dte := pos.DTE(in.Now); dte >= 0 {
		span := float64(e.cfg.ThetaPressureDays + 1)
		thetaFactor = clamp01((span - float64(dte)) / span)
	}

	hintFactor := clamp01(in.StrategyExitHint)

	decayFactor := 0.0
	if !in.ConfidenceStillPasses {
		decayFactor = 1
	}

	totalWeight := e.cfg.WeightPnL + e.cfg.WeightTheta + e.cfg.WeightStrategyHint + e.cfg.WeightConfidenceDecay
	if totalWeight <= 0 {
		return 0
	}
	weighted := pnlFactor*e.cfg.WeightPnL + thetaFactor*e.cfg.WeightTheta +
		hintFactor*e.cfg.WeightStrategyHint + decayFactor*e.cfg.WeightConfidenceDecay
	return weighted / totalWeight
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
