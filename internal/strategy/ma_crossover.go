package strategy

import (
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// MACrossover votes buy/sell on a fast/slow simple-moving-average
// crossover: fast above slow is bullish, fast below slow is bearish.
type MACrossover struct {
	base
}

// NewMACrossover constructs a fresh MACrossover evaluator.
func NewMACrossover() *MACrossover {
	return &MACrossover{base: newBase()}
}

func (s *MACrossover) Name() string { return "ma_crossover" }

func (s *MACrossover) Init(p Params) { s.base.init(p) }

func (s *MACrossover) Reset() { s.base.reset() }

func (s *MACrossover) NotifyExecuted(symbol models.Symbol, side models.Side, at time.Time) {
	s.base.notifyExecuted(symbol, at)
}

func (s *MACrossover) GenerateSignal(symbol models.Symbol, series []Bar, currentPosition *models.Position) models.SignalVote {
	fastPeriod := int(s.extra("fast_period", 5))
	slowPeriod := int(s.extra("slow_period", 20))
	closes := closesOf(series)

	fast, okFast := sma(closes, fastPeriod)
	slow, okSlow := sma(closes, slowPeriod)
	if !okFast || !okSlow || slow == 0 {
		return models.SignalVote{Source: s.Name(), Direction: models.DirectionHold, ReasonTag: "insufficient_history"}
	}

	spread := (fast - slow) / slow
	raw := models.DirectionHold
	switch {
	case spread > 0:
		raw = models.DirectionBuy
	case spread < 0:
		raw = models.DirectionSell
	}

	bypass := exitOverride(currentPosition, raw)
	direction := s.base.confirmed(symbol, raw, bypass)
	if !bypass {
		direction = s.base.debounced(symbol, direction, series[len(series)-1].Time)
	}

	strength := spread
	if strength < 0 {
		strength = -strength
	}
	if strength > 1 {
		strength = 1
	}

	reason := "fast_above_slow"
	if raw == models.DirectionSell {
		reason = "fast_below_slow"
	}
	return models.SignalVote{Source: s.Name(), Direction: direction, Strength: strength, ReasonTag: reason}
}
