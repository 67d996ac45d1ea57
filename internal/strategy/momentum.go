package strategy

import (
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// Momentum votes buy when the rate of change over the lookback period
// exceeds a positive threshold and sell when it falls below its negative
// mirror, trading in the direction of an established trend.
type Momentum struct {
	base
}

// NewMomentum constructs a fresh Momentum evaluator.
func NewMomentum() *Momentum {
	return &Momentum{base: newBase()}
}

func (s *Momentum) Name() string { return "momentum" }

func (s *Momentum) Init(p Params) { s.base.init(p) }

func (s *Momentum) Reset() { s.base.reset() }

func (s *Momentum) NotifyExecuted(symbol models.Symbol, side models.Side, at time.Time) {
	s.base.notifyExecuted(symbol, at)
}

func (s *Momentum) GenerateSignal(symbol models.Symbol, series []Bar, currentPosition *models.Position) models.SignalVote {
	period := int(s.extra("lookback", 10))
	threshold := s.extra("threshold_pct", 1.0)

	roc, ok := rateOfChange(closesOf(series), period)
	if !ok {
		return models.SignalVote{Source: s.Name(), Direction: models.DirectionHold, ReasonTag: "insufficient_history"}
	}

	raw := models.DirectionHold
	reason := "flat"
	switch {
	case roc >= threshold:
		raw = models.DirectionBuy
		reason = "positive_momentum"
	case roc <= -threshold:
		raw = models.DirectionSell
		reason = "negative_momentum"
	}

	bypass := exitOverride(currentPosition, raw)
	direction := s.base.confirmed(symbol, raw, bypass)
	if !bypass {
		direction = s.base.debounced(symbol, direction, series[len(series)-1].Time)
	}

	strength := roc / 100
	if strength < 0 {
		strength = -strength
	}
	if strength > 1 {
		strength = 1
	}
	return models.SignalVote{Source: s.Name(), Direction: direction, Strength: strength, ReasonTag: reason}
}
