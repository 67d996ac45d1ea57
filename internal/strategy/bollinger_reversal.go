package strategy

import (
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// BollingerReversal votes buy when price closes below the lower band and
// sell when it closes above the upper band, betting the close reverts
// back toward the moving-average centre line.
type BollingerReversal struct {
	base
}

// NewBollingerReversal constructs a fresh BollingerReversal evaluator.
func NewBollingerReversal() *BollingerReversal {
	return &BollingerReversal{base: newBase()}
}

func (s *BollingerReversal) Name() string { return "bollinger_reversal" }

func (s *BollingerReversal) Init(p Params) { s.base.init(p) }

func (s *BollingerReversal) Reset() { s.base.reset() }

func (s *BollingerReversal) NotifyExecuted(symbol models.Symbol, side models.Side, at time.Time) {
	s.base.notifyExecuted(symbol, at)
}

func (s *BollingerReversal) GenerateSignal(symbol models.Symbol, series []Bar, currentPosition *models.Position) models.SignalVote {
	period := int(s.extra("period", 20))
	width := s.extra("width", 2)

	closes := closesOf(series)
	mean, sd, ok := stddev(closes, period)
	if !ok {
		return models.SignalVote{Source: s.Name(), Direction: models.DirectionHold, ReasonTag: "insufficient_history"}
	}
	upper := mean + width*sd
	lower := mean - width*sd
	last := closes[len(closes)-1]

	raw := models.DirectionHold
	reason := "inside_bands"
	switch {
	case last < lower:
		raw = models.DirectionBuy
		reason = "below_lower_band"
	case last > upper:
		raw = models.DirectionSell
		reason = "above_upper_band"
	}

	bypass := exitOverride(currentPosition, raw)
	direction := s.base.confirmed(symbol, raw, bypass)
	if !bypass {
		direction = s.base.debounced(symbol, direction, series[len(series)-1].Time)
	}

	strength := 0.0
	if sd > 0 {
		switch raw {
		case models.DirectionBuy:
			strength = (lower - last) / sd
		case models.DirectionSell:
			strength = (last - upper) / sd
		}
		if strength > 1 {
			strength = 1
		}
	}
	return models.SignalVote{Source: s.Name(), Direction: direction, Strength: strength, ReasonTag: reason}
}
