package strategy

import (
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// RSIMeanReversion votes buy when RSI drops into oversold territory and
// sell when it climbs into overbought territory, betting on reversion.
type RSIMeanReversion struct {
	base
}

// NewRSIMeanReversion constructs a fresh RSIMeanReversion evaluator.
func NewRSIMeanReversion() *RSIMeanReversion {
	return &RSIMeanReversion{base: newBase()}
}

func (s *RSIMeanReversion) Name() string { return "rsi_mean_reversion" }

func (s *RSIMeanReversion) Init(p Params) { s.base.init(p) }

func (s *RSIMeanReversion) Reset() { s.base.reset() }

func (s *RSIMeanReversion) NotifyExecuted(symbol models.Symbol, side models.Side, at time.Time) {
	s.base.notifyExecuted(symbol, at)
}

func (s *RSIMeanReversion) GenerateSignal(symbol models.Symbol, series []Bar, currentPosition *models.Position) models.SignalVote {
	period := int(s.extra("rsi_period", 14))
	oversold := s.extra("oversold", 30)
	overbought := s.extra("overbought", 70)

	value, ok := rsi(closesOf(series), period)
	if !ok {
		return models.SignalVote{Source: s.Name(), Direction: models.DirectionHold, ReasonTag: "insufficient_history"}
	}

	raw := models.DirectionHold
	reason := "neutral"
	switch {
	case value <= oversold:
		raw = models.DirectionBuy
		reason = "oversold"
	case value >= overbought:
		raw = models.DirectionSell
		reason = "overbought"
	}

	bypass := exitOverride(currentPosition, raw)
	direction := s.base.confirmed(symbol, raw, bypass)
	if !bypass {
		direction = s.base.debounced(symbol, direction, series[len(series)-1].Time)
	}

	strength := 0.0
	switch {
	case value <= oversold && oversold > 0:
		strength = (oversold - value) / oversold
	case value >= overbought:
		strength = (value - overbought) / (100 - overbought)
	}
	return models.SignalVote{Source: s.Name(), Direction: direction, Strength: strength, ReasonTag: reason}
}
