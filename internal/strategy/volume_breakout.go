package strategy

import (
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// VolumeBreakout votes buy when the latest close breaks above the recent
// high on above-average volume, and sell on the mirrored breakdown,
// treating a volume spike as confirmation a breakout is real.
type VolumeBreakout struct {
	base
}

// NewVolumeBreakout constructs a fresh VolumeBreakout evaluator.
func NewVolumeBreakout() *VolumeBreakout {
	return &VolumeBreakout{base: newBase()}
}

func (s *VolumeBreakout) Name() string { return "volume_breakout" }

func (s *VolumeBreakout) Init(p Params) { s.base.init(p) }

func (s *VolumeBreakout) Reset() { s.base.reset() }

func (s *VolumeBreakout) NotifyExecuted(symbol models.Symbol, side models.Side, at time.Time) {
	s.base.notifyExecuted(symbol, at)
}

func (s *VolumeBreakout) GenerateSignal(symbol models.Symbol, series []Bar, currentPosition *models.Position) models.SignalVote {
	period := int(s.extra("range_period", 20))
	volMultiple := s.extra("volume_multiple", 1.5)

	high, low, okRange := recentHighLow(series, period)
	avgVol, okVol := averageVolume(series, period)
	if !okRange || !okVol || avgVol == 0 {
		return models.SignalVote{Source: s.Name(), Direction: models.DirectionHold, ReasonTag: "insufficient_history"}
	}

	last := series[len(series)-1]
	volumeConfirmed := last.Volume >= avgVol*volMultiple

	raw := models.DirectionHold
	reason := "no_breakout"
	switch {
	case last.Close > high && volumeConfirmed:
		raw = models.DirectionBuy
		reason = "breakout_above_range"
	case last.Close < low && volumeConfirmed:
		raw = models.DirectionSell
		reason = "breakdown_below_range"
	}

	bypass := exitOverride(currentPosition, raw)
	direction := s.base.confirmed(symbol, raw, bypass)
	if !bypass {
		direction = s.base.debounced(symbol, direction, last.Time)
	}

	strength := last.Volume / avgVol / volMultiple
	if strength > 1 {
		strength = 1
	}
	if raw == models.DirectionHold {
		strength = 0
	}
	return models.SignalVote{Source: s.Name(), Direction: direction, Strength: strength, ReasonTag: reason}
}
