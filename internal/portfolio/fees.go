package portfolio

import "github.com/nfocore/optionengine/internal/models"

// FeeSchedule computes per-trade fees as a flat component plus a slippage
// percentage of notional, per spec §4.F's "configurable schedule (default
// per-trade flat + slippage percent)".
type FeeSchedule struct {
	Flat         models.Money
	SlippagePct  float64
}

// DefaultFeeSchedule is a conservative flat-plus-slippage placeholder.
// cmd/engine passes it to portfolio.New unchanged; the configuration file
// has no fee settings.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{Flat: models.Rupees(20), SlippagePct: 0.0005}
}

// Compute returns the fee owed on a trade of the given notional value.
func (f FeeSchedule) Compute(notional models.Money) models.Money {
	return f.Flat + models.Rupees(notional.Float64()*f.SlippagePct)
}
