package scheduler

import "github.com/nfocore/optionengine/internal/strategy"

// defaultATRPeriod is the conventional 14-bar ATR window.
const defaultATRPeriod = 14

// computeATR averages true range over the trailing period bars, the same
// simple-moving-average style the strategy package's indicators use rather
// than Wilder's smoothed variant. Returns 0 (disabling trailing-stop
// updates per spec, never causing a spurious exit) when fewer than two
// bars are available.
func computeATR(bars []strategy.Bar, period int) float64 {
	if len(bars) < 2 {
		return 0
	}
	if period <= 0 || period > len(bars)-1 {
		period = len(bars) - 1
	}

	start := len(bars) - period
	var sum float64
	for i := start; i < len(bars); i++ {
		cur, prev := bars[i], bars[i-1]
		tr := cur.High - cur.Low
		if d := absFloat(cur.High - prev.Close); d > tr {
			tr = d
		}
		if d := absFloat(cur.Low - prev.Close); d > tr {
			tr = d
		}
		sum += tr
	}
	return sum / float64(period)
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
