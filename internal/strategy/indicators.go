package strategy

import (
	"math"

	"github.com/nfocore/optionengine/internal/models"
)

// sma returns the simple moving average of the last period closes, or
// (0, false) if series is too short.
func sma(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period {
		return 0, false
	}
	sum := 0.0
	for _, c := range closes[len(closes)-period:] {
		sum += c
	}
	return sum / float64(period), true
}

// stddev returns the population standard deviation of the last period
// closes around their own mean.
func stddev(closes []float64, period int) (mean, sd float64, ok bool) {
	mean, ok = sma(closes, period)
	if !ok {
		return 0, 0, false
	}
	window := closes[len(closes)-period:]
	var sumSq float64
	for _, c := range window {
		d := c - mean
		sumSq += d * d
	}
	return mean, math.Sqrt(sumSq / float64(period)), true
}

// rsi computes the Wilder relative strength index over the last period+1
// closes (period deltas), or (0, false) if series is too short.
func rsi(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}
	window := closes[len(closes)-(period+1):]
	var gainSum, lossSum float64
	for i := 1; i < len(window); i++ {
		delta := window[i] - window[i-1]
		if delta > 0 {
			gainSum += delta
		} else {
			lossSum += -delta
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// rateOfChange returns the percentage change between the latest close and
// the close `period` bars back, or (0, false) if series is too short.
func rateOfChange(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) <= period {
		return 0, false
	}
	prior := closes[len(closes)-1-period]
	if prior == 0 {
		return 0, false
	}
	latest := closes[len(closes)-1]
	return (latest - prior) / prior * 100, true
}

// averageVolume returns the mean volume of the last period bars, or
// (0, false) if series is too short.
func averageVolume(bars []Bar, period int) (float64, bool) {
	if period <= 0 || len(bars) < period {
		return 0, false
	}
	window := bars[len(bars)-period:]
	var sum float64
	for _, b := range window {
		sum += b.Volume
	}
	return sum / float64(period), true
}

func closesOf(bars []Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// recentHighLow returns the highest High and lowest Low over the last
// period bars excluding the most recent one (the breakout reference
// range), or (0, 0, false) if series is too short.
func recentHighLow(bars []Bar, period int) (high, low float64, ok bool) {
	if period <= 0 || len(bars) <= period {
		return 0, 0, false
	}
	window := bars[len(bars)-1-period : len(bars)-1]
	high = window[0].High
	low = window[0].Low
	for _, b := range window[1:] {
		if b.High > high {
			high = b.High
		}
		if b.Low < low {
			low = b.Low
		}
	}
	return high, low, true
}

// exitOverride reports whether raw represents a signal opposite to
// currentPosition's existing direction, meaning it is an exit signal that
// should bypass confirmation-bar counting and cooldown debouncing, per
// spec §4.C's position-awareness clause.
func exitOverride(currentPosition *models.Position, raw models.Direction) bool {
	if currentPosition == nil || raw == models.DirectionHold {
		return false
	}
	if currentPosition.IsLong() && raw == models.DirectionSell {
		return true
	}
	if currentPosition.IsShort() && raw == models.DirectionBuy {
		return true
	}
	return false
}
