// Package models holds the value types shared by every component of the
// engine: money, symbols, instruments, option chains, positions, trades and
// the portfolio's own summary types.
package models

import (
	"fmt"
	"math"
)

// moneyScale is the fixed-point denominator: Money stores ten-thousandths of
// a rupee, i.e. four fractional digits, so per-unit prices (option premia,
// strikes, stop/target levels) keep their full quoted precision instead of
// being pre-rounded to the nearest paisa. Cash-style amounts (balances,
// P&L, fees) are still exact at this scale; they just render at two
// fractional digits by convention (String), not because the stored value
// lost the other two.
const moneyScale = 10000

// Money is a fixed-point amount stored in ten-thousandths of a rupee to
// keep cash and price*quantity arithmetic free of float drift, at a
// precision fine enough for both the two-fractional-digit currency amounts
// and the four-fractional-digit per-unit prices this engine handles.
type Money int64

// Rupees constructs a Money value from a float64 rupee amount, applying
// banker's rounding (round-half-to-even) at the ten-thousandths boundary.
func Rupees(v float64) Money {
	return Money(roundBankers(v * moneyScale))
}

// Float64 returns the rupee value as a float64. Use only for display or for
// feeding rate-oriented computations (RRR, sizing ratios); never round-trip
// through this for further Money arithmetic.
func (m Money) Float64() float64 {
	return float64(m) / moneyScale
}

// String renders the amount with two fractional digits, the display
// convention for cash-style amounts (balances, P&L, fees).
func (m Money) String() string {
	return fmt.Sprintf("%.2f", m.Float64())
}

// PriceString renders the amount with four fractional digits, the display
// convention for per-unit prices (option premia, strikes, stop/target
// levels) that can legitimately carry a fractional-paisa quote.
func (m Money) PriceString() string {
	return fmt.Sprintf("%.4f", m.Float64())
}

// Mul multiplies a Money amount by an integer quantity; used for
// shares*price style computations where quantity is always integral.
func (m Money) Mul(qty int) Money {
	return Money(int64(m) * int64(qty))
}

// Add, Sub are provided for readability at call sites that would otherwise
// mix Money and raw int64 additions.
func (m Money) Add(o Money) Money { return m + o }
func (m Money) Sub(o Money) Money { return m - o }

// Div divides m by an integer quantity (e.g. blending an average entry
// price across lots), guarding n == 0 by returning 0 rather than panicking.
func (m Money) Div(n int) Money {
	if n == 0 {
		return 0
	}
	return Money(int64(m) / int64(n))
}

// Percent returns m as a percentage of base, guarding base == 0 by returning
// 0 rather than propagating NaN/Inf, per the spec's divide-by-zero hygiene
// requirement.
func (m Money) Percent(base Money) float64 {
	if base == 0 {
		return 0
	}
	return float64(m) / float64(base) * 100
}

func roundBankers(v float64) int64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	floor := math.Floor(v)
	diff := v - floor
	switch {
	case diff < 0.5:
		return int64(floor)
	case diff > 0.5:
		return int64(floor) + 1
	default:
		// exactly .5: round to even
		if int64(floor)%2 == 0 {
			return int64(floor)
		}
		return int64(floor) + 1
	}
}
