package models

import (
	"errors"
	"sort"
	"time"
)

// ErrSpotUnavailable and ErrChainTooSparse are the option-chain failure
// modes named in the chain-construction contract.
var (
	ErrSpotUnavailable = errors.New("optionchain: spot price unavailable")
	ErrChainTooSparse  = errors.New("optionchain: fewer strikes paired than the configured minimum")
)

// OptionContract is a single CE or PE leg with its latest quote fields.
type OptionContract struct {
	Symbol           Symbol     `json:"symbol"`
	Strike           Money      `json:"strike"`
	Expiry           time.Time  `json:"expiry"`
	Type             OptionType `json:"type"`
	LotSize          int        `json:"lot_size"`
	LastPrice        Money      `json:"last_price"`
	Bid              Money      `json:"bid"`
	Ask              Money      `json:"ask"`
	Volume           int64      `json:"volume"`
	OpenInterest     int64      `json:"open_interest"`
	ImpliedVol       *float64   `json:"implied_volatility,omitempty"`
	LastPriceAt      time.Time  `json:"last_price_timestamp"`
	Stale            bool       `json:"stale"`
}

// StrikeLegs pairs the call and put contracts at one strike.
type StrikeLegs struct {
	Strike Money
	Call   *OptionContract
	Put    *OptionContract
}

// OptionChain is the per-iteration, non-persisted view of one underlying's
// tradable strikes for a resolved expiry.
type OptionChain struct {
	Underlying Underlying
	Expiry     time.Time
	SpotPrice  Money
	BuiltAt    time.Time
	Strikes    []StrikeLegs // ascending by Strike
}

// ATMStrike returns the strike minimising |strike - spot|; ties resolve to
// the lower strike.
func (c *OptionChain) ATMStrike() (Money, bool) {
	if len(c.Strikes) == 0 {
		return 0, false
	}
	best := c.Strikes[0]
	bestDiff := absMoney(best.Strike - c.SpotPrice)
	for _, sl := range c.Strikes[1:] {
		diff := absMoney(sl.Strike - c.SpotPrice)
		if diff < bestDiff || (diff == bestDiff && sl.Strike < best.Strike) {
			best, bestDiff = sl, diff
		}
	}
	return best.Strike, true
}

func absMoney(m Money) Money {
	if m < 0 {
		return -m
	}
	return m
}

// SortStrikes orders Strikes ascending. The chain construction helpers emit
// strikes in distance-from-spot order, so BuildChain calls this last.
func (c *OptionChain) SortStrikes() {
	sort.Slice(c.Strikes, func(i, j int) bool { return c.Strikes[i].Strike < c.Strikes[j].Strike })
}

// ChainStats holds bonus derived statistics over a built chain: not part of
// the required contract, but cheap to compute from data already fetched and
// useful to strategies that want a sentiment signal.
type ChainStats struct {
	TotalCallOI int64
	TotalPutOI  int64
	PCR         float64 // TotalPutOI / TotalCallOI, 0 if call OI is 0
	MaxPain     Money
}

// Stats computes ChainStats over the chain's paired strikes.
func (c *OptionChain) Stats() ChainStats {
	var stats ChainStats
	for _, sl := range c.Strikes {
		if sl.Call != nil {
			stats.TotalCallOI += sl.Call.OpenInterest
		}
		if sl.Put != nil {
			stats.TotalPutOI += sl.Put.OpenInterest
		}
	}
	if stats.TotalCallOI > 0 {
		stats.PCR = float64(stats.TotalPutOI) / float64(stats.TotalCallOI)
	}
	stats.MaxPain = c.maxPain()
	return stats
}

// maxPain finds the strike that minimises the combined notional loss to
// option writers if the underlying settled there at expiry — the same
// aggregate-pain construction used by NSE's published max-pain figure.
func (c *OptionChain) maxPain() Money {
	if len(c.Strikes) == 0 {
		return 0
	}
	var bestStrike Money
	var bestPain Money = -1
	for _, candidate := range c.Strikes {
		var pain Money
		for _, sl := range c.Strikes {
			if sl.Call != nil && candidate.Strike > sl.Strike {
				pain += (candidate.Strike - sl.Strike).Mul(int(sl.Call.OpenInterest))
			}
			if sl.Put != nil && sl.Strike > candidate.Strike {
				pain += (sl.Strike - candidate.Strike).Mul(int(sl.Put.OpenInterest))
			}
		}
		if bestPain == -1 || pain < bestPain {
			bestPain, bestStrike = pain, candidate.Strike
		}
	}
	return bestStrike
}
