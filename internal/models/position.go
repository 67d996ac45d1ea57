package models

import "time"

// Position is a held instrument, long or short, with the stop/target/
// trailing state the position manager mutates every iteration and the
// order-lifecycle bookkeeping the portfolio ledger needs to reconcile
// broker acknowledgements against its own state machine.
type Position struct {
	Symbol       Symbol     `json:"symbol"`
	Underlying   Underlying `json:"underlying"`
	Shares       int        `json:"shares"` // signed: positive long, negative short
	EntryPrice   Money      `json:"entry_price"`
	EntryTime    time.Time  `json:"entry_time"`
	Fees         Money      `json:"fees"`

	StopLoss            Money `json:"stop_loss"`
	TakeProfit          Money `json:"take_profit"`
	TrailingStopActive  bool  `json:"trailing_stop_active"`
	TrailingStop        Money `json:"trailing_stop"`
	HighestPriceSeen    Money `json:"highest_price_seen"`

	SectorTag         string  `json:"sector_tag"`
	ConfidenceAtEntry float64 `json:"confidence_at_entry"`
	StrategyTag       string  `json:"strategy_tag"`

	*StateMachine `json:"-"`
	State         PositionState `json:"state"`

	EntryOrderID string     `json:"entry_order_id,omitempty"`
	ExitOrderID  string      `json:"exit_order_id,omitempty"`
	ExitDate     *time.Time  `json:"exit_date,omitempty"`
	ExitReason   string      `json:"exit_reason,omitempty"`

	Expiry *time.Time `json:"expiry,omitempty"`
}

// NewPosition constructs a Position with a fresh idle state machine; callers
// transition it through Submitted/Open as order acknowledgements arrive.
func NewPosition(sym Symbol, underlying Underlying) *Position {
	return &Position{
		Symbol:       sym,
		Underlying:   underlying,
		StateMachine: NewStateMachine(),
		State:        StateIdle,
	}
}

// IsLong / IsShort describe the signed shares count.
func (p *Position) IsLong() bool  { return p.Shares > 0 }
func (p *Position) IsShort() bool { return p.Shares < 0 }

// AbsShares is the unsigned quantity held.
func (p *Position) AbsShares() int {
	if p.Shares < 0 {
		return -p.Shares
	}
	return p.Shares
}

// UnrealisedPnL computes mark-to-market PnL at lastPrice, guarding the empty
// position case (shares == 0) by returning 0.
func (p *Position) UnrealisedPnL(lastPrice Money) Money {
	if p.Shares == 0 {
		return 0
	}
	return (lastPrice - p.EntryPrice).Mul(p.Shares)
}

// PnLPercent returns UnrealisedPnL as a percentage of entry notional,
// guarding the zero-entry-price case per the spec's divide-by-zero hygiene
// requirement.
func (p *Position) PnLPercent(lastPrice Money) float64 {
	notional := p.EntryPrice.Mul(p.AbsShares())
	return p.UnrealisedPnL(lastPrice).Percent(notional)
}

// UpdateHighest records a new high-water mark if lastPrice exceeds the
// previously seen highest price (long positions only; the core treats
// options as long-only per spec's Open Question decision).
func (p *Position) UpdateHighest(lastPrice Money) {
	if lastPrice > p.HighestPriceSeen {
		p.HighestPriceSeen = lastPrice
	}
}

// DTE returns days-to-expiry for option positions, or -1 when Expiry is nil.
func (p *Position) DTE(now time.Time) int {
	if p.Expiry == nil {
		return -1
	}
	d := p.Expiry.Sub(now)
	if d < 0 {
		return 0
	}
	return int(d.Hours() / 24)
}

// Clone returns a deep copy safe to hand to callers outside the ledger's
// lock, including its own StateMachine.
func (p *Position) Clone() *Position {
	cp := *p
	if p.StateMachine != nil {
		cp.StateMachine = p.StateMachine.Copy()
	}
	if p.ExitDate != nil {
		t := *p.ExitDate
		cp.ExitDate = &t
	}
	if p.Expiry != nil {
		t := *p.Expiry
		cp.Expiry = &t
	}
	return &cp
}
