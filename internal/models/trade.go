package models

import "time"

// Side is which side of the ledger a Trade represents.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Trade is an immutable, append-only ledger entry. Once written it is never
// mutated; corrections happen by appending a new trade.
type Trade struct {
	TradeID           string    `json:"trade_id"` // YYYY-MM-DD-<mode>-NNNN
	SequenceNumber    int64     `json:"sequence_number"`
	Timestamp         time.Time `json:"timestamp"` // IST
	Symbol            Symbol    `json:"symbol"`
	Side              Side      `json:"side"`
	Shares            int       `json:"shares"`
	Price             Money     `json:"price"`
	Fees              Money     `json:"fees"`
	PnL               *Money    `json:"pnl,omitempty"` // only on closing trades
	Sector            string    `json:"sector"`
	Confidence        float64   `json:"confidence"`
	Strategy          string    `json:"strategy"`
	CashBalanceAfter  Money     `json:"cash_balance_after"`
}
