package models

import "time"

// DataFormatVersion is stamped into every archive's metadata block.
const DataFormatVersion = "2.0"

// ArchiveMetadata identifies one archive file.
type ArchiveMetadata struct {
	TradingDay        string    `json:"trading_day"`
	TradingMode       Mode      `json:"trading_mode"`
	ExportTimestamp   time.Time `json:"export_timestamp"`
	SystemVersion     string    `json:"system_version"`
	DataFormatVersion string    `json:"data_format_version"`
}

// DailySummary aggregates the day's trades for quick inspection without
// replaying the full trade list.
type DailySummary struct {
	TotalTrades        int            `json:"total_trades"`
	BuyTrades          int            `json:"buy_trades"`
	SellTrades         int            `json:"sell_trades"`
	ClosedTrades       int            `json:"closed_trades"`
	OpenTrades         int            `json:"open_trades"`
	TotalPnL           Money          `json:"total_pnl"`
	TotalFees          Money          `json:"total_fees"`
	NetPnL             Money          `json:"net_pnl"`
	WinningTrades      int            `json:"winning_trades"`
	LosingTrades       int            `json:"losing_trades"`
	WinRatePct         float64        `json:"win_rate_pct"`
	SymbolsTraded      []string       `json:"symbols_traded"`
	UniqueSymbolsCount int            `json:"unique_symbols_count"`
	SectorDistribution map[string]int `json:"sector_distribution"`
}

// PortfolioState captures the cash/position bookends of the archived day.
type PortfolioState struct {
	OpeningCash             Money      `json:"opening_cash"`
	ClosingCash             Money      `json:"closing_cash"`
	Stats                   Statistics `json:"cumulative"`
	ActivePositions         int        `json:"active_positions"`
	OpenPositionsMarkValue  Money      `json:"open_positions_mark_value"`
	OpenPositionsUnrealised Money      `json:"open_positions_unrealised_pnl"`
}

// OpenPositionsBlock captures the still-open book at archival time.
type OpenPositionsBlock struct {
	CapturedAt time.Time  `json:"captured_at"`
	Positions  []Position `json:"positions"`
}

// DataIntegrity lets a reader detect a truncated or corrupted archive
// without fully re-parsing the trade list.
type DataIntegrity struct {
	TradeCount          int       `json:"trade_count"`
	Checksum            uint64    `json:"checksum"`
	FirstTradeTimestamp time.Time `json:"first_trade_timestamp"`
	LastTradeTimestamp  time.Time `json:"last_trade_timestamp"`
	LastTradeID         string    `json:"last_trade_id"`
}

// ArchiveRecord is the full day snapshot written to
// trade_archives/<YYYY>/<MM>/trades_<YYYY-MM-DD>_<mode>.json (and mirrored,
// bit-compatible, to trade_archives_backup/...).
type ArchiveRecord struct {
	Metadata        ArchiveMetadata     `json:"metadata"`
	DailySummary    DailySummary        `json:"daily_summary"`
	PortfolioState  PortfolioState      `json:"portfolio_state"`
	Trades          []Trade             `json:"trades"` // sequence_number order
	OpenPositions   OpenPositionsBlock  `json:"open_positions"`
	DataIntegrity   DataIntegrity       `json:"data_integrity"`
}

// RestorationPosition is one entry of the next-day restoration file.
type RestorationPosition struct {
	Position        Position `json:"position"`
	CurrentPrice    Money    `json:"current_price"`
	UnrealisedPnL   Money    `json:"unrealized_pnl"`
	SavedAt         time.Time `json:"saved_at"`
}

// RestorationFile is saved_trades/fno_positions_<NEXT-TRADING-DAY>.json.
type RestorationFile struct {
	TargetDate          string                          `json:"target_date"`
	SavedAt             time.Time                       `json:"saved_at"`
	Positions           map[string]RestorationPosition  `json:"positions"`
	TotalPositions      int                             `json:"total_positions"`
	TotalValue          Money                           `json:"total_value"`
	TotalUnrealisedPnL  Money                            `json:"total_unrealized_pnl"`
}

// Checkpoint is written every iteration (atomic rename) so a crash can be
// diagnosed and a graceful shutdown has a final state to point at.
type Checkpoint struct {
	Mode       Mode               `json:"mode"`
	Iteration  int64              `json:"iteration"`
	TradingDay string             `json:"trading_day"`
	LastUpdate time.Time          `json:"last_update"`
	Portfolio  PortfolioSnapshot  `json:"portfolio"`
	TotalValue Money              `json:"total_value"`
}
