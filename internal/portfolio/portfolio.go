// Package portfolio is the ledger: the single writer of cash and position
// state, generalized from the teacher's single-current-position
// JSONStorage into a map[Symbol]*Position book with an append-only trade
// log, per spec §4.F.
package portfolio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nfocore/optionengine/internal/clock"
	"github.com/nfocore/optionengine/internal/models"
)

var (
	ErrInsufficientFunds = errors.New("portfolio: insufficient funds")
	ErrNoPosition        = errors.New("portfolio: no matching position")
	ErrSameBarExit       = errors.New("portfolio: cannot exit a position entered on the same bar")
)

// recentTradesLimit mirrors the dashboard sink contract's "last 50 trades".
const recentTradesLimit = 50

// OrderContext carries the per-order metadata the ledger records alongside
// cash/position mutation, but does not itself decide.
type OrderContext struct {
	Now        time.Time
	Underlying models.Underlying
	Sector     string
	Confidence float64
	Strategy   string

	// StopLoss and TakeProfit seed a brand-new position's exit levels.
	// Ignored when Buy adds to an already-open position: averaging in
	// does not reset the levels the position manager is already tracking.
	StopLoss   models.Money
	TakeProfit models.Money
}

// Ledger is the single writer of cash, open positions and the trade log.
// A single sync.Mutex (not reentrant) guards every mutation; Snapshot takes the same
// lock so balance and position reads are always mutually consistent.
type Ledger struct {
	mu          sync.Mutex
	mode        models.Mode
	cash        models.Money
	initialCash models.Money
	positions   map[models.Symbol]*models.Position
	trades      []models.Trade
	stats       models.Statistics
	fees        FeeSchedule
	clock       clock.Clock

	tradingDay string
	tradeSeq   int
	seqCounter int64
}

// New constructs a Ledger with the given starting cash. Passing a nil
// clock.Clock panics at construction, matching the module's fail-fast
// dependency-guard convention.
func New(mode models.Mode, initialCash models.Money, fees FeeSchedule, c clock.Clock) *Ledger {
	if c == nil {
		panic("portfolio.New: clock must not be nil")
	}
	return &Ledger{
		mode:        mode,
		cash:        initialCash,
		initialCash: initialCash,
		positions:   make(map[models.Symbol]*models.Position),
		fees:        fees,
		clock:       c,
	}
}

// SetTradingDay resets the per-day trade sequence counter used to build
// trade_id values formatted YYYY-MM-DD-<mode>-NNNN.
func (l *Ledger) SetTradingDay(day string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tradingDay = day
	l.tradeSeq = 0
}

func (l *Ledger) nextTradeID() string {
	l.tradeSeq++
	return fmt.Sprintf("%s-%s-%04d", l.tradingDay, l.mode, l.tradeSeq)
}

// Buy deducts cash, upserts the position (blending the average entry price
// if one already exists) and appends a Trade, all under one lock
// acquisition so no external observer ever sees cash debited without the
// position recorded.
func (l *Ledger) Buy(symbol models.Symbol, shares int, price models.Money, ctx OrderContext) (models.Trade, error) {
	notional := price.Mul(shares)
	fee := l.fees.Compute(notional)
	cost := notional + fee

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cash < cost {
		return models.Trade{}, ErrInsufficientFunds
	}
	l.cash -= cost

	pos, ok := l.positions[symbol]
	if !ok {
		pos = models.NewPosition(symbol, ctx.Underlying)
		pos.EntryTime = ctx.Now
		pos.SectorTag = ctx.Sector
		pos.ConfidenceAtEntry = ctx.Confidence
		pos.StrategyTag = ctx.Strategy
		pos.StopLoss = ctx.StopLoss
		pos.TakeProfit = ctx.TakeProfit
		l.positions[symbol] = pos
	}

	totalShares := pos.Shares + shares
	blendedNotional := pos.EntryPrice.Mul(pos.Shares) + price.Mul(shares)
	pos.EntryPrice = blendedNotional.Div(totalShares)
	pos.Shares = totalShares
	pos.Fees += fee
	pos.HighestPriceSeen = pos.EntryPrice

	l.seqCounter++
	trade := models.Trade{
		TradeID:          l.nextTradeID(),
		SequenceNumber:   l.seqCounter,
		Timestamp:        ctx.Now,
		Symbol:           symbol,
		Side:             models.SideBuy,
		Shares:           shares,
		Price:            price,
		Fees:             fee,
		Sector:           ctx.Sector,
		Confidence:       ctx.Confidence,
		Strategy:         ctx.Strategy,
		CashBalanceAfter: l.cash,
	}
	l.appendTrade(trade)
	return trade, nil
}

// Sell decrements the position, credits cash, and appends a closing Trade
// with realised PnL. forceAllowImmediate bypasses the same-bar check
// (used only by the market-close force-flatten path, which must be able
// to close a position opened moments earlier in the same session).
func (l *Ledger) Sell(symbol models.Symbol, shares int, price models.Money, ctx OrderContext, forceAllowImmediate bool) (models.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok || pos.AbsShares() < shares {
		return models.Trade{}, ErrNoPosition
	}
	if !forceAllowImmediate && !pos.EntryTime.Before(ctx.Now) {
		return models.Trade{}, ErrSameBarExit
	}

	notional := price.Mul(shares)
	fee := l.fees.Compute(notional)
	proceeds := notional - fee
	pnl := (price - pos.EntryPrice).Mul(shares) - fee

	l.cash += proceeds
	pos.Shares -= shares
	if pos.Shares == 0 {
		delete(l.positions, symbol)
	}

	l.seqCounter++
	trade := models.Trade{
		TradeID:          l.nextTradeID(),
		SequenceNumber:   l.seqCounter,
		Timestamp:        ctx.Now,
		Symbol:           symbol,
		Side:             models.SideSell,
		Shares:           shares,
		Price:            price,
		Fees:             fee,
		PnL:              &pnl,
		Sector:           ctx.Sector,
		Confidence:       ctx.Confidence,
		Strategy:         ctx.Strategy,
		CashBalanceAfter: l.cash,
	}
	l.appendTrade(trade)
	l.updateStats(pnl)
	return trade, nil
}

func (l *Ledger) appendTrade(t models.Trade) {
	l.trades = append(l.trades, t)
	l.stats.TotalTrades++
}

func (l *Ledger) updateStats(pnl models.Money) {
	if pnl >= 0 {
		l.stats.WinningTrades++
	} else {
		l.stats.LosingTrades++
	}
	if pnl > l.stats.BestTrade {
		l.stats.BestTrade = pnl
	}
	if pnl < l.stats.WorstTrade {
		l.stats.WorstTrade = pnl
	}
	l.stats.TotalPnLCumulative += pnl
}

// UpdateStop sets a position's stop-loss. Idempotent: setting the same
// value twice has no additional effect.
func (l *Ledger) UpdateStop(symbol models.Symbol, newStop models.Money) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return ErrNoPosition
	}
	pos.StopLoss = newStop
	return nil
}

// UpdateTrailingState idempotently records the trailing-stop fields the
// position manager computed for symbol.
func (l *Ledger) UpdateTrailingState(symbol models.Symbol, active bool, stop models.Money) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return ErrNoPosition
	}
	pos.TrailingStopActive = active
	pos.TrailingStop = stop
	return nil
}

// Position returns a defensive copy of the held position for symbol, or
// nil if none is held.
func (l *Ledger) Position(symbol models.Symbol) *models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[symbol]
	if !ok {
		return nil
	}
	return pos.Clone()
}

// OpenPositionsForUnderlying counts currently held positions sharing
// underlying, for the risk package's concentration gate.
func (l *Ledger) OpenPositionsForUnderlying(underlying models.Underlying) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, pos := range l.positions {
		if pos.Underlying == underlying {
			n++
		}
	}
	return n
}

// Snapshot returns a consistent, safe-to-share copy of cash, positions and
// recent trades captured under one lock acquisition.
func (l *Ledger) Snapshot() models.PortfolioSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make(map[models.Symbol]*models.Position, len(l.positions))
	for sym, pos := range l.positions {
		positions[sym] = pos.Clone()
	}

	recent := l.trades
	if len(recent) > recentTradesLimit {
		recent = recent[len(recent)-recentTradesLimit:]
	}
	recentCopy := make([]models.Trade, len(recent))
	copy(recentCopy, recent)

	return models.PortfolioSnapshot{
		Mode:         l.mode,
		TradingDay:   l.tradingDay,
		Cash:         l.cash,
		InitialCash:  l.initialCash,
		Positions:    positions,
		RecentTrades: recentCopy,
		Stats:        l.stats,
	}
}

// AllTrades returns every trade recorded this session, in sequence order,
// for archival (Snapshot only exposes the last recentTradesLimit).
func (l *Ledger) AllTrades() []models.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Trade, len(l.trades))
	copy(out, l.trades)
	return out
}
