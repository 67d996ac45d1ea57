package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nfocore/optionengine/internal/aggregator"
	"github.com/nfocore/optionengine/internal/broker"
	"github.com/nfocore/optionengine/internal/models"
	"github.com/nfocore/optionengine/internal/portfolio"
	"github.com/nfocore/optionengine/internal/positionmgr"
	"github.com/nfocore/optionengine/internal/risk"
	"github.com/nfocore/optionengine/internal/strategy"
	"github.com/nfocore/optionengine/internal/util"
)

const historicalLookback = 3 * 24 * time.Hour
const historicalCandleInterval = 5 * time.Minute

// nfoTickSize is the exchange-mandated minimum price increment for NFO/BFO
// index options.
const nfoTickSize = 0.05

// fanOutResult is one watchlist underlying's chain, bar history and vote
// set for the current iteration. Err is set (and everything else left
// zero) when that underlying's chain or bar fetch failed; a single bad
// underlying never aborts the whole iteration.
type fanOutResult struct {
	Chain *models.OptionChain
	Bars  []strategy.Bar
	ATR   float64
	Votes []models.SignalVote
	Err   error
}

// runIteration executes the 8-step OPEN-state body of spec §4.G, steps
// 2-7 (step 1, the re-check, and step 8, the sleep, live in Run's state
// machine loop).
//
// Step ordering follows the source numbering literally: exits (step 4)
// run before this tick's chain-build/vote/aggregate pass (step 5), so the
// aggregator-driven exit check and the ATR-based trailing-stop update
// both consult the PREVIOUS iteration's aggregate/ATR results, cached in
// lastAggregated/lastATR. This is the only resolution of that ordering
// that does not require computing step 5 before step 4 runs; the lag is
// one scan_interval (5-10s by default), immaterial next to the minutes-
// scale cooldowns and trailing-stop multiples it feeds.
func (s *Scheduler) runIteration(ctx context.Context) error {
	now := s.deps.Clock.Now()
	snapshot := s.deps.Ledger.Snapshot()

	currentPrices, err := s.fetchCurrentPrices(ctx, snapshot)
	if err != nil {
		return fmt.Errorf("fetch held quotes: %w", err)
	}

	sess := s.resolveSession(now)
	s.evaluateExits(ctx, snapshot, currentPrices, sess.CloseTime)

	fanOut := s.buildFanOut(ctx, snapshot)

	postExit := s.deps.Ledger.Snapshot()
	aggregated := s.evaluateEntries(postExit, fanOut, now)

	s.executeEntries(ctx, postExit, aggregated, fanOut, now)

	s.publish(ctx, currentPrices, now)
	return nil
}

// fetchCurrentPrices is the iteration's single bulk quote call (step 3):
// the returned map is reused for exit evaluation and the outbound
// dashboard event, never re-fetched. New entries are priced from the option
// chain's leg quotes instead.
func (s *Scheduler) fetchCurrentPrices(ctx context.Context, snapshot models.PortfolioSnapshot) (map[models.Symbol]models.Money, error) {
	if len(snapshot.Positions) == 0 {
		return map[models.Symbol]models.Money{}, nil
	}
	symbols := make([]models.Symbol, 0, len(snapshot.Positions))
	for sym := range snapshot.Positions {
		symbols = append(symbols, sym)
	}
	quotes, err := s.deps.Broker.GetQuote(ctx, symbols)
	if err != nil {
		return nil, err
	}
	prices := make(map[models.Symbol]models.Money, len(quotes))
	for sym, q := range quotes {
		prices[sym] = q.LastPrice
	}
	return prices, nil
}

// evaluateExits runs §4.E on every held position (step 4) and executes
// any emitted exit immediately via the ledger, per spec §5's "exits are
// always evaluated before new entries within an iteration."
func (s *Scheduler) evaluateExits(ctx context.Context, snapshot models.PortfolioSnapshot, currentPrices map[models.Symbol]models.Money, sessionClose time.Time) {
	symbols := sortedSymbols(snapshot.Positions)
	now := s.deps.Clock.Now()

	for _, sym := range symbols {
		pos := snapshot.Positions[sym]
		lastPrice, ok := currentPrices[sym]
		if !ok {
			s.deps.Log.WithField("symbol", sym.String()).Warn("scheduler: no quote for held position this tick, skipping exit check")
			continue
		}

		idxSym := models.IndexSymbol(pos.Underlying)
		agg := s.lastAggregated[idxSym]

		prevActive, prevStop := pos.TrailingStopActive, pos.TrailingStop

		in := positionmgr.Input{
			Position:              pos,
			LastPrice:             lastPrice,
			ATR:                   s.lastATR[pos.Underlying],
			Now:                   now,
			SessionCloseTime:      sessionClose,
			LiveMode:              s.deps.Config.IsLiveTrading(),
			AggregatorExit:        agg.IsExit && agg.Action != models.ActionHold,
			ConfidenceStillPasses: true,
		}

		decision := s.deps.PositionMgr.Evaluate(in)
		// Evaluate mutates its Input.Position argument in place (the trailing-
		// stop activation/ratchet), but that argument is a Snapshot clone, so
		// the result has to be written back through the ledger explicitly.
		if pos.TrailingStopActive != prevActive || pos.TrailingStop != prevStop {
			if err := s.deps.Ledger.UpdateTrailingState(sym, pos.TrailingStopActive, pos.TrailingStop); err != nil {
				s.deps.Log.WithError(err).WithField("symbol", sym.String()).Warn("scheduler: trailing-stop state update failed")
			}
		}
		if !decision.Should {
			continue
		}
		s.executeExit(ctx, pos, lastPrice, decision, now)
	}
}

func sortedSymbols(positions map[models.Symbol]*models.Position) []models.Symbol {
	symbols := make([]models.Symbol, 0, len(positions))
	for sym := range positions {
		symbols = append(symbols, sym)
	}
	sort.Slice(symbols, func(i, j int) bool { return symbols[i].String() < symbols[j].String() })
	return symbols
}

func (s *Scheduler) executeExit(ctx context.Context, pos *models.Position, price models.Money, decision positionmgr.Decision, now time.Time) {
	req := broker.OrderRequest{
		Symbol:        pos.Symbol,
		Side:          models.SideSell,
		Quantity:      pos.AbsShares(),
		ClientOrderID: uuid.NewString(),
	}
	octx := portfolio.OrderContext{
		Now:        now,
		Underlying: pos.Underlying,
		Sector:     string(pos.Underlying),
		Confidence: pos.ConfidenceAtEntry,
		Strategy:   pos.StrategyTag,
	}
	forceImmediate := decision.Reason == positionmgr.ExitMarketClose

	err := s.deps.Orders.Submit(ctx, req, func(ack broker.OrderAck) error {
		fillPrice := ack.FillPrice
		if fillPrice == 0 {
			fillPrice = price
		}
		_, sellErr := s.deps.Ledger.Sell(pos.Symbol, pos.AbsShares(), fillPrice, octx, forceImmediate)
		return sellErr
	})
	if err != nil {
		s.deps.Log.WithError(err).WithFields(logrus.Fields{
			"symbol": pos.Symbol.String(), "reason": string(decision.Reason),
		}).Error("scheduler: exit order failed")
		return
	}

	idxSym := models.IndexSymbol(pos.Underlying)
	for _, ev := range s.deps.Strategies {
		ev.NotifyExecuted(idxSym, models.SideSell, now)
	}
	if decision.Reason == positionmgr.ExitStopLoss {
		s.deps.Aggregator.NotifyStopOut(idxSym, now)
	}
	s.deps.Log.WithFields(logrus.Fields{
		"symbol": pos.Symbol.String(), "reason": string(decision.Reason), "score": decision.Score,
	}).Info("scheduler: position exited")
}

// buildFanOut runs step 5's per-underlying chain-build/bar-fetch/vote pass
// across the watchlist, bounded to FanOutParallelism concurrent underlyings
// at a time per spec §5.
func (s *Scheduler) buildFanOut(ctx context.Context, snapshot models.PortfolioSnapshot) map[models.Underlying]fanOutResult {
	results := make(map[models.Underlying]fanOutResult, len(s.watchlist))
	var mu sync.Mutex

	limit := s.deps.Config.Schedule.FanOutParallelism
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for _, u := range s.watchlist {
		u := u
		g.Go(func() error {
			res := s.buildOneUnderlying(gctx, u, snapshot)
			mu.Lock()
			results[u] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // buildOneUnderlying never returns an error to the group; failures are captured per-result

	nextATR := make(map[models.Underlying]float64, len(results))
	for u, r := range results {
		if r.Err == nil {
			nextATR[u] = r.ATR
		}
	}
	s.lastATR = nextATR
	return results
}

func (s *Scheduler) buildOneUnderlying(ctx context.Context, u models.Underlying, snapshot models.PortfolioSnapshot) fanOutResult {
	chain, err := s.deps.Chains.BuildChain(ctx, u, time.Time{})
	if err != nil {
		s.deps.Log.WithError(err).WithField("underlying", string(u)).Warn("scheduler: chain build failed, skipping this tick")
		return fanOutResult{Err: err}
	}

	token, ok := s.indexTokens[u]
	if !ok {
		err := fmt.Errorf("no resolved instrument token for %s", u)
		return fanOutResult{Err: err}
	}
	now := s.deps.Clock.Now()
	candles, err := s.deps.Broker.GetHistoricalCandles(ctx, token, historicalCandleInterval, now.Add(-historicalLookback), now)
	if err != nil {
		s.deps.Log.WithError(err).WithField("underlying", string(u)).Warn("scheduler: historical candle fetch failed, skipping this tick")
		return fanOutResult{Err: err}
	}
	bars := make([]strategy.Bar, len(candles))
	for i, c := range candles {
		bars[i] = strategy.Bar{Time: c.Time, Open: c.Open.Float64(), High: c.High.Float64(), Low: c.Low.Float64(), Close: c.Close.Float64(), Volume: float64(c.Volume)}
	}
	atr := computeATR(bars, defaultATRPeriod)

	idxSym := models.IndexSymbol(u)
	currentPosition := representativePosition(snapshot, u)
	votes := make([]models.SignalVote, 0, len(s.deps.Strategies))
	for _, ev := range s.deps.Strategies {
		votes = append(votes, ev.GenerateSignal(idxSym, bars, currentPosition))
	}

	return fanOutResult{Chain: chain, Bars: bars, ATR: atr, Votes: votes}
}

// representativePosition picks one held position for underlying to pass
// as a strategy's position-awareness input. Multiple simultaneously-held
// option symbols on the same underlying (the concentration gate permits up
// to max_positions_per_underlying) all describe the same long directional
// bet, so any one of them is an equally valid representative; the lowest
// symbol string is picked for determinism.
func representativePosition(snapshot models.PortfolioSnapshot, u models.Underlying) *models.Position {
	var best *models.Position
	for sym, pos := range snapshot.Positions {
		if pos.Underlying != u {
			continue
		}
		if best == nil || sym.String() < best.Symbol.String() {
			best = pos
		}
	}
	return best
}

// evaluateEntries builds one aggregator.Candidate per watchlist
// underlying (an exit candidate, keyed by its index symbol, if currently
// held; otherwise an entry candidate) and runs them through one
// EvaluateBatch call, per step 5's "aggregate (§4.D, with is_exit = false
// since no position exists in that specific new option symbol)" — read as
// is_exit tracking whether *the underlying* is currently held, since the
// aggregator's gate pipeline (regime veto, cooldown) is naturally keyed on
// the stable index symbol rather than an option contract that expires and
// changes strike every cycle.
func (s *Scheduler) evaluateEntries(snapshot models.PortfolioSnapshot, fanOut map[models.Underlying]fanOutResult, now time.Time) map[models.Symbol]models.AggregatedSignal {
	candidates := make([]aggregator.Candidate, 0, len(s.watchlist))
	for _, u := range s.watchlist {
		res, ok := fanOut[u]
		if !ok || res.Err != nil {
			continue
		}
		idxSym := models.IndexSymbol(u)
		held := representativePosition(snapshot, u)
		if held != nil {
			candidates = append(candidates, aggregator.Candidate{
				Symbol: idxSym, Votes: res.Votes, IsExit: true, HeldDirection: models.DirectionBuy,
			})
			continue
		}
		candidates = append(candidates, aggregator.Candidate{Symbol: idxSym, Votes: res.Votes, IsExit: false})
	}

	aggregated := s.deps.Aggregator.EvaluateBatch(candidates, now)
	s.lastAggregated = aggregated
	return aggregated
}

// executeEntries runs step 6: every underlying whose aggregated signal is
// a non-hold, non-exit action becomes a risk candidate on the chain's ATM
// strike (§7's "long-only" resolution: ActionBuy buys the ATM call,
// ActionSell buys the ATM put — direction is expressed through which leg
// is bought, never by writing/shorting an option), checked and, on
// approval, executed via the ledger.
func (s *Scheduler) executeEntries(ctx context.Context, snapshot models.PortfolioSnapshot, aggregated map[models.Symbol]models.AggregatedSignal, fanOut map[models.Underlying]fanOutResult, now time.Time) {
	for _, u := range s.watchlist {
		res, ok := fanOut[u]
		if !ok || res.Err != nil {
			continue
		}
		idxSym := models.IndexSymbol(u)
		sig, ok := aggregated[idxSym]
		if !ok || sig.IsExit || sig.Action == models.ActionHold {
			continue
		}
		s.executeEntry(ctx, u, res, sig, now)
	}
}

func (s *Scheduler) executeEntry(ctx context.Context, u models.Underlying, res fanOutResult, sig models.AggregatedSignal, now time.Time) {
	chain := res.Chain
	strike, ok := chain.ATMStrike()
	if !ok {
		return
	}
	var leg *models.OptionContract
	for _, sl := range chain.Strikes {
		if sl.Strike != strike {
			continue
		}
		if sig.Action == models.ActionBuy {
			leg = sl.Call
		} else {
			leg = sl.Put
		}
		break
	}
	if leg == nil || leg.Stale || leg.LastPrice <= 0 {
		return
	}

	entry := leg.LastPrice
	stop := entry - models.Rupees(res.ATR*s.deps.Config.Exit.EntryStopATRMultiple)
	target := entry + models.Rupees(res.ATR*s.deps.Config.Exit.EntryTargetATRMultiple)
	if stop < 0 {
		stop = 0
	}
	// NFO/BFO options trade in 0.05 rupee ticks; round the stop down and the
	// target up so both sit on a price the exchange will actually accept.
	stop = models.Rupees(util.FloorToTick(stop.Float64(), nfoTickSize))
	target = models.Rupees(util.CeilToTick(target.Float64(), nfoTickSize))

	equity := s.deps.Ledger.Snapshot().Cash
	cand := risk.Candidate{
		Symbol:                     leg.Symbol,
		Underlying:                 u,
		Side:                       models.SideBuy,
		Mode:                       s.mode(),
		Equity:                     equity,
		Entry:                      entry,
		Stop:                       stop,
		Target:                     target,
		LotSize:                    leg.LotSize,
		OpenPositionsForUnderlying: s.deps.Ledger.OpenPositionsForUnderlying(u),
		Fingerprint:                models.NewOrderFingerprint(leg.Symbol, models.SideBuy, leg.LotSize, entry, "", now, s.duplicateWindow()),
		Now:                        now,
	}
	if s.mode() == models.ModeLive {
		if est, err := s.deps.Broker.GetOrderMargins(ctx, broker.OrderRequest{Symbol: leg.Symbol, Side: models.SideBuy, Quantity: leg.LotSize}); err == nil {
			cand.Margin = &risk.MarginEstimate{Estimated: est.EstimatedMargin, Available: est.AvailableMargin}
		}
	}

	approval, err := s.deps.Risk.Check(cand)
	if err != nil {
		s.deps.Log.WithError(err).WithField("underlying", string(u)).Debug("scheduler: entry candidate rejected")
		return
	}

	qty := approval.Lots * leg.LotSize
	req := broker.OrderRequest{Symbol: leg.Symbol, Side: models.SideBuy, Quantity: qty, ClientOrderID: uuid.NewString()}
	octx := portfolio.OrderContext{
		Now: now, Underlying: u, Sector: string(u), Confidence: sig.Confidence,
		Strategy: dominantStrategy(sig.ContributingVotes), StopLoss: stop, TakeProfit: target,
	}

	err = s.deps.Orders.Submit(ctx, req, func(ack broker.OrderAck) error {
		fillPrice := ack.FillPrice
		if fillPrice == 0 {
			fillPrice = entry
		}
		_, buyErr := s.deps.Ledger.Buy(leg.Symbol, qty, fillPrice, octx)
		return buyErr
	})
	if err != nil {
		s.deps.Log.WithError(err).WithField("symbol", leg.Symbol.String()).Error("scheduler: entry order failed")
		return
	}

	idxSym := models.IndexSymbol(u)
	for _, ev := range s.deps.Strategies {
		ev.NotifyExecuted(idxSym, models.SideBuy, now)
	}
	s.deps.Log.WithFields(logrus.Fields{
		"symbol": leg.Symbol.String(), "lots": approval.Lots, "rrr": approval.RRR,
	}).Info("scheduler: position entered")
}

// dominantStrategy names the highest-strength contributing vote's source,
// for the position's StrategyTag — observability only, never consulted by
// any decision logic.
func dominantStrategy(votes []models.SignalVote) string {
	var best models.SignalVote
	for _, v := range votes {
		if v.Strength > best.Strength {
			best = v
		}
	}
	return best.Source
}

func (s *Scheduler) mode() models.Mode {
	switch s.deps.Config.Environment.Mode {
	case "live":
		return models.ModeLive
	case "backtest":
		return models.ModeBacktest
	default:
		return models.ModePaper
	}
}

func (s *Scheduler) duplicateWindow() time.Duration {
	secs := s.deps.Config.Risk.DuplicateWindowSeconds
	if secs <= 0 {
		secs = 2
	}
	return time.Duration(secs) * time.Second
}

// publish emits step 7's single outbound dashboard event, reusing
// currentPrices (no re-fetch) for position valuation.
func (s *Scheduler) publish(ctx context.Context, currentPrices map[models.Symbol]models.Money, now time.Time) {
	if s.deps.Dashboard == nil {
		return
	}
	snap := s.deps.Ledger.Snapshot()
	s.deps.Dashboard.Publish(ctx, snap, currentPrices, now)
}
