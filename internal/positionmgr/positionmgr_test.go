package positionmgr

import (
	"testing"
	"time"

	"github.com/nfocore/optionengine/internal/models"
	"github.com/stretchr/testify/require"
)

func longPosition() *models.Position {
	pos := models.NewPosition(models.Symbol{Code: "NIFTY25000CE"}, models.UnderlyingNIFTY)
	pos.Shares = 50
	pos.EntryPrice = models.Rupees(100)
	pos.StopLoss = models.Rupees(80)
	pos.TakeProfit = models.Rupees(140)
	return pos
}

func TestEvaluate_HardStopLossFiresFirst(t *testing.T) {
	e := New(DefaultConfig())
	pos := longPosition()
	d := e.Evaluate(Input{Position: pos, LastPrice: models.Rupees(79), Now: time.Now()})
	require.True(t, d.Should)
	require.Equal(t, ExitStopLoss, d.Reason)
}

func TestEvaluate_TakeProfitFires(t *testing.T) {
	e := New(DefaultConfig())
	pos := longPosition()
	d := e.Evaluate(Input{Position: pos, LastPrice: models.Rupees(141), Now: time.Now()})
	require.True(t, d.Should)
	require.Equal(t, ExitTakeProfit, d.Reason)
}

func TestEvaluate_TrailingStopRatchetsUpwardOnly(t *testing.T) {
	e := New(DefaultConfig())
	pos := longPosition()
	now := time.Now()

	// price rises enough to activate trailing (entry 100 + 1.1*10 = 111)
	e.Evaluate(Input{Position: pos, LastPrice: models.Rupees(112), ATR: 10, Now: now})
	require.True(t, pos.TrailingStopActive)
	firstStop := pos.TrailingStop

	// price pulls back a little, but trailing stop must never loosen
	e.Evaluate(Input{Position: pos, LastPrice: models.Rupees(105), ATR: 10, Now: now})
	require.GreaterOrEqual(t, pos.TrailingStop, firstStop)

	// price rises further, stop should ratchet up
	e.Evaluate(Input{Position: pos, LastPrice: models.Rupees(130), ATR: 10, Now: now})
	require.Greater(t, pos.TrailingStop, firstStop)
}

func TestEvaluate_AggregatorExitIsLastResort(t *testing.T) {
	e := New(DefaultConfig())
	pos := longPosition()
	d := e.Evaluate(Input{Position: pos, LastPrice: models.Rupees(105), Now: time.Now(), AggregatorExit: true})
	require.True(t, d.Should)
	require.Equal(t, ExitAggregator, d.Reason)
}

func TestEvaluate_NoExitWhenNothingFires(t *testing.T) {
	e := New(DefaultConfig())
	pos := longPosition()
	d := e.Evaluate(Input{Position: pos, LastPrice: models.Rupees(105), Now: time.Now()})
	require.False(t, d.Should)
}

func TestEvaluate_MarketCloseForceFlattenOnlyInLiveMode(t *testing.T) {
	e := New(DefaultConfig())
	pos := longPosition()
	closeTime := time.Date(2026, 1, 1, 15, 30, 0, 0, models.IST)
	nearClose := closeTime.Add(-1 * time.Minute)

	paper := e.Evaluate(Input{Position: pos, LastPrice: models.Rupees(105), Now: nearClose, SessionCloseTime: closeTime, LiveMode: false})
	require.False(t, paper.Should, "paper mode must not force-flatten on market close")

	live := e.Evaluate(Input{Position: pos, LastPrice: models.Rupees(105), Now: nearClose, SessionCloseTime: closeTime, LiveMode: true})
	require.True(t, live.Should)
	require.Equal(t, ExitMarketClose, live.Reason)
}

func TestIntelligentScore_ConfidenceDecayGuardedAtZeroWeight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WeightPnL, cfg.WeightTheta, cfg.WeightStrategyHint, cfg.WeightConfidenceDecay = 0, 0, 0, 0
	e := New(cfg)
	pos := longPosition()
	score := e.intelligentScore(pos, Input{ConfidenceStillPasses: false})
	require.Equal(t, float64(0), score, "zero total weight must not divide by zero")
}
