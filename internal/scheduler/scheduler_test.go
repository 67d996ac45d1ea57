package scheduler

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/nfocore/optionengine/internal/aggregator"
	"github.com/nfocore/optionengine/internal/broker"
	"github.com/nfocore/optionengine/internal/calendar"
	"github.com/nfocore/optionengine/internal/clock"
	"github.com/nfocore/optionengine/internal/config"
	"github.com/nfocore/optionengine/internal/models"
	"github.com/nfocore/optionengine/internal/optionchain"
	"github.com/nfocore/optionengine/internal/orders"
	"github.com/nfocore/optionengine/internal/portfolio"
	"github.com/nfocore/optionengine/internal/positionmgr"
	"github.com/nfocore/optionengine/internal/risk"
)

// fakeBroker satisfies broker.Broker with canned, test-controlled
// responses; mirrors the orders package's own fakeBroker shape.
type fakeBroker struct {
	instruments map[models.Exchange][]models.Instrument
	quotes      map[models.Symbol]broker.Quote
}

func (f *fakeBroker) GetInstruments(_ context.Context, ex models.Exchange) ([]models.Instrument, error) {
	return f.instruments[ex], nil
}
func (f *fakeBroker) GetQuote(_ context.Context, symbols []models.Symbol) (map[models.Symbol]broker.Quote, error) {
	out := make(map[models.Symbol]broker.Quote, len(symbols))
	for _, sym := range symbols {
		if q, ok := f.quotes[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}
func (f *fakeBroker) GetHistoricalCandles(context.Context, int64, time.Duration, time.Time, time.Time) ([]broker.Candle, error) {
	return nil, nil
}
func (f *fakeBroker) PlaceOrder(context.Context, broker.OrderRequest) (broker.OrderAck, error) {
	return broker.OrderAck{}, nil
}
func (f *fakeBroker) GetOrders(context.Context) ([]broker.OrderAck, error) { return nil, nil }
func (f *fakeBroker) GetPositions(context.Context) ([]models.Position, error) {
	return nil, nil
}
func (f *fakeBroker) GetOrderMargins(context.Context, broker.OrderRequest) (broker.MarginEstimate, error) {
	return broker.MarginEstimate{}, nil
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper", InitialCapital: 100000},
		Schedule: config.ScheduleConfig{
			Timezone:            "Asia/Kolkata",
			TradingStart:        "09:15",
			TradingEnd:          "15:30",
			ScanIntervalSeconds: 5,
		},
		Watchlist: []string{"NIFTY"},
	}
	cfg.Normalize()
	return cfg
}

func newTestScheduler(t *testing.T, fb *fakeBroker, cal calendar.Provider, fc *clock.Fake) *Scheduler {
	t.Helper()
	cfg := testConfig()
	log := logrus.New()
	log.SetOutput(os.Stderr)

	ledger := portfolio.New(models.ModePaper, models.Rupees(100000), portfolio.DefaultFeeSchedule(), fc)
	ledger.SetTradingDay(fc.Now().Format("2006-01-02"))

	deps := Deps{
		Config:        cfg,
		Clock:         fc,
		Calendar:      cal,
		Broker:        fb,
		Chains:        optionchain.New(fb, cal, fc, optionchain.DefaultConfig()),
		Aggregator:    aggregator.New(aggregator.DefaultConfig()),
		PositionMgr:   positionmgr.New(positionmgr.DefaultConfig()),
		Risk:          risk.New(risk.DefaultConfig(), fc),
		Ledger:        ledger,
		Orders:        orders.NewManager(fb, ledger, log),
		ArchivePaths:  portfolio.ArchivePaths{Root: t.TempDir()},
		SystemVersion: "test",
		Log:           log,
	}
	s, err := New(deps)
	require.NoError(t, err)
	return s
}

func niftyIndexInstrument() models.Instrument {
	return models.Instrument{
		Token:   101,
		Symbol:  models.Symbol{Code: "NIFTY", Exchange: models.ExchangeNSE, Segment: models.SegmentEquity},
		LotSize: 1,
	}
}

func TestResolveSession_HolidayAndWeekend(t *testing.T) {
	loc := models.IST
	cal := calendar.New([]string{"2026-08-15"}, nil)
	fb := &fakeBroker{instruments: map[models.Exchange][]models.Instrument{models.ExchangeNSE: {niftyIndexInstrument()}}}
	fc := clock.NewFake(time.Date(2026, 8, 15, 10, 0, 0, 0, loc))
	s := newTestScheduler(t, fb, cal, fc)

	sess := s.resolveSession(fc.Now())
	require.Equal(t, models.SessionHoliday, sess.State)

	fc.Set(time.Date(2026, 8, 16, 10, 0, 0, 0, loc)) // Sunday
	sess = s.resolveSession(fc.Now())
	require.Equal(t, models.SessionWeekend, sess.State)
}

func TestResolveSession_PreMarketOpenPostMarket(t *testing.T) {
	loc := models.IST
	cal := calendar.New(nil, nil)
	fb := &fakeBroker{instruments: map[models.Exchange][]models.Instrument{models.ExchangeNSE: {niftyIndexInstrument()}}}
	fc := clock.NewFake(time.Date(2026, 7, 30, 8, 0, 0, 0, loc)) // Thursday
	s := newTestScheduler(t, fb, cal, fc)

	require.Equal(t, models.SessionPreMarket, s.resolveSession(fc.Now()).State)

	fc.Set(time.Date(2026, 7, 30, 12, 0, 0, 0, loc))
	require.Equal(t, models.SessionOpen, s.resolveSession(fc.Now()).State)

	fc.Set(time.Date(2026, 7, 30, 16, 0, 0, 0, loc))
	require.Equal(t, models.SessionPostMarket, s.resolveSession(fc.Now()).State)
}

func TestResolveSession_BypassForcesPostMarketOnDayRollover(t *testing.T) {
	loc := models.IST
	cal := calendar.New(nil, nil)
	fb := &fakeBroker{instruments: map[models.Exchange][]models.Instrument{models.ExchangeNSE: {niftyIndexInstrument()}}}
	fc := clock.NewFake(time.Date(2026, 7, 30, 3, 0, 0, 0, loc))
	s := newTestScheduler(t, fb, cal, fc)
	s.deps.Config.Environment.BypassMarketHours = true

	sess := s.resolveSession(fc.Now())
	require.Equal(t, models.SessionOpen, sess.State)
	s.trackTradingDay(sess)

	fc.Set(time.Date(2026, 7, 31, 3, 0, 0, 0, loc))
	sess = s.resolveSession(fc.Now())
	require.Equal(t, models.SessionPostMarket, sess.State, "day rollover under bypass must still force one archival pass")
}

func TestSleepInterruptible_StopsOnCancel(t *testing.T) {
	cal := calendar.New(nil, nil)
	fb := &fakeBroker{instruments: map[models.Exchange][]models.Instrument{models.ExchangeNSE: {niftyIndexInstrument()}}}
	fc := clock.NewFake(time.Date(2026, 7, 30, 12, 0, 0, 0, models.IST))
	s := newTestScheduler(t, fb, cal, fc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := s.sleepInterruptible(ctx, time.Minute)
	require.False(t, ok)
}

func TestSleepInterruptible_CompletesFullDuration(t *testing.T) {
	cal := calendar.New(nil, nil)
	fb := &fakeBroker{instruments: map[models.Exchange][]models.Instrument{models.ExchangeNSE: {niftyIndexInstrument()}}}
	start := time.Date(2026, 7, 30, 12, 0, 0, 0, models.IST)
	fc := clock.NewFake(start)
	s := newTestScheduler(t, fb, cal, fc)

	ok := s.sleepInterruptible(context.Background(), 5*time.Second)
	require.True(t, ok)
	require.Equal(t, 5*time.Second, fc.Now().Sub(start))
}

func TestGracefulShutdown_WritesCheckpointWithoutClosingPositions(t *testing.T) {
	cal := calendar.New(nil, nil)
	fb := &fakeBroker{instruments: map[models.Exchange][]models.Instrument{models.ExchangeNSE: {niftyIndexInstrument()}}}
	fc := clock.NewFake(time.Date(2026, 7, 30, 12, 0, 0, 0, models.IST))
	s := newTestScheduler(t, fb, cal, fc)

	sym := models.Symbol{Code: "NIFTY25000CE", Exchange: models.ExchangeNFO, Segment: models.SegmentOption}
	_, err := s.deps.Ledger.Buy(sym, 50, models.Rupees(100), portfolio.OrderContext{
		Now: fc.Now(), Underlying: models.UnderlyingNIFTY, StopLoss: models.Rupees(90), TakeProfit: models.Rupees(130),
	})
	require.NoError(t, err)

	err = s.gracefulShutdown()
	require.NoError(t, err)

	pos := s.deps.Ledger.Position(sym)
	require.NotNil(t, pos, "graceful shutdown must not force-close open positions")
	require.Equal(t, 50, pos.Shares)

	path := s.deps.ArchivePaths.Root
	entries, err := os.ReadDir(path)
	require.NoError(t, err)
	require.NotEmpty(t, entries, "checkpoint write should have created files under the archive root")
}

func TestNew_RejectsEmptyWatchlist(t *testing.T) {
	cal := calendar.New(nil, nil)
	fb := &fakeBroker{}
	fc := clock.NewFake(time.Now())
	cfg := testConfig()
	cfg.Watchlist = nil
	log := logrus.New()
	ledger := portfolio.New(models.ModePaper, models.Rupees(100000), portfolio.DefaultFeeSchedule(), fc)

	_, err := New(Deps{
		Config: cfg, Clock: fc, Calendar: cal, Broker: fb,
		Chains:      optionchain.New(fb, cal, fc, optionchain.DefaultConfig()),
		Aggregator:  aggregator.New(aggregator.DefaultConfig()),
		PositionMgr: positionmgr.New(positionmgr.DefaultConfig()),
		Risk:        risk.New(risk.DefaultConfig(), fc),
		Ledger:      ledger,
		Orders:      orders.NewManager(fb, ledger, log),
		Log:         log,
	})
	require.Error(t, err)
}
