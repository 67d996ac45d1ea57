package portfolio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nfocore/optionengine/internal/clock"
	"github.com/nfocore/optionengine/internal/models"
)

func niftyOption(code string) models.Symbol {
	return models.Symbol{Code: code, Exchange: models.ExchangeNFO, Segment: models.SegmentOption}
}

func newTestLedger(start time.Time) *Ledger {
	l := New(models.ModePaper, models.Rupees(100000), DefaultFeeSchedule(), clock.NewFake(start))
	l.SetTradingDay("2026-07-30")
	return l
}

func TestBuy_DeductsCashAndOpensPosition(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := newTestLedger(start)

	trade, err := l.Buy(niftyOption("NIFTY25000CE"), 50, models.Rupees(100), OrderContext{
		Now: start, Underlying: models.UnderlyingNIFTY, Sector: "index", Confidence: 0.8, Strategy: "ma_crossover",
	})
	require.NoError(t, err)
	require.Equal(t, models.SideBuy, trade.Side)

	pos := l.Position(niftyOption("NIFTY25000CE"))
	require.NotNil(t, pos)
	require.Equal(t, 50, pos.Shares)
	require.Equal(t, models.Rupees(100), pos.EntryPrice)
}

func TestBuy_InsufficientFundsRejected(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := New(models.ModePaper, models.Rupees(100), DefaultFeeSchedule(), clock.NewFake(start))
	l.SetTradingDay("2026-07-30")

	_, err := l.Buy(niftyOption("NIFTY25000CE"), 50, models.Rupees(100), OrderContext{Now: start})
	require.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestBuy_BlendsAverageEntryPriceAcrossLots(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := newTestLedger(start)
	sym := niftyOption("NIFTY25000CE")

	_, err := l.Buy(sym, 50, models.Rupees(100), OrderContext{Now: start})
	require.NoError(t, err)
	_, err = l.Buy(sym, 50, models.Rupees(120), OrderContext{Now: start.Add(time.Minute)})
	require.NoError(t, err)

	pos := l.Position(sym)
	require.Equal(t, 100, pos.Shares)
	require.Equal(t, models.Rupees(110), pos.EntryPrice)
}

func TestSell_RejectsSameBarExitUnlessForced(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := newTestLedger(start)
	sym := niftyOption("NIFTY25000CE")

	_, err := l.Buy(sym, 50, models.Rupees(100), OrderContext{Now: start})
	require.NoError(t, err)

	_, err = l.Sell(sym, 50, models.Rupees(110), OrderContext{Now: start}, false)
	require.ErrorIs(t, err, ErrSameBarExit)

	_, err = l.Sell(sym, 50, models.Rupees(110), OrderContext{Now: start}, true)
	require.NoError(t, err)
	require.Nil(t, l.Position(sym))
}

func TestSell_NextBarClosesPositionAndRecordsPnL(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := newTestLedger(start)
	sym := niftyOption("NIFTY25000CE")

	_, err := l.Buy(sym, 50, models.Rupees(100), OrderContext{Now: start})
	require.NoError(t, err)

	trade, err := l.Sell(sym, 50, models.Rupees(120), OrderContext{Now: start.Add(5 * time.Minute)}, false)
	require.NoError(t, err)
	require.NotNil(t, trade.PnL)
	require.Greater(t, int64(*trade.PnL), int64(0))
	require.Nil(t, l.Position(sym))
}

func TestSell_UnknownOrOversizedPositionRejected(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := newTestLedger(start)
	sym := niftyOption("NIFTY25000CE")

	_, err := l.Sell(sym, 10, models.Rupees(100), OrderContext{Now: start}, false)
	require.ErrorIs(t, err, ErrNoPosition)

	_, err = l.Buy(sym, 10, models.Rupees(100), OrderContext{Now: start})
	require.NoError(t, err)
	_, err = l.Sell(sym, 20, models.Rupees(100), OrderContext{Now: start.Add(time.Minute)}, false)
	require.ErrorIs(t, err, ErrNoPosition)
}

func TestSnapshot_TrimsToRecentTradesLimit(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := newTestLedger(start)
	sym := niftyOption("NIFTY25000CE")

	for i := 0; i < recentTradesLimit+10; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		_, err := l.Buy(sym, 1, models.Rupees(100), OrderContext{Now: at})
		require.NoError(t, err)
		_, err = l.Sell(sym, 1, models.Rupees(100), OrderContext{Now: at.Add(30 * time.Second)}, false)
		require.NoError(t, err)
	}

	snap := l.Snapshot()
	require.Len(t, snap.RecentTrades, recentTradesLimit)
	require.Len(t, l.AllTrades(), 2*(recentTradesLimit+10))
}

func TestArchive_RoundTripProducesConsistentChecksumAndCount(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := newTestLedger(start)
	sym := niftyOption("NIFTY25000CE")

	_, err := l.Buy(sym, 50, models.Rupees(100), OrderContext{Now: start, Underlying: models.UnderlyingNIFTY, Sector: "index"})
	require.NoError(t, err)
	_, err = l.Sell(sym, 25, models.Rupees(110), OrderContext{Now: start.Add(time.Minute)}, false)
	require.NoError(t, err)

	root := t.TempDir()
	paths := ArchivePaths{Root: root}
	priceMap := map[models.Symbol]models.Money{sym: models.Rupees(115)}

	err = l.Archive(paths, "2026-07-30", priceMap, "test-1.0", start.Add(time.Hour))
	require.NoError(t, err)

	primary := paths.primaryArchive("2026-07-30", models.ModePaper)
	backup := paths.backupArchive("2026-07-30", models.ModePaper)
	require.FileExists(t, primary)
	require.FileExists(t, backup)

	primaryData, err := os.ReadFile(primary)
	require.NoError(t, err)
	backupData, err := os.ReadFile(backup)
	require.NoError(t, err)
	require.Equal(t, primaryData, backupData)
}

func TestArchive_IdempotentOnSecondCall(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := newTestLedger(start)
	sym := niftyOption("NIFTY25000CE")
	_, err := l.Buy(sym, 50, models.Rupees(100), OrderContext{Now: start})
	require.NoError(t, err)

	root := t.TempDir()
	paths := ArchivePaths{Root: root}
	priceMap := map[models.Symbol]models.Money{sym: models.Rupees(100)}

	require.NoError(t, l.Archive(paths, "2026-07-30", priceMap, "test-1.0", start.Add(time.Hour)))

	primary := paths.primaryArchive("2026-07-30", models.ModePaper)
	firstStat, err := os.Stat(primary)
	require.NoError(t, err)

	// Second archival attempt (e.g. a restarted iteration loop) must be a
	// no-op: the marker file short-circuits it before any write happens.
	require.NoError(t, l.Archive(paths, "2026-07-30", priceMap, "test-1.0", start.Add(2*time.Hour)))
	secondStat, err := os.Stat(primary)
	require.NoError(t, err)
	require.Equal(t, firstStat.ModTime(), secondStat.ModTime())
}

func TestWriteRestoration_CapturesOpenPositionsAndUnrealisedPnL(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := newTestLedger(start)
	sym := niftyOption("NIFTY25000CE")
	_, err := l.Buy(sym, 50, models.Rupees(100), OrderContext{Now: start})
	require.NoError(t, err)

	root := t.TempDir()
	paths := ArchivePaths{Root: root}
	priceMap := map[models.Symbol]models.Money{sym: models.Rupees(130)}

	require.NoError(t, l.WriteRestoration(paths, "2026-07-31", priceMap, start.Add(6*time.Hour)))
	require.FileExists(t, filepath.Join(root, "saved_trades", "fno_positions_2026-07-31.json"))
}

func TestWriteCheckpoint_WritesAtomically(t *testing.T) {
	start := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	l := newTestLedger(start)

	root := t.TempDir()
	paths := ArchivePaths{Root: root}
	require.NoError(t, l.WriteCheckpoint(paths, 1, start))
	require.FileExists(t, paths.checkpoint(models.ModePaper))
}
