package portfolio

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// ArchivePaths names where the three file families of spec §6 live under a
// root data directory.
type ArchivePaths struct {
	Root string
}

func (p ArchivePaths) primaryArchive(tradingDay string, mode models.Mode) string {
	year, month := tradingDay[:4], tradingDay[5:7]
	return filepath.Join(p.Root, "trade_archives", year, month, fmt.Sprintf("trades_%s_%s.json", tradingDay, mode))
}

func (p ArchivePaths) backupArchive(tradingDay string, mode models.Mode) string {
	year, month := tradingDay[:4], tradingDay[5:7]
	return filepath.Join(p.Root, "trade_archives_backup", year, month, fmt.Sprintf("trades_%s_%s.json", tradingDay, mode))
}

func (p ArchivePaths) marker(tradingDay string, mode models.Mode) string {
	return filepath.Join(p.Root, "trade_archives", fmt.Sprintf(".archived_%s_%s", tradingDay, mode))
}

func (p ArchivePaths) restoration(nextTradingDay string) string {
	return filepath.Join(p.Root, "saved_trades", fmt.Sprintf("fno_positions_%s.json", nextTradingDay))
}

func (p ArchivePaths) checkpoint(mode models.Mode) string {
	return filepath.Join(p.Root, "checkpoint", fmt.Sprintf("state_%s.json", mode))
}

// Archive writes the primary archive, verifies it by re-reading and
// counting trades, then writes the bit-compatible backup. The operation is
// idempotent on (trading_day, mode): a prior successful archival is
// detected via a marker file and skipped.
func (l *Ledger) Archive(paths ArchivePaths, tradingDay string, priceMap map[models.Symbol]models.Money, systemVersion string, now time.Time) error {
	markerPath := paths.marker(tradingDay, l.mode)
	if fileExists(markerPath) {
		return nil
	}

	record := l.buildArchiveRecord(tradingDay, priceMap, systemVersion, now)
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("portfolio: marshal archive: %w", err)
	}

	primaryPath := paths.primaryArchive(tradingDay, l.mode)
	if err := writeFileAtomic(primaryPath, data); err != nil {
		return fmt.Errorf("portfolio: write primary archive: %w", err)
	}

	if err := verifyArchive(primaryPath, record.DataIntegrity.TradeCount); err != nil {
		return fmt.Errorf("portfolio: verify primary archive: %w", err)
	}

	backupPath := paths.backupArchive(tradingDay, l.mode)
	if err := writeFileAtomic(backupPath, data); err != nil {
		return fmt.Errorf("portfolio: write backup archive: %w", err)
	}

	if err := writeFileAtomic(markerPath, []byte(now.Format(time.RFC3339))); err != nil {
		return fmt.Errorf("portfolio: write archival marker: %w", err)
	}
	return nil
}

func verifyArchive(path string, expectedTradeCount int) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	var record models.ArchiveRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("corrupt archive: %w", err)
	}
	if len(record.Trades) != expectedTradeCount || record.DataIntegrity.TradeCount != expectedTradeCount {
		return fmt.Errorf("archive trade count mismatch: want %d, file has %d (integrity says %d)",
			expectedTradeCount, len(record.Trades), record.DataIntegrity.TradeCount)
	}
	if checksumTradeIDs(record.Trades) != record.DataIntegrity.Checksum {
		return fmt.Errorf("archive checksum mismatch")
	}
	return nil
}

func (l *Ledger) buildArchiveRecord(tradingDay string, priceMap map[models.Symbol]models.Money, systemVersion string, now time.Time) models.ArchiveRecord {
	l.mu.Lock()
	trades := make([]models.Trade, len(l.trades))
	copy(trades, l.trades)
	positions := make([]models.Position, 0, len(l.positions))
	sectorCounts := make(map[string]int)
	symbolSet := make(map[string]bool)
	var markValue, unrealised models.Money
	for sym, pos := range l.positions {
		positions = append(positions, *pos.Clone())
		sectorCounts[pos.SectorTag]++
		price := priceMap[sym]
		markValue += price.Mul(pos.AbsShares())
		unrealised += pos.UnrealisedPnL(price)
	}
	closingCash := l.cash
	openingCash := l.initialCash
	stats := l.stats
	l.mu.Unlock()

	var buyTrades, sellTrades, closedTrades int
	var totalPnL, totalFees models.Money
	for _, t := range trades {
		symbolSet[t.Symbol.String()] = true
		totalFees += t.Fees
		switch t.Side {
		case models.SideBuy:
			buyTrades++
		case models.SideSell:
			sellTrades++
			if t.PnL != nil {
				closedTrades++
				totalPnL += *t.PnL
			}
		}
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	var firstTS, lastTS time.Time
	var lastTradeID string
	if len(trades) > 0 {
		firstTS = trades[0].Timestamp
		lastTS = trades[len(trades)-1].Timestamp
		lastTradeID = trades[len(trades)-1].TradeID
	}

	return models.ArchiveRecord{
		Metadata: models.ArchiveMetadata{
			TradingDay:        tradingDay,
			TradingMode:       l.mode,
			ExportTimestamp:   now,
			SystemVersion:     systemVersion,
			DataFormatVersion: models.DataFormatVersion,
		},
		DailySummary: models.DailySummary{
			TotalTrades:        len(trades),
			BuyTrades:          buyTrades,
			SellTrades:         sellTrades,
			ClosedTrades:       closedTrades,
			OpenTrades:         len(positions),
			TotalPnL:           totalPnL,
			TotalFees:          totalFees,
			NetPnL:             totalPnL - totalFees,
			WinningTrades:      stats.WinningTrades,
			LosingTrades:       stats.LosingTrades,
			WinRatePct:         stats.WinRate(),
			SymbolsTraded:      symbols,
			UniqueSymbolsCount: len(symbols),
			SectorDistribution: sectorCounts,
		},
		PortfolioState: models.PortfolioState{
			OpeningCash:             openingCash,
			ClosingCash:             closingCash,
			Stats:                   stats,
			ActivePositions:         len(positions),
			OpenPositionsMarkValue:  markValue,
			OpenPositionsUnrealised: unrealised,
		},
		Trades: trades,
		OpenPositions: models.OpenPositionsBlock{
			CapturedAt: now,
			Positions:  positions,
		},
		DataIntegrity: models.DataIntegrity{
			TradeCount:          len(trades),
			Checksum:            checksumTradeIDs(trades),
			FirstTradeTimestamp: firstTS,
			LastTradeTimestamp:  lastTS,
			LastTradeID:         lastTradeID,
		},
	}
}

// checksumTradeIDs computes a deterministic 64-bit hash over the
// concatenated trade IDs, per spec §6's archive writer guarantee. FNV-1a is
// stdlib (hash/fnv): no example repo or other_examples/ file imports a
// checksumming library for this, and a non-cryptographic integrity check
// over a short ID list has no natural home in any pack dependency.
func checksumTradeIDs(trades []models.Trade) uint64 {
	h := fnv.New64a()
	for _, t := range trades {
		_, _ = h.Write([]byte(t.TradeID))
	}
	return h.Sum64()
}

// WriteRestoration writes the next-day restoration file: a snapshot of
// still-open positions with current prices and unrealised PnL.
func (l *Ledger) WriteRestoration(paths ArchivePaths, nextTradingDay string, priceMap map[models.Symbol]models.Money, now time.Time) error {
	l.mu.Lock()
	positions := make(map[string]models.RestorationPosition, len(l.positions))
	var totalValue, totalUnrealised models.Money
	for sym, pos := range l.positions {
		price := priceMap[sym]
		unrealised := pos.UnrealisedPnL(price)
		positions[sym.String()] = models.RestorationPosition{
			Position:      *pos.Clone(),
			CurrentPrice:  price,
			UnrealisedPnL: unrealised,
			SavedAt:       now,
		}
		totalValue += price.Mul(pos.AbsShares())
		totalUnrealised += unrealised
	}
	l.mu.Unlock()

	file := models.RestorationFile{
		TargetDate:         nextTradingDay,
		SavedAt:            now,
		Positions:          positions,
		TotalPositions:     len(positions),
		TotalValue:         totalValue,
		TotalUnrealisedPnL: totalUnrealised,
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("portfolio: marshal restoration file: %w", err)
	}
	return writeFileAtomic(paths.restoration(nextTradingDay), data)
}

// WriteCheckpoint persists the graceful-shutdown/crash-diagnosis state
// file, atomically, every iteration.
func (l *Ledger) WriteCheckpoint(paths ArchivePaths, iteration int64, now time.Time) error {
	snap := l.Snapshot()
	var total models.Money
	total += snap.Cash
	for _, pos := range snap.Positions {
		total += pos.EntryPrice.Mul(pos.AbsShares())
	}

	checkpoint := models.Checkpoint{
		Mode:       l.mode,
		Iteration:  iteration,
		TradingDay: snap.TradingDay,
		LastUpdate: now,
		Portfolio:  snap,
		TotalValue: total,
	}
	data, err := json.MarshalIndent(checkpoint, "", "  ")
	if err != nil {
		return fmt.Errorf("portfolio: marshal checkpoint: %w", err)
	}
	return writeFileAtomic(paths.checkpoint(l.mode), data)
}
