package scheduler

import (
	"context"
	"fmt"

	"github.com/nfocore/optionengine/internal/models"
)

// runArchival implements §4.G's ARCHIVE node: persist the day's trade
// record (with its own internal verify-then-backup, inside Ledger.Archive),
// pre-write next trading day's restoration file, then push one final
// dashboard snapshot so the UI reflects the closed, archived day rather
// than stalling on the last OPEN-state tick.
func (s *Scheduler) runArchival(ctx context.Context) error {
	now := s.deps.Clock.Now()
	snapshot := s.deps.Ledger.Snapshot()

	priceMap, err := s.fetchCurrentPrices(ctx, snapshot)
	if err != nil {
		s.deps.Log.WithError(err).Warn("scheduler: archival quote fetch failed, archiving with stale/zero marks")
		priceMap = map[models.Symbol]models.Money{}
	}

	if err := s.deps.Ledger.Archive(s.deps.ArchivePaths, s.tradingDay, priceMap, s.deps.SystemVersion, now); err != nil {
		return fmt.Errorf("archive trading day %s: %w", s.tradingDay, err)
	}

	next := s.deps.Calendar.NextTradingDay(now)
	nextDay := next.Format("2006-01-02")
	if err := s.deps.Ledger.WriteRestoration(s.deps.ArchivePaths, nextDay, priceMap, now); err != nil {
		return fmt.Errorf("write restoration file for %s: %w", nextDay, err)
	}

	if s.deps.Dashboard != nil {
		s.deps.Dashboard.Publish(ctx, s.deps.Ledger.Snapshot(), priceMap, now)
	}

	s.deps.Log.WithField("trading_day", s.tradingDay).Info("scheduler: end-of-day archival complete")
	return nil
}
