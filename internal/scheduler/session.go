package scheduler

import (
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// resolveSession implements the CHECK_SESSION transition of the §4.G state
// machine: holiday/weekend/pre-market/open/post-market, gated by the
// calendar and the configured trading window.
//
// bypass_market_hours suppresses every calendar/time-of-day gate so the
// scheduler runs continuously (useful against a backtest feed or a
// broker sandbox outside real market hours) — but a detected IST calendar
// date rollover still forces one POST_MARKET transition, with a warning
// logged, so the daily archival step still runs exactly once. This is the
// most literal reading available of a bypass whose exact edge-case
// semantics the source specification leaves unstated.
func (s *Scheduler) resolveSession(now time.Time) models.MarketSession {
	today := now.In(s.loc)
	dayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, s.loc)
	open, close := s.tradingWindow(dayStart)

	if s.deps.Config.Environment.BypassMarketHours {
		state := models.SessionOpen
		if s.tradingDay != "" && s.tradingDay != dayStart.Format("2006-01-02") {
			s.deps.Log.Warn("scheduler: bypass_market_hours active but trading day rolled over, forcing post-market for archival")
			state = models.SessionPostMarket
		}
		return models.MarketSession{TradingDay: dayStart, OpenTime: open, CloseTime: close, State: state}
	}

	if s.deps.Calendar.IsHoliday(dayStart) {
		return models.MarketSession{TradingDay: dayStart, OpenTime: open, CloseTime: close, State: models.SessionHoliday}
	}
	if s.deps.Calendar.IsWeekend(dayStart) {
		return models.MarketSession{TradingDay: dayStart, OpenTime: open, CloseTime: close, State: models.SessionWeekend}
	}

	switch {
	case now.Before(open):
		return models.MarketSession{TradingDay: dayStart, OpenTime: open, CloseTime: close, State: models.SessionPreMarket}
	case now.Before(close):
		return models.MarketSession{TradingDay: dayStart, OpenTime: open, CloseTime: close, State: models.SessionOpen}
	default:
		return models.MarketSession{TradingDay: dayStart, OpenTime: open, CloseTime: close, State: models.SessionPostMarket}
	}
}

// tradingWindow resolves the configured HH:MM start/end onto dayStart's
// calendar date, falling back to spec defaults if the config values ever
// fail to parse post-validation (defensive, should not happen).
func (s *Scheduler) tradingWindow(dayStart time.Time) (open, close time.Time) {
	start, err1 := time.ParseInLocation("15:04", s.deps.Config.Schedule.TradingStart, s.loc)
	end, err2 := time.ParseInLocation("15:04", s.deps.Config.Schedule.TradingEnd, s.loc)
	if err1 != nil || err2 != nil {
		start = time.Date(0, 1, 1, 9, 15, 0, 0, s.loc)
		end = time.Date(0, 1, 1, 15, 30, 0, 0, s.loc)
	}
	open = time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), start.Hour(), start.Minute(), 0, 0, s.loc)
	close = time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), end.Hour(), end.Minute(), 0, 0, s.loc)
	return open, close
}

// trackTradingDay resets the once-per-day flags whenever the resolved
// session's calendar date has rolled over, and keeps the ledger's trade-ID
// prefix (spec §4.F: "YYYY-MM-DD-<mode>-NNNN") in step.
func (s *Scheduler) trackTradingDay(sess models.MarketSession) {
	day := sess.TradingDay.Format("2006-01-02")
	if s.tradingDay == day {
		return
	}
	s.tradingDay = day
	s.openedToday = false
	s.archivedToday = false
	s.deps.Ledger.SetTradingDay(day)
}
