// Package scheduler drives the §4.G state machine: boot, session
// resolution, the OPEN-state iteration loop, end-of-day archival and
// graceful shutdown. It owns no business logic of its own beyond
// sequencing — every decision (exit, entry, sizing, aggregation) is
// delegated to the package that already specializes in it.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/nfocore/optionengine/internal/aggregator"
	"github.com/nfocore/optionengine/internal/broker"
	"github.com/nfocore/optionengine/internal/calendar"
	"github.com/nfocore/optionengine/internal/clock"
	"github.com/nfocore/optionengine/internal/config"
	"github.com/nfocore/optionengine/internal/dashboard"
	"github.com/nfocore/optionengine/internal/models"
	"github.com/nfocore/optionengine/internal/optionchain"
	"github.com/nfocore/optionengine/internal/orders"
	"github.com/nfocore/optionengine/internal/portfolio"
	"github.com/nfocore/optionengine/internal/positionmgr"
	"github.com/nfocore/optionengine/internal/risk"
	"github.com/nfocore/optionengine/internal/strategy"
)

// State names the §4.G nodes verbatim.
type State int

const (
	StateBoot State = iota
	StateCheckSession
	StateSleepLong
	StatePreMarket
	StateSleepShort
	StateOpen
	StateIterate
	StatePostMarket
	StateArchive
	StateGracefulShutdown
	StateExit
)

func (st State) String() string {
	switch st {
	case StateBoot:
		return "BOOT"
	case StateCheckSession:
		return "CHECK_SESSION"
	case StateSleepLong:
		return "SLEEP_LONG"
	case StatePreMarket:
		return "PRE_MARKET"
	case StateSleepShort:
		return "SLEEP_SHORT"
	case StateOpen:
		return "OPEN"
	case StateIterate:
		return "ITERATE"
	case StatePostMarket:
		return "POST_MARKET"
	case StateArchive:
		return "ARCHIVE"
	case StateGracefulShutdown:
		return "GRACEFUL_SHUTDOWN"
	case StateExit:
		return "EXIT"
	default:
		return "UNKNOWN"
	}
}

// sleepLongInterval and sleepShortInterval are not named by the source
// specification's state machine; it only names the SLEEP_LONG/SLEEP_SHORT
// nodes, not their durations. Chosen so a holiday/weekend check costs one
// calendar lookup every 30 minutes, and a pre-market poll is fine-grained
// enough that the scheduler opens within a minute of the configured start.
const (
	sleepLongInterval  = 30 * time.Minute
	sleepShortInterval = 1 * time.Minute
	sleepPollStep      = 1 * time.Second

	cronBanListSpec = "0 * * * *" // hourly
	cronSweepSpec   = "*/30 * * * *"
)

// Deps collects every component the scheduler orchestrates. All fields are
// required except BanList and Dashboard, which degrade gracefully.
type Deps struct {
	Config   *config.Config
	Clock    clock.Clock
	Calendar calendar.Provider
	Broker   broker.Broker

	Chains      *optionchain.Provider
	Strategies  map[string]strategy.Evaluator
	Aggregator  *aggregator.Aggregator
	PositionMgr *positionmgr.Evaluator
	Risk        *risk.Checker
	Ledger      *portfolio.Ledger
	Orders      *orders.Manager
	Dashboard   *dashboard.Publisher
	BanList     BanListSource

	ArchivePaths  portfolio.ArchivePaths
	SystemVersion string
	Log           *logrus.Logger
}

// Scheduler runs the §4.G state machine over Deps.
type Scheduler struct {
	deps Deps
	loc  *time.Location

	watchlist   []models.Underlying
	indexTokens map[models.Underlying]int64

	state         State
	tradingDay    string
	openedToday   bool
	archivedToday bool
	iteration     int64

	// lastAggregated/lastATR cache the prior iteration's §4.D aggregate
	// result and §4.C ATR reading per underlying, consulted by the
	// CURRENT iteration's exit waterfall (see iterate.go's runIteration
	// doc comment for why this one-tick lag is the correct reading of the
	// source's literal step ordering).
	lastAggregated map[models.Symbol]models.AggregatedSignal
	lastATR        map[models.Underlying]float64

	cron *cron.Cron
}

// New validates deps and constructs a Scheduler. Required dependencies
// left nil panic immediately, matching this module's established
// fail-fast-on-construction convention (portfolio.New, risk.New, and
// orders.NewManager all panic rather than defer the nil check).
func New(deps Deps) (*Scheduler, error) {
	switch {
	case deps.Config == nil:
		panic("scheduler: nil Config")
	case deps.Clock == nil:
		panic("scheduler: nil Clock")
	case deps.Calendar == nil:
		panic("scheduler: nil Calendar")
	case deps.Broker == nil:
		panic("scheduler: nil Broker")
	case deps.Chains == nil:
		panic("scheduler: nil Chains")
	case deps.Aggregator == nil:
		panic("scheduler: nil Aggregator")
	case deps.PositionMgr == nil:
		panic("scheduler: nil PositionMgr")
	case deps.Risk == nil:
		panic("scheduler: nil Risk")
	case deps.Ledger == nil:
		panic("scheduler: nil Ledger")
	case deps.Orders == nil:
		panic("scheduler: nil Orders")
	case deps.Log == nil:
		panic("scheduler: nil Log")
	}
	if deps.BanList == nil {
		deps.Log.Info("scheduler: no ban-list source configured, F&O ban checks are disabled")
		deps.BanList = NoopBanListSource{}
	}

	loc, err := time.LoadLocation(deps.Config.Schedule.Timezone)
	if err != nil {
		loc = models.IST
	}

	watchlist := make([]models.Underlying, 0, len(deps.Config.Watchlist))
	for _, raw := range deps.Config.Watchlist {
		u, err := models.ParseUnderlying(raw)
		if err != nil {
			return nil, fmt.Errorf("scheduler: watchlist entry %q: %w", raw, err)
		}
		watchlist = append(watchlist, u)
	}
	if len(watchlist) == 0 {
		return nil, fmt.Errorf("scheduler: empty watchlist")
	}

	return &Scheduler{
		deps:           deps,
		loc:            loc,
		watchlist:      watchlist,
		state:          StateBoot,
		lastAggregated: make(map[models.Symbol]models.AggregatedSignal),
		lastATR:        make(map[models.Underlying]float64),
	}, nil
}

// Run executes the §4.G state machine until the day's ARCHIVE step has run
// (ARCHIVE → EXIT, returning nil), ctx is cancelled (graceful shutdown) or
// an unrecoverable boot error occurs.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.resolveIndexTokens(ctx); err != nil {
		return fmt.Errorf("scheduler boot: %w", err)
	}
	s.startBackgroundTasks(ctx)
	defer s.stopBackgroundTasks()

	s.state = StateCheckSession
	for {
		if ctx.Err() != nil {
			return s.gracefulShutdown()
		}

		switch s.state {
		case StateCheckSession:
			now := s.deps.Clock.Now()
			sess := s.resolveSession(now)
			s.trackTradingDay(sess)

			switch sess.State {
			case models.SessionHoliday, models.SessionWeekend:
				s.state = StateSleepLong
			case models.SessionPreMarket:
				s.state = StateSleepShort
			case models.SessionOpen:
				s.state = StateOpen
			case models.SessionPostMarket:
				s.state = StatePostMarket
			default:
				s.state = StateSleepShort
			}

		case StateSleepLong:
			if !s.sleepInterruptible(ctx, sleepLongInterval) {
				return s.gracefulShutdown()
			}
			s.state = StateCheckSession

		case StateSleepShort:
			if !s.sleepInterruptible(ctx, sleepShortInterval) {
				return s.gracefulShutdown()
			}
			s.state = StateCheckSession

		case StateOpen:
			s.openedToday = true
			s.state = StateIterate

		case StateIterate:
			now := s.deps.Clock.Now()
			if s.resolveSession(now).State != models.SessionOpen {
				s.state = StatePostMarket
				continue
			}
			if err := s.runIteration(ctx); err != nil {
				s.deps.Log.WithError(err).Error("scheduler: iteration failed, continuing")
			}
			s.iteration++
			if err := s.deps.Ledger.WriteCheckpoint(s.deps.ArchivePaths, s.iteration, s.deps.Clock.Now()); err != nil {
				s.deps.Log.WithError(err).Warn("scheduler: checkpoint write failed")
			}
			if !s.sleepInterruptible(ctx, s.scanInterval()) {
				return s.gracefulShutdown()
			}
			s.state = StateIterate

		case StatePostMarket:
			s.state = StateArchive

		case StateArchive:
			if !s.archivedToday {
				if err := s.runArchival(ctx); err != nil {
					s.deps.Log.WithError(err).Error("scheduler: end-of-day archival failed")
				} else {
					s.archivedToday = true
				}
			}
			s.state = StateExit

		case StateExit:
			return nil

		default:
			return fmt.Errorf("scheduler: unhandled state %s", s.state)
		}
	}
}

func (s *Scheduler) scanInterval() time.Duration {
	return s.deps.Config.ScanInterval()
}

// sleepInterruptible sleeps in sleepPollStep increments via the injected
// clock, checking ctx between ticks, so tests driving clock.Fake observe
// the same cancellation behaviour production's SIGTERM handling relies on
// without needing a real time.Ticker.
func (s *Scheduler) sleepInterruptible(ctx context.Context, d time.Duration) bool {
	remaining := d
	for remaining > 0 {
		if ctx.Err() != nil {
			return false
		}
		step := sleepPollStep
		if step > remaining {
			step = remaining
		}
		s.deps.Clock.Sleep(step)
		remaining -= step
	}
	return ctx.Err() == nil
}

// gracefulShutdown implements spec §5's GRACEFUL_SHUTDOWN node: flush,
// checkpoint, exit. It never force-closes positions; §4.E step 1
// (force-flatten) is the only pathway that does that.
func (s *Scheduler) gracefulShutdown() error {
	s.stopBackgroundTasks()
	now := s.deps.Clock.Now()
	if err := s.deps.Ledger.WriteCheckpoint(s.deps.ArchivePaths, s.iteration, now); err != nil {
		s.deps.Log.WithError(err).Error("scheduler: checkpoint write failed during graceful shutdown")
		return fmt.Errorf("graceful shutdown checkpoint: %w", err)
	}
	s.deps.Log.WithField("iteration", s.iteration).Info("scheduler: graceful shutdown complete")
	return nil
}

// startBackgroundTasks wires robfig/cron for the two periodic sweeps the
// iteration loop itself has no natural cadence for: an hourly F&O ban-list
// refresh (also run once here, at startup) and a 30-minute instrument-cache
// pre-warm of both home exchanges.
func (s *Scheduler) startBackgroundTasks(ctx context.Context) {
	s.cron = cron.New()

	refreshBanList := func() {
		banned, err := s.deps.BanList.FetchBanned(ctx)
		if err != nil {
			s.deps.Log.WithError(err).Warn("scheduler: ban-list refresh failed")
			return
		}
		s.deps.Risk.SetBanned(banned)
	}
	refreshBanList()

	_, err := s.cron.AddFunc(cronBanListSpec, refreshBanList)
	if err != nil {
		s.deps.Log.WithError(err).Error("scheduler: failed to schedule ban-list refresh")
	}

	_, err = s.cron.AddFunc(cronSweepSpec, func() {
		for _, ex := range []models.Exchange{models.ExchangeNSE, models.ExchangeBSE} {
			if _, err := s.deps.Broker.GetInstruments(ctx, ex); err != nil {
				s.deps.Log.WithError(err).WithField("exchange", string(ex)).Warn("scheduler: instrument cache sweep failed")
			}
		}
	})
	if err != nil {
		s.deps.Log.WithError(err).Error("scheduler: failed to schedule instrument cache sweep")
	}

	s.cron.Start()
}

func (s *Scheduler) stopBackgroundTasks() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
