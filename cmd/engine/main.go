// Command engine is the intraday options-trading core: it loads
// configuration, wires every component and runs the session scheduler
// until a trading day completes or a shutdown signal arrives.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

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
	"github.com/nfocore/optionengine/internal/scheduler"
	"github.com/nfocore/optionengine/internal/strategy"
)

// systemVersion is stamped into every archive/checkpoint record.
const systemVersion = "optionengine-core/0.1.0"

// Exit codes: 0 clean, 1 config error, 2 broker auth failure, 3 startup
// wiring failure, 130 interrupted (SIGINT), matching the conventional
// 128+signal numbering for the latter.
const (
	exitOK            = 0
	exitConfigError   = 1
	exitBrokerAuth    = 2
	exitWiringFailure = 3
	exitInterrupted   = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	dryRun := flag.Bool("dry-run", false, "load and validate configuration, then exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine: load config: %v\n", err)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "engine: invalid config: %v\n", err)
		return exitConfigError
	}
	cfg.Normalize()

	logger := newLogger(cfg.Environment.LogLevel)

	if *dryRun {
		logger.Info("engine: configuration loaded and validated, dry-run requested, exiting")
		return exitOK
	}

	sysClock := clock.New()

	brokerClient := broker.NewClient(broker.Config{
		BaseURL:            cfg.Broker.BaseURL,
		APIKey:             cfg.Broker.APIKey,
		CallsPerSecond:     cfg.Broker.CallsPerSecond,
		BurstLimit:         cfg.Broker.BurstLimit,
		InstrumentCacheTTL: time.Duration(cfg.Broker.InstrumentCacheTTLSeconds) * time.Second,
		QuoteCacheTTL:      time.Duration(cfg.Broker.QuoteCacheTTLSeconds) * time.Second,
		MaxRetries:         cfg.Broker.MaxRetries,
		CallTimeout:        time.Duration(cfg.Broker.CallTimeoutSeconds) * time.Second,
	}, sysClock, log.Default())

	brk := broker.NewCircuitBreakerBrokerWithSettings(brokerClient, broker.CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      time.Duration(cfg.Broker.CircuitBreakerCooldownSeconds) * time.Second,
		MinRequests:  uint32(cfg.Broker.CircuitBreakerThreshold),
		FailureRatio: 1.0,
	})

	cal, err := loadCalendar(cfg)
	if err != nil {
		logger.WithError(err).Error("engine: failed to load trading calendar")
		return exitWiringFailure
	}

	chains := optionchain.New(brk, cal, sysClock, optionchain.DefaultConfig())

	strategies, err := loadStrategies(cfg)
	if err != nil {
		logger.WithError(err).Error("engine: failed to resolve configured strategies")
		return exitWiringFailure
	}

	agg := aggregator.New(aggregator.Config{
		EntryAgreementThreshold: cfg.Aggregator.EntryAgreementThreshold,
		MinEntryConfidence:      cfg.Aggregator.MinEntryConfidence,
		TopNEntries:             cfg.Aggregator.TopNEntries,
		NormalCooldownMinutes:   cfg.Strategy.CooldownMinutes,
		StopCooldownMinutes:     cfg.Strategy.StopLossCooldownMinutes,
	})

	posMgr := positionmgr.New(positionmgr.Config{
		FlattenWindowMinutes:         cfg.Schedule.FlattenWindowMinutes,
		TrailingActivationMultiplier: cfg.Exit.TrailingActivationMultiplier,
		TrailingStopMultiplier:       cfg.Exit.TrailingStopMultiplier,
		IntelligentExitThreshold:     cfg.Exit.IntelligentExitThreshold,
		ThetaPressureDays:            positionmgr.DefaultConfig().ThetaPressureDays,
		WeightPnL:                    positionmgr.DefaultConfig().WeightPnL,
		WeightTheta:                  positionmgr.DefaultConfig().WeightTheta,
		WeightStrategyHint:           positionmgr.DefaultConfig().WeightStrategyHint,
		WeightConfidenceDecay:        positionmgr.DefaultConfig().WeightConfidenceDecay,
	})

	riskChecker := risk.New(risk.Config{
		RiskPerTradePctLive:       cfg.Risk.RiskPerTradePctLive,
		RiskPerTradePctPaper:      cfg.Risk.RiskPerTradePctPaper,
		MinRRR:                    cfg.Risk.MinRRR,
		MaxPositionPct:            cfg.Risk.MaxPositionPct,
		MaxPositionsPerUnderlying: cfg.Risk.MaxPositionsPerUnderlying,
		DuplicateWindow:           time.Duration(cfg.Risk.DuplicateWindowSeconds) * time.Second,
		MarginUtilisationCap:      cfg.Risk.MarginUtilisationCap,
		AllowShortOptions:         cfg.Risk.AllowShortOptions,
	}, sysClock)

	ledger := portfolio.New(engineMode(cfg), models.Rupees(cfg.Environment.InitialCapital), portfolio.DefaultFeeSchedule(), sysClock)

	ordersMgr := orders.NewManager(brk, ledger, logger)

	var publisher *dashboard.Publisher
	if cfg.Dashboard.PublishBaseURL != "" {
		publisher = dashboard.NewPublisher(dashboard.PublisherConfig{
			BaseURL: cfg.Dashboard.PublishBaseURL,
			APIKey:  cfg.Dashboard.PublishAPIKey,
			Timeout: 10 * time.Second,
		}, logger)
	}

	var dashServer *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashServer = dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, ledger, logger)
	}

	sched, err := scheduler.New(scheduler.Deps{
		Config:        cfg,
		Clock:         sysClock,
		Calendar:      cal,
		Broker:        brk,
		Chains:        chains,
		Strategies:    strategies,
		Aggregator:    agg,
		PositionMgr:   posMgr,
		Risk:          riskChecker,
		Ledger:        ledger,
		Orders:        ordersMgr,
		Dashboard:     publisher,
		ArchivePaths:  portfolio.ArchivePaths{Root: cfg.Storage.Root},
		SystemVersion: systemVersion,
		Log:           logger,
	})
	if err != nil {
		logger.WithError(err).Error("engine: scheduler construction failed")
		return exitWiringFailure
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	interrupted := make(chan struct{})
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("engine: shutdown signal received")
		close(interrupted)
		cancel()
	}()

	if dashServer != nil {
		go func() {
			if err := dashServer.Start(); err != nil {
				logger.WithError(err).Warn("engine: dashboard server stopped")
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = dashServer.Shutdown(shutdownCtx)
		}()
	}

	runErr := sched.Run(ctx)

	select {
	case <-interrupted:
		return exitInterrupted
	default:
	}
	if runErr != nil {
		logger.WithError(runErr).Error("engine: scheduler exited with error")
		return exitWiringFailure
	}
	return exitOK
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

func loadCalendar(cfg *config.Config) (calendar.Provider, error) {
	// No holiday file is read: the engine runs with an empty holiday set and
	// the default expiry-cadence table, so session gating is weekday-only and
	// exchange holidays are treated as trading days. An empty holiday set
	// never causes a hard failure, so the scheduler can still run against a
	// broker sandbox with no holiday feed configured.
	return calendar.New(nil, nil), nil
}

func loadStrategies(cfg *config.Config) (map[string]strategy.Evaluator, error) {
	registry := strategy.NewRegistry()
	params := strategy.Params{
		ConfirmationBars: cfg.Strategy.ConfirmationBars,
		CooldownMinutes:  cfg.Strategy.CooldownMinutes,
	}
	out := make(map[string]strategy.Evaluator, len(cfg.Strategy.Enabled))
	for _, name := range cfg.Strategy.Enabled {
		ev, err := registry.Resolve(name)
		if err != nil {
			return nil, fmt.Errorf("resolve strategy %q: %w", name, err)
		}
		ev.Init(params)
		out[name] = ev
	}
	return out, nil
}

func engineMode(cfg *config.Config) models.Mode {
	switch cfg.Environment.Mode {
	case "live":
		return models.ModeLive
	case "backtest":
		return models.ModeBacktest
	default:
		return models.ModePaper
	}
}
