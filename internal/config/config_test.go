package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_ExampleConfigLoadsSuccessfully(t *testing.T) {
	path := filepath.Join("..", "..", "config.yaml.example")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "paper", cfg.Environment.Mode)
	require.Len(t, cfg.Watchlist, 6)
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	require.Error(t, err)
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	const badYAML = `
environment: { mode: paper, log_level: info, initial_capital: 100000 }
broker: { calls_per_second: 3, burst_limit: 5 }
watchlist: [NIFTY]
strategy: { enabled: [ma_crossover] }
risk: {}
storage: { root: ./data }
extra_unknown_key: true
`
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(badYAML), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func validConfig() Config {
	return Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info", InitialCapital: 1000000},
		Broker: BrokerConfig{
			CallsPerSecond: 3, BurstLimit: 5,
			CircuitBreakerThreshold: 5, CircuitBreakerCooldownSeconds: 300,
		},
		Schedule: ScheduleConfig{
			Timezone: "Asia/Kolkata", TradingStart: "09:15", TradingEnd: "15:30",
			ScanIntervalSeconds: 10,
		},
		Watchlist: []string{"NIFTY"},
		Strategy:  StrategyConfig{Enabled: []string{"ma_crossover"}},
		Aggregator: AggregatorConfig{
			EntryAgreementThreshold: 0.40, MinEntryConfidence: 0.65, TopNEntries: 5,
		},
		Risk: RiskConfig{
			MinRRR: 1.5, MaxPositionPct: 0.20, MaxPositionsPerUnderlying: 6,
			RiskPerTradePctLive: 0.015, RiskPerTradePctPaper: 0.01,
		},
		Storage: StorageConfig{Root: "./data"},
	}
}

func TestValidate_AcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsUnknownMode(t *testing.T) {
	cfg := validConfig()
	cfg.Environment.Mode = "sandbox"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsLiveModeWithoutCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Environment.Mode = "live"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsEmptyWatchlist(t *testing.T) {
	cfg := validConfig()
	cfg.Watchlist = nil
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsRiskPerTradeAboveCap(t *testing.T) {
	cfg := validConfig()
	cfg.Risk.RiskPerTradePctLive = 0.02
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsScanIntervalBelowFiveSeconds(t *testing.T) {
	cfg := validConfig()
	cfg.Schedule.ScanIntervalSeconds = 3
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsInvertedTradingWindow(t *testing.T) {
	cfg := validConfig()
	cfg.Schedule.TradingStart = "15:30"
	cfg.Schedule.TradingEnd = "09:15"
	require.Error(t, cfg.Validate())
}

func TestNormalize_FillsSpecDefaults(t *testing.T) {
	var cfg Config
	cfg.Normalize()

	require.Equal(t, "paper", cfg.Environment.Mode)
	require.InDelta(t, 1_000_000, cfg.Environment.InitialCapital, 0)
	require.Equal(t, 3.0, cfg.Broker.CallsPerSecond)
	require.Equal(t, 5, cfg.Broker.BurstLimit)
	require.Equal(t, 10, cfg.Schedule.ScanIntervalSeconds)
	require.Equal(t, 1.5, cfg.Risk.MinRRR)
	require.Equal(t, 0.015, cfg.Risk.RiskPerTradePctLive)
	require.Equal(t, 9847, cfg.Dashboard.Port)
}

func TestIsWithinTradingHours(t *testing.T) {
	cfg := &Config{Schedule: ScheduleConfig{
		Timezone: "Asia/Kolkata", TradingStart: "09:15", TradingEnd: "15:30",
	}}

	ist, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	within, err := cfg.IsWithinTradingHours(time.Date(2026, 7, 30, 10, 0, 0, 0, ist)) // Thursday
	require.NoError(t, err)
	require.True(t, within)

	before, err := cfg.IsWithinTradingHours(time.Date(2026, 7, 30, 9, 0, 0, 0, ist))
	require.NoError(t, err)
	require.False(t, before)

	weekend, err := cfg.IsWithinTradingHours(time.Date(2026, 8, 1, 10, 0, 0, 0, ist)) // Saturday
	require.NoError(t, err)
	require.False(t, weekend)
}

func TestScanInterval_DefaultsWhenUnset(t *testing.T) {
	cfg := &Config{}
	require.Equal(t, 10*time.Second, cfg.ScanInterval())
}
