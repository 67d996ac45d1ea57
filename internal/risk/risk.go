// Package risk applies the pre-trade checks of spec §4.H to every
// candidate new entry before it reaches the portfolio ledger: sizing,
// risk-reward, concentration, the ban list, margin and duplicate-order
// detection.
package risk

import (
	"errors"
	"sync"
	"time"

	"github.com/nfocore/optionengine/internal/clock"
	"github.com/nfocore/optionengine/internal/models"
)

var (
	ErrTradeTooRisky      = errors.New("risk: trade too risky")
	ErrRRRTooLow          = errors.New("risk: risk-reward ratio below minimum")
	ErrPositionTooLarge   = errors.New("risk: position too large")
	ErrConcentrationLimit = errors.New("risk: concentration limit reached for underlying")
	ErrUnderlyingBanned   = errors.New("risk: underlying is on the F&O ban list")
	ErrInsufficientMargin = errors.New("risk: estimated margin exceeds available margin")
	ErrDuplicateOrder     = errors.New("risk: duplicate order fingerprint within window")
	ErrShortOptionsDisabled = errors.New("risk: short options are disabled")
)

// Config tunes every threshold, defaults matching spec §4.H.
type Config struct {
	RiskPerTradePctLive       float64
	RiskPerTradePctPaper      float64
	MinRRR                    float64
	MaxPositionPct            float64
	MaxPositionsPerUnderlying int
	DuplicateWindow           time.Duration
	MarginUtilisationCap      float64 // reject if estimated_margin > available_margin * this

	// AllowShortOptions gates SideSell entries (writing options). Disabled
	// by default per the spec's stated assumption that this engine trades
	// long option positions.
	AllowShortOptions bool
}

// DefaultConfig matches spec §4.H's stated defaults.
func DefaultConfig() Config {
	return Config{
		RiskPerTradePctLive:       0.015,
		RiskPerTradePctPaper:      0.01,
		MinRRR:                    1.5,
		MaxPositionPct:            0.20,
		MaxPositionsPerUnderlying: 6,
		DuplicateWindow:           2 * time.Second,
		MarginUtilisationCap:      0.95,
		AllowShortOptions:         false,
	}
}

// MarginEstimate is the caller-supplied result of a broker margin lookup;
// nil on the Candidate means "not applicable" (paper/backtest modes).
type MarginEstimate struct {
	Estimated models.Money
	Available models.Money
}

// Candidate is one new-entry proposal checked as a unit.
type Candidate struct {
	Symbol     models.Symbol
	Underlying models.Underlying
	Side       models.Side
	Mode       models.Mode
	Equity     models.Money
	Entry      models.Money
	Stop       models.Money
	Target     models.Money
	LotSize    int

	// OpenPositionsForUnderlying is the caller-supplied (ledger-owned)
	// count of currently open positions sharing Underlying, for the
	// concentration gate; risk does not track position state itself.
	OpenPositionsForUnderlying int

	Margin *MarginEstimate

	Fingerprint models.OrderFingerprint
	Now         time.Time
}

// Approval is what survives every gate: the lot count sizing computed and
// the resulting position notional, for logging/auditing.
type Approval struct {
	Lots          int
	PositionValue models.Money
	RRR           float64
}

// Checker runs the ordered §4.H gate sequence. Ban-list membership is
// refreshed externally (a cron task, per DESIGN.md) via SetBanned.
type Checker struct {
	mu          sync.Mutex
	cfg         Config
	banned      map[models.Underlying]bool
	recentPrint map[string]time.Time
	clock       clock.Clock
}

// New constructs a Checker. Passing a nil clock.Clock panics at
// construction, matching the module's fail-fast dependency-guard
// convention.
func New(cfg Config, c clock.Clock) *Checker {
	if c == nil {
		panic("risk.New: clock must not be nil")
	}
	return &Checker{
		cfg:         cfg,
		banned:      make(map[models.Underlying]bool),
		recentPrint: make(map[string]time.Time),
		clock:       c,
	}
}

// SetBanned replaces the F&O ban list wholesale; called on startup and
// hourly thereafter by the background refresh task.
func (c *Checker) SetBanned(underlyings []models.Underlying) {
	next := make(map[models.Underlying]bool, len(underlyings))
	for _, u := range underlyings {
		next[u] = true
	}
	c.mu.Lock()
	c.banned = next
	c.mu.Unlock()
}

func (c *Checker) isBanned(u models.Underlying) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banned[u]
}

// Check runs sizing, RRR, position cap, concentration, ban list, margin
// and duplicate-order detection in order, returning the first failure.
func (c *Checker) Check(cand Candidate) (Approval, error) {
	if cand.Side == models.SideSell && !c.cfg.AllowShortOptions {
		return Approval{}, ErrShortOptionsDisabled
	}

	lots, err := c.sizePosition(cand)
	if err != nil {
		return Approval{}, err
	}

	rrr, err := riskRewardRatio(cand.Entry, cand.Stop, cand.Target)
	if err != nil {
		return Approval{}, err
	}
	if rrr < c.cfg.MinRRR {
		return Approval{}, ErrRRRTooLow
	}

	positionValue := cand.Entry.Mul(lots * cand.LotSize)
	positionPct := positionValue.Percent(cand.Equity) / 100 // Percent guards cand.Equity == 0
	if positionPct > c.cfg.MaxPositionPct {
		return Approval{}, ErrPositionTooLarge
	}

	if cand.OpenPositionsForUnderlying >= c.cfg.MaxPositionsPerUnderlying {
		return Approval{}, ErrConcentrationLimit
	}

	if c.isBanned(cand.Underlying) {
		return Approval{}, ErrUnderlyingBanned
	}

	if cand.Mode == models.ModeLive && cand.Margin != nil {
		if cand.Margin.Estimated.Float64() > cand.Margin.Available.Float64()*c.cfg.MarginUtilisationCap {
			return Approval{}, ErrInsufficientMargin
		}
	}

	if c.isDuplicate(cand.Fingerprint, cand.Now) {
		return Approval{}, ErrDuplicateOrder
	}

	return Approval{Lots: lots, PositionValue: positionValue, RRR: rrr}, nil
}

// sizePosition applies the 1% rule: max_loss = equity * risk_per_trade_pct,
// risk_per_lot = |entry - stop| * lot_size, lots = floor(max_loss /
// risk_per_lot). Fewer than one lot fails TradeTooRisky.
func (c *Checker) sizePosition(cand Candidate) (int, error) {
	pct := c.cfg.RiskPerTradePctPaper
	if cand.Mode == models.ModeLive {
		pct = c.cfg.RiskPerTradePctLive
	}
	if cand.LotSize <= 0 {
		return 0, ErrTradeTooRisky
	}

	maxLoss := cand.Equity.Float64() * pct
	riskPerLot := absMoney(cand.Entry - cand.Stop).Mul(cand.LotSize).Float64()
	if riskPerLot <= 0 {
		return 0, ErrTradeTooRisky
	}

	lots := int(maxLoss / riskPerLot)
	if lots < 1 {
		return 0, ErrTradeTooRisky
	}
	return lots, nil
}

// riskRewardRatio computes (target-entry)/(entry-stop), guarding a zero
// denominator rather than dividing by zero.
func riskRewardRatio(entry, stop, target models.Money) (float64, error) {
	denom := entry - stop
	if denom == 0 {
		return 0, ErrTradeTooRisky
	}
	return (target - entry).Float64() / denom.Float64(), nil
}

func absMoney(m models.Money) models.Money {
	if m < 0 {
		return -m
	}
	return m
}

// isDuplicate reports whether an identical fingerprint was seen within
// DuplicateWindow, and records this one for future lookups. Entries older
// than the window are swept lazily on each call.
func (c *Checker) isDuplicate(fp models.OrderFingerprint, now time.Time) bool {
	key := fp.Key()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, seenAt := range c.recentPrint {
		if now.Sub(seenAt) > c.cfg.DuplicateWindow {
			delete(c.recentPrint, k)
		}
	}

	if seenAt, ok := c.recentPrint[key]; ok && now.Sub(seenAt) <= c.cfg.DuplicateWindow {
		return true
	}
	c.recentPrint[key] = now
	return false
}
