package risk

import (
	"testing"
	"time"

	"github.com/nfocore/optionengine/internal/clock"
	"github.com/nfocore/optionengine/internal/models"
	"github.com/stretchr/testify/require"
)

func baseCandidate() Candidate {
	return Candidate{
		Symbol:     models.Symbol{Code: "NIFTY25000CE"},
		Underlying: models.UnderlyingNIFTY,
		Side:       models.SideBuy,
		Mode:       models.ModePaper,
		Equity:     models.Rupees(1000000),
		Entry:      models.Rupees(100),
		Stop:       models.Rupees(80),
		Target:     models.Rupees(140),
		LotSize:    50,
		Now:        time.Date(2026, 1, 1, 10, 0, 0, 0, models.IST),
		Fingerprint: models.NewOrderFingerprint(
			models.Symbol{Code: "NIFTY25000CE"}, models.SideBuy, 1, models.Rupees(100), "client-1",
			time.Date(2026, 1, 1, 10, 0, 0, 0, models.IST), time.Second),
	}
}

func TestCheck_ApprovesWithinAllLimits(t *testing.T) {
	c := New(DefaultConfig(), clock.New())
	approval, err := c.Check(baseCandidate())
	require.NoError(t, err)
	require.GreaterOrEqual(t, approval.Lots, 1)
}

func TestCheck_RejectsTooRiskyWhenStopEqualsEntry(t *testing.T) {
	c := New(DefaultConfig(), clock.New())
	cand := baseCandidate()
	cand.Stop = cand.Entry
	_, err := c.Check(cand)
	require.ErrorIs(t, err, ErrTradeTooRisky)
}

func TestCheck_RejectsLowRRR(t *testing.T) {
	c := New(DefaultConfig(), clock.New())
	cand := baseCandidate()
	cand.Target = models.Rupees(105) // (105-100)/(100-80) = 0.25, below 1.5 minimum
	_, err := c.Check(cand)
	require.ErrorIs(t, err, ErrRRRTooLow)
}

func TestCheck_RejectsConcentrationLimit(t *testing.T) {
	c := New(DefaultConfig(), clock.New())
	cand := baseCandidate()
	cand.OpenPositionsForUnderlying = 6
	_, err := c.Check(cand)
	require.ErrorIs(t, err, ErrConcentrationLimit)
}

func TestCheck_RejectsBannedUnderlying(t *testing.T) {
	c := New(DefaultConfig(), clock.New())
	c.SetBanned([]models.Underlying{models.UnderlyingNIFTY})
	_, err := c.Check(baseCandidate())
	require.ErrorIs(t, err, ErrUnderlyingBanned)
}

func TestCheck_RejectsInsufficientMarginInLiveMode(t *testing.T) {
	c := New(DefaultConfig(), clock.New())
	cand := baseCandidate()
	cand.Mode = models.ModeLive
	cand.Margin = &MarginEstimate{Estimated: models.Rupees(100000), Available: models.Rupees(50000)}
	_, err := c.Check(cand)
	require.ErrorIs(t, err, ErrInsufficientMargin)
}

func TestCheck_RejectsShortOptionsByDefault(t *testing.T) {
	c := New(DefaultConfig(), clock.New())
	cand := baseCandidate()
	cand.Side = models.SideSell
	_, err := c.Check(cand)
	require.ErrorIs(t, err, ErrShortOptionsDisabled)
}

func TestCheck_AllowsShortOptionsWhenEnabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowShortOptions = true
	c := New(cfg, clock.New())
	cand := baseCandidate()
	cand.Side = models.SideSell
	_, err := c.Check(cand)
	require.NoError(t, err)
}

func TestCheck_RejectsDuplicateFingerprintWithinWindow(t *testing.T) {
	c := New(DefaultConfig(), clock.New())
	cand := baseCandidate()

	_, err := c.Check(cand)
	require.NoError(t, err)

	dup := cand
	_, err = c.Check(dup)
	require.ErrorIs(t, err, ErrDuplicateOrder)
}
