package aggregator

import (
	"testing"
	"time"

	"github.com/nfocore/optionengine/internal/models"
	"github.com/stretchr/testify/require"
)

func sym(code string) models.Symbol {
	return models.Symbol{Code: code, Exchange: models.ExchangeNSE, Segment: models.SegmentIndex}
}

func TestAggregator_RegimeGateBypassedForExits(t *testing.T) {
	a := New(DefaultConfig())
	a.SetRegime(BiasBullish) // would normally veto sell entries

	cand := Candidate{
		Symbol:        sym("NIFTY"),
		IsExit:        true,
		HeldDirection: models.DirectionBuy, // long position, exit direction is sell
		Votes:         []models.SignalVote{{Source: "ma_crossover", Direction: models.DirectionSell, Strength: 0.2}},
	}
	out := a.EvaluateBatch([]Candidate{cand}, time.Now())
	sig := out[cand.Symbol]
	require.Equal(t, models.ActionSell, sig.Action)
	require.True(t, sig.IsExit, "a held long with any single dissenting vote must always be exitable")
}

func TestAggregator_EntryRequiresAgreementAndConfidence(t *testing.T) {
	a := New(DefaultConfig())
	cand := Candidate{
		Symbol: sym("BANKNIFTY"),
		Votes: []models.SignalVote{
			{Source: "a", Direction: models.DirectionBuy, Strength: 0.9},
			{Source: "b", Direction: models.DirectionHold},
			{Source: "c", Direction: models.DirectionHold},
		},
	}
	out := a.EvaluateBatch([]Candidate{cand}, time.Now())
	require.Equal(t, models.ActionHold, out[cand.Symbol].Action, "1/3 agreement is below the 0.40 entry threshold")
}

func TestAggregator_TopNThrottlesEntriesOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopNEntries = 1
	a := New(cfg)

	makeEntry := func(code string, confidence float64) Candidate {
		return Candidate{
			Symbol: sym(code),
			Votes: []models.SignalVote{
				{Source: "a", Direction: models.DirectionBuy, Strength: confidence},
				{Source: "b", Direction: models.DirectionBuy, Strength: confidence},
			},
		}
	}
	high := makeEntry("NIFTY", 0.95)
	low := makeEntry("BANKNIFTY", 0.70)

	out := a.EvaluateBatch([]Candidate{low, high}, time.Now())
	require.Equal(t, models.ActionBuy, out[high.Symbol].Action)
	require.Equal(t, models.ActionHold, out[low.Symbol].Action, "only the top confidence entry should survive a TopNEntries=1 throttle")
}

func TestAggregator_StopOutCooldownSuppressesNewEntries(t *testing.T) {
	a := New(DefaultConfig())
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, models.IST)
	target := sym("NIFTY")
	a.NotifyStopOut(target, now)

	cand := Candidate{
		Symbol: target,
		Votes: []models.SignalVote{
			{Source: "a", Direction: models.DirectionBuy, Strength: 0.9},
			{Source: "b", Direction: models.DirectionBuy, Strength: 0.9},
		},
	}
	out := a.EvaluateBatch([]Candidate{cand}, now.Add(30*time.Minute))
	require.Equal(t, models.ActionHold, out[target].Action, "entries on a recently stopped-out symbol stay suppressed within the 60 minute window")

	afterCooldown := a.EvaluateBatch([]Candidate{cand}, now.Add(61*time.Minute))
	require.Equal(t, models.ActionBuy, afterCooldown[target].Action, "entries resume once the stop-out cooldown elapses")
}
