package strategy

import (
	"testing"
	"time"

	"github.com/nfocore/optionengine/internal/models"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ResolveUnknownFailsFast(t *testing.T) {
	r := NewRegistry()
	_, err := r.Resolve("does_not_exist")
	require.Error(t, err)
}

func TestRegistry_ResolveKnownNames(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"ma_crossover", "rsi_mean_reversion", "bollinger_reversal", "volume_breakout", "momentum"} {
		ev, err := r.Resolve(name)
		require.NoError(t, err)
		require.Equal(t, name, ev.Name())
	}
}

func risingSeries(n int, start, step float64) []Bar {
	bars := make([]Bar, n)
	t0 := time.Date(2026, 1, 1, 9, 15, 0, 0, models.IST)
	for i := 0; i < n; i++ {
		price := start + step*float64(i)
		bars[i] = Bar{Time: t0.Add(time.Duration(i) * time.Minute), Open: price, High: price + 1, Low: price - 1, Close: price, Volume: 1000}
	}
	return bars
}

func TestMACrossover_ConfirmationBarsGateSignal(t *testing.T) {
	s := NewMACrossover()
	s.Init(Params{ConfirmationBars: 3, CooldownMinutes: 15, Extra: map[string]float64{"fast_period": 2, "slow_period": 5}})
	series := risingSeries(30, 100, 1)
	sym := models.Symbol{Code: "NIFTY"}

	first := s.GenerateSignal(sym, series, nil)
	require.Equal(t, models.DirectionHold, first.Direction, "first confirmation bar must not yet emit")

	second := s.GenerateSignal(sym, series, nil)
	require.Equal(t, models.DirectionHold, second.Direction)

	third := s.GenerateSignal(sym, series, nil)
	require.Equal(t, models.DirectionBuy, third.Direction, "third consecutive bar should cross the confirmation threshold")
}

func TestMACrossover_CooldownSuppressesRepeatSignal(t *testing.T) {
	s := NewMACrossover()
	s.Init(Params{ConfirmationBars: 1, CooldownMinutes: 15, Extra: map[string]float64{"fast_period": 2, "slow_period": 5}})
	series := risingSeries(30, 100, 1)
	sym := models.Symbol{Code: "NIFTY"}

	vote := s.GenerateSignal(sym, series, nil)
	require.Equal(t, models.DirectionBuy, vote.Direction)

	s.NotifyExecuted(sym, models.SideBuy, series[len(series)-1].Time)

	vote2 := s.GenerateSignal(sym, series, nil)
	require.Equal(t, models.DirectionHold, vote2.Direction, "must stay silent during cooldown window")
}

func TestMACrossover_ExitBypassesConfirmationAndCooldown(t *testing.T) {
	s := NewMACrossover()
	s.Init(Params{ConfirmationBars: 5, CooldownMinutes: 15, Extra: map[string]float64{"fast_period": 2, "slow_period": 5}})
	sym := models.Symbol{Code: "NIFTY"}
	falling := risingSeries(30, 200, -1)

	pos := models.NewPosition(sym, models.UnderlyingNIFTY)
	pos.Shares = 10

	vote := s.GenerateSignal(sym, falling, pos)
	require.Equal(t, models.DirectionSell, vote.Direction, "a falling-MA exit signal against a long position must bypass confirmation")
}

func TestRSIMeanReversion_InsufficientHistoryHolds(t *testing.T) {
	s := NewRSIMeanReversion()
	s.Init(Params{})
	vote := s.GenerateSignal(models.Symbol{Code: "NIFTY"}, risingSeries(3, 100, 1), nil)
	require.Equal(t, models.DirectionHold, vote.Direction)
	require.Equal(t, "insufficient_history", vote.ReasonTag)
}
