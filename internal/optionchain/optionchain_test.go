package optionchain

import (
	"testing"

	"github.com/nfocore/optionengine/internal/models"
	"github.com/stretchr/testify/require"
)

func TestOptionChain_ATMStrike_TieGoesLower(t *testing.T) {
	chain := &models.OptionChain{
		SpotPrice: models.Rupees(24500),
		Strikes: []models.StrikeLegs{
			{Strike: models.Rupees(24400)},
			{Strike: models.Rupees(24600)},
		},
	}
	atm, ok := chain.ATMStrike()
	require.True(t, ok)
	require.Equal(t, models.Rupees(24400), atm)
}

func TestOptionChain_Stats_PCRGuardsZeroCallOI(t *testing.T) {
	chain := &models.OptionChain{
		Strikes: []models.StrikeLegs{
			{Strike: models.Rupees(100), Call: &models.OptionContract{OpenInterest: 0}, Put: &models.OptionContract{OpenInterest: 500}},
		},
	}
	stats := chain.Stats()
	require.Equal(t, float64(0), stats.PCR, "PCR must default to 0 rather than +Inf when call OI is 0")
}
