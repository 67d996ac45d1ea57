// Package optionchain assembles per-underlying OptionChain values: it
// resolves the nearest expiry, filters strikes to a configurable half-width
// around spot, pairs CE/PE legs and attaches quotes in a single bulk call.
package optionchain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nfocore/optionengine/internal/broker"
	"github.com/nfocore/optionengine/internal/calendar"
	"github.com/nfocore/optionengine/internal/clock"
	"github.com/nfocore/optionengine/internal/models"
)

// Config tunes chain construction.
type Config struct {
	StrikeHalfWidth int // half the number of strike groups retained nearest spot
	MinPairedLegs   int // ChainTooSparse threshold
}

// DefaultConfig matches spec §4.B defaults.
func DefaultConfig() Config {
	return Config{StrikeHalfWidth: 15, MinPairedLegs: 5}
}

// Provider builds OptionChain values on demand.
type Provider struct {
	broker   broker.Broker
	calendar calendar.Provider
	clock    clock.Clock
	cfg      Config
}

// New constructs a Provider.
func New(b broker.Broker, cal calendar.Provider, c clock.Clock, cfg Config) *Provider {
	return &Provider{broker: b, calendar: cal, clock: c, cfg: cfg}
}

// BuildChain assembles an OptionChain for underlying at the given expiry
// (resolved to the nearest cadence-appropriate expiry if expiry is zero),
// following the five construction steps of spec §4.B.
func (p *Provider) BuildChain(ctx context.Context, underlying models.Underlying, expiry time.Time) (*models.OptionChain, error) {
	instruments, err := p.combinedInstruments(ctx)
	if err != nil {
		return nil, fmt.Errorf("optionchain: load instruments: %w", err)
	}

	if expiry.IsZero() {
		expiry = p.calendar.NearestExpiry(underlying, p.clock.Now())
	}

	spotSym := models.IndexSymbol(underlying)
	spotQuotes, err := p.broker.GetQuote(ctx, []models.Symbol{spotSym})
	if err != nil {
		return nil, fmt.Errorf("optionchain: fetch spot: %w", err)
	}
	spotQuote, ok := spotQuotes[spotSym]
	if !ok {
		return nil, models.ErrSpotUnavailable
	}

	byStrike := p.groupByStrike(instruments, underlying, expiry)
	filtered := p.filterToHalfWidth(byStrike, spotQuote.LastPrice)
	paired := pairLegs(filtered)
	if len(paired) < p.cfg.MinPairedLegs {
		return nil, models.ErrChainTooSparse
	}

	symbols := quoteSymbolsFor(paired)
	quotes, err := p.broker.GetQuote(ctx, symbols)
	if err != nil {
		return nil, fmt.Errorf("optionchain: fetch chain quotes: %w", err)
	}
	attachQuotes(paired, quotes, p.clock.Now())

	chain := &models.OptionChain{
		Underlying: underlying,
		Expiry:     expiry,
		SpotPrice:  spotQuote.LastPrice,
		BuiltAt:    p.clock.Now(),
		Strikes:    paired,
	}
	chain.SortStrikes()
	return chain, nil
}

func (p *Provider) combinedInstruments(ctx context.Context) ([]models.Instrument, error) {
	type combined interface {
		GetCombinedDerivativeInstruments(ctx context.Context) ([]models.Instrument, error)
	}
	if c, ok := p.broker.(combined); ok {
		return c.GetCombinedDerivativeInstruments(ctx)
	}
	nfo, err := p.broker.GetInstruments(ctx, models.ExchangeNFO)
	if err != nil {
		return nil, err
	}
	bfo, err := p.broker.GetInstruments(ctx, models.ExchangeBFO)
	if err != nil {
		return nil, err
	}
	return append(nfo, bfo...), nil
}

type strikeGroup struct {
	strike models.Money
	call   *models.Instrument
	put    *models.Instrument
}

func (p *Provider) groupByStrike(instruments []models.Instrument, underlying models.Underlying, expiry time.Time) map[models.Money]*strikeGroup {
	groups := make(map[models.Money]*strikeGroup)
	for i := range instruments {
		inst := instruments[i]
		if !inst.IsOption() || inst.Underlying != underlying || inst.Strike == nil {
			continue
		}
		if inst.Expiry == nil || !sameDay(*inst.Expiry, expiry) {
			continue
		}
		g, ok := groups[*inst.Strike]
		if !ok {
			g = &strikeGroup{strike: *inst.Strike}
			groups[*inst.Strike] = g
		}
		switch *inst.OptionType {
		case models.OptionCE:
			g.call = &inst
		case models.OptionPE:
			g.put = &inst
		}
	}
	return groups
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.In(models.IST).Date()
	by, bm, bd := b.In(models.IST).Date()
	return ay == by && am == bm && ad == bd
}

// filterToHalfWidth keeps only the 2*StrikeHalfWidth groups nearest spot by
// absolute distance, per spec §4.B step 4 ("default 15" strikes around spot).
// The kept groups are not balanced above and below spot: when spot sits near
// the edge of the listed strikes, more of them fall on one side.
func (p *Provider) filterToHalfWidth(groups map[models.Money]*strikeGroup, spot models.Money) []*strikeGroup {
	all := make([]*strikeGroup, 0, len(groups))
	for _, g := range groups {
		all = append(all, g)
	}
	sort.Slice(all, func(i, j int) bool {
		return absDiff(all[i].strike, spot) < absDiff(all[j].strike, spot)
	})
	width := p.cfg.StrikeHalfWidth * 2
	if width <= 0 || width > len(all) {
		width = len(all)
	}
	return all[:width]
}

func absDiff(a, b models.Money) models.Money {
	d := a - b
	if d < 0 {
		return -d
	}
	return d
}

// pairLegs discards strikes missing either CE or PE leg, per step 5.
func pairLegs(groups []*strikeGroup) []models.StrikeLegs {
	paired := make([]models.StrikeLegs, 0, len(groups))
	for _, g := range groups {
		if g.call == nil || g.put == nil {
			continue
		}
		paired = append(paired, models.StrikeLegs{
			Strike: g.strike,
			Call:   &models.OptionContract{Symbol: g.call.Symbol, Strike: g.strike, Type: models.OptionCE, LotSize: g.call.LotSize},
			Put:    &models.OptionContract{Symbol: g.put.Symbol, Strike: g.strike, Type: models.OptionPE, LotSize: g.put.LotSize},
		})
	}
	return paired
}

func quoteSymbolsFor(legs []models.StrikeLegs) []models.Symbol {
	symbols := make([]models.Symbol, 0, len(legs)*2)
	for _, sl := range legs {
		symbols = append(symbols, sl.Call.Symbol, sl.Put.Symbol)
	}
	return symbols
}

// attachQuotes fills in last_price/bid/ask/OI etc; a contract missing from
// the quote response retains its previous (zero, on first build) value but
// is flagged stale, per spec §4.B's quote-freshness contract.
func attachQuotes(legs []models.StrikeLegs, quotes map[models.Symbol]broker.Quote, now time.Time) {
	for i := range legs {
		applyQuote(legs[i].Call, quotes, now)
		applyQuote(legs[i].Put, quotes, now)
	}
}

func applyQuote(c *models.OptionContract, quotes map[models.Symbol]broker.Quote, now time.Time) {
	q, ok := quotes[c.Symbol]
	if !ok {
		c.Stale = true
		return
	}
	c.LastPrice = q.LastPrice
	c.Bid = q.Bid
	c.Ask = q.Ask
	c.Volume = q.Volume
	c.OpenInterest = q.OpenInterest
	c.ImpliedVol = q.ImpliedVol
	c.LastPriceAt = q.LastPriceAt
	c.Stale = false
	_ = now
}
