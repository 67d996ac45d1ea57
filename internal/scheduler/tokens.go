package scheduler

import (
	"context"
	"fmt"

	"github.com/nfocore/optionengine/internal/models"
)

// resolveIndexTokens fetches each watchlist underlying's spot instrument
// token once at boot, one GetInstruments call per home exchange, and
// caches the result for the scheduler's lifetime: instrument tokens are
// stable for the trading day, unlike quotes, which are re-fetched every
// iteration.
func (s *Scheduler) resolveIndexTokens(ctx context.Context) error {
	byExchange := make(map[models.Exchange][]models.Underlying)
	for _, u := range s.watchlist {
		ex := models.IndexSymbol(u).Exchange
		byExchange[ex] = append(byExchange[ex], u)
	}

	tokens := make(map[models.Underlying]int64, len(s.watchlist))
	for ex, underlyings := range byExchange {
		instruments, err := s.deps.Broker.GetInstruments(ctx, ex)
		if err != nil {
			return fmt.Errorf("scheduler: fetch %s instruments: %w", ex, err)
		}
		want := make(map[string]models.Underlying, len(underlyings))
		for _, u := range underlyings {
			want[string(u)] = u
		}
		// Matched on exchange-qualified code alone: the spot index
		// instrument's Code is the bare underlying name, which an option
		// contract's (far longer, strike/expiry-qualified) Code never
		// collides with.
		for _, inst := range instruments {
			if inst.IsOption() {
				continue
			}
			if u, ok := want[inst.Symbol.Code]; ok {
				tokens[u] = inst.Token
			}
		}
	}

	for _, u := range s.watchlist {
		if _, ok := tokens[u]; !ok {
			return fmt.Errorf("scheduler: no index instrument token resolved for %s", u)
		}
	}

	s.indexTokens = tokens
	return nil
}
