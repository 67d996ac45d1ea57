package strategy

import (
	"sync"
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// confirmState tracks how many consecutive bars a condition has held for
// one symbol, so a signal is only emitted once it has been confirmed for
// Params.ConfirmationBars bars running.
type confirmState struct {
	direction models.Direction
	streak    int
}

// base provides the confirmation-bar counting, per-symbol cooldown map and
// position-aware exit override shared by every concrete strategy, per spec
// §4.C's "Common behaviour (shared base)".
type base struct {
	mu       sync.Mutex
	params   Params
	confirm  map[models.Symbol]*confirmState
	cooldown map[models.Symbol]time.Time
}

func newBase() base {
	return base{
		confirm:  make(map[models.Symbol]*confirmState),
		cooldown: make(map[models.Symbol]time.Time),
	}
}

func (b *base) init(p Params) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.ConfirmationBars <= 0 {
		p.ConfirmationBars = 1
	}
	if p.CooldownMinutes <= 0 {
		p.CooldownMinutes = 15
	}
	b.params = p
}

func (b *base) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirm = make(map[models.Symbol]*confirmState)
	b.cooldown = make(map[models.Symbol]time.Time)
}

func (b *base) notifyExecuted(symbol models.Symbol, at time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cooldown[symbol] = at.Add(time.Duration(b.params.CooldownMinutes) * time.Minute)
}

func (b *base) inCooldown(symbol models.Symbol, at time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	until, ok := b.cooldown[symbol]
	return ok && at.Before(until)
}

// confirmed applies the confirmation-bar counter for a raw (pre-confirmation)
// direction on symbol, returning the direction to actually emit: the raw
// direction once it has held for ConfirmationBars consecutive calls, or Hold
// otherwise. A position-aware exit direction bypasses confirmation entirely
// (an exit signal should never wait several bars once the reversal rule
// fires), matching §4.C's position-awareness clause.
func (b *base) confirmed(symbol models.Symbol, raw models.Direction, bypassConfirmation bool) models.Direction {
	if bypassConfirmation {
		return raw
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if raw == models.DirectionHold {
		delete(b.confirm, symbol)
		return models.DirectionHold
	}

	st, ok := b.confirm[symbol]
	if !ok || st.direction != raw {
		st = &confirmState{direction: raw, streak: 1}
		b.confirm[symbol] = st
	} else {
		st.streak++
	}

	if st.streak >= b.params.ConfirmationBars {
		return raw
	}
	return models.DirectionHold
}

// debounced applies the cooldown gate: a non-hold direction is suppressed
// to Hold while symbol is in the cooldown that notifyExecuted starts after
// an executed order.
func (b *base) debounced(symbol models.Symbol, direction models.Direction, at time.Time) models.Direction {
	if direction == models.DirectionHold {
		return direction
	}
	if b.inCooldown(symbol, at) {
		return models.DirectionHold
	}
	return direction
}

// extra reads a strategy-specific tunable from Params.Extra, falling back to
// def when absent, avoiding a panic on a missing key.
func (b *base) extra(key string, def float64) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.params.Extra[key]; ok {
		return v
	}
	return def
}
