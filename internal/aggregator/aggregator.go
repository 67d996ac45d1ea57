// Package aggregator combines per-strategy votes into one decision per
// symbol: new entries must clear a selective gate pipeline, while a held
// position can always be liquidated by any single dissenting strategy.
package aggregator

import (
	"sort"
	"sync"
	"time"

	"github.com/nfocore/optionengine/internal/models"
)

// Bias is the process-wide market regime, set externally (never derived by
// the aggregator itself).
type Bias int

const (
	BiasBearish Bias = -1
	BiasNeutral Bias = 0
	BiasBullish Bias = 1
)

// Config tunes the gate thresholds.
type Config struct {
	EntryAgreementThreshold float64
	MinEntryConfidence      float64
	TopNEntries             int
	NormalCooldownMinutes   int
	StopCooldownMinutes     int
}

// DefaultConfig matches spec §4.D's stated defaults.
func DefaultConfig() Config {
	return Config{
		EntryAgreementThreshold: 0.40,
		MinEntryConfidence:      0.65,
		TopNEntries:             5,
		NormalCooldownMinutes:   15,
		StopCooldownMinutes:     60,
	}
}

// Candidate is one symbol's votes for the current iteration.
type Candidate struct {
	Symbol models.Symbol
	Votes  []models.SignalVote
	IsExit bool
	// HeldDirection is Buy if the symbol is currently held long, Sell if
	// held short, Hold if flat. Only meaningful when IsExit is true.
	HeldDirection models.Direction
	// TrendFilter optionally vetoes an entry direction against a slower
	// trend signal; nil means no trend filter is applied. Never consulted
	// for exits.
	TrendFilter func(models.Direction) bool
}

// Aggregator runs the six-gate pipeline described in spec §4.D.
type Aggregator struct {
	mu                sync.Mutex
	cfg               Config
	bias              Bias
	stopCooldownUntil map[models.Symbol]time.Time
}

// New constructs an Aggregator with the given gate configuration.
func New(cfg Config) *Aggregator {
	return &Aggregator{
		cfg:               cfg,
		stopCooldownUntil: make(map[models.Symbol]time.Time),
	}
}

// SetRegime sets the process-wide market bias consulted by the regime gate.
// The aggregator never computes this itself; a scheduler or operator does.
func (a *Aggregator) SetRegime(b Bias) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bias = b
}

func (a *Aggregator) regime() Bias {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bias
}

// NotifyStopOut records a hard-stop exit on symbol, starting the longer
// (default 60 minute) entry cooldown that follows a stop-out, distinct from
// a strategy's own post-exit cooldown for ordinary exits.
func (a *Aggregator) NotifyStopOut(symbol models.Symbol, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopCooldownUntil[symbol] = at.Add(time.Duration(a.cfg.StopCooldownMinutes) * time.Minute)
}

func (a *Aggregator) inStopCooldown(symbol models.Symbol, at time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	until, ok := a.stopCooldownUntil[symbol]
	return ok && at.Before(until)
}

// EvaluateBatch runs gates 1-4 per symbol, then applies the cross-symbol
// top-N entry throttle (gate 5) and the post-stop-out cooldown (gate 6)
// across the whole batch — exits are never throttled or subject to the
// stop-out cooldown, matching spec §4.D.
func (a *Aggregator) EvaluateBatch(candidates []Candidate, now time.Time) map[models.Symbol]models.AggregatedSignal {
	results := make(map[models.Symbol]models.AggregatedSignal, len(candidates))

	type scored struct {
		symbol models.Symbol
		signal models.AggregatedSignal
	}
	var entries []scored

	for _, cand := range candidates {
		sig := a.evaluateSingle(cand)
		if cand.IsExit || sig.Action == models.ActionHold {
			results[cand.Symbol] = sig
			continue
		}
		if a.inStopCooldown(cand.Symbol, now) {
			results[cand.Symbol] = models.AggregatedSignal{Action: models.ActionHold}
			continue
		}
		entries = append(entries, scored{cand.Symbol, sig})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].signal.Confidence > entries[j].signal.Confidence
	})

	limit := a.cfg.TopNEntries
	for i, e := range entries {
		if limit > 0 && i >= limit {
			results[e.symbol] = models.AggregatedSignal{Action: models.ActionHold}
			continue
		}
		results[e.symbol] = e.signal
	}
	return results
}

// evaluateSingle runs gates 1-4 for one symbol and resolves the winning
// direction, without the cross-symbol throttle.
func (a *Aggregator) evaluateSingle(cand Candidate) models.AggregatedSignal {
	nTotal := len(cand.Votes)
	if nTotal == 0 {
		return models.AggregatedSignal{Action: models.ActionHold, IsExit: cand.IsExit}
	}

	var countBuy, countSell int
	var strengthBuy, strengthSell float64
	for _, v := range cand.Votes {
		switch v.Direction {
		case models.DirectionBuy:
			countBuy++
			strengthBuy += v.Strength
		case models.DirectionSell:
			countSell++
			strengthSell += v.Strength
		}
	}

	agreementBuy := float64(countBuy) / float64(nTotal)
	agreementSell := float64(countSell) / float64(nTotal)
	confidenceBuy := safeMean(strengthBuy, countBuy)
	confidenceSell := safeMean(strengthSell, countSell)

	buyPasses := a.passesGates(cand, models.DirectionBuy, agreementBuy, confidenceBuy, countBuy)
	sellPasses := a.passesGates(cand, models.DirectionSell, agreementSell, confidenceSell, countSell)

	winner := models.DirectionHold
	winnerConfidence := 0.0
	switch {
	case buyPasses && sellPasses:
		if confidenceBuy > confidenceSell {
			winner, winnerConfidence = models.DirectionBuy, confidenceBuy
		} else if confidenceSell > confidenceBuy {
			winner, winnerConfidence = models.DirectionSell, confidenceSell
		}
	case buyPasses:
		winner, winnerConfidence = models.DirectionBuy, confidenceBuy
	case sellPasses:
		winner, winnerConfidence = models.DirectionSell, confidenceSell
	}

	isExit := cand.IsExit && winner != models.DirectionHold
	return models.AggregatedSignal{
		Action:            directionToAction(winner),
		Confidence:        winnerConfidence,
		ContributingVotes: votesFor(cand.Votes, winner),
		IsExit:            isExit,
	}
}

// passesGates applies gates 1-4 for one candidate direction. Exit
// candidates bypass the regime, confidence and trend gates entirely and
// only need one dissenting vote in the exit direction (gate 2's
// agreement_d >= 1/n_total is trivially satisfied by any single vote).
func (a *Aggregator) passesGates(cand Candidate, dir models.Direction, agreement, confidence float64, count int) bool {
	if cand.IsExit {
		return dir == exitDirectionFor(cand.HeldDirection) && count >= 1
	}
	if !regimeAllows(a.regime(), dir) {
		return false
	}
	if agreement < a.cfg.EntryAgreementThreshold {
		return false
	}
	if confidence < a.cfg.MinEntryConfidence {
		return false
	}
	if cand.TrendFilter != nil && !cand.TrendFilter(dir) {
		return false
	}
	return true
}

func regimeAllows(bias Bias, dir models.Direction) bool {
	switch bias {
	case BiasBullish:
		return dir != models.DirectionSell
	case BiasBearish:
		return dir != models.DirectionBuy
	default:
		return true
	}
}

func exitDirectionFor(held models.Direction) models.Direction {
	switch held {
	case models.DirectionBuy:
		return models.DirectionSell
	case models.DirectionSell:
		return models.DirectionBuy
	default:
		return models.DirectionHold
	}
}

func directionToAction(d models.Direction) models.Action {
	switch d {
	case models.DirectionBuy:
		return models.ActionBuy
	case models.DirectionSell:
		return models.ActionSell
	default:
		return models.ActionHold
	}
}

func votesFor(votes []models.SignalVote, dir models.Direction) []models.SignalVote {
	if dir == models.DirectionHold {
		return nil
	}
	out := make([]models.SignalVote, 0, len(votes))
	for _, v := range votes {
		if v.Direction == dir {
			out = append(out, v)
		}
	}
	return out
}

// safeMean guards the zero-count case per the divide-by-zero hygiene spec §4.E
// demands throughout, returning 0 rather than NaN.
func safeMean(sum float64, count int) float64 {
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
