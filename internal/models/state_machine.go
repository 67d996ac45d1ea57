package models

import (
	"fmt"
	"time"
)

// PositionState names a stage in a position's life. Idle/Submitted/Open/
// Closed/Error form the order-lifecycle spine; Healthy/Challenged/Breached/
// Critical are monitoring bands a position moves through once open, feeding
// the intelligent-exit composite score (see internal/positionmgr) the way
// the legacy "football system" progressed a hedged position through
// increasingly urgent management phases.
type PositionState string

const (
	StateIdle       PositionState = "idle"
	StateSubmitted  PositionState = "submitted"
	StateOpen       PositionState = "open"
	StateHealthy    PositionState = "healthy"
	StateChallenged PositionState = "challenged"
	StateBreached   PositionState = "breached"
	StateCritical   PositionState = "critical"
	StateAdjusting  PositionState = "adjusting"
	StateRolling    PositionState = "rolling"
	StateClosed     PositionState = "closed"
	StateError      PositionState = "error"
)

// StateTransition records one legal edge in the lifecycle graph.
type StateTransition struct {
	From        PositionState
	To          PositionState
	Condition   string
	Description string
}

// ValidTransitions is the full lifecycle graph: order entry, monitoring-band
// progression/regression as the intelligent-exit score moves, adjustment and
// roll detours, and the terminal exit/error edges.
var ValidTransitions = []StateTransition{
	{StateIdle, StateSubmitted, "order_placed", "entry order sent to broker"},
	{StateSubmitted, StateOpen, "order_filled", "entry order acknowledged filled"},
	{StateSubmitted, StateError, "order_failed", "entry order rejected or timed out"},
	{StateSubmitted, StateIdle, "order_cancelled", "entry order cancelled before fill"},

	{StateOpen, StateHealthy, "monitoring_started", "first post-fill evaluation"},
	{StateHealthy, StateChallenged, "score_rising", "intelligent-exit score crossed the watch band"},
	{StateChallenged, StateBreached, "score_rising", "intelligent-exit score crossed the warn band"},
	{StateBreached, StateCritical, "score_rising", "intelligent-exit score crossed the critical band"},
	{StateChallenged, StateHealthy, "score_falling", "score retreated below the watch band"},
	{StateBreached, StateChallenged, "score_falling", "score retreated below the warn band"},
	{StateCritical, StateBreached, "score_falling", "score retreated below the critical band"},

	{StateHealthy, StateAdjusting, "adjustment_requested", "manual or strategy-driven adjustment"},
	{StateChallenged, StateAdjusting, "adjustment_requested", "manual or strategy-driven adjustment"},
	{StateBreached, StateAdjusting, "adjustment_requested", "manual or strategy-driven adjustment"},
	{StateAdjusting, StateHealthy, "adjustment_complete", "adjustment applied, re-enter monitoring"},

	{StateChallenged, StateRolling, "roll_requested", "approaching expiry, roll to next cycle"},
	{StateBreached, StateRolling, "roll_requested", "approaching expiry, roll to next cycle"},
	{StateRolling, StateHealthy, "roll_complete", "roll executed, re-enter monitoring"},

	{StateHealthy, StateClosed, "exit_stop_loss", "hard stop-loss hit"},
	{StateHealthy, StateClosed, "exit_take_profit", "take-profit hit"},
	{StateHealthy, StateClosed, "exit_trail", "trailing stop hit"},
	{StateHealthy, StateClosed, "exit_market_close", "force-flatten window reached"},
	{StateHealthy, StateClosed, "exit_aggregator", "aggregator signalled exit"},
	{StateChallenged, StateClosed, "exit_stop_loss", "hard stop-loss hit"},
	{StateChallenged, StateClosed, "exit_take_profit", "take-profit hit"},
	{StateChallenged, StateClosed, "exit_trail", "trailing stop hit"},
	{StateChallenged, StateClosed, "exit_market_close", "force-flatten window reached"},
	{StateChallenged, StateClosed, "exit_aggregator", "aggregator signalled exit"},
	{StateChallenged, StateClosed, "exit_intelligent", "intelligent score exceeded threshold"},
	{StateBreached, StateClosed, "exit_stop_loss", "hard stop-loss hit"},
	{StateBreached, StateClosed, "exit_take_profit", "take-profit hit"},
	{StateBreached, StateClosed, "exit_trail", "trailing stop hit"},
	{StateBreached, StateClosed, "exit_market_close", "force-flatten window reached"},
	{StateBreached, StateClosed, "exit_aggregator", "aggregator signalled exit"},
	{StateBreached, StateClosed, "exit_intelligent", "intelligent score exceeded threshold"},
	{StateCritical, StateClosed, "exit_stop_loss", "hard stop-loss hit"},
	{StateCritical, StateClosed, "exit_take_profit", "take-profit hit"},
	{StateCritical, StateClosed, "exit_trail", "trailing stop hit"},
	{StateCritical, StateClosed, "exit_market_close", "force-flatten window reached"},
	{StateCritical, StateClosed, "exit_aggregator", "aggregator signalled exit"},
	{StateCritical, StateClosed, "exit_intelligent", "intelligent score exceeded threshold"},

	{StateOpen, StateError, "reconciliation_failed", "broker state diverged and could not be resolved"},
}

// transitionLookup is built once at init for O(1) IsValidTransition checks.
var transitionLookup map[PositionState]map[PositionState]map[string]bool

func init() {
	transitionLookup = make(map[PositionState]map[PositionState]map[string]bool)
	for _, t := range ValidTransitions {
		if transitionLookup[t.From] == nil {
			transitionLookup[t.From] = make(map[PositionState]map[string]bool)
		}
		if transitionLookup[t.From][t.To] == nil {
			transitionLookup[t.From][t.To] = make(map[string]bool)
		}
		transitionLookup[t.From][t.To][t.Condition] = true
	}
}

// StateMachine tracks one position's current state, transition history and
// the counters that bound how many adjustments/rolls a position may take.
type StateMachine struct {
	currentState    PositionState
	previousState   PositionState
	transitionTime  time.Time
	transitionCount map[string]int
	maxAdjustments  int
	maxRolls        int
	adjustCount     int
	rollCount       int
}

// NewStateMachine creates a machine starting at StateIdle with the default
// adjustment/roll limits (3 adjustments, 1 roll per position).
func NewStateMachine() *StateMachine {
	return NewStateMachineWithLimits(StateIdle, 3, 1)
}

// NewStateMachineFromState creates a machine already at the given state,
// used when rehydrating a position from the portfolio ledger.
func NewStateMachineFromState(s PositionState) *StateMachine {
	return NewStateMachineWithLimits(s, 3, 1)
}

// NewStateMachineWithLimits allows callers (tests, config-driven overrides)
// to set custom adjustment/roll ceilings.
func NewStateMachineWithLimits(start PositionState, maxAdjustments, maxRolls int) *StateMachine {
	return &StateMachine{
		currentState:    start,
		previousState:   start,
		transitionTime:  time.Time{},
		transitionCount: make(map[string]int),
		maxAdjustments:  maxAdjustments,
		maxRolls:        maxRolls,
	}
}

func (sm *StateMachine) isTransitionDefined(to PositionState, condition string) bool {
	byTo, ok := transitionLookup[sm.currentState]
	if !ok {
		return false
	}
	conds, ok := byTo[to]
	if !ok {
		return false
	}
	return conds[condition]
}

// IsValidTransition reports whether the given (to, condition) edge is legal
// from the current state and, for adjust/roll edges, within the configured
// limits.
func (sm *StateMachine) IsValidTransition(to PositionState, condition string) bool {
	if !sm.isTransitionDefined(to, condition) {
		return false
	}
	return sm.validateTransitionLimits(condition)
}

func (sm *StateMachine) validateTransitionLimits(condition string) bool {
	switch condition {
	case "adjustment_requested":
		return sm.adjustCount < sm.maxAdjustments
	case "roll_requested":
		return sm.rollCount < sm.maxRolls
	default:
		return true
	}
}

// Transition attempts to move the machine to `to` under `condition`,
// recording the transition time and bumping counters. Returns an error
// naming the illegal edge rather than panicking, per the engine's
// no-panic-outside-constructors error policy.
func (sm *StateMachine) Transition(to PositionState, condition string, at time.Time) error {
	if !sm.IsValidTransition(to, condition) {
		return fmt.Errorf("invalid transition %s -> %s on %q", sm.currentState, to, condition)
	}
	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = at
	sm.transitionCount[condition]++
	switch condition {
	case "adjustment_requested":
		sm.adjustCount++
	case "roll_requested":
		sm.rollCount++
	}
	return nil
}

// CurrentState, PreviousState, TransitionTime are simple accessors.
func (sm *StateMachine) CurrentState() PositionState  { return sm.currentState }
func (sm *StateMachine) PreviousState() PositionState { return sm.previousState }
func (sm *StateMachine) TransitionTime() time.Time    { return sm.transitionTime }

// TransitionCount returns how many times a given condition has fired.
func (sm *StateMachine) TransitionCount(condition string) int {
	return sm.transitionCount[condition]
}

// IsMonitoringState reports whether the position is in one of the
// open-and-being-watched bands.
func (sm *StateMachine) IsMonitoringState() bool {
	switch sm.currentState {
	case StateHealthy, StateChallenged, StateBreached, StateCritical:
		return true
	default:
		return false
	}
}

// CanAdjust / CanRoll report whether the position has budget left for
// another adjustment or roll. The counts cover the state machine's whole
// lifetime and are never reset.
func (sm *StateMachine) CanAdjust() bool { return sm.adjustCount < sm.maxAdjustments }
func (sm *StateMachine) CanRoll() bool   { return sm.rollCount < sm.maxRolls }

// Copy returns a deep copy, including the transition-count map, so a
// Snapshot() caller never shares mutable state with the ledger.
func (sm *StateMachine) Copy() *StateMachine {
	cp := &StateMachine{
		currentState:   sm.currentState,
		previousState:  sm.previousState,
		transitionTime: sm.transitionTime,
		maxAdjustments: sm.maxAdjustments,
		maxRolls:       sm.maxRolls,
		adjustCount:    sm.adjustCount,
		rollCount:      sm.rollCount,
	}
	cp.transitionCount = make(map[string]int, len(sm.transitionCount))
	for k, v := range sm.transitionCount {
		cp.transitionCount[k] = v
	}
	return cp
}
