package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateMachine_EntryLifecycle(t *testing.T) {
	sm := NewStateMachine()
	require.Equal(t, StateIdle, sm.CurrentState())

	at := time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC)
	require.NoError(t, sm.Transition(StateSubmitted, "order_placed", at))
	require.NoError(t, sm.Transition(StateOpen, "order_filled", at.Add(time.Second)))
	require.NoError(t, sm.Transition(StateHealthy, "monitoring_started", at.Add(2*time.Second)))
	require.True(t, sm.IsMonitoringState())
}

func TestStateMachine_RejectsUndefinedEdge(t *testing.T) {
	sm := NewStateMachine()
	err := sm.Transition(StateClosed, "exit_stop_loss", time.Now())
	require.Error(t, err)
}

func TestStateMachine_AdjustmentLimitEnforced(t *testing.T) {
	sm := NewStateMachineWithLimits(StateHealthy, 1, 1)
	require.True(t, sm.CanAdjust())

	at := time.Now()
	require.NoError(t, sm.Transition(StateAdjusting, "adjustment_requested", at))
	require.NoError(t, sm.Transition(StateHealthy, "adjustment_complete", at.Add(time.Second)))
	require.False(t, sm.CanAdjust())

	err := sm.Transition(StateAdjusting, "adjustment_requested", at.Add(2*time.Second))
	require.Error(t, err)
}

func TestStateMachine_RollLimitEnforced(t *testing.T) {
	sm := NewStateMachineWithLimits(StateChallenged, 3, 1)
	at := time.Now()
	require.NoError(t, sm.Transition(StateRolling, "roll_requested", at))
	require.NoError(t, sm.Transition(StateHealthy, "roll_complete", at.Add(time.Second)))
	require.False(t, sm.CanRoll())
}

func TestStateMachine_CopyIsIndependent(t *testing.T) {
	sm := NewStateMachine()
	require.NoError(t, sm.Transition(StateSubmitted, "order_placed", time.Now()))

	cp := sm.Copy()
	require.NoError(t, cp.Transition(StateOpen, "order_filled", time.Now()))

	require.Equal(t, StateSubmitted, sm.CurrentState())
	require.Equal(t, StateOpen, cp.CurrentState())
}
