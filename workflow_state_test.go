package saferun

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTerminalStates(t *testing.T) {
	require.True(t, StateCompleted.Terminal())
	require.True(t, StateFailed.Terminal())
	require.False(t, StateInitialized.Terminal())
	require.False(t, StateExecuting.Terminal())
	require.False(t, StateAwaitingApproval.Terminal())
	require.False(t, StateRollingBack.Terminal())
	require.False(t, StateSettling.Terminal())
}

func TestTransitionTable(t *testing.T) {
	// Legal transitions
	require.True(t, canFire(EventStartExecution, StateInitialized))
	require.True(t, canFire(EventCheckpointReached, StateExecuting))
	require.True(t, canFire(EventApprovalDecision, StateAwaitingApproval))
	require.True(t, canFire(EventApprovalTimeout, StateAwaitingApproval))
	require.True(t, canFire(EventRollback, StateRollingBack))
	require.True(t, canFire(EventSettle, StateSettling))
	require.True(t, canFire(EventComplete, StateSettling))

	// Illegal transitions
	require.False(t, canFire(EventStartExecution, StateExecuting))
	require.False(t, canFire(EventCheckpointReached, StateInitialized))
	require.False(t, canFire(EventCheckpointReached, StateAwaitingApproval))
	require.False(t, canFire(EventApprovalDecision, StateExecuting))
	require.False(t, canFire(EventRollback, StateExecuting))
	require.False(t, canFire(EventSettle, StateExecuting))
}

func TestFailLegalFromAnyNonTerminalState(t *testing.T) {
	for _, state := range []WorkflowState{
		StateInitialized, StateExecuting, StateAwaitingApproval, StateRollingBack, StateSettling,
	} {
		require.True(t, canFire(EventFail, state), "fail should be legal from %s", state)
	}
}

func TestTerminalStatesAreWriteOnce(t *testing.T) {
	events := []string{
		EventStartExecution, EventCheckpointReached, EventApprovalDecision,
		EventApprovalTimeout, EventRollback, EventSettle, EventComplete, EventFail,
	}
	for _, state := range []WorkflowState{StateCompleted, StateFailed} {
		for _, event := range events {
			require.False(t, canFire(event, state), "event %s should be illegal from %s", event, state)
		}
	}
}
