package saferun

// WorkflowState represents the lifecycle state of a supervised workflow.
type WorkflowState string

const (
	StateInitialized      WorkflowState = "initialized"
	StateExecuting        WorkflowState = "executing"
	StateAwaitingApproval WorkflowState = "awaiting_approval"
	StateRollingBack      WorkflowState = "rolling_back"
	StateSettling         WorkflowState = "settling"
	StateCompleted        WorkflowState = "completed"
	StateFailed           WorkflowState = "failed"
)

// Terminal reports whether the state permits no further transitions.
func (s WorkflowState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Event names used in transition guards and InvalidTransition messages.
const (
	EventStartExecution    = "start_execution"
	EventCheckpointReached = "checkpoint_reached"
	EventApprovalDecision  = "approval_decision"
	EventApprovalTimeout   = "approval_timeout"
	EventRollback          = "rollback"
	EventSettle            = "settle"
	EventComplete          = "complete"
	EventFail              = "fail"
)

// legalSources maps each event to the states it may fire from. EventFail is
// legal from any non-terminal state and is handled separately.
var legalSources = map[string][]WorkflowState{
	EventStartExecution:    {StateInitialized},
	EventCheckpointReached: {StateExecuting},
	EventApprovalDecision:  {StateAwaitingApproval},
	EventApprovalTimeout:   {StateAwaitingApproval},
	EventRollback:          {StateRollingBack},
	EventSettle:            {StateSettling},
	EventComplete:          {StateSettling},
}

// canFire reports whether event is legal from state.
func canFire(event string, state WorkflowState) bool {
	if state.Terminal() {
		return false
	}
	if event == EventFail {
		return true
	}
	for _, s := range legalSources[event] {
		if s == state {
			return true
		}
	}
	return false
}

// newInvalidTransition builds the error returned for an event that is not
// legal from the current state.
func newInvalidTransition(workflowID string, state WorkflowState, event string) *Error {
	return Errorf(ErrKindInvalidTransition,
		"workflow %s: event %q is not legal from state %q", workflowID, event, state)
}
