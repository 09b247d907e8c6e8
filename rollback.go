package saferun

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// CompensationFunc undoes the side effects of one executed action.
// Compensations are assumed not safe to retry unless the collaborator
// documents otherwise, so a failed compensation aborts the rollback.
type CompensationFunc func(ctx context.Context) error

// CompensationAction is the registered undo operation for an action with
// external side effects. Drivers register one before executing any action
// that would need unwinding on rejection.
type CompensationAction struct {
	ActionID        string
	CheckpointIndex int
	Description     string
	Undo            CompensationFunc
}

// CompensationOutcome records the result of executing one compensating action.
type CompensationOutcome struct {
	ActionID    string    `json:"action_id"`
	Description string    `json:"description,omitempty"`
	Succeeded   bool      `json:"succeeded"`
	Error       string    `json:"error,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
}

// RollbackResult reports what a rollback did: which compensations ran, the
// checkpoint index to resume at, and the restored execution state.
type RollbackResult struct {
	WorkflowID     string                `json:"workflow_id"`
	FromCheckpoint int                   `json:"from_checkpoint"`
	ToCheckpoint   int                   `json:"to_checkpoint"`
	ToSnapshotID   string                `json:"to_snapshot_id"`
	Outcomes       []CompensationOutcome `json:"outcomes"`
	RestoredState  *ExecutionState       `json:"-"`
	Complete       bool                  `json:"complete"`
}

// RollbackEngine walks a workflow back to its last approved checkpoint by
// executing registered compensating actions in reverse chronological order
// (undo most recent first), then restoring execution state from the target
// snapshot. Reverse order is required because later actions may depend on
// state produced by earlier ones.
type RollbackEngine struct {
	mutex   sync.Mutex
	actions map[string][]CompensationAction // by workflow ID, in registration order
	logger  *slog.Logger
}

// NewRollbackEngine returns an engine with no registered actions.
func NewRollbackEngine(logger *slog.Logger) *RollbackEngine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &RollbackEngine{
		actions: map[string][]CompensationAction{},
		logger:  logger,
	}
}

// Register records a compensating action for the workflow. Registration
// order is treated as chronological order.
func (e *RollbackEngine) Register(workflowID string, action CompensationAction) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.actions[workflowID] = append(e.actions[workflowID], action)
	e.logger.Debug("compensation registered",
		"workflow_id", workflowID,
		"action_id", action.ActionID,
		"checkpoint_index", action.CheckpointIndex)
}

// Actions returns the registered actions for a workflow, oldest first.
func (e *RollbackEngine) Actions(workflowID string) []CompensationAction {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return append([]CompensationAction{}, e.actions[workflowID]...)
}

// Rollback undoes every action registered for checkpoints after the target
// snapshot, newest first, then restores the snapshot's execution state. If
// any compensation fails, remaining compensations are aborted, the
// partial-compensation record is preserved in the result, and the error kind
// is ErrKindCompensationFailed. On full success the undone actions are
// dropped from the registry and the restored state is returned read-only.
func (e *RollbackEngine) Rollback(ctx context.Context, workflowID string, fromCheckpoint int, to *CheckpointSnapshot) (*RollbackResult, error) {
	e.mutex.Lock()
	registered := e.actions[workflowID]
	var pending []CompensationAction
	var kept []CompensationAction
	for _, action := range registered {
		if action.CheckpointIndex > to.CheckpointIndex && action.CheckpointIndex <= fromCheckpoint {
			pending = append(pending, action)
		} else {
			kept = append(kept, action)
		}
	}
	e.mutex.Unlock()

	result := &RollbackResult{
		WorkflowID:     workflowID,
		FromCheckpoint: fromCheckpoint,
		ToCheckpoint:   to.CheckpointIndex,
		ToSnapshotID:   to.SnapshotID,
	}

	e.logger.Info("rollback started",
		"workflow_id", workflowID,
		"from_checkpoint", fromCheckpoint,
		"to_checkpoint", to.CheckpointIndex,
		"compensations", len(pending))

	// Undo most recent actions first.
	for i := len(pending) - 1; i >= 0; i-- {
		action := pending[i]
		outcome := CompensationOutcome{
			ActionID:    action.ActionID,
			Description: action.Description,
			ExecutedAt:  time.Now(),
		}
		var undoErr error
		if action.Undo != nil {
			undoErr = action.Undo(ctx)
		}
		if undoErr != nil {
			outcome.Error = undoErr.Error()
			result.Outcomes = append(result.Outcomes, outcome)
			e.logger.Error("compensation failed, aborting rollback",
				"workflow_id", workflowID,
				"action_id", action.ActionID,
				"error", undoErr)
			return result, Errorf(ErrKindCompensationFailed,
				"compensation %s failed: %w", action.ActionID, undoErr)
		}
		outcome.Succeeded = true
		result.Outcomes = append(result.Outcomes, outcome)
	}

	restored := (*ExecutionState)(nil)
	if to.State != nil {
		restored = to.State.Copy()
	}
	result.RestoredState = restored
	result.Complete = true

	e.mutex.Lock()
	e.actions[workflowID] = kept
	e.mutex.Unlock()

	e.logger.Info("rollback completed",
		"workflow_id", workflowID,
		"compensations", len(result.Outcomes),
		"resume_checkpoint", to.CheckpointIndex)

	return result, nil
}
