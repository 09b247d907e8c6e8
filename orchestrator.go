package saferun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// OrchestratorOptions configures a new Orchestrator.
type OrchestratorOptions struct {
	// Ledger is the payment collaborator. Required.
	Ledger PaymentLedger

	// Artifacts persists snapshot payloads. Defaults to the null store.
	Artifacts ArtifactStore

	// Jobs is the audit/bookkeeping collaborator. Defaults to a no-op.
	Jobs JobBook

	// Identity, when set, is consulted before payment-affecting transitions.
	Identity IdentityVerifier

	// Callbacks receives lifecycle events. Defaults to a no-op.
	Callbacks WorkflowCallbacks

	// Logger defaults to a discard logger.
	Logger *slog.Logger

	// Clock overrides the time source, for tests.
	Clock func() time.Time
}

// workflowEntry pairs a record with its writer lock. All state-mutating
// operations against one workflow are serialized on this lock, so two
// concurrent SubmitApproval calls, or a SubmitApproval racing a
// timeout-driven rollback, can never both succeed against the same
// AWAITING_APPROVAL state. Different workflows proceed in parallel.
type workflowEntry struct {
	mutex  sync.Mutex
	record *WorkflowRecord
}

// Orchestrator is the top-level state machine for supervised workflow
// executions. It owns every WorkflowRecord and is the only component that
// mutates workflow state; checkpoint capture, the approval gateway, the
// rollback engine, and the settlement engine are composed beneath it.
type Orchestrator struct {
	ledger      PaymentLedger
	artifacts   ArtifactStore
	jobs        JobBook
	identity    IdentityVerifier
	callbacks   WorkflowCallbacks
	logger      *slog.Logger
	now         func() time.Time
	capture     *StateCapture
	gateway     *ApprovalGateway
	rollbacks   *RollbackEngine
	settlements *SettlementEngine

	mutex     sync.RWMutex
	workflows map[string]*workflowEntry
}

// NewOrchestrator creates an orchestrator with the given collaborators.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Ledger == nil {
		return nil, NewError(ErrKindInvalidConfig, "payment ledger is required")
	}
	if opts.Artifacts == nil {
		opts.Artifacts = NewNullArtifactStore()
	}
	if opts.Jobs == nil {
		opts.Jobs = nullJobBook{}
	}
	if opts.Callbacks == nil {
		opts.Callbacks = &BaseWorkflowCallbacks{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	capture := NewStateCapture(opts.Artifacts, opts.Logger)
	capture.now = opts.Clock
	gateway := NewApprovalGateway(opts.Logger)
	gateway.now = opts.Clock
	settlements := NewSettlementEngine(opts.Ledger, opts.Logger)
	settlements.now = opts.Clock

	return &Orchestrator{
		ledger:      opts.Ledger,
		artifacts:   opts.Artifacts,
		jobs:        opts.Jobs,
		identity:    opts.Identity,
		callbacks:   opts.Callbacks,
		logger:      opts.Logger,
		now:         opts.Clock,
		capture:     capture,
		gateway:     gateway,
		rollbacks:   NewRollbackEngine(opts.Logger),
		settlements: settlements,
		workflows:   map[string]*workflowEntry{},
	}, nil
}

// InitializeWorkflow validates the configuration, locks escrow, and creates
// a new workflow execution in INITIALIZED. The workflow ID is generated here
// and never changes.
func (o *Orchestrator) InitializeWorkflow(ctx context.Context, config WorkflowConfig) (*WorkflowView, error) {
	// The checkpoint slice shares its backing array with the caller; take
	// our own copy so neither defaulting nor later caller mutation crosses
	// the boundary.
	config = config.Copy()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := o.verifyIdentity(ctx, config.PosterID, RolePoster); err != nil {
		return nil, err
	}
	if err := o.verifyIdentity(ctx, config.ExecutorID, RoleExecutor); err != nil {
		return nil, err
	}
	if config.SupervisorID != "" {
		if err := o.verifyIdentity(ctx, config.SupervisorID, RoleSupervisor); err != nil {
			return nil, err
		}
	}

	escrowID, err := o.ledger.LockEscrow(ctx, config.EscrowAmount, config.PosterID, config.ExecutorID)
	if err != nil {
		return nil, Errorf(ErrKindPaymentFailure, "failed to lock escrow: %w", err)
	}

	workflowID := NewWorkflowID()
	record := newWorkflowRecord(workflowID, config, escrowID, o.now().UTC())

	o.mutex.Lock()
	o.workflows[workflowID] = &workflowEntry{record: record}
	o.mutex.Unlock()

	o.logger.Info("workflow initialized",
		"workflow_id", workflowID,
		"name", config.Name,
		"checkpoints", len(config.Checkpoints),
		"escrow_id", escrowID,
		"escrow_amount", config.EscrowAmount)

	return record.View(), nil
}

// StartExecution transitions a workflow from INITIALIZED to EXECUTING and
// creates the main job with the bookkeeping collaborator.
func (o *Orchestrator) StartExecution(ctx context.Context, workflowID string) (*WorkflowView, error) {
	entry, err := o.entry(workflowID)
	if err != nil {
		return nil, err
	}
	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	record := entry.record
	if !canFire(EventStartExecution, record.State()) {
		return nil, newInvalidTransition(workflowID, record.State(), EventStartExecution)
	}

	config := record.Config()
	jobID, err := o.jobs.CreateJob(ctx, workflowID, config.Description, config.EscrowAmount, config.ExecutorID)
	if err != nil {
		return nil, Errorf(ErrKindStorageFailure, "failed to create job: %w", err)
	}
	record.setJobID(jobID)

	o.applyTransition(ctx, record, StateExecuting, EventStartExecution, "", func() {
		record.markStarted(o.now().UTC())
	})

	o.logger.Info("workflow execution started", "workflow_id", workflowID, "job_id", jobID)
	return record.View(), nil
}

// CreateCheckpoint captures the agent's execution state at the current
// checkpoint. For a checkpoint requiring approval it opens an approval
// request and transitions to AWAITING_APPROVAL; otherwise the checkpoint is
// accepted immediately and execution continues. On a storage failure no
// state changes and the caller may retry.
func (o *Orchestrator) CreateCheckpoint(ctx context.Context, workflowID string, state *ExecutionState) (*CheckpointSnapshot, error) {
	entry, err := o.entry(workflowID)
	if err != nil {
		return nil, err
	}
	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	record := entry.record
	if !canFire(EventCheckpointReached, record.State()) {
		return nil, newInvalidTransition(workflowID, record.State(), EventCheckpointReached)
	}

	index := record.CheckpointIndex()
	config := record.Config()
	checkpoint, err := config.Checkpoint(index)
	if err != nil {
		return nil, err
	}

	snapshot, err := o.capture.Capture(ctx, workflowID, checkpoint, index, state)
	if err != nil {
		return nil, err
	}

	if !checkpoint.RequiresApproval {
		// An auto-accepted checkpoint pays its milestone here; the
		// approval-gated release lives in SubmitApproval. Payment commits
		// before the record mutates, so a failure leaves the checkpoint
		// retryable, and a re-run after rollback keeps the earlier release.
		if checkpoint.MilestoneAmount > 0 && !record.indexAccepted(index) {
			releaseErr := o.ledger.ReleaseEscrow(ctx, record.EscrowID(), checkpoint.MilestoneAmount,
				config.ExecutorID, "milestone:"+checkpoint.ID)
			if releaseErr != nil {
				return nil, Errorf(ErrKindPaymentFailure, "failed to release milestone payment: %w", releaseErr)
			}
		}
		record.appendSnapshot(snapshot)
		o.callbacks.OnCheckpoint(ctx, &CheckpointEvent{
			WorkflowID:      workflowID,
			CheckpointIndex: index,
			Checkpoint:      checkpoint,
			Snapshot:        snapshot.Copy(),
		})
		o.acceptCurrentCheckpoint(ctx, record, EventCheckpointReached)
		return snapshot.Copy(), nil
	}

	summary := fmt.Sprintf("Checkpoint %q (%d of %d) of workflow %q awaits review",
		checkpoint.Name, index+1, len(config.Checkpoints), config.Name)
	requestContext := o.buildApprovalContext(record, snapshot)

	request, err := o.gateway.Open(workflowID, checkpoint, snapshot, summary, requestContext)
	if err != nil {
		return nil, err
	}
	if _, err := o.jobs.CreateApprovalJob(ctx, workflowID, request.RequestID, summary, config.SupervisorID); err != nil {
		o.gateway.Cancel(request.RequestID)
		return nil, Errorf(ErrKindStorageFailure, "failed to create approval job: %w", err)
	}

	record.appendSnapshot(snapshot)
	record.appendRequest(request)
	o.applyTransition(ctx, record, StateAwaitingApproval, EventCheckpointReached, "", func() {
		record.setState(StateAwaitingApproval)
	})

	o.callbacks.OnCheckpoint(ctx, &CheckpointEvent{
		WorkflowID:      workflowID,
		CheckpointIndex: index,
		Checkpoint:      checkpoint,
		Snapshot:        snapshot.Copy(),
	})
	o.callbacks.OnApprovalRequested(ctx, &ApprovalEvent{
		WorkflowID: workflowID,
		Request:    request.Copy(),
	})

	return snapshot.Copy(), nil
}

// SubmitApproval routes a reviewer's decision on the workflow's outstanding
// approval request. Approved and Modified resume execution (advancing the
// checkpoint index); Rejected triggers a rollback when the checkpoint allows
// it and a terminal failure otherwise. A response against an expired request
// fails with ErrKindStaleResponse and the caller must instead drive the
// timeout via ExpireApproval.
func (o *Orchestrator) SubmitApproval(ctx context.Context, workflowID string, response ApprovalResponse) (*WorkflowView, error) {
	entry, err := o.entry(workflowID)
	if err != nil {
		return nil, err
	}
	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	record := entry.record
	if !canFire(EventApprovalDecision, record.State()) {
		return nil, newInvalidTransition(workflowID, record.State(), EventApprovalDecision)
	}

	// Expiry is judged once, at this instant, for the whole operation. The
	// milestone payment below commits before the request resolves, so the
	// verdict must not flip if the wall clock crosses the expiry in between.
	now := o.now()
	pending, _, ok := o.gateway.PendingForWorkflow(workflowID)
	if !ok {
		return nil, Errorf(ErrKindNoPendingApproval, "workflow %s has no pending approval request", workflowID)
	}
	if response.RequestID != "" && response.RequestID != pending.RequestID {
		return nil, Errorf(ErrKindNotFound, "approval request %s is not outstanding for workflow %s",
			response.RequestID, workflowID)
	}
	if !now.Before(pending.ExpiresAt) {
		return nil, Errorf(ErrKindStaleResponse,
			"approval request %s expired at %s; the timeout path applies",
			pending.RequestID, pending.ExpiresAt.Format(time.RFC3339))
	}
	if err := o.verifyIdentity(ctx, response.ResponderID, RoleSupervisor); err != nil {
		return nil, err
	}

	index := record.CheckpointIndex()
	config := record.Config()
	checkpoint, err := config.Checkpoint(index)
	if err != nil {
		return nil, err
	}

	switch response.Decision {
	case DecisionApproved:
		// Milestone release happens before the request resolves so that a
		// payment failure leaves the whole transition uncommitted. A
		// checkpoint re-approved after a rollback keeps its earlier release.
		if checkpoint.MilestoneAmount > 0 && !record.indexAccepted(index) {
			releaseErr := o.ledger.ReleaseEscrow(ctx, record.EscrowID(), checkpoint.MilestoneAmount,
				config.ExecutorID, "milestone:"+checkpoint.ID)
			if releaseErr != nil {
				return nil, Errorf(ErrKindPaymentFailure, "failed to release milestone payment: %w", releaseErr)
			}
		}
	case DecisionModified, DecisionRejected:
		// No payment side effect.
	default:
		return nil, Errorf(ErrKindInvalidConfig, "unknown approval decision %q", response.Decision)
	}

	response.RequestID = pending.RequestID
	resolved, err := o.gateway.ResolveAt(pending.RequestID, response, now)
	if err != nil {
		return nil, err
	}
	record.appendResponse(&response)
	o.callbacks.OnApprovalResolved(ctx, &ApprovalEvent{
		WorkflowID: workflowID,
		Request:    resolved,
		Response:   &response,
	})

	switch response.Decision {
	case DecisionApproved:
		o.acceptCurrentCheckpoint(ctx, record, EventApprovalDecision)
	case DecisionModified:
		record.mergeModifications(response.Modifications)
		o.acceptCurrentCheckpoint(ctx, record, EventApprovalDecision)
	case DecisionRejected:
		if checkpoint.CanRollback {
			o.applyTransition(ctx, record, StateRollingBack, EventApprovalDecision, response.Rationale, func() {
				record.setState(StateRollingBack)
			})
			o.updateJobStatus(ctx, record, "rolling_back")
		} else {
			reason := "approval rejected and rollback not permitted"
			if response.Rationale != "" {
				reason = fmt.Sprintf("%s: %s", reason, response.Rationale)
			}
			o.failLocked(ctx, record, EventApprovalDecision, reason, false)
		}
	}

	return record.View(), nil
}

// ExpireApproval drives the timeout transition for a workflow whose
// outstanding approval request has lapsed. Expiry is evaluated lazily: the
// workflow sits in AWAITING_APPROVAL until this is called past the expiry.
// The timeout is treated like a rejection: ROLLING_BACK when the checkpoint
// allows rollback, terminal failure otherwise, so a can_rollback=false
// checkpoint still fails outright.
func (o *Orchestrator) ExpireApproval(ctx context.Context, workflowID string) (*WorkflowView, error) {
	entry, err := o.entry(workflowID)
	if err != nil {
		return nil, err
	}
	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	record := entry.record
	if !canFire(EventApprovalTimeout, record.State()) {
		return nil, newInvalidTransition(workflowID, record.State(), EventApprovalTimeout)
	}

	pending, lapsed, ok := o.gateway.PendingForWorkflow(workflowID)
	if !ok {
		return nil, Errorf(ErrKindNoPendingApproval, "workflow %s has no pending approval request", workflowID)
	}
	if !lapsed {
		return nil, Errorf(ErrKindInvalidTransition,
			"approval request %s has not expired yet", pending.RequestID)
	}
	expired, err := o.gateway.Timeout(pending.RequestID)
	if err != nil {
		return nil, err
	}
	o.callbacks.OnApprovalResolved(ctx, &ApprovalEvent{
		WorkflowID: workflowID,
		Request:    expired,
		Expired:    true,
	})

	config := record.Config()
	checkpoint, err := config.Checkpoint(record.CheckpointIndex())
	if err != nil {
		return nil, err
	}
	if checkpoint.CanRollback {
		o.applyTransition(ctx, record, StateRollingBack, EventApprovalTimeout, "approval timed out", func() {
			record.setState(StateRollingBack)
		})
		o.updateJobStatus(ctx, record, "rolling_back")
	} else {
		o.failLocked(ctx, record, EventApprovalTimeout,
			fmt.Sprintf("approval request %s timed out and rollback not permitted", pending.RequestID), false)
	}

	return record.View(), nil
}

// Rollback executes the saga-style walk back to the last accepted
// checkpoint: compensating actions run newest first, execution state is
// restored from the target snapshot, and the checkpoint index resets to the
// target's index. If any compensation fails the workflow is forced to FAILED
// with the partial-compensation record preserved in the result.
func (o *Orchestrator) Rollback(ctx context.Context, workflowID string) (*RollbackResult, error) {
	entry, err := o.entry(workflowID)
	if err != nil {
		return nil, err
	}
	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	record := entry.record
	if !canFire(EventRollback, record.State()) {
		return nil, newInvalidTransition(workflowID, record.State(), EventRollback)
	}

	target := record.lastAcceptedSnapshot()
	resumeIndex := 0
	if target != nil {
		resumeIndex = target.CheckpointIndex
	} else {
		// Nothing accepted yet: compensate everything and restart from the
		// first checkpoint with no restored state.
		target = &CheckpointSnapshot{WorkflowID: workflowID, CheckpointIndex: -1}
	}

	result, err := o.rollbacks.Rollback(ctx, workflowID, record.CheckpointIndex(), target)
	if err != nil {
		o.failLocked(ctx, record, EventRollback,
			fmt.Sprintf("rollback failed: %s", err.Error()), false)
		return result, err
	}

	o.applyTransition(ctx, record, StateExecuting, EventRollback, "", func() {
		record.resumeAt(resumeIndex)
	})
	o.updateJobStatus(ctx, record, "executing")

	o.logger.Info("workflow rolled back",
		"workflow_id", workflowID,
		"resume_checkpoint", resumeIndex,
		"compensations", len(result.Outcomes))

	return result, nil
}

// SettleWorkflow computes and executes the final payment split for a
// workflow in SETTLING and transitions it to COMPLETED. The optional final
// state from the executor is stored on the record. A transient payment
// failure leaves the workflow in SETTLING for a caller-driven retry; an
// overdraw is an internal invariant violation that fails the workflow and
// raises a dispute with the bookkeeping collaborator.
func (o *Orchestrator) SettleWorkflow(ctx context.Context, workflowID string, finalState map[string]any) (*WorkflowView, error) {
	entry, err := o.entry(workflowID)
	if err != nil {
		return nil, err
	}
	entry.mutex.Lock()
	defer entry.mutex.Unlock()
	return o.settleLocked(ctx, entry.record, finalState)
}

// CompleteWorkflow is SettleWorkflow without a final-state payload.
func (o *Orchestrator) CompleteWorkflow(ctx context.Context, workflowID string) (*WorkflowView, error) {
	return o.SettleWorkflow(ctx, workflowID, nil)
}

func (o *Orchestrator) settleLocked(ctx context.Context, record *WorkflowRecord, finalState map[string]any) (*WorkflowView, error) {
	if !canFire(EventSettle, record.State()) {
		return nil, newInvalidTransition(record.WorkflowID(), record.State(), EventSettle)
	}

	config := record.Config()
	fraction := record.CompletionFraction()
	result, err := o.settlements.Settle(ctx, &config, record.WorkflowID(), record.EscrowID(), fraction)
	if err != nil {
		if IsKind(err, ErrKindOverdraw) {
			o.logger.Error("settlement overdraw, failing workflow",
				"workflow_id", record.WorkflowID(), "error", err)
			o.updateJobStatus(ctx, record, "disputed")
			o.applyTransition(ctx, record, StateFailed, EventSettle, err.Error(), func() {
				record.markFailed(err.Error(), o.now().UTC())
			})
		}
		return nil, err
	}

	record.setSettlement(result)
	record.setFinalState(finalState)
	o.applyTransition(ctx, record, StateCompleted, EventComplete, "", func() {
		record.markCompleted(o.now().UTC())
	})
	o.updateJobStatus(ctx, record, "completed")
	o.callbacks.OnSettlement(ctx, &SettlementEvent{
		WorkflowID: record.WorkflowID(),
		Result:     result,
	})

	o.logger.Info("workflow completed",
		"workflow_id", record.WorkflowID(),
		"payout", result.Payout,
		"returned_to_poster", result.ReturnedToPoster)

	return record.View(), nil
}

// FailWorkflow drives a workflow to FAILED through the normal transition
// surface, settling partial payment for accepted checkpoints first so no
// executed work goes unaccounted. There is no separate cancel operation;
// aborting a workflow is this. A transient settlement failure leaves the
// workflow unmodified for a caller-driven retry.
func (o *Orchestrator) FailWorkflow(ctx context.Context, workflowID, reason string) (*WorkflowView, error) {
	entry, err := o.entry(workflowID)
	if err != nil {
		return nil, err
	}
	entry.mutex.Lock()
	defer entry.mutex.Unlock()

	record := entry.record
	if !canFire(EventFail, record.State()) {
		return nil, newInvalidTransition(workflowID, record.State(), EventFail)
	}
	if err := o.failLocked(ctx, record, EventFail, reason, true); err != nil {
		return nil, err
	}
	return record.View(), nil
}

// failLocked moves a workflow to FAILED with partial settlement. When strict
// is true a transient settlement failure aborts without transitioning; when
// false (internal failure paths where the triggering event is already
// committed) the workflow fails regardless and the settlement error is
// recorded alongside the reason.
func (o *Orchestrator) failLocked(ctx context.Context, record *WorkflowRecord, event, reason string, strict bool) error {
	if pending, _, ok := o.gateway.PendingForWorkflow(record.WorkflowID()); ok {
		o.gateway.Cancel(pending.RequestID)
	}

	config := record.Config()
	fraction := record.CompletionFraction()
	result, err := o.settlements.Settle(ctx, &config, record.WorkflowID(), record.EscrowID(), fraction)
	if err != nil {
		if strict && !IsKind(err, ErrKindOverdraw) {
			return err
		}
		o.logger.Error("partial settlement failed during workflow failure",
			"workflow_id", record.WorkflowID(), "error", err)
		reason = fmt.Sprintf("%s (partial settlement failed: %s)", reason, err.Error())
	} else {
		record.setSettlement(result)
		o.callbacks.OnSettlement(ctx, &SettlementEvent{
			WorkflowID: record.WorkflowID(),
			Result:     result,
		})
	}

	o.applyTransition(ctx, record, StateFailed, event, reason, func() {
		record.markFailed(reason, o.now().UTC())
	})
	o.updateJobStatus(ctx, record, "failed")

	o.logger.Warn("workflow failed",
		"workflow_id", record.WorkflowID(),
		"reason", reason,
		"completion_fraction", fraction)
	return nil
}

// RegisterCompensation records an undo action for work the driver is about
// to perform. The action is tagged with the workflow's current checkpoint
// index so a later rollback can scope it correctly.
func (o *Orchestrator) RegisterCompensation(workflowID, actionID, description string, undo CompensationFunc) error {
	entry, err := o.entry(workflowID)
	if err != nil {
		return err
	}
	record := entry.record
	if record.State().Terminal() {
		return newInvalidTransition(workflowID, record.State(), "register_compensation")
	}
	o.rollbacks.Register(workflowID, CompensationAction{
		ActionID:        actionID,
		CheckpointIndex: record.CheckpointIndex(),
		Description:     description,
		Undo:            undo,
	})
	return nil
}

// GetWorkflow returns a read-only snapshot of the workflow execution. It
// never blocks on the workflow's writer lock and never mutates.
func (o *Orchestrator) GetWorkflow(workflowID string) (*WorkflowView, error) {
	entry, err := o.entry(workflowID)
	if err != nil {
		return nil, err
	}
	return entry.record.View(), nil
}

// PendingApprovals returns every unresolved, unexpired approval request
// across all workflows.
func (o *Orchestrator) PendingApprovals() []*ApprovalRequest {
	return o.gateway.Pending()
}

// Stats aggregates workflow counts by state for dashboards.
func (o *Orchestrator) Stats() OrchestratorStats {
	o.mutex.RLock()
	defer o.mutex.RUnlock()

	stats := OrchestratorStats{
		TotalWorkflows: len(o.workflows),
		CountsByState:  map[WorkflowState]int{},
	}
	for _, entry := range o.workflows {
		stats.CountsByState[entry.record.State()]++
		stats.TotalSnapshots += len(entry.record.Snapshots())
	}
	stats.PendingApprovals = len(o.gateway.Pending())
	return stats
}

// acceptCurrentCheckpoint advances past an accepted checkpoint and moves to
// SETTLING when it was the last one.
func (o *Orchestrator) acceptCurrentCheckpoint(ctx context.Context, record *WorkflowRecord, event string) {
	next, done := record.acceptCheckpoint()
	if done {
		o.applyTransition(ctx, record, StateSettling, event, "", func() {
			record.setState(StateSettling)
		})
		o.logger.Info("all checkpoints complete, workflow settling",
			"workflow_id", record.WorkflowID())
		return
	}
	if record.State() != StateExecuting {
		o.applyTransition(ctx, record, StateExecuting, event, "", func() {
			record.setState(StateExecuting)
		})
	}
	o.logger.Info("checkpoint accepted, execution continuing",
		"workflow_id", record.WorkflowID(),
		"next_checkpoint", next)
}

// buildApprovalContext assembles the structured context shown to reviewers:
// resource totals and the delta since the last accepted checkpoint.
func (o *Orchestrator) buildApprovalContext(record *WorkflowRecord, snapshot *CheckpointSnapshot) map[string]any {
	requestContext := map[string]any{
		"snapshot_id":      snapshot.SnapshotID,
		"checkpoint_index": snapshot.CheckpointIndex,
		"api_calls":        len(snapshot.State.APICalls),
		"decisions":        len(snapshot.State.DecisionTrace),
		"outputs":          copyMap(snapshot.State.IntermediateOutputs),
		"resources":        copyFloatMap(snapshot.State.ResourceConsumption),
	}
	if previous := record.lastAcceptedSnapshot(); previous != nil && previous.State != nil {
		requestContext["diff"] = previous.State.Diff(snapshot.State)
	}
	return requestContext
}

// applyTransition runs the before/after callbacks around a record mutation.
func (o *Orchestrator) applyTransition(ctx context.Context, record *WorkflowRecord, to WorkflowState, event, reason string, apply func()) {
	transition := &TransitionEvent{
		WorkflowID: record.WorkflowID(),
		From:       record.State(),
		To:         to,
		Event:      event,
		Reason:     reason,
		Timestamp:  o.now().UTC(),
	}
	o.callbacks.BeforeTransition(ctx, transition)
	apply()
	o.callbacks.AfterTransition(ctx, transition)
}

func (o *Orchestrator) updateJobStatus(ctx context.Context, record *WorkflowRecord, status string) {
	jobID := record.getJobID()
	if jobID == "" {
		return
	}
	if err := o.jobs.UpdateJobStatus(ctx, jobID, status); err != nil {
		// Bookkeeping is best-effort after the transition has committed.
		o.logger.Error("failed to update job status",
			"workflow_id", record.WorkflowID(), "job_id", jobID, "status", status, "error", err)
	}
}

func (o *Orchestrator) verifyIdentity(ctx context.Context, userID, role string) error {
	if o.identity == nil || userID == "" {
		return nil
	}
	ok, err := o.identity.VerifyIdentity(ctx, userID, role)
	if err != nil {
		return Errorf(ErrKindIdentityUnverified, "identity check for %s (%s) failed: %w", userID, role, err)
	}
	if !ok {
		return Errorf(ErrKindIdentityUnverified, "user %s does not hold role %s", userID, role)
	}
	return nil
}

func (o *Orchestrator) entry(workflowID string) (*workflowEntry, error) {
	o.mutex.RLock()
	defer o.mutex.RUnlock()
	entry, ok := o.workflows[workflowID]
	if !ok {
		return nil, Errorf(ErrKindNotFound, "workflow %s not found", workflowID)
	}
	return entry, nil
}
