package saferun

import (
	"sync"
	"time"
)

// WorkflowRecord is the authoritative, mutable execution record for one
// workflow. It is owned exclusively by the Orchestrator: all mutation goes
// through orchestrator transition methods, and external consumers only see
// read-only views. The orchestrator never deletes a record, so the audit
// trail (snapshots, approval history) is complete for the workflow's life.
type WorkflowRecord struct {
	mutex sync.RWMutex

	workflowID      string
	config          WorkflowConfig
	state           WorkflowState
	checkpointIndex int

	snapshots []*CheckpointSnapshot
	requests  []*ApprovalRequest
	responses []*ApprovalResponse

	// lastAcceptedIndex is the index of the most recent checkpoint accepted
	// by a reviewer (approved or modified), or -1 before any acceptance. It
	// is the rollback target. accepted tracks which indices have ever been
	// accepted, so re-approving a checkpoint after a rollback neither double
	// counts the completion fraction nor re-releases its milestone.
	lastAcceptedIndex int
	accepted          map[int]bool

	escrowID      string
	jobID         string
	modifications map[string]any
	settlement    *SettlementResult
	finalState    map[string]any

	createdAt    time.Time
	startedAt    time.Time
	completedAt  time.Time
	errorMessage string
}

func newWorkflowRecord(workflowID string, config WorkflowConfig, escrowID string, createdAt time.Time) *WorkflowRecord {
	return &WorkflowRecord{
		workflowID:        workflowID,
		config:            config.Copy(),
		state:             StateInitialized,
		lastAcceptedIndex: -1,
		accepted:          map[int]bool{},
		escrowID:          escrowID,
		modifications:     map[string]any{},
		createdAt:         createdAt,
	}
}

// WorkflowID returns the workflow's immutable ID.
func (r *WorkflowRecord) WorkflowID() string {
	return r.workflowID
}

// Config returns a copy of the workflow's immutable configuration.
func (r *WorkflowRecord) Config() WorkflowConfig {
	return r.config.Copy()
}

// State returns the current workflow state.
func (r *WorkflowRecord) State() WorkflowState {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.state
}

// CheckpointIndex returns the current 0-based checkpoint index.
func (r *WorkflowRecord) CheckpointIndex() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.checkpointIndex
}

// EscrowID returns the escrow locked for this workflow.
func (r *WorkflowRecord) EscrowID() string {
	return r.escrowID
}

// Snapshots returns copies of every snapshot created for the workflow, in
// creation order. The set never shrinks, even after rollback.
func (r *WorkflowRecord) Snapshots() []*CheckpointSnapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	snapshots := make([]*CheckpointSnapshot, len(r.snapshots))
	for i, snapshot := range r.snapshots {
		snapshots[i] = snapshot.Copy()
	}
	return snapshots
}

// ApprovalHistory returns copies of the request/response pairs so far.
// A request without a matching response is still outstanding or timed out.
func (r *WorkflowRecord) ApprovalHistory() ([]*ApprovalRequest, []*ApprovalResponse) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	requests := make([]*ApprovalRequest, len(r.requests))
	for i, request := range r.requests {
		requests[i] = request.Copy()
	}
	responses := make([]*ApprovalResponse, len(r.responses))
	for i, response := range r.responses {
		copied := *response
		copied.Modifications = copyMap(response.Modifications)
		responses[i] = &copied
	}
	return requests, responses
}

// Modifications returns the accumulated modification parameters from
// Modified decisions, to be injected into the resumed execution context.
func (r *WorkflowRecord) Modifications() map[string]any {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return copyMap(r.modifications)
}

// Settlement returns the settlement result, or nil before settlement.
func (r *WorkflowRecord) Settlement() *SettlementResult {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.settlement
}

// ErrorMessage returns the terminal error message, set only when FAILED.
func (r *WorkflowRecord) ErrorMessage() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.errorMessage
}

// CompletionFraction returns accepted checkpoints over total checkpoints.
func (r *WorkflowRecord) CompletionFraction() float64 {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.completionFractionLocked()
}

func (r *WorkflowRecord) completionFractionLocked() float64 {
	total := len(r.config.Checkpoints)
	if total == 0 {
		return 0
	}
	return float64(len(r.accepted)) / float64(total)
}

// indexAccepted reports whether the checkpoint at index has ever been
// accepted, including before a rollback.
func (r *WorkflowRecord) indexAccepted(index int) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.accepted[index]
}

// lastAcceptedSnapshot returns the snapshot of the most recent accepted
// checkpoint, or nil if no checkpoint has been accepted yet.
func (r *WorkflowRecord) lastAcceptedSnapshot() *CheckpointSnapshot {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	if r.lastAcceptedIndex < 0 {
		return nil
	}
	// The newest snapshot at the accepted index wins; earlier ones at the
	// same index belong to attempts superseded by a rollback.
	for i := len(r.snapshots) - 1; i >= 0; i-- {
		if r.snapshots[i].CheckpointIndex == r.lastAcceptedIndex {
			return r.snapshots[i].Copy()
		}
	}
	return nil
}

// WorkflowView is a read-only snapshot of a WorkflowRecord for external
// consumers (execution drivers, dashboards).
type WorkflowView struct {
	WorkflowID         string                `json:"workflow_id"`
	Config             WorkflowConfig        `json:"config"`
	State              WorkflowState         `json:"state"`
	CheckpointIndex    int                   `json:"checkpoint_index"`
	Snapshots          []*CheckpointSnapshot `json:"snapshots"`
	Requests           []*ApprovalRequest    `json:"approval_requests"`
	Responses          []*ApprovalResponse   `json:"approval_responses"`
	Modifications      map[string]any        `json:"modifications,omitempty"`
	Settlement         *SettlementResult     `json:"settlement,omitempty"`
	FinalState         map[string]any        `json:"final_state,omitempty"`
	CompletionFraction float64               `json:"completion_fraction"`
	EscrowID           string                `json:"escrow_id"`
	CreatedAt          time.Time             `json:"created_at"`
	StartedAt          time.Time             `json:"started_at,omitzero"`
	CompletedAt        time.Time             `json:"completed_at,omitzero"`
	ErrorMessage       string                `json:"error_message,omitempty"`
}

// View builds a read-only snapshot of the record. It never blocks on the
// workflow's writer lock and never mutates.
func (r *WorkflowRecord) View() *WorkflowView {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	snapshots := make([]*CheckpointSnapshot, len(r.snapshots))
	for i, snapshot := range r.snapshots {
		snapshots[i] = snapshot.Copy()
	}
	requests := make([]*ApprovalRequest, len(r.requests))
	for i, request := range r.requests {
		requests[i] = request.Copy()
	}
	responses := make([]*ApprovalResponse, len(r.responses))
	for i, response := range r.responses {
		copied := *response
		copied.Modifications = copyMap(response.Modifications)
		responses[i] = &copied
	}

	return &WorkflowView{
		WorkflowID:         r.workflowID,
		Config:             r.config.Copy(),
		State:              r.state,
		CheckpointIndex:    r.checkpointIndex,
		Snapshots:          snapshots,
		Requests:           requests,
		Responses:          responses,
		Modifications:      copyMap(r.modifications),
		Settlement:         r.settlement,
		FinalState:         copyMap(r.finalState),
		CompletionFraction: r.completionFractionLocked(),
		EscrowID:           r.escrowID,
		CreatedAt:          r.createdAt,
		StartedAt:          r.startedAt,
		CompletedAt:        r.completedAt,
		ErrorMessage:       r.errorMessage,
	}
}

// Mutators below are package-private: only orchestrator transition methods
// call them, preserving the single-writer ownership model.

func (r *WorkflowRecord) setState(state WorkflowState) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.state = state
}

func (r *WorkflowRecord) markStarted(at time.Time) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.state = StateExecuting
	r.startedAt = at
}

func (r *WorkflowRecord) setJobID(jobID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.jobID = jobID
}

func (r *WorkflowRecord) getJobID() string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return r.jobID
}

func (r *WorkflowRecord) appendSnapshot(snapshot *CheckpointSnapshot) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.snapshots = append(r.snapshots, snapshot)
}

func (r *WorkflowRecord) appendRequest(request *ApprovalRequest) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.requests = append(r.requests, request)
}

func (r *WorkflowRecord) appendResponse(response *ApprovalResponse) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.responses = append(r.responses, response)
}

// acceptCheckpoint records acceptance of the current checkpoint and advances
// the index. It returns the new index and whether all checkpoints are done.
func (r *WorkflowRecord) acceptCheckpoint() (int, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.lastAcceptedIndex = r.checkpointIndex
	r.accepted[r.checkpointIndex] = true
	r.checkpointIndex++
	return r.checkpointIndex, r.checkpointIndex >= len(r.config.Checkpoints)
}

// resumeAt resets the checkpoint index after a successful rollback. The
// index is monotonically non-decreasing except here.
func (r *WorkflowRecord) resumeAt(index int) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.checkpointIndex = index
	r.state = StateExecuting
}

func (r *WorkflowRecord) mergeModifications(params map[string]any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	for k, v := range params {
		r.modifications[k] = v
	}
}

func (r *WorkflowRecord) setSettlement(result *SettlementResult) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.settlement = result
}

func (r *WorkflowRecord) setFinalState(state map[string]any) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.finalState = copyMap(state)
}

func (r *WorkflowRecord) markCompleted(at time.Time) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.state = StateCompleted
	r.completedAt = at
}

func (r *WorkflowRecord) markFailed(reason string, at time.Time) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.state = StateFailed
	r.errorMessage = reason
	r.completedAt = at
}
