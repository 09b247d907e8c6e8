package saferun

import (
	"context"
	"time"
)

// WorkflowCallbacks defines the callback interface for workflow lifecycle
// events. The execution driver supplies an implementation at orchestrator
// construction; the orchestrator never reaches into the driver's internals.
type WorkflowCallbacks interface {
	// State transitions
	BeforeTransition(ctx context.Context, event *TransitionEvent)
	AfterTransition(ctx context.Context, event *TransitionEvent)

	// Checkpoint capture
	OnCheckpoint(ctx context.Context, event *CheckpointEvent)

	// Approval lifecycle
	OnApprovalRequested(ctx context.Context, event *ApprovalEvent)
	OnApprovalResolved(ctx context.Context, event *ApprovalEvent)

	// Terminal settlement
	OnSettlement(ctx context.Context, event *SettlementEvent)
}

// TransitionEvent provides context for a state transition.
type TransitionEvent struct {
	WorkflowID string
	From       WorkflowState
	To         WorkflowState
	Event      string
	Reason     string
	Timestamp  time.Time
}

// CheckpointEvent provides context for a captured checkpoint.
type CheckpointEvent struct {
	WorkflowID      string
	CheckpointIndex int
	Checkpoint      CheckpointConfig
	Snapshot        *CheckpointSnapshot
}

// ApprovalEvent provides context for approval request and resolution events.
// Response is nil for requested and timed-out events; Expired marks timeouts.
type ApprovalEvent struct {
	WorkflowID string
	Request    *ApprovalRequest
	Response   *ApprovalResponse
	Expired    bool
}

// SettlementEvent provides context for a completed settlement.
type SettlementEvent struct {
	WorkflowID string
	Result     *SettlementResult
}

// BaseWorkflowCallbacks provides a default implementation that does nothing
type BaseWorkflowCallbacks struct{}

func (n *BaseWorkflowCallbacks) BeforeTransition(ctx context.Context, event *TransitionEvent) {
	// noop
}

func (n *BaseWorkflowCallbacks) AfterTransition(ctx context.Context, event *TransitionEvent) {
	// noop
}

func (n *BaseWorkflowCallbacks) OnCheckpoint(ctx context.Context, event *CheckpointEvent) {
	// noop
}

func (n *BaseWorkflowCallbacks) OnApprovalRequested(ctx context.Context, event *ApprovalEvent) {
	// noop
}

func (n *BaseWorkflowCallbacks) OnApprovalResolved(ctx context.Context, event *ApprovalEvent) {
	// noop
}

func (n *BaseWorkflowCallbacks) OnSettlement(ctx context.Context, event *SettlementEvent) {
	// noop
}

// NewBaseWorkflowCallbacks creates a new no-op callbacks implementation.
// Embed this in your own callbacks to get a default implementation that does
// nothing.
func NewBaseWorkflowCallbacks() WorkflowCallbacks {
	return &BaseWorkflowCallbacks{}
}

// CallbackChain allows chaining multiple callback implementations
type CallbackChain struct {
	callbacks []WorkflowCallbacks
}

// NewCallbackChain creates a new callback chain
func NewCallbackChain(callbacks ...WorkflowCallbacks) *CallbackChain {
	return &CallbackChain{callbacks: callbacks}
}

// Add adds a callback to the chain
func (c *CallbackChain) Add(callback WorkflowCallbacks) {
	c.callbacks = append(c.callbacks, callback)
}

func (c *CallbackChain) BeforeTransition(ctx context.Context, event *TransitionEvent) {
	for _, callback := range c.callbacks {
		callback.BeforeTransition(ctx, event)
	}
}

func (c *CallbackChain) AfterTransition(ctx context.Context, event *TransitionEvent) {
	for _, callback := range c.callbacks {
		callback.AfterTransition(ctx, event)
	}
}

func (c *CallbackChain) OnCheckpoint(ctx context.Context, event *CheckpointEvent) {
	for _, callback := range c.callbacks {
		callback.OnCheckpoint(ctx, event)
	}
}

func (c *CallbackChain) OnApprovalRequested(ctx context.Context, event *ApprovalEvent) {
	for _, callback := range c.callbacks {
		callback.OnApprovalRequested(ctx, event)
	}
}

func (c *CallbackChain) OnApprovalResolved(ctx context.Context, event *ApprovalEvent) {
	for _, callback := range c.callbacks {
		callback.OnApprovalResolved(ctx, event)
	}
}

func (c *CallbackChain) OnSettlement(ctx context.Context, event *SettlementEvent) {
	for _, callback := range c.callbacks {
		callback.OnSettlement(ctx, event)
	}
}
