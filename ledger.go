package saferun

import (
	"context"
)

// PaymentSplit directs part of an escrow balance to one recipient.
type PaymentSplit struct {
	RecipientID string  `json:"recipient_id"`
	Amount      float64 `json:"amount"`
	Reason      string  `json:"reason"`
}

// PaymentLedger is the abstract payment collaborator: escrow locking,
// incremental releases, and split distribution. Implementations must be safe
// for concurrent use from multiple workflows. Retry policy for transient
// failures belongs to the implementation, not to the state machine.
type PaymentLedger interface {
	// LockEscrow locks funds against a new workflow and returns the escrow ID.
	LockEscrow(ctx context.Context, amount float64, posterID, executorID string) (string, error)

	// ReleaseEscrow pays part of the locked balance to one recipient.
	ReleaseEscrow(ctx context.Context, escrowID string, amount float64, recipientID, reason string) error

	// SplitPayment distributes parts of the locked balance to several
	// recipients at once.
	SplitPayment(ctx context.Context, escrowID string, splits []PaymentSplit) error

	// RemainingEscrow returns the balance still locked.
	RemainingEscrow(ctx context.Context, escrowID string) (float64, error)
}

// JobBook is the abstract audit/bookkeeping collaborator. Job records exist
// for external observability only; the orchestrator never reads them back.
type JobBook interface {
	// CreateJob records the main execution job for a workflow.
	CreateJob(ctx context.Context, workflowID, description string, escrowAmount float64, executorID string) (string, error)

	// CreateApprovalJob records an approval sub-job for a checkpoint.
	CreateApprovalJob(ctx context.Context, workflowID, requestID, summary, supervisorID string) (string, error)

	// UpdateJobStatus records a status change on a job.
	UpdateJobStatus(ctx context.Context, jobID, status string) error
}

// IdentityVerifier checks that a user holds a role before transitions that
// affect payment. It is optional; a nil verifier skips the checks.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, userID, role string) (bool, error)
}

// Roles checked against the identity collaborator.
const (
	RolePoster     = "poster"
	RoleExecutor   = "executor"
	RoleSupervisor = "supervisor"
)

// nullJobBook is the no-op bookkeeping implementation used when no JobBook
// is configured.
type nullJobBook struct{}

func (nullJobBook) CreateJob(ctx context.Context, workflowID, description string, escrowAmount float64, executorID string) (string, error) {
	return "", nil
}

func (nullJobBook) CreateApprovalJob(ctx context.Context, workflowID, requestID, summary, supervisorID string) (string, error) {
	return "", nil
}

func (nullJobBook) UpdateJobStatus(ctx context.Context, jobID, status string) error {
	return nil
}
