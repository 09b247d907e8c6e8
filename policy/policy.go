// Package policy provides automated reviewers that resolve approval requests
// without a human in the loop. A reviewer inspects the request's summary and
// structured context and produces an approval response; the caller submits
// that response to the orchestrator like any other reviewer would.
package policy

import (
	"context"

	"github.com/saferun-ai/saferun"
)

// Reviewer evaluates an approval request and produces a decision.
type Reviewer interface {
	Review(ctx context.Context, request *saferun.ApprovalRequest) (*saferun.ApprovalResponse, error)
}

// ReviewerFunc adapts a function to the Reviewer interface.
type ReviewerFunc func(ctx context.Context, request *saferun.ApprovalRequest) (*saferun.ApprovalResponse, error)

func (f ReviewerFunc) Review(ctx context.Context, request *saferun.ApprovalRequest) (*saferun.ApprovalResponse, error) {
	return f(ctx, request)
}

// ApproveAll returns a reviewer that approves every request. Useful for
// development and for workflows whose checkpoints are purely informational.
func ApproveAll(responderID string) Reviewer {
	return ReviewerFunc(func(ctx context.Context, request *saferun.ApprovalRequest) (*saferun.ApprovalResponse, error) {
		return &saferun.ApprovalResponse{
			RequestID:   request.RequestID,
			Decision:    saferun.DecisionApproved,
			Rationale:   "auto-approved by policy",
			ResponderID: responderID,
		}, nil
	})
}
