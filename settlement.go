package saferun

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Default split of the disbursable amount between executor and supervisor.
const (
	ExecutorShare   = 0.90
	SupervisorShare = 0.10
)

// floatTolerance absorbs floating-point drift in escrow arithmetic.
const floatTolerance = 1e-9

// SettlementResult records how a workflow's escrow was distributed.
type SettlementResult struct {
	WorkflowID         string         `json:"workflow_id"`
	EscrowID           string         `json:"escrow_id"`
	CompletionFraction float64        `json:"completion_fraction"`
	Disbursable        float64        `json:"disbursable"`
	Payout             float64        `json:"payout"`
	ReturnedToPoster   float64        `json:"returned_to_poster"`
	Splits             []PaymentSplit `json:"splits"`
	SettledAt          time.Time      `json:"settled_at"`
}

// SettlementEngine computes payment splits from a completion fraction and
// invokes the escrow release. The disbursable amount is whatever remains in
// escrow after milestone releases; it is scaled by the completion fraction,
// split 90/10 between executor and supervisor, and the remainder is returned
// to the poster. A workflow with no supervisor pays the full share to the
// executor.
type SettlementEngine struct {
	ledger PaymentLedger
	logger *slog.Logger
	now    func() time.Time
}

// NewSettlementEngine returns an engine bound to the payment collaborator.
func NewSettlementEngine(ledger PaymentLedger, logger *slog.Logger) *SettlementEngine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SettlementEngine{ledger: ledger, logger: logger, now: time.Now}
}

// Settle distributes the remaining escrow for the workflow according to the
// completion fraction. Fraction 1.0 means full completion; otherwise it is
// approved checkpoints over total checkpoints at the time of failure or
// rollback. An ErrKindOverdraw error means the computed disbursement exceeds
// the remaining escrow, which is an internal invariant violation.
func (e *SettlementEngine) Settle(ctx context.Context, config *WorkflowConfig, workflowID, escrowID string, fraction float64) (*SettlementResult, error) {
	if fraction < 0 || fraction > 1 {
		return nil, Errorf(ErrKindInvalidConfig, "completion fraction %v out of range [0,1]", fraction)
	}

	remaining, err := e.ledger.RemainingEscrow(ctx, escrowID)
	if err != nil {
		return nil, Errorf(ErrKindPaymentFailure, "failed to read remaining escrow: %w", err)
	}

	disbursable := remaining
	payout := disbursable * fraction
	if payout > remaining+floatTolerance {
		return nil, Errorf(ErrKindOverdraw,
			"computed payout %v exceeds remaining escrow %v for workflow %s", payout, remaining, workflowID)
	}

	executorAmount := payout * ExecutorShare
	supervisorAmount := payout * SupervisorShare
	if config.SupervisorID == "" {
		executorAmount = payout
		supervisorAmount = 0
	}
	posterReturn := disbursable - payout

	var splits []PaymentSplit
	if executorAmount > 0 {
		splits = append(splits, PaymentSplit{
			RecipientID: config.ExecutorID,
			Amount:      executorAmount,
			Reason:      "execution",
		})
	}
	if supervisorAmount > 0 {
		splits = append(splits, PaymentSplit{
			RecipientID: config.SupervisorID,
			Amount:      supervisorAmount,
			Reason:      "supervision",
		})
	}
	if posterReturn > floatTolerance {
		splits = append(splits, PaymentSplit{
			RecipientID: config.PosterID,
			Amount:      posterReturn,
			Reason:      "escrow_return",
		})
	}

	if len(splits) > 0 {
		if err := e.ledger.SplitPayment(ctx, escrowID, splits); err != nil {
			return nil, Errorf(ErrKindPaymentFailure, "failed to split payment: %w", err)
		}
	}

	result := &SettlementResult{
		WorkflowID:         workflowID,
		EscrowID:           escrowID,
		CompletionFraction: fraction,
		Disbursable:        disbursable,
		Payout:             payout,
		ReturnedToPoster:   posterReturn,
		Splits:             splits,
		SettledAt:          e.now().UTC(),
	}

	e.logger.Info("settlement executed",
		"workflow_id", workflowID,
		"escrow_id", escrowID,
		"completion_fraction", fraction,
		"payout", payout,
		"returned_to_poster", posterReturn)

	return result, nil
}
